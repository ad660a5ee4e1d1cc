// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/mqueue"
)

// Attr implements subcommands.Command for the "attr" command.
type Attr struct {
	nonblock bool
}

// Name implements subcommands.Command.Name.
func (*Attr) Name() string {
	return "attr"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Attr) Synopsis() string {
	return "print the attributes of a queue"
}

// Usage implements subcommands.Command.Usage.
func (*Attr) Usage() string {
	return `attr [flags] <name> - print mq_getattr(3) attributes.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (a *Attr) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&a.nonblock, "nonblock", false, "open the queue with O_NONBLOCK.")
}

// Execute implements subcommands.Command.Execute.
func (a *Attr) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	name := f.Arg(0)
	conf := args[0].(*config.Config)

	r := conf.Registry()
	defer r.CloseAll()
	h, err := r.Open(name, mqueue.OpenOptions{ReadOnly: true, Nonblock: a.nonblock})
	if err != nil {
		Fatalf("opening queue %q: %v", name, err)
	}
	attr, err := r.GetAttr(h)
	if err != nil {
		Fatalf("reading attributes of %q: %v", name, err)
	}
	flags := "0"
	if attr.Flags&linux.O_NONBLOCK != 0 {
		flags = "O_NONBLOCK"
	}
	fmt.Fprintf(os.Stdout, "flags: %s\nmaxmsg: %d\nmsgsize: %d\ncurmsgs: %d\n", flags, attr.MaxMessages, attr.MessageSize, attr.CurMessages)
	return subcommands.ExitSuccess
}
