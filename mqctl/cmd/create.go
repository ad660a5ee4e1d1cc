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
	"gvisor.dev/mqshm/pkg/mqueue"
)

// Create implements subcommands.Command for the "create" command.
type Create struct {
	maxMsg  int64
	msgSize int64
	excl    bool
	perm    uint
}

// Name implements subcommands.Command.Name.
func (*Create) Name() string {
	return "create"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Create) Synopsis() string {
	return "create a message queue"
}

// Usage implements subcommands.Command.Usage.
func (*Create) Usage() string {
	return `create [flags] <name> - create a message queue, or attach to an existing one.

Names start with '/', e.g. "mqctl create -maxmsg 16 /jobs".
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Create) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.maxMsg, "maxmsg", mqueue.DefaultMaxMessages, "maximum number of messages in the queue.")
	f.Int64Var(&c.msgSize, "msgsize", mqueue.DefaultMessageSize, "maximum size of one message in bytes.")
	f.BoolVar(&c.excl, "excl", false, "fail if the queue already exists.")
	f.UintVar(&c.perm, "mode", mqueue.DefaultPerm, "permission bits of a new queue.")
}

// Execute implements subcommands.Command.Execute.
func (c *Create) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	name := f.Arg(0)
	conf := args[0].(*config.Config)

	r := conf.Registry()
	defer r.CloseAll()
	h, err := r.Open(name, mqueue.OpenOptions{
		Create:      true,
		Exclusive:   c.excl,
		Perm:        uint32(c.perm),
		MaxMessages: c.maxMsg,
		MessageSize: c.msgSize,
	})
	if err != nil {
		Fatalf("creating queue %q: %v", name, err)
	}
	attr, err := r.GetAttr(h)
	if err != nil {
		Fatalf("reading attributes of %q: %v", name, err)
	}
	fmt.Fprintf(os.Stdout, "%s: maxmsg=%d msgsize=%d curmsgs=%d\n", name, attr.MaxMessages, attr.MessageSize, attr.CurMessages)
	return subcommands.ExitSuccess
}
