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

	"github.com/google/subcommands"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/log"
	"gvisor.dev/mqshm/pkg/mqueue"
)

// Unlink implements subcommands.Command for the "unlink" command.
type Unlink struct {
	force bool
}

// Name implements subcommands.Command.Name.
func (*Unlink) Name() string {
	return "unlink"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Unlink) Synopsis() string {
	return "remove message queues"
}

// Usage implements subcommands.Command.Usage.
func (*Unlink) Usage() string {
	return `unlink [flags] <name>... - remove queue names. Processes that have a
queue open keep using it until they close it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (u *Unlink) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&u.force, "f", false, "ignore queues that do not exist.")
}

// Execute implements subcommands.Command.Execute.
func (u *Unlink) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	r := conf.Registry()
	for _, name := range f.Args() {
		err := r.Unlink(name)
		if err == mqueue.ErrNotFound && u.force {
			log.Debugf("Queue %q does not exist, ignoring", name)
			continue
		}
		if err != nil {
			Fatalf("unlinking %q: %v", name, err)
		}
	}
	return subcommands.ExitSuccess
}
