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
)

// List implements subcommands.Command for the "list" command.
type List struct{}

// Name implements subcommands.Command.Name.
func (*List) Name() string {
	return "list"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*List) Synopsis() string {
	return "list message queues"
}

// Usage implements subcommands.Command.Usage.
func (*List) Usage() string {
	return `list - print the names of all queues under the root.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*List) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*List) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	names, err := conf.Registry().List()
	if err != nil {
		Fatalf("listing queues in %q: %v", conf.RootDir, err)
	}
	for _, name := range names {
		fmt.Fprintln(os.Stdout, name)
	}
	return subcommands.ExitSuccess
}
