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
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/mqueue"
)

// Receive implements subcommands.Command for the "receive" command.
type Receive struct {
	count     int
	wait      time.Duration
	printPrio bool
}

// Name implements subcommands.Command.Name.
func (*Receive) Name() string {
	return "receive"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Receive) Synopsis() string {
	return "receive messages from a queue"
}

// Usage implements subcommands.Command.Usage.
func (*Receive) Usage() string {
	return `receive [flags] <name> - receive messages and print one per line.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (rc *Receive) SetFlags(f *flag.FlagSet) {
	f.IntVar(&rc.count, "n", 1, "number of messages to receive. Zero drains the queue.")
	f.DurationVar(&rc.wait, "wait", 0, "wait up to this long for each message. Zero fails immediately on an empty queue.")
	f.BoolVar(&rc.printPrio, "prio", false, "prefix each message with its priority.")
}

// Execute implements subcommands.Command.Execute.
func (rc *Receive) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	name := f.Arg(0)
	conf := args[0].(*config.Config)

	r := conf.Registry()
	defer r.CloseAll()
	h, err := r.Open(name, mqueue.OpenOptions{ReadOnly: true})
	if err != nil {
		Fatalf("opening queue %q: %v", name, err)
	}
	attr, err := r.GetAttr(h)
	if err != nil {
		Fatalf("reading attributes of %q: %v", name, err)
	}

	buf := make([]byte, attr.MessageSize)
	for i := 0; rc.count == 0 || i < rc.count; i++ {
		var (
			n    int
			prio uint32
		)
		if rc.wait > 0 {
			ctx, cancel := withTimeout(rc.wait)
			n, prio, err = r.ReceiveWait(ctx, h, buf)
			cancel()
		} else {
			n, prio, err = r.Receive(h, buf)
		}
		if rc.count == 0 && (err == mqueue.ErrQueueEmpty || err == context.DeadlineExceeded) {
			break
		}
		if err != nil {
			Fatalf("receiving from %q: %v", name, err)
		}
		if rc.printPrio {
			fmt.Fprintf(os.Stdout, "%d\t", prio)
		}
		fmt.Fprintf(os.Stdout, "%s\n", buf[:n])
	}
	return subcommands.ExitSuccess
}
