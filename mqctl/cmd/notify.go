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
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/mqueue"
	"gvisor.dev/mqshm/pkg/shmsync"
)

// Notify implements subcommands.Command for the "notify" command.
type Notify struct {
	signal  string
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Notify) Name() string {
	return "notify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Notify) Synopsis() string {
	return "wait until a queue becomes non-empty"
}

// Usage implements subcommands.Command.Usage.
func (*Notify) Usage() string {
	return `notify [flags] <name> - register for notification and wait for it.

The notification fires when a message is sent to the queue while it is empty.
Only one process may be registered on a queue at a time.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (n *Notify) SetFlags(f *flag.FlagSet) {
	f.StringVar(&n.signal, "signal", "", "deliver the notification as this signal, e.g. USR1. By default the notification wakes an eventfd.")
	f.DurationVar(&n.timeout, "timeout", 0, "give up after this long. Zero waits forever.")
}

// Execute implements subcommands.Command.Execute.
func (n *Notify) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	if n.signal != "" {
		n.waitSignal(r, h, name)
	} else {
		n.waitEvent(r, h, name)
	}
	fmt.Fprintf(os.Stdout, "%s: notified\n", name)
	return subcommands.ExitSuccess
}

func (n *Notify) waitSignal(r *mqueue.Registry, h mqueue.Handle, name string) {
	sig, err := parseSignal(n.signal)
	if err != nil {
		Fatalf("%v", err)
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	defer signal.Stop(ch)

	if err := r.Notify(h, &mqueue.Subscriber{Kind: mqueue.NotifySignal, Signal: linux.Signal(sig)}); err != nil {
		Fatalf("registering for notification on %q: %v", name, err)
	}
	var timeout <-chan time.Time
	if n.timeout > 0 {
		timeout = time.After(n.timeout)
	}
	select {
	case <-ch:
	case <-timeout:
		r.Notify(h, nil)
		Fatalf("no notification on %q within %v: %v", name, n.timeout, shmsync.ErrTimedOut)
	}
}

func (n *Notify) waitEvent(r *mqueue.Registry, h mqueue.Handle, name string) {
	b, err := mqueue.NewEventBridge(context.Background(), r, h)
	if err != nil {
		Fatalf("registering for notification on %q: %v", name, err)
	}
	wait := n.timeout
	if wait <= 0 {
		wait = -1
	}
	err = b.WaitTimeout(wait)
	b.Close()
	if err != nil {
		Fatalf("no notification on %q within %v: %v", name, n.timeout, err)
	}
}
