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
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/log"
	"gvisor.dev/mqshm/pkg/mqueue"
)

// Send implements subcommands.Command for the "send" command.
type Send struct {
	prio   uint
	wait   time.Duration
	create bool
}

// Name implements subcommands.Command.Name.
func (*Send) Name() string {
	return "send"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Send) Synopsis() string {
	return "send a message to a queue"
}

// Usage implements subcommands.Command.Usage.
func (*Send) Usage() string {
	return `send [flags] <name> [message...] - send one message.

The message is the remaining arguments joined by spaces, or stdin if there are
none.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Send) SetFlags(f *flag.FlagSet) {
	f.UintVar(&s.prio, "prio", 0, "message priority. Stored with the message; delivery order is always FIFO.")
	f.DurationVar(&s.wait, "wait", 0, "wait up to this long for room in a full queue. Zero fails immediately.")
	f.BoolVar(&s.create, "create", false, "create the queue with default attributes if it does not exist.")
}

// Execute implements subcommands.Command.Execute.
func (s *Send) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	name := f.Arg(0)
	conf := args[0].(*config.Config)

	var msg []byte
	if f.NArg() > 1 {
		msg = []byte(strings.Join(f.Args()[1:], " "))
	} else {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Reading message from terminal, end with Ctrl-D.")
		}
		var err error
		if msg, err = io.ReadAll(os.Stdin); err != nil {
			Fatalf("reading message from stdin: %v", err)
		}
	}

	r := conf.Registry()
	defer r.CloseAll()
	h, err := r.Open(name, mqueue.OpenOptions{WriteOnly: true, Create: s.create})
	if err != nil {
		Fatalf("opening queue %q: %v", name, err)
	}

	if s.wait > 0 {
		ctx, cancel := withTimeout(s.wait)
		defer cancel()
		err = r.SendWait(ctx, h, msg, uint32(s.prio))
	} else {
		err = r.Send(h, msg, uint32(s.prio))
	}
	if err != nil {
		Fatalf("sending to %q: %v", name, err)
	}
	log.Debugf("Sent %d bytes to %q with priority %d", len(msg), name, s.prio)
	return subcommands.ExitSuccess
}
