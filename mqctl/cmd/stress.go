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
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/mqshm/mqctl/config"
	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/log"
	"gvisor.dev/mqshm/pkg/mqueue"
)

// stressMessageSize is the size of one stress message: producer id followed
// by its sequence number.
const stressMessageSize = 16

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	producers int
	consumers int
	messages  int
	exec      bool
	timeout   time.Duration

	// workerID is set on child processes started by -exec.
	workerID int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run concurrent producers and consumers against a queue"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] <name> - send messages from several producers and check
that every message arrives exactly once and that each producer's messages
arrive in the order they were sent.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.producers, "producers", 4, "number of producers.")
	f.IntVar(&s.consumers, "consumers", 4, "number of consumers.")
	f.IntVar(&s.messages, "messages", 1000, "messages sent by each producer.")
	f.BoolVar(&s.exec, "exec", false, "run producers as separate processes.")
	f.DurationVar(&s.timeout, "timeout", time.Minute, "give up after this long.")
	f.IntVar(&s.workerID, "worker-id", -1, "internal flag: run as producer with this id.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 || s.producers <= 0 || s.consumers <= 0 || s.messages < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	name := f.Arg(0)
	conf := args[0].(*config.Config)
	r := conf.Registry()
	defer r.CloseAll()

	ctx, cancel := withTimeout(s.timeout)
	defer cancel()

	if s.workerID >= 0 {
		h, err := r.Open(name, mqueue.OpenOptions{WriteOnly: true})
		if err != nil {
			Fatalf("opening queue %q: %v", name, err)
		}
		if err := produce(ctx, r, h, s.workerID, s.messages); err != nil {
			Fatalf("producer %d: %v", s.workerID, err)
		}
		return subcommands.ExitSuccess
	}

	var spawn func(ctx context.Context, id int) error
	if s.exec {
		spawn = func(ctx context.Context, id int) error {
			return s.spawnWorker(ctx, conf, name, id)
		}
	}
	start := time.Now()
	if err := runStress(ctx, r, name, s.producers, s.consumers, s.messages, spawn); err != nil {
		Fatalf("stress on %q: %v", name, err)
	}
	total := s.producers * s.messages
	elapsed := time.Since(start)
	fmt.Printf("%d messages in %v (%.0f msg/s)\n", total, elapsed, float64(total)/elapsed.Seconds())
	return subcommands.ExitSuccess
}

// spawnWorker re-executes mqctl as producer id with the same global
// configuration.
func (s *Stress) spawnWorker(ctx context.Context, conf *config.Config, name string, id int) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	argv := append(conf.ToFlags(), "stress",
		"-worker-id="+strconv.Itoa(id),
		"-messages="+strconv.Itoa(s.messages),
		"-timeout="+s.timeout.String(),
		name)
	cmd := exec.CommandContext(ctx, self, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	log.Debugf("Starting stress worker %d: %s %v", id, self, argv)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	return nil
}

// runStress creates name if needed and runs producers and consumers against
// it. Producers run in-process unless spawn is set. Every message must be
// received once, and each consumer must see every producer's sequence
// numbers strictly increasing.
func runStress(ctx context.Context, r *mqueue.Registry, name string, producers, consumers, messages int, spawn func(context.Context, int) error) error {
	h, err := r.Open(name, mqueue.OpenOptions{Create: true, MessageSize: stressMessageSize})
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer r.Close(h)

	var remaining atomic.Int64
	remaining.Store(int64(producers * messages))
	received := make([]atomic.Int64, producers)

	g, ctx := errgroup.WithContext(ctx)
	for id := 0; id < producers; id++ {
		g.Go(func() error {
			if spawn != nil {
				return spawn(ctx, id)
			}
			return produce(ctx, r, h, id, messages)
		})
	}
	for c := 0; c < consumers; c++ {
		g.Go(func() error {
			last := make([]int64, producers)
			for i := range last {
				last[i] = -1
			}
			buf := make([]byte, stressMessageSize)
			for remaining.Add(-1) >= 0 {
				n, _, err := r.ReceiveWait(ctx, h, buf)
				if err != nil {
					return fmt.Errorf("consumer %d: %w", c, err)
				}
				if n != stressMessageSize {
					return fmt.Errorf("consumer %d: got %d byte message, want %d", c, n, stressMessageSize)
				}
				id := int64(binary.LittleEndian.Uint64(buf))
				seq := int64(binary.LittleEndian.Uint64(buf[8:]))
				if id < 0 || id >= int64(producers) {
					return fmt.Errorf("consumer %d: unknown producer %d", c, id)
				}
				if seq <= last[id] {
					return fmt.Errorf("consumer %d: producer %d message %d after %d", c, id, seq, last[id])
				}
				last[id] = seq
				received[id].Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for id := range received {
		if got := received[id].Load(); got != int64(messages) {
			return fmt.Errorf("received %d messages from producer %d, want %d", got, id, messages)
		}
	}
	return nil
}

func produce(ctx context.Context, r *mqueue.Registry, h mqueue.Handle, id, messages int) error {
	var buf [stressMessageSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	for seq := 0; seq < messages; seq++ {
		binary.LittleEndian.PutUint64(buf[8:], uint64(seq))
		if err := r.SendWait(ctx, h, buf[:], uint32(id%linux.MQ_PRIO_MAX)); err != nil {
			return fmt.Errorf("sending message %d: %w", seq, err)
		}
	}
	return nil
}
