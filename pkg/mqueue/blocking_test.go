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

package mqueue

import (
	"context"
	"testing"
	"time"
)

func TestSendWaitWaitsForSpace(t *testing.T) {
	r := newTestRegistry(t, Config{})
	h := mustOpen(t, r, "/sendwait", OpenOptions{Create: true, MaxMessages: 1, MessageSize: 8})
	mustSend(t, r, h, "first")

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done <- r.SendWait(ctx, h, []byte("second"), 0)
	}()
	select {
	case err := <-done:
		t.Fatalf("SendWait on full queue returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if got := mustReceive(t, r, h); got != "first" {
		t.Fatalf("Receive = %q, want %q", got, "first")
	}
	if err := <-done; err != nil {
		t.Fatalf("SendWait: %v", err)
	}
	if got := mustReceive(t, r, h); got != "second" {
		t.Errorf("Receive = %q, want %q", got, "second")
	}
}

func TestReceiveWait(t *testing.T) {
	r := newTestRegistry(t, Config{})
	h := mustOpen(t, r, "/recvwait", OpenOptions{Create: true})

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Send(h, []byte("late"), 3)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	buf := make([]byte, 16)
	n, prio, err := r.ReceiveWait(ctx, h, buf)
	if err != nil {
		t.Fatalf("ReceiveWait: %v", err)
	}
	if got := string(buf[:n]); got != "late" || prio != 3 {
		t.Errorf("ReceiveWait = %q, %d; want %q, 3", got, prio, "late")
	}
}

func TestReceiveWaitDeadline(t *testing.T) {
	r := newTestRegistry(t, Config{})
	h := mustOpen(t, r, "/deadline", OpenOptions{Create: true, MaxMessages: 1, MessageSize: 8})

	// Deadlines shorter than, equal to and longer than the maximum backoff
	// interval must all run to the deadline.
	for _, timeout := range []time.Duration{time.Millisecond, waitMaxInterval, 50 * time.Millisecond} {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		deadline, _ := ctx.Deadline()
		if _, _, err := r.ReceiveWait(ctx, h, make([]byte, 8)); err != context.DeadlineExceeded {
			t.Errorf("ReceiveWait on empty queue with %v deadline = %v, want %v", timeout, err, context.DeadlineExceeded)
		}
		if now := time.Now(); now.Before(deadline) {
			t.Errorf("ReceiveWait with %v deadline returned %v early", timeout, deadline.Sub(now))
		}
		cancel()
	}

	mustSend(t, r, h, "x")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.SendWait(ctx, h, []byte("y"), 0); err != context.DeadlineExceeded {
		t.Errorf("SendWait on full queue = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestWaitNonblocking(t *testing.T) {
	r := newTestRegistry(t, Config{})
	h := mustOpen(t, r, "/nonblock", OpenOptions{Create: true, Nonblock: true, MaxMessages: 1, MessageSize: 8})

	if _, _, err := r.ReceiveWait(context.Background(), h, make([]byte, 8)); err != ErrQueueEmpty {
		t.Errorf("ReceiveWait on O_NONBLOCK descriptor = %v, want %v", err, ErrQueueEmpty)
	}
	mustSend(t, r, h, "x")
	if err := r.SendWait(context.Background(), h, []byte("y"), 0); err != ErrQueueFull {
		t.Errorf("SendWait on O_NONBLOCK descriptor = %v, want %v", err, ErrQueueFull)
	}
}

func TestWaitPermanentError(t *testing.T) {
	r := newTestRegistry(t, Config{})
	h := mustOpen(t, r, "/permanent", OpenOptions{Create: true, MessageSize: 4})

	if err := r.SendWait(context.Background(), h, []byte("too long"), 0); err != ErrPayloadTooLarge {
		t.Errorf("SendWait = %v, want %v", err, ErrPayloadTooLarge)
	}
	if err := r.SendWait(context.Background(), Handle(40), nil, 0); err != ErrInvalidHandle {
		t.Errorf("SendWait on bad handle = %v, want %v", err, ErrInvalidHandle)
	}
}
