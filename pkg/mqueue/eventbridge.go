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
	"time"

	"gvisor.dev/mqshm/pkg/eventfd"
)

// EventBridge turns a queue's one-shot notification into an eventfd, so it
// can be consumed with Wait or polled alongside other descriptors through FD.
type EventBridge struct {
	r  *Registry
	h  Handle
	ev eventfd.Eventfd

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventBridge registers the calling process for a NotifyWake notification
// on h and returns a bridge that signals its eventfd when the notification
// fires. The bridge is one-shot; create a new one to wait again. It fails
// with ErrAlreadySubscribed if the queue already has a registration.
func NewEventBridge(ctx context.Context, r *Registry, h Handle) (*EventBridge, error) {
	seq, err := r.NotifySeq(h)
	if err != nil {
		return nil, err
	}
	ev, err := eventfd.Create()
	if err != nil {
		return nil, err
	}
	if err := r.Notify(h, &Subscriber{Kind: NotifyWake}); err != nil {
		ev.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &EventBridge{
		r:      r,
		h:      h,
		ev:     ev,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.forward(ctx, seq)
	return b, nil
}

func (b *EventBridge) forward(ctx context.Context, seq uint32) {
	defer close(b.done)
	if _, err := b.r.WaitNotification(ctx, b.h, seq); err != nil {
		if ctx.Err() == nil {
			b.r.log.Warningf("mqueue: event bridge on descriptor %d: %v", b.h, err)
		}
		return
	}
	if err := b.ev.Notify(); err != nil {
		b.r.log.Warningf("mqueue: event bridge on descriptor %d: signaling eventfd: %v", b.h, err)
	}
}

// Wait blocks until the notification fires.
func (b *EventBridge) Wait() error {
	return b.ev.Wait()
}

// WaitTimeout is like Wait but gives up after timeout, returning
// shmsync.ErrTimedOut.
func (b *EventBridge) WaitTimeout(timeout time.Duration) error {
	_, err := b.ev.ReadTimeout(timeout)
	return err
}

// FD returns the eventfd, which becomes readable when the notification fires.
func (b *EventBridge) FD() int {
	return b.ev.FD()
}

// Close stops the bridge, removes the registration if it has not fired, and
// closes the eventfd.
func (b *EventBridge) Close() error {
	b.cancel()
	<-b.done
	if err := b.r.Notify(b.h, nil); err != nil && err != ErrInvalidHandle {
		b.ev.Close()
		return err
	}
	return b.ev.Close()
}
