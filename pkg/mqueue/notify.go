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
	"fmt"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/abi/linux/errno"
	"gvisor.dev/mqshm/pkg/errors"
	"gvisor.dev/mqshm/pkg/shmsync"
)

// ErrInvalidSubscriber is returned by Notify for a malformed registration.
var ErrInvalidSubscriber = errors.New(errno.EINVAL, "invalid notification registration")

// notifyPollInterval bounds how long WaitNotification sleeps before
// rechecking its context.
const notifyPollInterval = 100 * time.Millisecond

// NotifyKind selects how a registration is delivered.
type NotifyKind uint32

const (
	// NotifyNone consumes the registration without delivering anything,
	// like SIGEV_NONE.
	NotifyNone NotifyKind = iota

	// NotifySignal sends Subscriber.Signal to Subscriber.PID, like
	// SIGEV_SIGNAL.
	NotifySignal

	// NotifyWake only wakes processes blocked in WaitNotification.
	NotifyWake
)

// String implements fmt.Stringer.
func (k NotifyKind) String() string {
	switch k {
	case NotifyNone:
		return "none"
	case NotifySignal:
		return "signal"
	case NotifyWake:
		return "wake"
	default:
		return fmt.Sprintf("NotifyKind(%d)", uint32(k))
	}
}

// Subscriber is a request to be told when a queue becomes non-empty.
type Subscriber struct {
	// PID is the process to notify. Zero means the calling process.
	PID int32

	// Kind selects the delivery method.
	Kind NotifyKind

	// Signal is sent for NotifySignal.
	Signal linux.Signal

	// Value is an opaque cookie handed back to the Notifier.
	Value uint64
}

// Notifier delivers a registration consumed by a Send that made a queue
// non-empty. It is called by the sending process after the queue lock is
// released. Errors are logged, never returned to the sender.
type Notifier interface {
	Notify(name string, sub Subscriber) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(name string, sub Subscriber) error

// Notify implements Notifier.Notify.
func (f NotifierFunc) Notify(name string, sub Subscriber) error {
	return f(name, sub)
}

// SignalNotifier is the default Notifier. It sends the requested signal for
// NotifySignal registrations and does nothing for the other kinds, whose
// waiters are woken through the queue's notification sequence.
type SignalNotifier struct{}

// Notify implements Notifier.Notify.
func (SignalNotifier) Notify(_ string, sub Subscriber) error {
	if sub.Kind != NotifySignal {
		return nil
	}
	return unix.Kill(int(sub.PID), unix.Signal(sub.Signal))
}

// Notify registers sub to be told when the queue open as h goes from empty to
// non-empty. Only one registration may be outstanding per queue, across all
// processes; it is consumed by the first notification.
//
// A nil sub removes the registration if it belongs to the calling process,
// and is a no-op otherwise.
func (r *Registry) Notify(h Handle, sub *Subscriber) error {
	d, err := r.descriptors.get(h)
	if err != nil {
		return err
	}
	defer d.DecRef()

	if sub == nil {
		removed, err := d.seg.unsubscribe(getpid())
		if removed {
			d.subscribed.Store(false)
		}
		return err
	}

	s := *sub
	if s.PID == 0 {
		s.PID = getpid()
	}
	switch {
	case s.PID < 0, s.Kind > NotifyWake:
		return ErrInvalidSubscriber
	case s.Kind == NotifySignal && !s.Signal.IsValid():
		return ErrInvalidSubscriber
	}
	if err := d.seg.subscribe(s); err != nil {
		return err
	}
	d.subscribed.Store(true)
	r.log.Debugf("mqueue %s: pid %d registered for %v notification", d.name, s.PID, s.Kind)
	return nil
}

// dropSubscription removes a registration made through d, if it is still
// outstanding and ours.
func (r *Registry) dropSubscription(d *descriptor) error {
	if !d.subscribed.Swap(false) {
		return nil
	}
	_, err := d.seg.unsubscribe(getpid())
	return err
}

// deliver completes a notification consumed by d.seg.send. Failures are
// logged and otherwise ignored.
func (r *Registry) deliver(d *descriptor, sub Subscriber) {
	if err := d.seg.wakeNotifyWaiters(); err != nil {
		r.notifyLog.Warningf("mqueue %s: waking notification waiters: %v", d.name, err)
	}
	if err := r.notifier.Notify(d.name, sub); err != nil {
		r.notifyLog.Warningf("mqueue %s: %v notification to pid %d failed: %v", d.name, sub.Kind, sub.PID, err)
	}
}

// NotifySeq returns the queue's notification sequence number, which is
// incremented each time a registration is consumed.
func (r *Registry) NotifySeq(h Handle) (uint32, error) {
	d, err := r.descriptors.get(h)
	if err != nil {
		return 0, err
	}
	defer d.DecRef()
	return d.seg.notifySeq(), nil
}

// WaitNotification blocks until the queue's notification sequence number
// differs from seq, and returns the new value. It works across processes:
// any process with the queue open may wait for a registration made by any
// other.
//
// The usual pattern is to read NotifySeq, register with Notify, then wait.
func (r *Registry) WaitNotification(ctx context.Context, h Handle, seq uint32) (uint32, error) {
	d, err := r.descriptors.get(h)
	if err != nil {
		return seq, err
	}
	defer d.DecRef()
	for {
		if cur := d.seg.notifySeq(); cur != seq {
			return cur, nil
		}
		if err := ctx.Err(); err != nil {
			return seq, err
		}
		timeout := notifyPollInterval
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < timeout {
				timeout = left
			}
		}
		if timeout <= 0 {
			timeout = time.Millisecond
		}
		if err := d.seg.waitNotifySeq(seq, timeout); err != nil && err != shmsync.ErrTimedOut {
			return seq, &IOError{Op: "wait", Name: d.name, Err: err}
		}
	}
}
