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

	"github.com/cenkalti/backoff"
	"gvisor.dev/mqshm/pkg/errors/linuxerr"
)

// Backoff bounds for SendWait and ReceiveWait.
const (
	waitInitialInterval = 100 * time.Microsecond
	waitMaxInterval     = 20 * time.Millisecond
)

// SendWait is like Send, but while the queue is full it retries with
// exponential backoff until it succeeds or ctx is done, in which case it
// returns ctx.Err(). A descriptor with O_NONBLOCK set behaves exactly like
// Send.
func (r *Registry) SendWait(ctx context.Context, h Handle, payload []byte, prio uint32) error {
	return r.retry(ctx, h, func() error {
		return r.Send(h, payload, prio)
	})
}

// ReceiveWait is like Receive, but while the queue is empty it retries with
// exponential backoff until it succeeds or ctx is done, in which case it
// returns ctx.Err(). A descriptor with O_NONBLOCK set behaves exactly like
// Receive.
func (r *Registry) ReceiveWait(ctx context.Context, h Handle, buf []byte) (int, uint32, error) {
	var (
		n    int
		prio uint32
	)
	err := r.retry(ctx, h, func() error {
		var err error
		n, prio, err = r.Receive(h, buf)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return n, prio, nil
}

// retry runs op until it returns something other than EAGAIN.
func (r *Registry) retry(ctx context.Context, h Handle, op func() error) error {
	d, err := r.descriptors.get(h)
	if err != nil {
		return err
	}
	nonblock := d.nonblocking()
	d.DecRef()
	if nonblock {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = waitInitialInterval
	b.MaxInterval = waitMaxInterval
	b.MaxElapsedTime = 0
	err = backoff.Retry(func() error {
		err := op()
		if err == nil || linuxerr.Equals(linuxerr.EAGAIN, err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))

	// The backoff gives up once the next interval would overshoot ctx's
	// deadline. Keep polling at the maximum interval until ctx is done.
	for err != nil && linuxerr.Equals(linuxerr.EAGAIN, err) && ctx.Err() == nil {
		t := time.NewTimer(waitMaxInterval)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
			err = op()
		}
	}
	if err != nil && linuxerr.Equals(linuxerr.EAGAIN, err) {
		return ctx.Err()
	}
	return err
}

// SendWait calls Default().SendWait.
func SendWait(ctx context.Context, h Handle, payload []byte, prio uint32) error {
	return Default().SendWait(ctx, h, payload, prio)
}

// ReceiveWait calls Default().ReceiveWait.
func ReceiveWait(ctx context.Context, h Handle, buf []byte) (int, uint32, error) {
	return Default().ReceiveWait(ctx, h, buf)
}
