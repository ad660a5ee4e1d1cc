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
	"sync"
	"sync/atomic"

	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/log"
)

// Handle refers to an open queue in this process, like an mqd_t. Handles are
// small non-negative integers, reused lowest-first after Close.
type Handle int

// descriptor is one open instance of a queue.
//
// The table holds one reference; every in-flight operation holds another for
// its duration. The segment is unmapped when the last reference is dropped,
// so Close racing with Send never pulls memory out from under it.
type descriptor struct {
	// name is the queue name. Immutable.
	name string

	// seg is this process's mapping. Immutable.
	seg *segment

	// readable and writable reflect the access mode. Immutable.
	readable bool
	writable bool

	// flags holds linux.O_NONBLOCK if set. Accessed atomically.
	flags atomic.Uint32

	// subscribed is set while a registration made through this descriptor
	// may be outstanding.
	subscribed atomic.Bool

	refs atomic.Int64
}

func newDescriptor(name string, seg *segment, readable, writable, nonblock bool) *descriptor {
	d := &descriptor{
		name:     name,
		seg:      seg,
		readable: readable,
		writable: writable,
	}
	if nonblock {
		d.flags.Store(linux.O_NONBLOCK)
	}
	d.refs.Store(1)
	return d
}

func (d *descriptor) nonblocking() bool {
	return d.flags.Load()&linux.O_NONBLOCK != 0
}

// IncRef takes a reference.
func (d *descriptor) IncRef() {
	d.refs.Add(1)
}

// DecRef drops a reference, unmapping the segment with the last one.
func (d *descriptor) DecRef() {
	switch n := d.refs.Add(-1); {
	case n == 0:
		if err := d.seg.release(); err != nil {
			log.Warningf("mqueue %s: unmap failed: %v", d.name, err)
		}
	case n < 0:
		panic("mqueue: descriptor reference count went negative")
	}
}

// table is a fixed-capacity descriptor table.
type table struct {
	mu sync.Mutex

	// descriptors is indexed by Handle; nil entries are free. Protected by
	// mu.
	descriptors []*descriptor

	// used is the number of non-nil entries. Protected by mu.
	used int
}

func newTable(size int) *table {
	return &table{descriptors: make([]*descriptor, size)}
}

// reserved occupies a slot between reserve and install.
var reserved = &descriptor{name: "<reserved>"}

// reserve claims the lowest free slot. The slot must be handed to install or
// cancel.
func (t *table) reserve() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.descriptors {
		if e == nil {
			t.descriptors[i] = reserved
			t.used++
			return Handle(i), nil
		}
	}
	return -1, ErrResourceExhausted
}

// install puts d in the reserved slot h, transferring d's initial reference
// to the table.
func (t *table) install(h Handle, d *descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.descriptors[h] != reserved {
		panic("mqueue: install into a slot that was not reserved")
	}
	t.descriptors[h] = d
}

// cancel frees the reserved slot h.
func (t *table) cancel(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.descriptors[h] != reserved {
		panic("mqueue: cancel of a slot that was not reserved")
	}
	t.descriptors[h] = nil
	t.used--
}

// lookup returns the live descriptor at h.
//
// Preconditions: t.mu is locked.
func (t *table) lookup(h Handle) (*descriptor, error) {
	if h < 0 || int(h) >= len(t.descriptors) {
		return nil, ErrInvalidHandle
	}
	d := t.descriptors[h]
	if d == nil || d == reserved {
		return nil, ErrInvalidHandle
	}
	return d, nil
}

// get returns the descriptor for h with a reference taken. The caller must
// DecRef it.
func (t *table) get(h Handle) (*descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	d.IncRef()
	return d, nil
}

// remove frees h and returns its descriptor along with the table's
// reference, which the caller must DecRef.
func (t *table) remove(h Handle) (*descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, err := t.lookup(h)
	if err != nil {
		return nil, err
	}
	t.descriptors[h] = nil
	t.used--
	return d, nil
}

// removeAll frees every slot and returns the descriptors removed.
func (t *table) removeAll() map[Handle]*descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	ds := make(map[Handle]*descriptor, t.used)
	for i, d := range t.descriptors {
		if d != nil && d != reserved {
			ds[Handle(i)] = d
			t.descriptors[i] = nil
			t.used--
		}
	}
	return ds
}

// size returns the number of open descriptors and the capacity.
func (t *table) size() (used, capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used, len(t.descriptors)
}
