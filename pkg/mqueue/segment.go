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
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/shm"
	"gvisor.dev/mqshm/pkg/shmsync"
)

const (
	segmentMagic   = "GVMQSEG\x00"
	segmentVersion = 1

	// segmentReady is stored in header.state once initialization is
	// complete. Any other value means the creator has not finished.
	segmentReady = 0x52454459

	// headerSize is the size of header. Slots start here.
	headerSize = 0x80

	// slotHeaderSize is the length and priority words preceding each
	// payload.
	slotHeaderSize = 8
)

// header is the layout at offset 0 of every queue segment. It is shared by
// all processes that have the queue open, so its layout is fixed and every
// field below lock is only accessed while holding lock. The geometry fields
// (msgSize, maxMsg, slotSize) are immutable once state is segmentReady.
type header struct {
	magic   [8]byte
	version uint32

	// state is segmentReady once the header is initialized. Accessed
	// atomically.
	state uint32

	lock shmsync.Mutex

	// head is the index of the oldest message, tail the index of the next
	// free slot. tail == (head + count) % maxMsg.
	head  uint64
	tail  uint64
	count uint64

	msgSize  uint64
	maxMsg   uint64
	slotSize uint64

	// Registration for asynchronous notification. notifyEnabled is 1 while
	// one is outstanding.
	notifyPID     int32
	notifyEnabled uint32
	notifyKind    uint32
	notifySignal  int32
	notifyValue   uint64

	// notifySeq is incremented each time a registration is consumed. It is a
	// futex word: waiters sleep on it outside of lock.
	notifySeq uint32

	_ [28]byte
}

// slotSizeFor returns the stride of one slot holding up to msgSize bytes.
func slotSizeFor(msgSize uint64) uint64 {
	return (slotHeaderSize + msgSize + 7) &^ 7
}

// segmentSize returns the size of a segment with the given geometry.
func segmentSize(msgSize, maxMsg uint64) int64 {
	return int64(headerSize + maxMsg*slotSizeFor(msgSize))
}

func (h *header) clearSubscription() {
	h.notifyEnabled = 0
	h.notifyPID = 0
	h.notifyKind = 0
	h.notifySignal = 0
	h.notifyValue = 0
}

func (h *header) subscription() Subscriber {
	return Subscriber{
		PID:    h.notifyPID,
		Kind:   NotifyKind(h.notifyKind),
		Signal: linux.Signal(h.notifySignal),
		Value:  h.notifyValue,
	}
}

// takeSubscription consumes the outstanding registration.
//
// Preconditions: lock is held, notifyEnabled != 0.
func (h *header) takeSubscription() Subscriber {
	sub := h.subscription()
	h.clearSubscription()
	atomic.AddUint32(&h.notifySeq, 1)
	return sub
}

// segment is one process's mapping of a queue.
type segment struct {
	name string
	mem  []byte
	hdr  *header

	// mu serializes this process's users of hdr.lock, so that goroutines
	// wait in the Go scheduler rather than each parking a thread on the
	// futex.
	mu sync.Mutex

	// Copies of the immutable geometry, valid after initialize or validate.
	// All indexing into mem uses these, never the shared header fields.
	msgSize  uint64
	maxMsg   uint64
	slotSize uint64
}

// initialize writes a fresh header for the given geometry and publishes it
// by storing state last.
//
// Preconditions: No other process can be using the segment. In practice the
// caller holds the per-name lock and has just created or truncated the
// object.
func (s *segment) initialize(msgSize, maxMsg uint64) {
	h := s.hdr
	atomic.StoreUint32(&h.state, 0)
	copy(h.magic[:], segmentMagic)
	h.version = segmentVersion
	h.lock.Init()
	h.head, h.tail, h.count = 0, 0, 0
	h.msgSize = msgSize
	h.maxMsg = maxMsg
	h.slotSize = slotSizeFor(msgSize)
	h.clearSubscription()
	atomic.StoreUint32(&h.notifySeq, 0)
	s.cacheGeometry()
	atomic.StoreUint32(&h.state, segmentReady)
}

// ready reports whether the segment's creator finished initializing it.
func (s *segment) ready() bool {
	return atomic.LoadUint32(&s.hdr.state) == segmentReady
}

// validate checks a ready segment's header against the mapping.
func (s *segment) validate() error {
	h := s.hdr
	switch {
	case string(h.magic[:]) != segmentMagic, h.version != segmentVersion:
		return ErrCorrupt
	case h.msgSize == 0, h.msgSize > linux.HARD_MSGSIZEMAX:
		return ErrCorrupt
	case h.maxMsg == 0, h.maxMsg > linux.HARD_MSGMAX:
		return ErrCorrupt
	case h.slotSize != slotSizeFor(h.msgSize):
		return ErrCorrupt
	case segmentSize(h.msgSize, h.maxMsg) > int64(len(s.mem)):
		return ErrCorrupt
	}
	s.cacheGeometry()
	return nil
}

func (s *segment) cacheGeometry() {
	s.msgSize = s.hdr.msgSize
	s.maxMsg = s.hdr.maxMsg
	s.slotSize = s.hdr.slotSize
}

// consistent reports whether the shared geometry still matches the cached
// copy and the ring indices satisfy the ring invariant.
//
// Preconditions: hdr.lock is held.
func (s *segment) consistent() bool {
	h := s.hdr
	return h.msgSize == s.msgSize &&
		h.maxMsg == s.maxMsg &&
		h.slotSize == s.slotSize &&
		h.head < s.maxMsg &&
		h.tail < s.maxMsg &&
		h.count <= s.maxMsg &&
		h.tail == (h.head+h.count)%s.maxMsg
}

// withLock runs fn with the segment's process-shared mutex held. Failing to
// take or drop the lock is reported as an *IOError. The lock is dropped even
// if fn panics.
func (s *segment) withLock(op string, fn func(h *header) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hdr.lock.Lock(); err != nil {
		return &IOError{Op: op, Name: s.name, Err: err}
	}
	defer func() {
		if uerr := s.hdr.lock.Unlock(); uerr != nil && err == nil {
			err = &IOError{Op: op, Name: s.name, Err: uerr}
		}
	}()
	if !s.consistent() {
		return &IOError{Op: op, Name: s.name, Err: ErrCorrupt}
	}
	return fn(s.hdr)
}

// slot returns slot i.
func (s *segment) slot(i uint64) []byte {
	off := headerSize + i*s.slotSize
	return s.mem[off : off+s.slotSize : off+s.slotSize]
}

// send appends one message. If the queue went from empty to non-empty while
// a registration was outstanding, the registration is consumed and returned
// so the caller can deliver it after the lock is dropped.
//
// Preconditions: len(payload) <= s.msgSize.
func (s *segment) send(payload []byte, prio uint32) (sub Subscriber, triggered bool, err error) {
	err = s.withLock("send", func(h *header) error {
		if h.count == s.maxMsg {
			return ErrQueueFull
		}
		sl := s.slot(h.tail)
		binary.NativeEndian.PutUint32(sl[0:], uint32(len(payload)))
		binary.NativeEndian.PutUint32(sl[4:], prio)
		copy(sl[slotHeaderSize:], payload)
		h.tail = (h.tail + 1) % s.maxMsg
		h.count++
		if h.count == 1 && h.notifyEnabled != 0 {
			sub = h.takeSubscription()
			triggered = true
		}
		return nil
	})
	return sub, triggered && err == nil, err
}

// receive removes the oldest message, copying as much of it as fits into
// buf.
func (s *segment) receive(buf []byte) (n int, prio uint32, err error) {
	err = s.withLock("receive", func(h *header) error {
		if h.count == 0 {
			return ErrQueueEmpty
		}
		sl := s.slot(h.head)
		length := uint64(binary.NativeEndian.Uint32(sl[0:]))
		if length > s.msgSize {
			length = s.msgSize
		}
		prio = binary.NativeEndian.Uint32(sl[4:])
		n = copy(buf, sl[slotHeaderSize:slotHeaderSize+length])
		h.head = (h.head + 1) % s.maxMsg
		h.count--
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return n, prio, nil
}

// segmentStat is a consistent snapshot of the shared state.
type segmentStat struct {
	head, tail, count uint64
	subscribed        bool
	subscriber        Subscriber
	notifySeq         uint32
}

func (s *segment) stat() (segmentStat, error) {
	var st segmentStat
	err := s.withLock("stat", func(h *header) error {
		st = segmentStat{
			head:       h.head,
			tail:       h.tail,
			count:      h.count,
			subscribed: h.notifyEnabled != 0,
			subscriber: h.subscription(),
			notifySeq:  atomic.LoadUint32(&h.notifySeq),
		}
		return nil
	})
	return st, err
}

// subscribe records sub as the queue's single registration.
func (s *segment) subscribe(sub Subscriber) error {
	return s.withLock("notify", func(h *header) error {
		if h.notifyEnabled != 0 {
			return ErrAlreadySubscribed
		}
		h.notifyPID = sub.PID
		h.notifyKind = uint32(sub.Kind)
		h.notifySignal = int32(sub.Signal)
		h.notifyValue = sub.Value
		h.notifyEnabled = 1
		return nil
	})
}

// unsubscribe removes the registration if it belongs to pid and reports
// whether it did.
func (s *segment) unsubscribe(pid int32) (bool, error) {
	var removed bool
	err := s.withLock("notify", func(h *header) error {
		if h.notifyEnabled != 0 && h.notifyPID == pid {
			h.clearSubscription()
			removed = true
		}
		return nil
	})
	return removed, err
}

// notifySeq returns the current notification sequence number.
func (s *segment) notifySeq() uint32 {
	return atomic.LoadUint32(&s.hdr.notifySeq)
}

// wakeNotifyWaiters wakes every process sleeping on notifySeq.
func (s *segment) wakeNotifyWaiters() error {
	_, err := shmsync.Wake(&s.hdr.notifySeq, math.MaxInt32)
	return err
}

// waitNotifySeq sleeps on notifySeq while it equals seq, for at most
// timeout.
func (s *segment) waitNotifySeq(seq uint32, timeout time.Duration) error {
	return shmsync.Wait(&s.hdr.notifySeq, seq, timeout)
}

// release unmaps the segment. The segment must not be used afterwards.
func (s *segment) release() error {
	if s.mem == nil {
		return nil
	}
	mem := s.mem
	s.mem, s.hdr = nil, nil
	return shm.Unmap(mem)
}
