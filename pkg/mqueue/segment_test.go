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
	"fmt"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/memutil"
)

func TestHeaderLayout(t *testing.T) {
	var h header
	for _, tc := range []struct {
		field string
		got   uintptr
		want  uintptr
	}{
		{"magic", unsafe.Offsetof(h.magic), 0x00},
		{"version", unsafe.Offsetof(h.version), 0x08},
		{"state", unsafe.Offsetof(h.state), 0x0c},
		{"lock", unsafe.Offsetof(h.lock), 0x10},
		{"head", unsafe.Offsetof(h.head), 0x18},
		{"tail", unsafe.Offsetof(h.tail), 0x20},
		{"count", unsafe.Offsetof(h.count), 0x28},
		{"msgSize", unsafe.Offsetof(h.msgSize), 0x30},
		{"maxMsg", unsafe.Offsetof(h.maxMsg), 0x38},
		{"slotSize", unsafe.Offsetof(h.slotSize), 0x40},
		{"notifyPID", unsafe.Offsetof(h.notifyPID), 0x48},
		{"notifyEnabled", unsafe.Offsetof(h.notifyEnabled), 0x4c},
		{"notifyKind", unsafe.Offsetof(h.notifyKind), 0x50},
		{"notifySignal", unsafe.Offsetof(h.notifySignal), 0x54},
		{"notifyValue", unsafe.Offsetof(h.notifyValue), 0x58},
		{"notifySeq", unsafe.Offsetof(h.notifySeq), 0x60},
	} {
		if tc.got != tc.want {
			t.Errorf("offset of %s = %#x, want %#x", tc.field, tc.got, tc.want)
		}
	}
	if got := unsafe.Sizeof(h); got != headerSize {
		t.Errorf("header size = %#x, want %#x", got, headerSize)
	}
}

func TestSlotGeometry(t *testing.T) {
	for _, tc := range []struct {
		msgSize, slot uint64
	}{
		{1, 16},
		{8, 16},
		{9, 24},
		{1024, 1032},
	} {
		if got := slotSizeFor(tc.msgSize); got != tc.slot {
			t.Errorf("slotSizeFor(%d) = %d, want %d", tc.msgSize, got, tc.slot)
		}
	}
	if got, want := segmentSize(1024, 32), int64(headerSize+32*1032); got != want {
		t.Errorf("segmentSize(1024, 32) = %d, want %d", got, want)
	}
}

// newAnonSegment returns an initialized segment in anonymous shared memory.
func newAnonSegment(t *testing.T, msgSize, maxMsg uint64) *segment {
	t.Helper()
	mem, err := memutil.MapSlice(0, uintptr(segmentSize(msgSize, maxMsg)), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS, ^uintptr(0), 0)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	s := newSegment("/anon", mem)
	s.initialize(msgSize, maxMsg)
	t.Cleanup(func() { s.release() })
	return s
}

func TestRingWraparound(t *testing.T) {
	s := newAnonSegment(t, 16, 3)
	buf := make([]byte, 16)
	for i := 0; i < 50; i++ {
		for j := 0; j < 2; j++ {
			if _, _, err := s.send([]byte(fmt.Sprintf("%d.%d", i, j)), uint32(j)); err != nil {
				t.Fatalf("send %d.%d: %v", i, j, err)
			}
		}
		for j := 0; j < 2; j++ {
			n, prio, err := s.receive(buf)
			if err != nil {
				t.Fatalf("receive %d.%d: %v", i, j, err)
			}
			if want := fmt.Sprintf("%d.%d", i, j); string(buf[:n]) != want || prio != uint32(j) {
				t.Fatalf("receive = %q, %d; want %q, %d", buf[:n], prio, want, j)
			}
		}
		h := s.hdr
		if !s.consistent() || h.count != 0 || h.head != uint64(2*(i+1))%3 {
			t.Fatalf("after round %d: head=%d tail=%d count=%d", i, h.head, h.tail, h.count)
		}
	}
}

func TestInconsistentIndicesReported(t *testing.T) {
	s := newAnonSegment(t, 8, 4)
	s.hdr.tail = 3
	_, _, err := s.send([]byte("x"), 0)
	if ioErr, ok := err.(*IOError); !ok || ioErr.Err != ErrCorrupt {
		t.Fatalf("send with broken indices = %v, want IOError(%v)", err, ErrCorrupt)
	}
	if s.hdr.lock.Locked() {
		t.Errorf("lock left held after a failed operation")
	}
}

func TestGeometryRewriteReported(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(h *header)
	}{
		{"capacity", func(h *header) { h.maxMsg, h.head, h.count, h.tail = 1000, 0, 500, 500 }},
		{"message size", func(h *header) { h.msgSize = 4096 }},
		{"slot size", func(h *header) { h.slotSize = 4096 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newAnonSegment(t, 8, 4)
			// A second mapping of the same memory stands in for a peer
			// process scribbling on the header.
			peer := newSegment("/anon", s.mem)
			tc.mutate(peer.hdr)

			_, _, err := s.send([]byte("x"), 0)
			if ioErr, ok := err.(*IOError); !ok || ioErr.Err != ErrCorrupt {
				t.Errorf("send = %v, want IOError(%v)", err, ErrCorrupt)
			}
			_, _, err = s.receive(make([]byte, 8))
			if ioErr, ok := err.(*IOError); !ok || ioErr.Err != ErrCorrupt {
				t.Errorf("receive = %v, want IOError(%v)", err, ErrCorrupt)
			}
			if s.hdr.lock.Locked() {
				t.Errorf("lock left held after a failed operation")
			}
		})
	}
}

func TestLockReleasedOnPanic(t *testing.T) {
	s := newAnonSegment(t, 8, 4)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("withLock did not propagate the panic")
			}
		}()
		s.withLock("test", func(*header) error { panic("boom") })
	}()
	if s.hdr.lock.Locked() {
		t.Fatalf("lock left held after fn panicked")
	}
	if _, _, err := s.send([]byte("x"), 0); err != nil {
		t.Errorf("send after recovered panic: %v", err)
	}
}

func TestValidate(t *testing.T) {
	s := newAnonSegment(t, 8, 4)
	if err := s.validate(); err != nil {
		t.Fatalf("validate of fresh segment: %v", err)
	}
	for _, tc := range []struct {
		name   string
		mutate func(h *header)
	}{
		{"magic", func(h *header) { h.magic[0] = 'X' }},
		{"version", func(h *header) { h.version = 2 }},
		{"slot size", func(h *header) { h.slotSize = 8 }},
		{"too big for mapping", func(h *header) { h.maxMsg = 1000 }},
		{"zero capacity", func(h *header) { h.maxMsg = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newAnonSegment(t, 8, 4)
			tc.mutate(s.hdr)
			if err := s.validate(); err != ErrCorrupt {
				t.Errorf("validate = %v, want %v", err, ErrCorrupt)
			}
		})
	}
}
