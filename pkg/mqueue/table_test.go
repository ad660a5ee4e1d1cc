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
	"testing"
)

func TestTableLowestFree(t *testing.T) {
	tbl := newTable(3)
	var hs []Handle
	for i := 0; i < 3; i++ {
		h, err := tbl.reserve()
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		hs = append(hs, h)
	}
	if _, err := tbl.reserve(); err != ErrResourceExhausted {
		t.Fatalf("reserve on full table = %v, want %v", err, ErrResourceExhausted)
	}
	// Reserved slots are not usable handles.
	if _, err := tbl.get(hs[0]); err != ErrInvalidHandle {
		t.Errorf("get of reserved slot = %v, want %v", err, ErrInvalidHandle)
	}
	tbl.cancel(hs[1])
	h, err := tbl.reserve()
	if err != nil || h != hs[1] {
		t.Errorf("reserve = %d, %v; want %d, nil", h, err, hs[1])
	}
	if used, capacity := tbl.size(); used != 3 || capacity != 3 {
		t.Errorf("size() = %d, %d; want 3, 3", used, capacity)
	}
}

func TestTableRefsDeferRelease(t *testing.T) {
	s := newAnonSegment(t, 8, 2)
	tbl := newTable(1)
	h, err := tbl.reserve()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	d := newDescriptor("/anon", s, true, true, false)
	tbl.install(h, d)

	// An in-flight operation holds a reference across Close.
	op, err := tbl.get(h)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	removed, err := tbl.remove(h)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	removed.DecRef()
	if s.mem == nil {
		t.Fatalf("segment released while an operation held a reference")
	}
	if _, _, err := op.seg.send([]byte("ok"), 0); err != nil {
		t.Errorf("send through in-flight reference: %v", err)
	}
	op.DecRef()
	if s.mem != nil {
		t.Errorf("segment not released after last reference dropped")
	}
	if _, err := tbl.get(h); err != ErrInvalidHandle {
		t.Errorf("get after remove = %v, want %v", err, ErrInvalidHandle)
	}
}
