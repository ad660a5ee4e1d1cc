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

package shm

import (
	goerrors "errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux"
)

func TestValidateName(t *testing.T) {
	// The longest name whose lock file ".mq.<name>.lock" fits in NAME_MAX.
	longest := "/" + strings.Repeat("x", linux.NAME_MAX-len(".mq..lock"))
	for _, tc := range []struct {
		name string
		want error
	}{
		{"/q", nil},
		{"/queue.1", nil},
		{longest, nil},
		{longest + "x", ErrNameTooLong},
		{"", ErrInvalidName},
		{"/", ErrInvalidName},
		{"q", ErrInvalidName},
		{"/a/b", ErrInvalidName},
		{"/..", ErrInvalidName},
		{"/" + strings.Repeat("x", 300), ErrNameTooLong},
	} {
		d := NewDir("", "mq.")
		if got := d.ValidateName(tc.name); got != tc.want {
			t.Errorf("ValidateName(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}

	// A longer prefix leaves less room for the name.
	if err := NewDir("", "a-much-longer-prefix.").ValidateName(longest); err != ErrNameTooLong {
		t.Errorf("ValidateName(%d bytes) with long prefix = %v, want %v", len(longest), err, ErrNameTooLong)
	}
}

func TestLongestNameUsable(t *testing.T) {
	d := NewDir(t.TempDir(), "mq.")
	name := "/" + strings.Repeat("x", linux.NAME_MAX-len(".mq..lock"))
	unlock, err := d.Lock(name)
	if err != nil {
		t.Fatalf("Lock(%d byte name): %v", len(name), err)
	}
	defer unlock()
	o, err := d.Create(name, 64, 0600)
	if err != nil {
		t.Fatalf("Create(%d byte name): %v", len(name), err)
	}
	o.Close()
}

func TestCreateOpenUnlink(t *testing.T) {
	d := NewDir(t.TempDir(), "mq.")

	o, err := d.Create("/q", 8192, 0600)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if size, err := o.Size(); err != nil || size != 8192 {
		t.Fatalf("Size() = %d, %v; want 8192, nil", size, err)
	}
	m, err := o.Map(8192)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer Unmap(m)
	o.Close()

	if _, err := d.Create("/q", 8192, 0600); !goerrors.Is(err, unix.EEXIST) {
		t.Fatalf("second Create = %v, want EEXIST", err)
	}

	o2, err := d.Open("/q")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m2, err := o2.Map(8192)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	o2.Close()
	m[42] = 7
	if m2[42] != 7 {
		t.Errorf("mappings of one object do not share memory")
	}

	if err := d.Unlink("/q"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := d.Open("/q"); !goerrors.Is(err, unix.ENOENT) {
		t.Fatalf("Open after Unlink = %v, want ENOENT", err)
	}
	// The old mappings are still usable.
	m2[43] = 9
	if m[43] != 9 {
		t.Errorf("mapping stopped sharing after Unlink")
	}
	Unmap(m2)
	if err := d.Unlink("/q"); !goerrors.Is(err, unix.ENOENT) {
		t.Errorf("second Unlink = %v, want ENOENT", err)
	}
}

func TestLockSerializes(t *testing.T) {
	d := NewDir(t.TempDir(), "mq.")
	var inside, max int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			unlock, err := d.Lock("/q")
			if err != nil {
				return err
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&max)
				if n <= m || atomic.CompareAndSwapInt32(&max, m, n) {
					break
				}
			}
			atomic.AddInt32(&inside, -1)
			return unlock()
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if max != 1 {
		t.Errorf("%d holders at once, want 1", max)
	}
}

func TestList(t *testing.T) {
	d := NewDir(t.TempDir(), "mq.")
	for _, n := range []string{"/b", "/a", "/jobs.lock"} {
		o, err := d.Create(n, 64, 0600)
		if err != nil {
			t.Fatalf("Create(%q): %v", n, err)
		}
		o.Close()
	}
	unlock, err := d.Lock("/c")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	got, err := d.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"/a", "/b", "/jobs.lock"}, got); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}
