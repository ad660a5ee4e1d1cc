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

package shmsync

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux"
)

// Wait blocks until *addr is no longer val, until another thread or process
// calls Wake on the same word, or until timeout elapses. A timeout <= 0 waits
// forever. Wait may return spuriously; callers must re-check their condition.
//
// The futex is not FUTEX_PRIVATE, so addr may live in a MAP_SHARED file
// mapping that is waited on and woken from different processes.
func Wait(addr *uint32, val uint32, timeout time.Duration) error {
	var tsp *unix.Timespec
	if timeout > 0 {
		ts := unix.NsecToTimespec(int64(timeout))
		tsp = &ts
	}
	// Not RawSyscall: this may block for a long time and the scheduler must be
	// able to hand our P to another goroutine.
	_, _, e := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), linux.FUTEX_WAIT, uintptr(val), uintptr(unsafe.Pointer(tsp)), 0, 0)
	switch e {
	case 0, unix.EAGAIN, unix.EINTR:
		// EAGAIN: *addr != val already.
		return nil
	case unix.ETIMEDOUT:
		return ErrTimedOut
	default:
		return e
	}
}

// Wake wakes up to n waiters blocked on addr and returns how many were woken.
func Wake(addr *uint32, n int) (int, error) {
	r, _, e := unix.RawSyscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), linux.FUTEX_WAKE, uintptr(n), 0, 0, 0)
	if e != 0 {
		return 0, e
	}
	return int(r), nil
}
