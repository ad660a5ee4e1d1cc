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

// Package shmsync provides synchronization primitives that may be placed in
// memory shared by several processes, such as a MAP_SHARED file mapping.
//
// Nothing in this package keeps a pointer to Go-managed state; every type is
// plain data with a fixed layout so that it can be overlaid on shared memory.
package shmsync

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux/errno"
	"gvisor.dev/mqshm/pkg/errors"
)

var (
	// ErrTimedOut is returned by Wait when its timeout elapses.
	ErrTimedOut = errors.New(errno.ETIMEDOUT, "futex wait timed out")

	// ErrOwnerDead is returned by Mutex.Lock when the process recorded as the
	// lock holder no longer exists. The protected data may be inconsistent.
	ErrOwnerDead = errors.New(errno.EOWNERDEAD, "previous owner died while holding the lock")

	// ErrNotLocked is returned by Mutex.Unlock on an unlocked mutex.
	ErrNotLocked = errors.New(errno.EPERM, "unlock of unlocked mutex")
)

// Mutex states.
const (
	unlocked  = 0
	locked    = 1
	contended = 2
)

// MutexBytes is the size of a Mutex in shared memory.
const MutexBytes = 8

// OwnerCheckInterval bounds how long a contended Lock sleeps before checking
// whether the current holder is still alive.
var OwnerCheckInterval = time.Second

// Mutex is a futex-based mutual exclusion lock usable across processes that
// map the same memory. The zero value is an unlocked mutex.
//
// The futex word follows the three-state protocol from Drepper's "Futexes
// Are Tricky": 0 unlocked, 1 locked without waiters, 2 locked and possibly
// contended. Unlock only issues FUTEX_WAKE when the word was 2.
type Mutex struct {
	// state is the futex word.
	state uint32

	// owner is the pid of the holder, or 0. It is diagnostic only and is
	// written after the lock is taken, so it may briefly be 0 while held.
	owner int32
}

// Init resets m to the unlocked state. It must only be called while no other
// process can be using m, e.g. by the creator of a fresh segment.
func (m *Mutex) Init() {
	atomic.StoreUint32(&m.state, unlocked)
	atomic.StoreInt32(&m.owner, 0)
}

// TryLock takes m if it is free and reports whether it did.
func (m *Mutex) TryLock() bool {
	if atomic.CompareAndSwapUint32(&m.state, unlocked, locked) {
		m.setOwner()
		return true
	}
	return false
}

// Lock takes m, blocking while another thread or process holds it.
//
// Lock fails only if the memory is unusable or the holder died; in both cases
// the caller must not touch the protected data.
func (m *Mutex) Lock() error {
	if m.TryLock() {
		return nil
	}
	c := atomic.SwapUint32(&m.state, contended)
	for c != unlocked {
		switch err := Wait(&m.state, contended, OwnerCheckInterval); err {
		case nil:
		case ErrTimedOut:
			if m.ownerDead() {
				return ErrOwnerDead
			}
		default:
			return err
		}
		c = atomic.SwapUint32(&m.state, contended)
	}
	m.setOwner()
	return nil
}

// Unlock releases m.
func (m *Mutex) Unlock() error {
	atomic.StoreInt32(&m.owner, 0)
	switch s := atomic.AddUint32(&m.state, ^uint32(0)); s {
	case unlocked:
		return nil
	case ^uint32(0):
		atomic.StoreUint32(&m.state, unlocked)
		return ErrNotLocked
	default:
		atomic.StoreUint32(&m.state, unlocked)
		if _, err := Wake(&m.state, 1); err != nil {
			return err
		}
		return nil
	}
}

// Owner returns the pid recorded as the holder of m, or 0.
func (m *Mutex) Owner() int32 {
	return atomic.LoadInt32(&m.owner)
}

// Locked reports whether m is currently held by anyone.
func (m *Mutex) Locked() bool {
	return atomic.LoadUint32(&m.state) != unlocked
}

func (m *Mutex) setOwner() {
	atomic.StoreInt32(&m.owner, int32(unix.Getpid()))
}

func (m *Mutex) ownerDead() bool {
	pid := m.Owner()
	if pid <= 0 {
		return false
	}
	return unix.Kill(int(pid), 0) == unix.ESRCH
}
