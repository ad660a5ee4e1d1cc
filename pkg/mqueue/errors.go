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

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux/errno"
	"gvisor.dev/mqshm/pkg/errors"
	"gvisor.dev/mqshm/pkg/shm"
)

// Errors returned by this package. Each carries the errno the equivalent
// mq_* call would set, so errors.Is(err, unix.EAGAIN) and friends hold, but
// every value is distinct.
var (
	ErrInvalidHandle     = errors.New(errno.EBADF, "invalid message queue descriptor")
	ErrResourceExhausted = errors.New(errno.EMFILE, "too many open message queues")
	ErrAlreadyExists     = errors.New(errno.EEXIST, "message queue already exists")
	ErrNotFound          = errors.New(errno.ENOENT, "message queue does not exist")
	ErrQueueFull         = errors.New(errno.EAGAIN, "message queue is full")
	ErrQueueEmpty        = errors.New(errno.EAGAIN, "message queue is empty")
	ErrPayloadTooLarge   = errors.New(errno.EMSGSIZE, "message too long")
	ErrAlreadySubscribed = errors.New(errno.EBUSY, "message queue already has a notification registration")
	ErrInvalidAttr       = errors.New(errno.EINVAL, "invalid message queue attributes")
	ErrInvalidPriority   = errors.New(errno.EINVAL, "message priority out of range")
	ErrInvalidName       = shm.ErrInvalidName
	ErrNameTooLong       = shm.ErrNameTooLong

	// ErrCorrupt is wrapped in an *IOError when an existing object does not
	// hold a message queue of a layout we understand.
	ErrCorrupt = errors.New(errno.EIO, "message queue segment is corrupt")
)

// IOError is returned when the shared memory object or its lock fails
// underneath an operation. The queue should be considered unusable; IOErrors
// are never retried.
type IOError struct {
	// Op is the failing step, e.g. "map" or "lock".
	Op string

	// Name is the queue name.
	Name string

	// Err is the underlying cause.
	Err error
}

// Error implements error.Error.
func (e *IOError) Error() string {
	return fmt.Sprintf("mqueue %s %s: %v", e.Op, e.Name, e.Err)
}

// Unwrap returns the cause.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Errno returns EIO.
func (e *IOError) Errno() errno.Errno {
	return errno.EIO
}

// Is matches unix.EIO.
func (e *IOError) Is(target error) bool {
	return target == unix.EIO
}
