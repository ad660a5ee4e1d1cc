// Copyright 2018 The gVisor Authors.
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

// Package errors holds the standardized error definition for mqshm.
package errors

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux/errno"
)

// Error represents a syscall errno with a descriptive message.
type Error struct {
	errno   errno.Errno
	message string
}

// New creates a new *Error.
func New(err errno.Errno, message string) *Error {
	return &Error{
		errno:   err,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the underlying errno.Errno value.
func (e *Error) Errno() errno.Errno { return e.errno }

// Is allows errors.Is to match e against the host errno it stands for, so
// callers written against unix.Errno values keep working.
func (e *Error) Is(target error) bool {
	if en, ok := target.(unix.Errno); ok {
		return uint32(en) == uint32(e.errno)
	}
	return false
}
