// Copyright 2021 The gVisor Authors.
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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux/errno"
	"gvisor.dev/mqshm/pkg/errors"
)

// The following errors are semantically identical to Errno of type unix.Errno
// or syscall.Errno. Their Errno method returns a number such that the error
// can be compared to unix.Errno, e.g. unix.Errno(EPERM.Errno()) == unix.EPERM.
var (
	noError      *errors.Error = nil
	EPERM                      = errors.New(errno.EPERM, "operation not permitted")
	ENOENT                     = errors.New(errno.ENOENT, "no such file or directory")
	ESRCH                      = errors.New(errno.ESRCH, "no such process")
	EINTR                      = errors.New(errno.EINTR, "interrupted system call")
	EIO                        = errors.New(errno.EIO, "I/O error")
	EBADF                      = errors.New(errno.EBADF, "bad file number")
	EAGAIN                     = errors.New(errno.EAGAIN, "try again")
	ENOMEM                     = errors.New(errno.ENOMEM, "out of memory")
	EACCES                     = errors.New(errno.EACCES, "permission denied")
	EBUSY                      = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST                     = errors.New(errno.EEXIST, "file exists")
	EINVAL                     = errors.New(errno.EINVAL, "invalid argument")
	EMFILE                     = errors.New(errno.EMFILE, "too many open files")
	ENOSPC                     = errors.New(errno.ENOSPC, "no space left on device")
	ENAMETOOLONG               = errors.New(errno.ENAMETOOLONG, "file name too long")
	EMSGSIZE                   = errors.New(errno.EMSGSIZE, "message too long")
	ETIMEDOUT                  = errors.New(errno.ETIMEDOUT, "connection timed out")
	EOWNERDEAD                 = errors.New(errno.EOWNERDEAD, "owner died")
)

var errorMap = map[errno.Errno]*errors.Error{
	errno.EPERM:        EPERM,
	errno.ENOENT:       ENOENT,
	errno.ESRCH:        ESRCH,
	errno.EINTR:        EINTR,
	errno.EIO:          EIO,
	errno.EBADF:        EBADF,
	errno.EAGAIN:       EAGAIN,
	errno.ENOMEM:       ENOMEM,
	errno.EACCES:       EACCES,
	errno.EBUSY:        EBUSY,
	errno.EEXIST:       EEXIST,
	errno.EINVAL:       EINVAL,
	errno.EMFILE:       EMFILE,
	errno.ENOSPC:       ENOSPC,
	errno.ENAMETOOLONG: ENAMETOOLONG,
	errno.EMSGSIZE:     EMSGSIZE,
	errno.ETIMEDOUT:    ETIMEDOUT,
	errno.EOWNERDEAD:   EOWNERDEAD,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// linuxerr counterpart are returned unchanged.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorMap[errno.Errno(err)]; ok {
		return e
	}
	return err
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = unix.Errno(e.Errno())
	}
	return unixErr
}

// errnoCarrier is implemented by *errors.Error and by error types that wrap
// a cause but report their own errno.
type errnoCarrier interface {
	Errno() errno.Errno
}

// Equals reports whether err, or the outermost error it wraps that carries
// an errno, has the same errno as e. Distinct *errors.Error values with one
// errno compare equal.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == noError
	}
	if e == noError {
		return false
	}
	return ErrnoOf(err) == ToUnix(e)
}

// ErrnoOf returns the errno carried by err, or EIO if err carries none.
func ErrnoOf(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var ec errnoCarrier
	if goerrors.As(err, &ec) {
		return unix.Errno(ec.Errno())
	}
	var ue unix.Errno
	if goerrors.As(err, &ue) {
		return ue
	}
	return unix.EIO
}
