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

// Package errno holds errno codes for abi/linux.
package errno

// Errno represents a Linux errno value.
type Errno uint32

// Errno values from include/uapi/asm-generic/errno-base.h and
// include/uapi/asm-generic/errno.h.
const (
	NOERRNO      = 0
	EPERM        = 1
	ENOENT       = 2
	ESRCH        = 3
	EINTR        = 4
	EIO          = 5
	EBADF        = 9
	EAGAIN       = 11
	ENOMEM       = 12
	EACCES       = 13
	EBUSY        = 16
	EEXIST       = 17
	EINVAL       = 22
	EMFILE       = 24
	ENOSPC       = 28
	ENAMETOOLONG = 36
	EOWNERDEAD   = 130
	EMSGSIZE     = 90
	ETIMEDOUT    = 110
)
