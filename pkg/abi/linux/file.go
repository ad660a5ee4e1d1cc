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

package linux

// Constants for open(2).
const (
	O_RDONLY    = 000000000
	O_WRONLY    = 000000001
	O_RDWR      = 000000002
	O_CREAT     = 000000100
	O_EXCL      = 000000200
	O_NOFOLLOW  = 000400000
	O_NONBLOCK  = 00004000
	O_CLOEXEC   = 02000000
	O_ACCMODE   = 000000003
	O_FLAG_MASK = O_NONBLOCK
)
