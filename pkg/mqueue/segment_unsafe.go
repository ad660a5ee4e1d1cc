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
	"unsafe"
)

// header must be exactly headerSize bytes.
var (
	_ [headerSize - unsafe.Sizeof(header{})]byte
	_ [unsafe.Sizeof(header{}) - headerSize]byte
)

// newSegment overlays a segment on mem.
//
// Preconditions: len(mem) >= headerSize and mem is page aligned, as returned
// by mmap.
func newSegment(name string, mem []byte) *segment {
	return &segment{
		name: name,
		mem:  mem,
		hdr:  (*header)(unsafe.Pointer(&mem[0])),
	}
}
