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

package linuxerr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux/errno"
	"gvisor.dev/mqshm/pkg/errors"
)

func TestEquals(t *testing.T) {
	full := errors.New(errno.EAGAIN, "queue full")
	for _, tc := range []struct {
		name string
		e    *errors.Error
		err  error
		want bool
	}{
		{"same", EAGAIN, EAGAIN, true},
		{"same errno", EAGAIN, full, true},
		{"wrapped", EAGAIN, fmt.Errorf("send: %w", full), true},
		{"unix errno", EAGAIN, unix.EAGAIN, true},
		{"different", EAGAIN, EBADF, false},
		{"nil", EAGAIN, nil, false},
		{"nil nil", nil, nil, true},
		{"plain", EAGAIN, fmt.Errorf("boom"), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equals(tc.e, tc.err); got != tc.want {
				t.Errorf("Equals(%v, %v) = %t, want %t", tc.e, tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorFromUnix(t *testing.T) {
	if got := ErrorFromUnix(unix.EMFILE); got != EMFILE {
		t.Errorf("ErrorFromUnix(EMFILE) = %v, want %v", got, EMFILE)
	}
	if got := ErrorFromUnix(0); got != nil {
		t.Errorf("ErrorFromUnix(0) = %v, want nil", got)
	}
	if got := ErrorFromUnix(unix.EXDEV); got != unix.EXDEV {
		t.Errorf("ErrorFromUnix(EXDEV) = %v, want EXDEV passed through", got)
	}
}

func TestErrnoOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{EBADF, unix.EBADF},
		{fmt.Errorf("open: %w", ENOENT), unix.ENOENT},
		{unix.EACCES, unix.EACCES},
		{fmt.Errorf("boom"), unix.EIO},
	} {
		if got := ErrnoOf(tc.err); got != tc.want {
			t.Errorf("ErrnoOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
