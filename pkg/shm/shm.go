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

// Package shm implements named shared memory objects in the manner of
// shm_open(3). Each name is a file in a tmpfs directory, /dev/shm by default,
// that cooperating processes map with MAP_SHARED.
//
// Names follow the POSIX convention: a leading '/', followed by one or more
// characters, none of which is '/'.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/abi/linux/errno"
	"gvisor.dev/mqshm/pkg/errors"
	"gvisor.dev/mqshm/pkg/memutil"
)

// DefaultRoot is where glibc's shm_open places its objects.
const DefaultRoot = "/dev/shm"

// lockSuffix names the advisory lock file kept next to each object.
const lockSuffix = ".lock"

var (
	// ErrInvalidName is returned for names that are not of the form "/name".
	ErrInvalidName = errors.New(errno.EINVAL, "invalid shared memory object name")

	// ErrNameTooLong is returned for names longer than NAME_MAX.
	ErrNameTooLong = errors.New(errno.ENAMETOOLONG, "shared memory object name too long")
)

// ValidateName checks that name is a valid object name in d. The limit on
// its length leaves room for d's prefix and for the name of its lock file.
func (d *Dir) ValidateName(name string) error {
	if len(name) < 2 || name[0] != '/' {
		return ErrInvalidName
	}
	base := name[1:]
	if strings.ContainsRune(base, '/') || base == "." || base == ".." || strings.ContainsRune(base, 0) {
		return ErrInvalidName
	}
	if len(base) > linux.NAME_MAX-len("."+d.prefix+lockSuffix) {
		return ErrNameTooLong
	}
	return nil
}

// Dir is a namespace of shared memory objects backed by files in one
// directory. Objects of one Dir carry a common file name prefix so that they
// can share /dev/shm with unrelated users.
type Dir struct {
	root   string
	prefix string
}

// NewDir returns a Dir rooted at root. An empty root selects DefaultRoot.
func NewDir(root, prefix string) *Dir {
	if root == "" {
		root = DefaultRoot
	}
	return &Dir{root: root, prefix: prefix}
}

// Root returns the directory backing d.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the file backing the object called name.
//
// Preconditions: d.ValidateName(name) == nil.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, d.prefix+name[1:])
}

func (d *Dir) lockPath(name string) string {
	return filepath.Join(d.root, "."+d.prefix+name[1:]+lockSuffix)
}

// isLockFile reports whether the file called n is one of d's lock files.
// With a non-empty prefix no object file can look like one.
func (d *Dir) isLockFile(n string) bool {
	return strings.HasPrefix(n, "."+d.prefix) && strings.HasSuffix(n, lockSuffix)
}

// Object is an open shared memory object. The descriptor is only needed to
// size and map the object; mappings stay valid after Close.
type Object struct {
	name string
	fd   int
}

// Create creates a new object of the given size. It fails with an error
// matching unix.EEXIST if name already exists.
func (d *Dir) Create(name string, size int64, perm uint32) (*Object, error) {
	if err := d.ValidateName(name); err != nil {
		return nil, err
	}
	path := d.Path(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_NOFOLLOW|unix.O_CLOEXEC, perm)
	if err != nil {
		return nil, &os.PathError{Op: "create", Path: path, Err: err}
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, &os.PathError{Op: "truncate", Path: path, Err: err}
	}
	return &Object{name: name, fd: fd}, nil
}

// Open opens an existing object. It fails with an error matching
// unix.ENOENT if name does not exist.
func (d *Dir) Open(name string) (*Object, error) {
	if err := d.ValidateName(name); err != nil {
		return nil, err
	}
	path := d.Path(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Object{name: name, fd: fd}, nil
}

// Unlink removes name from the namespace. Processes that already mapped the
// object keep their mappings.
func (d *Dir) Unlink(name string) error {
	if err := d.ValidateName(name); err != nil {
		return err
	}
	path := d.Path(name)
	if err := unix.Unlink(path); err != nil {
		return &os.PathError{Op: "unlink", Path: path, Err: err}
	}
	return nil
}

// Lock takes an exclusive advisory lock associated with name, whether or not
// the object exists, and returns the function that releases it. It is used to
// serialize create-or-attach so that exactly one process initializes a new
// object and nobody maps it half-initialized.
//
// The lock file is left behind on Unlink: removing it would let a process
// blocked on the old file and a newcomer on a fresh file both believe they
// hold the lock.
func (d *Dir) Lock(name string) (func() error, error) {
	if err := d.ValidateName(name); err != nil {
		return nil, err
	}
	f := d.lockPath(name)
	l := flock.NewFlock(f)
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("error acquiring lock on %q: %w", f, err)
	}
	return l.Unlock, nil
}

// List returns the names of all objects in d, sorted.
func (d *Dir) List() ([]string, error) {
	ents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		n := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(n, d.prefix) || d.isLockFile(n) {
			continue
		}
		names = append(names, "/"+strings.TrimPrefix(n, d.prefix))
	}
	sort.Strings(names)
	return names, nil
}

// Name returns the object's name.
func (o *Object) Name() string {
	return o.name
}

// Size returns the current size of the object.
func (o *Object) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(o.fd, &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}

// Truncate resizes the object.
func (o *Object) Truncate(size int64) error {
	return unix.Ftruncate(o.fd, size)
}

// Map maps the first size bytes of the object read-write and shared.
func (o *Object) Map(size int) ([]byte, error) {
	return memutil.MapShared(o.fd, size)
}

// Close closes the object's descriptor.
func (o *Object) Close() error {
	if o.fd < 0 {
		return nil
	}
	err := unix.Close(o.fd)
	o.fd = -1
	return err
}

// Unmap releases a mapping returned by Object.Map.
func Unmap(m []byte) error {
	return memutil.UnmapSlice(m)
}
