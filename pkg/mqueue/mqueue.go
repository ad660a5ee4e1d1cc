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

// Package mqueue implements POSIX-style message queues on top of named shared
// memory, so that unrelated processes can exchange bounded messages without a
// kernel message queue facility.
//
// A queue is a shared memory object holding a fixed header and a ring of
// fixed-size slots. The header embeds a process-shared futex mutex that
// guards the ring indices, the slots and the notification registration. Each
// process keeps its own table of open queues, addressed by Handle.
//
// Messages are delivered strictly first-in first-out. Priorities are stored
// and returned with each message but never affect ordering.
package mqueue

import (
	goerrors "errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/mqshm/pkg/abi/linux"
	"gvisor.dev/mqshm/pkg/cleanup"
	"gvisor.dev/mqshm/pkg/log"
	"gvisor.dev/mqshm/pkg/shm"
)

const (
	// DefaultMaxMessages is the capacity of queues created without
	// attributes.
	DefaultMaxMessages = 32

	// DefaultMessageSize is the message size of queues created without
	// attributes.
	DefaultMessageSize = 1024

	// DefaultMaxQueues is the default descriptor table capacity.
	DefaultMaxQueues = 64

	// DefaultPerm is the mode of newly created queues.
	DefaultPerm = 0600

	// NamePrefix is prepended to queue names to form the backing file name.
	NamePrefix = "mq."
)

// Attr mirrors struct mq_attr.
type Attr struct {
	// Flags is 0 or linux.O_NONBLOCK.
	Flags int64

	// MaxMessages is the queue capacity.
	MaxMessages int64

	// MessageSize is the maximum size of one message in bytes.
	MessageSize int64

	// CurMessages is the number of messages currently queued. Ignored by
	// SetAttr.
	CurMessages int64
}

// OpenOptions control Open. The zero value opens an existing queue for
// reading and writing in blocking mode.
type OpenOptions struct {
	// ReadOnly and WriteOnly restrict the descriptor to Receive or Send.
	// Setting both is invalid.
	ReadOnly  bool
	WriteOnly bool

	// Create creates the queue if it does not exist.
	Create bool

	// Exclusive, with Create, fails if the queue already exists.
	Exclusive bool

	// Nonblock sets O_NONBLOCK on the descriptor.
	Nonblock bool

	// Perm is the mode of a created queue. Zero means DefaultPerm.
	Perm uint32

	// MaxMessages and MessageSize set the geometry of a created queue. Zero
	// selects the defaults. They are ignored when attaching to an existing
	// queue.
	MaxMessages int64
	MessageSize int64
}

// OptionsFromFlags converts mq_open(3) arguments to OpenOptions.
func OptionsFromFlags(flags int, perm uint32, attr *Attr) OpenOptions {
	opts := OpenOptions{
		ReadOnly:  flags&linux.O_ACCMODE == linux.O_RDONLY,
		WriteOnly: flags&linux.O_ACCMODE == linux.O_WRONLY,
		Create:    flags&linux.O_CREAT != 0,
		Exclusive: flags&linux.O_EXCL != 0,
		Nonblock:  flags&linux.O_NONBLOCK != 0,
		Perm:      perm,
	}
	if attr != nil {
		opts.MaxMessages = attr.MaxMessages
		opts.MessageSize = attr.MessageSize
	}
	return opts
}

func (o *OpenOptions) geometry() (msgSize, maxMsg uint64, err error) {
	m, s := o.MaxMessages, o.MessageSize
	if m == 0 {
		m = DefaultMaxMessages
	}
	if s == 0 {
		s = DefaultMessageSize
	}
	if m < linux.MIN_MSGMAX || m > linux.HARD_MSGMAX || s < 1 || s > linux.HARD_MSGSIZEMAX {
		return 0, 0, ErrInvalidAttr
	}
	return uint64(s), uint64(m), nil
}

func (o *OpenOptions) perm() uint32 {
	if o.Perm == 0 {
		return DefaultPerm
	}
	return o.Perm
}

// Config configures a Registry.
type Config struct {
	// Root is the directory holding queue objects. Empty means
	// shm.DefaultRoot.
	Root string

	// MaxQueues is the descriptor table capacity. Zero means
	// DefaultMaxQueues.
	MaxQueues int

	// Notifier delivers consumed notification registrations. Nil means
	// SignalNotifier.
	Notifier Notifier

	// Logger receives diagnostics. Nil means the global logger.
	Logger log.Logger
}

// Registry is a process's view of the queues under one root: it creates,
// attaches to and unlinks queues, and owns the descriptor table.
//
// A Registry is safe for concurrent use.
type Registry struct {
	dir         *shm.Dir
	descriptors *table
	notifier    Notifier
	log         log.Logger

	// notifyLog reports failed notification delivery, which may repeat on
	// every empty to non-empty transition.
	notifyLog log.Logger
}

// NewRegistry returns a Registry configured by cfg.
func NewRegistry(cfg Config) *Registry {
	if cfg.MaxQueues <= 0 {
		cfg.MaxQueues = DefaultMaxQueues
	}
	if cfg.Notifier == nil {
		cfg.Notifier = SignalNotifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Log()
	}
	return &Registry{
		dir:         shm.NewDir(cfg.Root, NamePrefix),
		descriptors: newTable(cfg.MaxQueues),
		notifier:    cfg.Notifier,
		log:         cfg.Logger,
		notifyLog:   log.RateLimitedLogger(cfg.Logger, time.Second),
	}
}

// Root returns the directory holding the registry's queues.
func (r *Registry) Root() string {
	return r.dir.Root()
}

// Open opens the queue called name, creating it if permitted by opts, and
// returns a descriptor for it.
func (r *Registry) Open(name string, opts OpenOptions) (Handle, error) {
	if err := r.dir.ValidateName(name); err != nil {
		return -1, err
	}
	if opts.ReadOnly && opts.WriteOnly {
		return -1, ErrInvalidAttr
	}
	var msgSize, maxMsg uint64
	if opts.Create {
		var err error
		if msgSize, maxMsg, err = opts.geometry(); err != nil {
			return -1, err
		}
	}

	// Claim a slot first so that a full table cannot leave a freshly
	// created queue behind.
	h, err := r.descriptors.reserve()
	if err != nil {
		return -1, err
	}
	cu := cleanup.Make(func() { r.descriptors.cancel(h) })
	defer cu.Clean()

	seg, err := r.attach(name, &opts, msgSize, maxMsg)
	if err != nil {
		return -1, err
	}
	cu.Release()
	r.descriptors.install(h, newDescriptor(name, seg, !opts.WriteOnly, !opts.ReadOnly, opts.Nonblock))
	r.log.Debugf("mqueue %s: opened as %d (%d messages of %d bytes)", name, h, seg.maxMsg, seg.msgSize)
	return h, nil
}

// attach maps the queue called name, creating and initializing it if
// allowed. The per-name lock is held throughout, so no process ever maps a
// queue another is still initializing.
func (r *Registry) attach(name string, opts *OpenOptions, msgSize, maxMsg uint64) (*segment, error) {
	unlock, err := r.dir.Lock(name)
	if err != nil {
		return nil, &IOError{Op: "lock", Name: name, Err: err}
	}
	defer func() {
		if err := unlock(); err != nil {
			r.log.Warningf("mqueue %s: releasing lock: %v", name, err)
		}
	}()

	if opts.Create {
		obj, err := r.dir.Create(name, segmentSize(msgSize, maxMsg), opts.perm())
		if err == nil {
			defer obj.Close()
			seg, err := r.initialize(obj, msgSize, maxMsg)
			if err != nil {
				r.dir.Unlink(name)
				return nil, err
			}
			r.log.Debugf("mqueue %s: created", name)
			return seg, nil
		}
		if !goerrors.Is(err, unix.EEXIST) {
			return nil, &IOError{Op: "create", Name: name, Err: err}
		}
	}

	obj, err := r.dir.Open(name)
	if err != nil {
		if goerrors.Is(err, unix.ENOENT) {
			return nil, ErrNotFound
		}
		return nil, &IOError{Op: "open", Name: name, Err: err}
	}
	defer obj.Close()

	size, err := obj.Size()
	if err != nil {
		return nil, &IOError{Op: "stat", Name: name, Err: err}
	}
	if size >= headerSize {
		mem, err := obj.Map(int(size))
		if err != nil {
			return nil, &IOError{Op: "map", Name: name, Err: err}
		}
		seg := newSegment(name, mem)
		if seg.ready() {
			if opts.Create && opts.Exclusive {
				seg.release()
				return nil, ErrAlreadyExists
			}
			if err := seg.validate(); err != nil {
				seg.release()
				return nil, &IOError{Op: "attach", Name: name, Err: err}
			}
			return seg, nil
		}
		seg.release()
	}

	// We hold the lock and the segment is not ready: its creator died
	// before finishing.
	if !opts.Create {
		return nil, ErrNotFound
	}
	r.log.Warningf("mqueue %s: reinitializing segment abandoned by its creator", name)
	if err := obj.Truncate(segmentSize(msgSize, maxMsg)); err != nil {
		return nil, &IOError{Op: "truncate", Name: name, Err: err}
	}
	return r.initialize(obj, msgSize, maxMsg)
}

func (r *Registry) initialize(obj *shm.Object, msgSize, maxMsg uint64) (*segment, error) {
	mem, err := obj.Map(int(segmentSize(msgSize, maxMsg)))
	if err != nil {
		return nil, &IOError{Op: "map", Name: obj.Name(), Err: err}
	}
	seg := newSegment(obj.Name(), mem)
	seg.initialize(msgSize, maxMsg)
	return seg, nil
}

// Close closes h. A notification registration made through h is removed.
// The queue itself persists until Unlink.
func (r *Registry) Close(h Handle) error {
	d, err := r.descriptors.remove(h)
	if err != nil {
		return err
	}
	defer d.DecRef()
	r.log.Debugf("mqueue %s: closed %d", d.name, h)
	return r.dropSubscription(d)
}

// CloseAll closes every open descriptor.
func (r *Registry) CloseAll() error {
	var firstErr error
	for _, d := range r.descriptors.removeAll() {
		if err := r.dropSubscription(d); err != nil && firstErr == nil {
			firstErr = err
		}
		d.DecRef()
	}
	return firstErr
}

// Unlink removes name. Processes with the queue open keep using it; the
// memory is freed once the last of them closes it.
func (r *Registry) Unlink(name string) error {
	if err := r.dir.ValidateName(name); err != nil {
		return err
	}
	unlock, err := r.dir.Lock(name)
	if err != nil {
		return &IOError{Op: "lock", Name: name, Err: err}
	}
	defer unlock()
	if err := r.dir.Unlink(name); err != nil {
		if goerrors.Is(err, unix.ENOENT) {
			return ErrNotFound
		}
		return &IOError{Op: "unlink", Name: name, Err: err}
	}
	r.log.Debugf("mqueue %s: unlinked", name)
	return nil
}

// Send appends payload to the queue with the given priority. It never
// blocks on a full queue; see SendWait.
func (r *Registry) Send(h Handle, payload []byte, prio uint32) error {
	d, err := r.descriptors.get(h)
	if err != nil {
		return err
	}
	defer d.DecRef()
	if !d.writable {
		return ErrInvalidHandle
	}
	if prio >= linux.MQ_PRIO_MAX {
		return ErrInvalidPriority
	}
	if uint64(len(payload)) > d.seg.msgSize {
		return ErrPayloadTooLarge
	}
	sub, triggered, err := d.seg.send(payload, prio)
	if err != nil {
		return err
	}
	if triggered {
		r.deliver(d, sub)
	}
	return nil
}

// Receive removes the oldest message and copies it into buf. If buf is
// shorter than the message, the message is truncated and the remainder is
// lost. It returns the number of bytes copied and the message's priority.
// It never blocks on an empty queue; see ReceiveWait.
func (r *Registry) Receive(h Handle, buf []byte) (int, uint32, error) {
	d, err := r.descriptors.get(h)
	if err != nil {
		return 0, 0, err
	}
	defer d.DecRef()
	if !d.readable {
		return 0, 0, ErrInvalidHandle
	}
	return d.seg.receive(buf)
}

// GetAttr returns the attributes of h.
func (r *Registry) GetAttr(h Handle) (Attr, error) {
	d, err := r.descriptors.get(h)
	if err != nil {
		return Attr{}, err
	}
	defer d.DecRef()
	st, err := d.seg.stat()
	if err != nil {
		return Attr{}, err
	}
	return d.attr(st.count), nil
}

// SetAttr sets the O_NONBLOCK flag of h from attr.Flags and returns the
// previous attributes. The geometry of a queue cannot change: a non-zero
// MaxMessages or MessageSize that differs from the queue's is rejected.
func (r *Registry) SetAttr(h Handle, attr Attr) (Attr, error) {
	d, err := r.descriptors.get(h)
	if err != nil {
		return Attr{}, err
	}
	defer d.DecRef()
	if attr.Flags&^linux.O_NONBLOCK != 0 {
		return Attr{}, ErrInvalidAttr
	}
	if (attr.MaxMessages != 0 && uint64(attr.MaxMessages) != d.seg.maxMsg) ||
		(attr.MessageSize != 0 && uint64(attr.MessageSize) != d.seg.msgSize) {
		return Attr{}, ErrInvalidAttr
	}
	st, err := d.seg.stat()
	if err != nil {
		return Attr{}, err
	}
	old := d.attr(st.count)
	d.flags.Store(uint32(attr.Flags))
	return old, nil
}

func (d *descriptor) attr(count uint64) Attr {
	return Attr{
		Flags:       int64(d.flags.Load()),
		MaxMessages: int64(d.seg.maxMsg),
		MessageSize: int64(d.seg.msgSize),
		CurMessages: int64(count),
	}
}

// Stat describes the shared state of a queue.
type Stat struct {
	Attr

	// Name is the queue name.
	Name string

	// Head and Tail are the ring indices.
	Head uint64
	Tail uint64

	// Subscribed is true while a registration is outstanding, described by
	// Subscriber.
	Subscribed bool
	Subscriber Subscriber

	// NotifySeq counts consumed registrations.
	NotifySeq uint32

	// LockOwner is the pid holding the queue lock when sampled, usually 0.
	LockOwner int32

	// SegmentSize is the size of the shared memory object.
	SegmentSize int64
}

// Stat returns a snapshot of the queue open as h.
func (r *Registry) Stat(h Handle) (Stat, error) {
	d, err := r.descriptors.get(h)
	if err != nil {
		return Stat{}, err
	}
	defer d.DecRef()
	owner := d.seg.hdr.lock.Owner()
	st, err := d.seg.stat()
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Attr:        d.attr(st.count),
		Name:        d.name,
		Head:        st.head,
		Tail:        st.tail,
		Subscribed:  st.subscribed,
		Subscriber:  st.subscriber,
		NotifySeq:   st.notifySeq,
		LockOwner:   owner,
		SegmentSize: segmentSize(d.seg.msgSize, d.seg.maxMsg),
	}, nil
}

// List returns the names of all queues under the registry's root.
func (r *Registry) List() ([]string, error) {
	return r.dir.List()
}

// OpenCount returns the number of open descriptors and the table capacity.
func (r *Registry) OpenCount() (open, capacity int) {
	return r.descriptors.size()
}

func getpid() int32 {
	return int32(os.Getpid())
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(Config{})
})

// Default returns the Registry used by the package-level functions. It uses
// shm.DefaultRoot and DefaultMaxQueues.
func Default() *Registry {
	return defaultRegistry()
}

// Open calls Default().Open.
func Open(name string, opts OpenOptions) (Handle, error) {
	return Default().Open(name, opts)
}

// Close calls Default().Close.
func Close(h Handle) error {
	return Default().Close(h)
}

// Unlink calls Default().Unlink.
func Unlink(name string) error {
	return Default().Unlink(name)
}

// Send calls Default().Send.
func Send(h Handle, payload []byte, prio uint32) error {
	return Default().Send(h, payload, prio)
}

// Receive calls Default().Receive.
func Receive(h Handle, buf []byte) (int, uint32, error) {
	return Default().Receive(h, buf)
}

// GetAttr calls Default().GetAttr.
func GetAttr(h Handle) (Attr, error) {
	return Default().GetAttr(h)
}

// SetAttr calls Default().SetAttr.
func SetAttr(h Handle, attr Attr) (Attr, error) {
	return Default().SetAttr(h, attr)
}

// Notify calls Default().Notify.
func Notify(h Handle, sub *Subscriber) error {
	return Default().Notify(h, sub)
}
