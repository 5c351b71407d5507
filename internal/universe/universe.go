// Package universe implements the process-like handle table that
// aggregates pagespace, stream, ipcqueue, and timer behind spec.md §6's
// abstract syscall surface: a Universe owns a HandleId -> Descriptor map
// and forwards operations on a handle to the subsystem that owns it.
package universe

import (
	"fmt"
	"sync"

	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/kmetrics"
	"github.com/corekernel/corekernel/internal/timer"
)

// HandleId identifies one entry in a Universe's handle table.
type HandleId uint64

// DescriptorKind enumerates the object kinds a handle can name.
type DescriptorKind int

const (
	KindMemoryView DescriptorKind = iota
	KindAddressSpace
	KindThread
	KindLane
	KindIpcQueue
	KindIrq
	KindOneShotEvent
	KindBitsetEvent
	KindIOSpace
	KindKernelObject
	KindCredentialsToken
)

func (k DescriptorKind) String() string {
	switch k {
	case KindMemoryView:
		return "memory_view"
	case KindAddressSpace:
		return "address_space"
	case KindThread:
		return "thread"
	case KindLane:
		return "lane"
	case KindIpcQueue:
		return "ipc_queue"
	case KindIrq:
		return "irq"
	case KindOneShotEvent:
		return "one_shot_event"
	case KindBitsetEvent:
		return "bitset_event"
	case KindIOSpace:
		return "io_space"
	case KindKernelObject:
		return "kernel_object"
	case KindCredentialsToken:
		return "credentials_token"
	default:
		return "unknown"
	}
}

// entry is the refcounted backing of one or more HandleIds (handle_duplicate
// creates a second id sharing the same entry and refcount).
type entry struct {
	kind  DescriptorKind
	value any
	refs  int
}

// Descriptor is the caller-visible view of one handle: its kind and the
// subsystem object it names.
type Descriptor struct {
	Kind  DescriptorKind
	Value any
}

// Universe is a process-like container of handles.
type Universe struct {
	mu      sync.Mutex
	entries map[HandleId]*entry
	nextID  uint64

	timerEngine *timer.Engine

	observer kmetrics.Observer
}

// New creates an empty Universe.
func New(observer kmetrics.Observer) *Universe {
	if observer == nil {
		observer = kmetrics.NoOpObserver{}
	}
	return &Universe{
		entries:  make(map[HandleId]*entry),
		observer: observer,
	}
}

// Attach inserts value as a new handle of the given kind, returning the
// fresh HandleId naming it (handle_attach).
func (u *Universe) Attach(kind DescriptorKind, value any) HandleId {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	id := HandleId(u.nextID)
	u.entries[id] = &entry{kind: kind, value: value, refs: 1}
	return id
}

// Detach removes id (handle_detach). The underlying object is only
// released once every duplicate of id has been detached.
func (u *Universe) Detach(id HandleId) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[id]
	if !ok {
		return errUnknownHandle(id)
	}
	delete(u.entries, id)
	e.refs--
	return nil
}

// Duplicate creates a second HandleId aliasing the same underlying
// object as id, bumping its refcount (handle_duplicate).
func (u *Universe) Duplicate(id HandleId) (HandleId, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[id]
	if !ok {
		return 0, errUnknownHandle(id)
	}
	e.refs++
	u.nextID++
	dup := HandleId(u.nextID)
	u.entries[dup] = e
	return dup, nil
}

// Lookup resolves id to its Descriptor (the handle_attach/detach/lookup
// surface's read-only operation).
func (u *Universe) Lookup(id HandleId) (Descriptor, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[id]
	if !ok {
		return Descriptor{}, errUnknownHandle(id)
	}
	return Descriptor{Kind: e.kind, Value: e.value}, nil
}

func errUnknownHandle(id HandleId) *kerr.Error {
	return kerr.NewSubjectError("handle_lookup", fmt.Sprintf("%d", id), kerr.KindIllegalArgument, "unknown handle")
}
