// Package pagespace implements the page-table tree and TLB-shootdown
// protocol: PageSpace binds a page-table root to per-CPU ASID slots and
// coordinates cross-CPU invalidation via submit_shootdown.
package pagespace

import (
	"sync"

	"github.com/hayabusa-cloud/lfq"

	"github.com/corekernel/corekernel/internal/constants"
	"github.com/corekernel/corekernel/internal/logging"
)

// PhysFrame is an aligned, page-sized physical extent, identified by its
// physical base address. Ownership lives in the FrameAllocator; PageSpace
// only borrows frames.
type PhysFrame uint64

const FrameSize = 4096

// FrameAllocator is the external collaborator that owns physical memory.
// Production wiring (a buddy allocator, a boot-time bitmap) is out of
// scope; tests supply a deterministic bump allocator.
type FrameAllocator interface {
	AllocFrame() (PhysFrame, error)
	FreeFrame(PhysFrame)
}

// CachingMode is an architecture-abstract caching attribute for a leaf PTE.
type CachingMode uint8

const (
	CachingWriteBack CachingMode = iota
	CachingUncached
	CachingWriteCombining
)

// MapFlags are leaf-PTE protection bits.
type MapFlags uint8

const (
	FlagRead MapFlags = 1 << iota
	FlagWrite
	FlagExecute
	FlagUser
)

// PTE is a decoded page-table entry: either clear, or a (frame, flags,
// caching) triple for a leaf, or a pointer to a child PageTable for a
// non-leaf. Per spec §9, this is a value carrying an index, not a raw
// pointer: Child is an index into the owning PageSpace's table arena.
type PTE struct {
	Present bool
	Frame   PhysFrame
	Flags   MapFlags
	Caching CachingMode
	Child   int // index into PageSpace.tables; valid only for non-leaf entries
}

const ptesPerTable = 512

// pageTable is one level of the tree: an array of PTEs living in a
// PhysFrame borrowed from the FrameAllocator.
type pageTable struct {
	frame   PhysFrame
	entries [ptesPerTable]PTE
}

// Cursor re-derives the path from the PageSpace's root on every walk,
// rather than storing parent/sibling pointers, per spec §9.
type Cursor struct {
	space *PageSpace
	path  []int // table arena indices from root to current level
}

// PageSpace is the root of a page-table tree plus the bookkeeping needed
// to drive the shootdown protocol.
type PageSpace struct {
	mu sync.Mutex

	alloc  FrameAllocator
	tables []*pageTable // arena; tables[0] is the root
	levels int

	shootSequence uint64
	fifo          lfq.Queue[*ShootRequest]

	numBindings   int
	retirePending bool

	log *logging.Logger
}

// NewPageSpace creates an empty page-table tree with one root table.
func NewPageSpace(alloc FrameAllocator, levels int) (*PageSpace, error) {
	root, err := newPageTable(alloc)
	if err != nil {
		return nil, err
	}
	return &PageSpace{
		alloc:  alloc,
		tables: []*pageTable{root},
		levels: levels,
		fifo:   lfq.NewMPMC[*ShootRequest](constants.DefaultShootdownQueueCapacity),
		log:    logging.Default(),
	}, nil
}

func newPageTable(alloc FrameAllocator) (*pageTable, error) {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return nil, err
	}
	return &pageTable{frame: frame}, nil
}

func pteIndex(level int, va uint64) int {
	shift := uint(12 + 9*(level))
	return int((va >> shift) & 0x1FF)
}

// MapSingle installs one leaf PTE. Fails if va is already mapped.
func (ps *PageSpace) MapSingle(va uint64, frame PhysFrame, flags MapFlags, caching CachingMode) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	tableIdx := 0
	for level := ps.levels - 1; level > 0; level-- {
		idx := pteIndex(level, va)
		pte := &ps.tables[tableIdx].entries[idx]
		if !pte.Present {
			child, err := newPageTable(ps.alloc)
			if err != nil {
				return err
			}
			ps.tables = append(ps.tables, child)
			pte.Present = true
			pte.Child = len(ps.tables) - 1
		}
		tableIdx = pte.Child
	}

	leafIdx := pteIndex(0, va)
	leaf := &ps.tables[tableIdx].entries[leafIdx]
	if leaf.Present {
		return errAlreadyMapped
	}
	*leaf = PTE{Present: true, Frame: frame, Flags: flags, Caching: caching}
	return nil
}

// UnmapSingle atomically clears one leaf PTE and returns its prior value.
func (ps *PageSpace) UnmapSingle(va uint64) (PTE, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	tableIdx := 0
	for level := ps.levels - 1; level > 0; level-- {
		idx := pteIndex(level, va)
		pte := ps.tables[tableIdx].entries[idx]
		if !pte.Present {
			return PTE{}, errNotMapped
		}
		tableIdx = pte.Child
	}

	leafIdx := pteIndex(0, va)
	leaf := &ps.tables[tableIdx].entries[leafIdx]
	if !leaf.Present {
		return PTE{}, errNotMapped
	}
	prior := *leaf
	*leaf = PTE{}
	return prior, nil
}

// Translate walks the tree from the root for va and returns the resolved
// leaf PTE, re-deriving the path on every call rather than following
// cached parent/child pointers.
func (ps *PageSpace) Translate(va uint64) (PTE, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	cur := &Cursor{space: ps}
	tableIdx := 0
	for level := ps.levels - 1; level > 0; level-- {
		idx := pteIndex(level, va)
		pte := ps.tables[tableIdx].entries[idx]
		if !pte.Present {
			return PTE{}, false
		}
		cur.path = append(cur.path, tableIdx)
		tableIdx = pte.Child
	}
	leaf := ps.tables[tableIdx].entries[pteIndex(0, va)]
	return leaf, leaf.Present
}

// Allocator returns the FrameAllocator this space borrows physical
// frames from, so external callers (the universe handle table's
// memory_allocate) can obtain frames destined for this space's mappings.
func (ps *PageSpace) Allocator() FrameAllocator {
	return ps.alloc
}

// NumBindings reports the number of CPU ASID bindings currently
// referencing this space (I2).
func (ps *PageSpace) NumBindings() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.numBindings
}

func (ps *PageSpace) addBinding() {
	ps.mu.Lock()
	ps.numBindings++
	ps.mu.Unlock()
}

func (ps *PageSpace) dropBinding() {
	ps.mu.Lock()
	ps.numBindings--
	ps.mu.Unlock()
}

// NewKernelPageSpace constructs the kernel's singleton space, whose
// num_bindings equals the CPU count for its entire lifetime.
func NewKernelPageSpace(alloc FrameAllocator, levels, numCPUs int) (*PageSpace, error) {
	space, err := NewPageSpace(alloc, levels)
	if err != nil {
		return nil, err
	}
	space.numBindings = numCPUs
	return space, nil
}

// DefaultASIDSlots is consulted by callers constructing per-CPU binding
// arrays with no explicit override.
const DefaultASIDSlots = constants.DefaultASIDSlots
