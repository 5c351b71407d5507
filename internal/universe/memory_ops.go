package universe

import (
	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/pagespace"
)

// MemoryView is the handle-table object behind memory_allocate: a set of
// physical frames borrowed from an address space's allocator, not yet
// mapped into any virtual address range.
type MemoryView struct {
	Frames []pagespace.PhysFrame
}

// AttachAddressSpace wraps an already-constructed PageSpace as a handle.
func (u *Universe) AttachAddressSpace(space *pagespace.PageSpace) HandleId {
	return u.Attach(KindAddressSpace, space)
}

func (u *Universe) addressSpace(handle HandleId) (*pagespace.PageSpace, error) {
	d, err := u.Lookup(handle)
	if err != nil {
		return nil, err
	}
	space, ok := d.Value.(*pagespace.PageSpace)
	if !ok {
		return nil, kerr.NewSubjectError("memory_map", "", kerr.KindIllegalArgument, "handle is not an address space")
	}
	return space, nil
}

func (u *Universe) memoryView(handle HandleId) (*MemoryView, error) {
	d, err := u.Lookup(handle)
	if err != nil {
		return nil, err
	}
	view, ok := d.Value.(*MemoryView)
	if !ok {
		return nil, kerr.NewSubjectError("memory_map", "", kerr.KindIllegalArgument, "handle is not a memory view")
	}
	return view, nil
}

// MemoryAllocate borrows enough frames from spaceHandle's allocator to
// cover size bytes (rounded up to whole frames) and attaches the result
// as a new memory view handle (memory_allocate).
func (u *Universe) MemoryAllocate(spaceHandle HandleId, size uint64) (HandleId, error) {
	space, err := u.addressSpace(spaceHandle)
	if err != nil {
		return 0, err
	}
	numFrames := int((size + pagespace.FrameSize - 1) / pagespace.FrameSize)
	if numFrames <= 0 {
		return 0, kerr.NewError("memory_allocate", kerr.KindIllegalArgument, "size must be positive")
	}

	frames := make([]pagespace.PhysFrame, 0, numFrames)
	alloc := space.Allocator()
	for i := 0; i < numFrames; i++ {
		f, err := alloc.AllocFrame()
		if err != nil {
			for _, held := range frames {
				alloc.FreeFrame(held)
			}
			return 0, kerr.WrapError("memory_allocate", err)
		}
		frames = append(frames, f)
	}
	return u.Attach(KindMemoryView, &MemoryView{Frames: frames}), nil
}

// MemoryMap installs one leaf mapping per frame in viewHandle's view,
// starting at va and advancing by FrameSize per frame (memory_map).
func (u *Universe) MemoryMap(spaceHandle, viewHandle HandleId, va uint64, flags pagespace.MapFlags, caching pagespace.CachingMode) error {
	space, err := u.addressSpace(spaceHandle)
	if err != nil {
		return err
	}
	view, err := u.memoryView(viewHandle)
	if err != nil {
		return err
	}
	for i, frame := range view.Frames {
		if err := space.MapSingle(va+uint64(i)*pagespace.FrameSize, frame, flags, caching); err != nil {
			return err
		}
	}
	return nil
}

// MemoryUnmap clears numFrames consecutive leaf mappings starting at va
// (memory_unmap).
func (u *Universe) MemoryUnmap(spaceHandle HandleId, va uint64, numFrames int) error {
	space, err := u.addressSpace(spaceHandle)
	if err != nil {
		return err
	}
	for i := 0; i < numFrames; i++ {
		if _, err := space.UnmapSingle(va + uint64(i)*pagespace.FrameSize); err != nil {
			return err
		}
	}
	return nil
}
