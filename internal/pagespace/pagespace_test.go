package pagespace

import (
	"sync"
	"testing"
	"time"
)

// bumpAllocator is a deterministic test FrameAllocator.
type bumpAllocator struct {
	mu   sync.Mutex
	next PhysFrame
}

func (b *bumpAllocator) AllocFrame() (PhysFrame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.next
	b.next += FrameSize
	return f, nil
}

func (b *bumpAllocator) FreeFrame(PhysFrame) {}

// recordingFlusher counts flush calls per CPU for assertions.
type recordingFlusher struct {
	mu        sync.Mutex
	rangeHits map[int]int
	asidHits  map[int]int
}

func newRecordingFlusher() *recordingFlusher {
	return &recordingFlusher{rangeHits: map[int]int{}, asidHits: map[int]int{}}
}

func (f *recordingFlusher) FlushRange(cpuID int, addr, length uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeHits[cpuID]++
}

func (f *recordingFlusher) FlushASID(cpuID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asidHits[cpuID]++
}

func TestMapUnmapSingle(t *testing.T) {
	ps, err := NewPageSpace(&bumpAllocator{}, 4)
	if err != nil {
		t.Fatalf("NewPageSpace: %v", err)
	}

	if err := ps.MapSingle(0x4000, 0x100000, FlagRead|FlagWrite, CachingWriteBack); err != nil {
		t.Fatalf("MapSingle: %v", err)
	}

	if err := ps.MapSingle(0x4000, 0x200000, FlagRead, CachingWriteBack); err == nil {
		t.Fatal("expected error mapping an already-mapped address")
	}

	pte, ok := ps.Translate(0x4000)
	if !ok || pte.Frame != 0x100000 {
		t.Fatalf("Translate(0x4000) = %+v, %v", pte, ok)
	}

	prior, err := ps.UnmapSingle(0x4000)
	if err != nil {
		t.Fatalf("UnmapSingle: %v", err)
	}
	if prior.Frame != 0x100000 {
		t.Fatalf("expected prior frame 0x100000, got %v", prior.Frame)
	}

	if _, ok := ps.Translate(0x4000); ok {
		t.Fatal("expected translate to fail after unmap")
	}

	if _, err := ps.UnmapSingle(0x4000); err == nil {
		t.Fatal("expected error unmapping an already-unmapped address")
	}
}

// TestMapUnmapWithShootdown implements end-to-end scenario 1 from the
// property suite: two CPUs activate the same space, CPU A maps and then
// unmaps with a shootdown, and CPU B's binding observes the invalidation.
func TestMapUnmapWithShootdown(t *testing.T) {
	ps, err := NewPageSpace(&bumpAllocator{}, 4)
	if err != nil {
		t.Fatalf("NewPageSpace: %v", err)
	}

	cpuA := NewCPU(0, 4)
	cpuB := NewCPU(1, 4)
	flusher := newRecordingFlusher()
	bus := NewBus([]*CPU{cpuA, cpuB}, flusher)

	cpuA.Activate(ps)
	cpuB.Activate(ps)

	if err := ps.MapSingle(0x4000, 0x100000, FlagRead|FlagWrite, CachingWriteBack); err != nil {
		t.Fatalf("MapSingle: %v", err)
	}

	if _, err := ps.UnmapSingle(0x4000); err != nil {
		t.Fatalf("UnmapSingle: %v", err)
	}

	sync, done := bus.SubmitShootdown(cpuA.ID, ps, 0x4000, 0x1000)
	if sync {
		t.Fatal("expected asynchronous completion with two bindings")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shootdown did not complete")
	}

	flusher.mu.Lock()
	defer flusher.mu.Unlock()
	if flusher.rangeHits[cpuA.ID] != 1 {
		t.Errorf("expected CPU A to flush synchronously, got %d", flusher.rangeHits[cpuA.ID])
	}
	if flusher.rangeHits[cpuB.ID] != 1 {
		t.Errorf("expected CPU B to flush via IPI, got %d", flusher.rangeHits[cpuB.ID])
	}
}

func TestSubmitShootdownSynchronousWhenAlone(t *testing.T) {
	ps, _ := NewPageSpace(&bumpAllocator{}, 4)
	cpuA := NewCPU(0, 4)
	flusher := newRecordingFlusher()
	bus := NewBus([]*CPU{cpuA}, flusher)

	cpuA.Activate(ps)

	sync, done := bus.SubmitShootdown(cpuA.ID, ps, 0x4000, 0x1000)
	if !sync {
		t.Fatal("expected synchronous completion when initiator is the only binding")
	}
	<-done // already closed
}

func TestLargeRangeTriggersFullASIDFlush(t *testing.T) {
	ps, _ := NewPageSpace(&bumpAllocator{}, 4)
	cpuA := NewCPU(0, 4)
	cpuB := NewCPU(1, 4)
	flusher := newRecordingFlusher()
	bus := NewBus([]*CPU{cpuA, cpuB}, flusher)

	cpuA.Activate(ps)
	cpuB.Activate(ps)

	largeLen := uint64(largeRangeThresholdPages * FrameSize)
	_, done := bus.SubmitShootdown(cpuA.ID, ps, 0, largeLen)
	<-done

	flusher.mu.Lock()
	defer flusher.mu.Unlock()
	if flusher.asidHits[cpuB.ID] != 1 {
		t.Errorf("expected CPU B to take the full-ASID-flush path, got %d", flusher.asidHits[cpuB.ID])
	}
}

func TestRetireDropsAllBindings(t *testing.T) {
	ps, _ := NewPageSpace(&bumpAllocator{}, 4)
	cpuA := NewCPU(0, 4)
	cpuB := NewCPU(1, 4)
	bus := NewBus([]*CPU{cpuA, cpuB}, newRecordingFlusher())

	cpuA.Activate(ps)
	cpuB.Activate(ps)

	if ps.NumBindings() != 2 {
		t.Fatalf("expected 2 bindings, got %d", ps.NumBindings())
	}

	select {
	case <-bus.Retire(ps):
	case <-time.After(time.Second):
		t.Fatal("retire did not complete")
	}

	if ps.NumBindings() != 0 {
		t.Errorf("expected 0 bindings after retire, got %d", ps.NumBindings())
	}
}
