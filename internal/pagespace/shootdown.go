package pagespace

import "sync"

// largeRangeThresholdPages is the point at which a peer CPU prefers a full
// ASID flush over a per-page invalidation loop.
const largeRangeThresholdPages = 64

// ShootRequest is one pending cross-CPU TLB invalidation. It lives in its
// PageSpace's FIFO until BindingsToShoot reaches zero, then its Completion
// channel is closed.
type ShootRequest struct {
	Address         uint64
	Length          uint64
	InitiatorCPU    int
	Sequence        uint64
	BindingsToShoot int
	Completion      chan struct{}
}

func (r *ShootRequest) pages() uint64 {
	return (r.Length + FrameSize - 1) / FrameSize
}

// TLBFlusher is the architecture-abstract capability the shootdown
// protocol needs: invalidate a range, or the whole ASID, on one CPU.
type TLBFlusher interface {
	FlushRange(cpuID int, addr, length uint64)
	FlushASID(cpuID int)
}

// Bus broadcasts shootdown IPIs across a fixed set of CPUs.
type Bus struct {
	cpus    []*CPU
	flusher TLBFlusher
}

// NewBus creates a shootdown bus over the given CPUs.
func NewBus(cpus []*CPU, flusher TLBFlusher) *Bus {
	return &Bus{cpus: cpus, flusher: flusher}
}

// SubmitShootdown begins TLB invalidation for [addr, addr+length) on
// space. Returns (true, ch) with ch already closed if the initiating CPU
// was the only cached binding (synchronous completion); otherwise returns
// (false, ch) where
// ch closes once every peer binding has flushed, flushed its ASID, or
// dropped the binding (I4).
func (b *Bus) SubmitShootdown(initiatorCPU int, space *PageSpace, addr, length uint64) (sync bool, done <-chan struct{}) {
	space.mu.Lock()

	unshot := space.numBindings

	if initiator := b.cpuByID(initiatorCPU); initiator != nil {
		if _, ok := initiator.BindingFor(space); ok {
			b.flusher.FlushRange(initiatorCPU, addr, length)
			unshot--
		}
	}

	if unshot == 0 {
		space.mu.Unlock()
		ch := make(chan struct{})
		close(ch)
		return true, ch
	}

	space.shootSequence++
	req := &ShootRequest{
		Address:         addr,
		Length:          length,
		InitiatorCPU:    initiatorCPU,
		Sequence:        space.shootSequence,
		BindingsToShoot: unshot,
		Completion:      make(chan struct{}),
	}
	// DefaultShootdownQueueCapacity bounds concurrent pending shootdowns
	// per space; this many outstanding invalidations on one PageSpace
	// would already indicate a livelocked peer CPU, so a brief spin here
	// is acceptable backpressure rather than a real operating condition.
	for space.fifo.Enqueue(&req) != nil {
		space.mu.Unlock()
		space.mu.Lock()
	}
	space.mu.Unlock()

	b.broadcastIPI(space, initiatorCPU)
	return false, req.Completion
}

func (b *Bus) cpuByID(id int) *CPU {
	for _, c := range b.cpus {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// broadcastIPI delivers the shootdown IPI handler to every CPU except the
// initiator that holds a binding to space. Real hardware would raise an
// actual interrupt; here each target CPU's handler runs on its own
// goroutine and broadcastIPI waits for all of them before returning,
// matching the "IPIs are handled promptly" assumption the protocol relies
// on (I4) without requiring a real interrupt controller.
func (b *Bus) broadcastIPI(space *PageSpace, exceptCPU int) {
	var wg sync.WaitGroup
	for _, c := range b.cpus {
		if c.ID == exceptCPU {
			continue
		}
		if _, ok := c.BindingFor(space); !ok {
			continue
		}
		wg.Add(1)
		go func(c *CPU) {
			defer wg.Done()
			b.handleIPI(c, space)
		}(c)
	}
	wg.Wait()
}

// handleIPI is the per-CPU IPI handler: walk the FIFO newest-to-oldest,
// invalidate ranges this binding hasn't already observed, and report
// completion for requests this binding was the last to satisfy.
func (b *Bus) handleIPI(c *CPU, space *PageSpace) {
	binding, ok := c.BindingFor(space)
	if !ok {
		return
	}

	space.mu.Lock()
	var completed []*ShootRequest
	var remaining []*ShootRequest

	// The fifo only supports push/pop, not an in-place splice, so drain it
	// fully into pending (oldest-first), walk it newest-to-oldest per the
	// original algorithm, then push the survivors back in FIFO order.
	var pending []*ShootRequest
	for {
		node, err := space.fifo.Dequeue()
		if err != nil {
			break
		}
		pending = append(pending, node)
	}

	for i := len(pending) - 1; i >= 0; i-- {
		node := pending[i]
		if node.Sequence <= binding.AlreadyShotSequence {
			continue
		}
		if node.InitiatorCPU == c.ID {
			// The initiator's contribution was already excluded from
			// BindingsToShoot at creation time (SubmitShootdown), so it
			// never flushes or decrements its own request again here —
			// it just stays pending for the real peer bindings.
			remaining = append(remaining, node)
			continue
		}
		if node.pages() >= largeRangeThresholdPages {
			b.flusher.FlushASID(c.ID)
		} else {
			b.flusher.FlushRange(c.ID, node.Address, node.Length)
		}
		node.BindingsToShoot--
		if node.BindingsToShoot == 0 {
			completed = append(completed, node)
			continue
		}
		remaining = append(remaining, node)
	}

	// remaining was built newest-to-oldest; restore FIFO order before
	// pushing back.
	for i, j := 0, len(remaining)-1; i < j; i, j = i+1, j-1 {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	}
	for _, node := range remaining {
		n := node
		space.fifo.Enqueue(&n)
	}

	newSeq := space.shootSequence
	space.mu.Unlock()

	c.setAlreadyShotSequence(space, newSeq)

	for _, req := range completed {
		close(req.Completion)
	}
}

// Retire marks space unreferenced and broadcasts a shootdown IPI so every
// CPU holding a binding drops it (full flush), completing once the last
// binding is gone.
func (b *Bus) Retire(space *PageSpace) <-chan struct{} {
	space.mu.Lock()
	space.retirePending = true
	space.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, c := range b.cpus {
			if _, ok := c.BindingFor(space); !ok {
				continue
			}
			wg.Add(1)
			go func(c *CPU) {
				defer wg.Done()
				c.Unbind(space)
			}(c)
		}
		wg.Wait()
		close(done)
	}()
	return done
}
