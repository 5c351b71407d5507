package pagespace

import "sync"

// Binding is a per-CPU ASID slot cache entry. A CPU owns a fixed-size
// array of Bindings; at most one is "primary" (in hardware) at a time.
type Binding struct {
	SlotID              int
	Space               *PageSpace
	PrimaryStamp        uint64
	AlreadyShotSequence uint64
}

// CPU models one hardware thread's ASID binding array and primary clock.
type CPU struct {
	ID       int
	mu       sync.Mutex
	bindings []Binding
	clock    uint64
}

// NewCPU creates a CPU with numSlots ASID bindings, all initially unbound.
func NewCPU(id, numSlots int) *CPU {
	bindings := make([]Binding, numSlots)
	for i := range bindings {
		bindings[i].SlotID = i
	}
	return &CPU{ID: id, bindings: bindings}
}

// findBinding returns the index of the binding already holding space, or -1.
func (c *CPU) findBinding(space *PageSpace) int {
	for i := range c.bindings {
		if c.bindings[i].Space == space {
			return i
		}
	}
	return -1
}

// leastRecentlyPrimary returns the index of the binding with the oldest
// PrimaryStamp, the LRU victim for rebinding.
func (c *CPU) leastRecentlyPrimary() int {
	victim := 0
	for i := 1; i < len(c.bindings); i++ {
		if c.bindings[i].PrimaryStamp < c.bindings[victim].PrimaryStamp {
			victim = i
		}
	}
	return victim
}

// Activate establishes space as this CPU's primary binding, picking an
// existing binding for space if one exists, else evicting the LRU slot.
// The new binding captures shoot_sequence into already_shot_sequence
// before returning, so subsequent submit_shootdown decisions correctly
// include or exclude this CPU.
func (c *CPU) Activate(space *PageSpace) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++

	if idx := c.findBinding(space); idx >= 0 {
		c.bindings[idx].PrimaryStamp = c.clock
		return
	}

	victim := c.leastRecentlyPrimary()
	old := c.bindings[victim].Space
	if old != nil {
		old.dropBinding()
	}

	space.mu.Lock()
	seq := space.shootSequence
	space.mu.Unlock()

	c.bindings[victim] = Binding{
		SlotID:              victim,
		Space:               space,
		PrimaryStamp:        c.clock,
		AlreadyShotSequence: seq,
	}
	space.addBinding()
}

// Unbind drops this CPU's binding to space entirely (used by retirement),
// performing a full-ASID flush conceptually represented by clearing the slot.
func (c *CPU) Unbind(space *PageSpace) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.findBinding(space)
	if idx < 0 {
		return
	}
	c.bindings[idx] = Binding{SlotID: idx}
	space.dropBinding()
}

// BindingFor returns a copy of this CPU's binding to space, if any.
func (c *CPU) BindingFor(space *PageSpace) (Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.findBinding(space)
	if idx < 0 {
		return Binding{}, false
	}
	return c.bindings[idx], true
}

func (c *CPU) setAlreadyShotSequence(space *PageSpace, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.findBinding(space)
	if idx < 0 {
		return
	}
	if seq > c.bindings[idx].AlreadyShotSequence {
		c.bindings[idx].AlreadyShotSequence = seq
	}
}
