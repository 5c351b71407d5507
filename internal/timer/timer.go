// Package timer implements a per-CPU deadline engine: a min-heap of
// pending timers multiplexed onto a single hardware one-shot alarm.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/kmetrics"
)

// State is the lifecycle of one Node.
type State int

const (
	StateNone State = iota
	StateQueued
	StateElapsed
	StateRetired
)

// CancelToken carries edge-triggered try_set semantics: the first
// successful call to TrySet wins and runs its registered handler exactly
// once, whoever calls it (the natural firing path or an explicit Cancel).
type CancelToken struct {
	mu    sync.Mutex
	fired bool
}

// TrySet attempts to fire the token. It returns true only on the call
// that actually transitions fired=false -> true, and runs handler
// exactly once under that transition.
func (c *CancelToken) TrySet(handler func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		return false
	}
	c.fired = true
	if handler != nil {
		handler()
	}
	return true
}

// Fired reports whether the token has already been set.
func (c *CancelToken) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Node is one pending timer.
type Node struct {
	DeadlineNanos int64
	Cancel        *CancelToken
	Completion    func()
	State         State

	heapIndex int
}

// NewNode builds a Node with a fresh cancellation token.
func NewNode(deadlineNanos int64, completion func()) *Node {
	return &Node{
		DeadlineNanos: deadlineNanos,
		Cancel:        &CancelToken{},
		Completion:    completion,
	}
}

// Alarm abstracts the CPU's hardware one-shot deadline alarm so Engine's
// heap logic can be exercised without real hardware, the same way the
// teacher's MockBackend stands in for the ublk char device.
type Alarm interface {
	// Arm schedules fn to run once, no earlier than deadline. A second
	// call to Arm before fn has run replaces the pending schedule.
	Arm(deadline time.Time, fn func())
	// Disarm cancels any pending schedule; a no-op if none is pending.
	Disarm()
}

// TimerAlarm is the default Alarm, backed by a single time.Timer.
type TimerAlarm struct {
	mu sync.Mutex
	t  *time.Timer
}

func NewTimerAlarm() *TimerAlarm {
	return &TimerAlarm{}
}

func (a *TimerAlarm) Arm(deadline time.Time, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	a.t = time.AfterFunc(d, fn)
}

func (a *TimerAlarm) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
		a.t = nil
	}
}

// Engine is a per-CPU timer heap. now returns the current time as
// nanoseconds since some fixed epoch; tests inject a controllable clock,
// production wires the monotonic clock.
type Engine struct {
	mu    sync.Mutex
	heap  nodeHeap
	alarm Alarm
	now   func() int64

	observer kmetrics.Observer
}

func NewEngine(alarm Alarm, now func() int64, observer kmetrics.Observer) *Engine {
	if observer == nil {
		observer = kmetrics.NoOpObserver{}
	}
	return &Engine{alarm: alarm, now: now, observer: observer}
}

// Install checks node's token and either queues node in the heap
// (re-arming the alarm if node became the new minimum) or, if the token
// was already fired before install, retires it immediately and runs its
// completion (unless Engine.Cancel already retired it and ran it).
// Install attaches no handler to the token: only Engine.Cancel removes a
// queued node from the heap and runs its completion; a token fired by
// any other caller leaves the node queued until progress pops it, marks
// it elapsed and does not run its completion.
func (e *Engine) Install(node *Node) error {
	if node.Completion == nil {
		return kerr.NewError("timer_install", kerr.KindIllegalArgument, "node has no completion")
	}

	e.mu.Lock()

	if node.Cancel.Fired() {
		// Cancelled before it was ever queued: install itself fails and
		// the node retires without ever touching the heap.
		e.mu.Unlock()
		if node.State == StateRetired {
			// Engine.Cancel already retired the node and ran its completion.
			return nil
		}
		node.State = StateRetired
		node.Completion()
		return nil
	}

	node.State = StateQueued
	heap.Push(&e.heap, node)
	if e.heap[0] == node {
		e.rearm()
	}
	e.mu.Unlock()
	return nil
}

// Cancel removes node from the heap if it is still queued and retires it.
// It is a no-op if node already fired or was already cancelled.
func (e *Engine) Cancel(node *Node) {
	e.mu.Lock()
	defer e.mu.Unlock()

	won := node.Cancel.TrySet(func() {
		if node.State == StateQueued && node.heapIndex >= 0 {
			heap.Remove(&e.heap, node.heapIndex)
		}
		node.State = StateRetired
	})
	if won {
		node.Completion()
	}
}

// OnAlarm is the hardware IRQ entry point: run progress() and re-arm.
func (e *Engine) OnAlarm() {
	e.progress()
}

// progress implements the five numbered steps of the deadline engine's
// firing algorithm, including the re-arm race retry loop in step 5.
func (e *Engine) progress() {
	e.mu.Lock()
	defer e.mu.Unlock()

	reArmRace := false
	for {
		t := e.now()
		for e.heap.Len() > 0 && e.heap[0].DeadlineNanos <= t {
			node := heap.Pop(&e.heap).(*Node)
			won := node.Cancel.TrySet(func() {
				node.State = StateRetired
			})
			if won {
				e.observer.ObserveTimerFire(reArmRace)
				node.Completion()
			} else {
				// The token was fired by a caller other than
				// Engine.Cancel (which removes the node from the heap
				// under e.mu); the completion is not run here.
				node.State = StateElapsed
			}
		}

		if e.heap.Len() == 0 {
			e.alarm.Disarm()
			return
		}

		e.rearm()

		if e.heap[0].DeadlineNanos > e.now() {
			return
		}
		// Arming race: the new top is already due. Loop back to step 1
		// rather than waiting for an alarm that may fire late or never
		// fire for a deadline already in the past.
		reArmRace = true
	}
}

func (e *Engine) rearm() {
	top := e.heap[0]
	deadline := time.Unix(0, top.DeadlineNanos)
	e.alarm.Arm(deadline, e.OnAlarm)
}

// nodeHeap implements container/heap.Interface ordered by deadline.
type nodeHeap []*Node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].DeadlineNanos < h[j].DeadlineNanos }
func (h nodeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *nodeHeap) Push(x any) {
	n := x.(*Node)
	n.heapIndex = len(*h)
	*h = append(*h, n)
}

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.heapIndex = -1
	*h = old[:n-1]
	return node
}
