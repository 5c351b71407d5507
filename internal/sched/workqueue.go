// Package sched implements the scheduler glue the core depends on but
// does not own: per-context WorkQueues, an RCU grace-period engine, and
// a load balancer. Thread/Fiber scheduling itself is out of scope; this
// package only implements the contract surface other components call
// into (posting a worklet, waiting out a grace period).
package sched

import (
	"github.com/hayabusa-cloud/lfq"
)

// WorkQueue is a per-CPU (or per-fiber) FIFO of closures that run
// cooperatively in FIFO order. One context drains its own queue; any
// number of other contexts may post into it, matching the teacher's
// goroutine-per-runner loop with a single drain-the-ring consumer.
type WorkQueue struct {
	q lfq.Queue[func()]
}

// NewWorkQueue creates a WorkQueue bounded to capacity posted-but-not-
// yet-run closures (rounded up to a power of two by lfq).
func NewWorkQueue(capacity int) *WorkQueue {
	return &WorkQueue{q: lfq.NewMPSC[func()](capacity)}
}

// Post enqueues fn for the queue's single drainer. It returns false if
// the queue is full, the caller's signal to apply backpressure or spill
// to the load balancer rather than block.
func (w *WorkQueue) Post(fn func()) bool {
	return w.q.Enqueue(&fn) == nil
}

// Drain runs queued closures in FIFO order until the queue is empty,
// including any posted while it runs, and returns how many ran. Only the owning context may call
// Drain; lfq's MPSC contract requires a single consumer.
func (w *WorkQueue) Drain() int {
	n := 0
	for {
		fn, err := w.q.Dequeue()
		if err != nil {
			return n
		}
		fn()
		n++
	}
}

// Shutdown marks the queue as draining: Drain will return every
// remaining closure without the FAA-threshold livelock guard that
// otherwise protects against a fast producer starving the consumer.
func (w *WorkQueue) Shutdown() {
	if d, ok := w.q.(lfq.Drainer); ok {
		d.Drain()
	}
}
