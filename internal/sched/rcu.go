package sched

import (
	"sync/atomic"
	"time"

	"github.com/corekernel/corekernel/internal/constants"
	"github.com/corekernel/corekernel/internal/kmetrics"
)

// RCU implements spec invariant P6: a callback registered by Submit at
// time T runs after every CPU has been in a schedulable state at least
// once since T. Each CPU's scheduler loop calls Quiesce at a safe point
// (task switch, idle entry); Barrier polls until every CPU's counter has
// advanced past its value when the barrier began.
type RCU struct {
	quiescent []atomic.Uint64
	pollEvery time.Duration
	observer  kmetrics.Observer
}

// NewRCU creates an RCU engine tracking numCPUs independent quiescent-
// state counters.
func NewRCU(numCPUs int, observer kmetrics.Observer) *RCU {
	if observer == nil {
		observer = kmetrics.NoOpObserver{}
	}
	return &RCU{
		quiescent: make([]atomic.Uint64, numCPUs),
		pollEvery: constants.DefaultRCUGracePeriodPoll,
		observer:  observer,
	}
}

// Quiesce records that cpu has been in a schedulable state, advancing
// any barrier waiting on it.
func (r *RCU) Quiesce(cpu int) {
	r.quiescent[cpu].Add(1)
}

// Barrier blocks until every CPU has quiesced at least once since the
// call began.
func (r *RCU) Barrier() {
	start := make([]uint64, len(r.quiescent))
	for i := range r.quiescent {
		start[i] = r.quiescent[i].Load()
	}
	for {
		allAdvanced := true
		for i := range r.quiescent {
			if r.quiescent[i].Load() == start[i] {
				allAdvanced = false
				break
			}
		}
		if allAdvanced {
			r.observer.ObserveRCUBarrier()
			return
		}
		time.Sleep(r.pollEvery)
	}
}

// Submit registers callback to run once every CPU has quiesced since
// Submit was called, without blocking the caller: the grace period is
// awaited on its own goroutine.
func (r *RCU) Submit(callback func()) {
	go func() {
		r.Barrier()
		callback()
	}()
}
