package sched

import (
	"sync"
	"testing"
	"time"
)

func TestWorkQueueFIFOOrder(t *testing.T) {
	wq := NewWorkQueue(16)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		if !wq.Post(func() { order = append(order, i) }) {
			t.Fatalf("post %d rejected", i)
		}
	}
	if n := wq.Drain(); n != 5 {
		t.Fatalf("expected 5 closures drained, got %d", n)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestWorkQueueCrossGoroutinePost(t *testing.T) {
	wq := NewWorkQueue(64)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for !wq.Post(func() {
				mu.Lock()
				seen[i] = true
				mu.Unlock()
			}) {
			}
		}(i)
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for {
		wq.Drain()
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 8 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected all 8 posts to be observed, got %d", n)
		}
	}
}

func TestRCUBarrierWaitsForEveryCPU(t *testing.T) {
	rcu := NewRCU(3, nil)

	done := make(chan struct{})
	go func() {
		rcu.Barrier()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("barrier returned before any CPU quiesced")
	case <-time.After(20 * time.Millisecond):
	}

	rcu.Quiesce(0)
	rcu.Quiesce(1)

	select {
	case <-done:
		t.Fatal("barrier returned before CPU 2 quiesced")
	case <-time.After(20 * time.Millisecond):
	}

	rcu.Quiesce(2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier never returned after every CPU quiesced")
	}
}

func TestRCUSubmitRunsCallbackAfterBarrier(t *testing.T) {
	rcu := NewRCU(1, nil)
	ran := make(chan struct{})
	rcu.Submit(func() { close(ran) })

	select {
	case <-ran:
		t.Fatal("callback ran before the CPU quiesced")
	case <-time.After(20 * time.Millisecond):
	}

	rcu.Quiesce(0)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestLoadBalancerPlansMigrationFromBusiestToIdlest(t *testing.T) {
	lb := NewLoadBalancer(3)
	lb.Sample(0, 10)
	lb.Sample(1, 0)
	lb.Sample(2, 2)

	from, to, ok := lb.Plan()
	if !ok {
		t.Fatal("expected a migration plan")
	}
	if from != 0 || to != 1 {
		t.Fatalf("expected migration from busiest(0) to idlest(1), got from=%d to=%d", from, to)
	}
}

func TestLoadBalancerNoPlanWhenBalanced(t *testing.T) {
	lb := NewLoadBalancer(2)
	lb.Sample(0, 5)
	lb.Sample(1, 5)

	if _, _, ok := lb.Plan(); ok {
		t.Fatal("expected no migration when loads are equal")
	}
}

func TestLoadBalancerDecaysOverSamples(t *testing.T) {
	lb := NewLoadBalancer(1)
	lb.Sample(0, 100)
	first := lb.Load(0)
	lb.Sample(0, 0)
	second := lb.Load(0)
	if second >= first {
		t.Fatalf("expected load to decay toward zero with no new work, got %v then %v", first, second)
	}
}
