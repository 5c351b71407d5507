package sched

import (
	"sync"

	"github.com/corekernel/corekernel/internal/constants"
)

// LoadBalancer tracks a decaying estimate of per-CPU load and decides
// when migrating work from the busiest to the idlest CPU would help, per
// spec.md §9's load-balancing notes: exponential decay, default factor
// 184/256, sampled once per configured interval.
type LoadBalancer struct {
	mu          sync.Mutex
	load        []float64
	numerator   int64
	denominator int64
}

// NewLoadBalancer creates a balancer tracking numCPUs independent load
// estimates, using the spec's default decay factor unless overridden.
func NewLoadBalancer(numCPUs int) *LoadBalancer {
	return &LoadBalancer{
		load:        make([]float64, numCPUs),
		numerator:   constants.DefaultLoadBalanceDecayNumerator,
		denominator: constants.DefaultLoadBalanceDecayDenominator,
	}
}

// WithDecayFactor overrides the default 184/256 decay factor; the spec
// treats the constant as implementer-adjustable.
func (lb *LoadBalancer) WithDecayFactor(numerator, denominator int64) *LoadBalancer {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.numerator = numerator
	lb.denominator = denominator
	return lb
}

// Sample decays cpu's running load estimate and folds in depth, this
// interval's freshly observed run-queue depth.
func (lb *LoadBalancer) Sample(cpu int, depth int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	decay := float64(lb.numerator) / float64(lb.denominator)
	lb.load[cpu] = lb.load[cpu]*decay + float64(depth)
}

// Load returns cpu's current load estimate.
func (lb *LoadBalancer) Load(cpu int) float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.load[cpu]
}

// Plan examines every CPU's current load estimate and reports a
// migration from the busiest to the idlest CPU, if moving one unit of
// work between them would reduce the maximum load across all CPUs. ok
// is false when no migration would help (including the single-CPU case).
func (lb *LoadBalancer) Plan() (from, to int, ok bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.load) < 2 {
		return 0, 0, false
	}

	busiest, idlest := 0, 0
	for i, l := range lb.load {
		if l > lb.load[busiest] {
			busiest = i
		}
		if l < lb.load[idlest] {
			idlest = i
		}
	}
	if busiest == idlest {
		return 0, 0, false
	}

	maxBefore := lb.load[busiest]
	// Moving one unit of load from busiest to idlest; approximate the
	// post-migration max as whichever of the two is still larger.
	busiestAfter := lb.load[busiest] - 1
	idlestAfter := lb.load[idlest] + 1
	maxAfter := busiestAfter
	if idlestAfter > maxAfter {
		maxAfter = idlestAfter
	}
	if maxAfter >= maxBefore {
		return 0, 0, false
	}
	return busiest, idlest, true
}
