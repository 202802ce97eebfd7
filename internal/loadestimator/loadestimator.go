// Package loadestimator provides the single-predicate collaborator
// PersistentProtocol consults before declaring a peer unresponsive
// (SPEC_FULL.md §4.7): "implementations may sample CPU, event-loop
// latency, or always return false."
package loadestimator

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Estimator reports whether the local process is currently under enough
// load that a missing ACK should be attributed to us, not the peer.
type Estimator interface {
	HasHighLoad() bool
}

// AlwaysLow never defers a timeout declaration. Useful for tests and for
// embedders that have no better signal.
type AlwaysLow struct{}

func (AlwaysLow) HasHighLoad() bool { return false }

// Heuristic estimates load from one cheap, allocation-free signal: the
// total goroutine count (runnable or blocked) divided by GOMAXPROCS. GC
// activity is not sampled. It needs no external dependency or profiling
// library.
type Heuristic struct {
	// GoroutineThreshold is the per-CPU goroutine count above which the
	// process is considered busy. Zero uses a sane default.
	GoroutineThreshold int
	lastSample         atomic.Int64 // unix nano of last HasHighLoad call
}

// NewHeuristic returns a Heuristic with default thresholds.
func NewHeuristic() *Heuristic {
	return &Heuristic{GoroutineThreshold: 64}
}

func (h *Heuristic) HasHighLoad() bool {
	h.lastSample.Store(time.Now().UnixNano())
	threshold := h.GoroutineThreshold
	if threshold <= 0 {
		threshold = 64
	}
	perCPU := runtime.NumGoroutine() / max(1, runtime.GOMAXPROCS(0))
	return perCPU > threshold
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ Estimator = AlwaysLow{}
var _ Estimator = (*Heuristic)(nil)
