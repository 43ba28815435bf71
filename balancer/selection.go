package balancer

import (
	"sync/atomic"
	"time"
)

// recentErrorThreshold and recentErrorWindow gate the round-robin walk's
// per-candidate skip rule, per spec.md §4.4.
const (
	recentErrorThreshold = 5
	recentErrorWindow    = 300 * time.Second
)

// selectBackend implements round-robin-with-health-and-load-filter, then
// falls back to selectBest. It never returns an out-of-range index when
// the pool is non-empty.
func (b *Balancer) selectBackend() int {
	n := b.pool.Len()

	// The walk starts at the cursor's value before this advance, so the
	// very first selection begins at backend 0.
	start := int((atomic.AddUint64(&b.cursor, 1) - 1) % uint64(n))
	for step := 0; step < 2*n; step++ {
		i := (start + step) % n

		if b.metrics.ErrorsInRecentWindow(i, recentErrorThreshold, recentErrorWindow) {
			continue
		}
		if snap, ok := b.metrics.Snapshot(i); ok && snap.ActiveConnections >= int64(b.concurrency) {
			continue
		}
		// IsAvailable is the Health Monitor's selection predicate — using
		// it here (rather than a pure GetHealthy snapshot) lets a
		// candidate's speculative Unhealthy→Healthy reopen happen
		// in-line with the walk, per the design note on speculative
		// reopen.
		if !b.health.IsAvailable(i) {
			continue
		}
		return i
	}

	b.log.Notice("round-robin walk exhausted, falling back to best-metric selection", map[string]interface{}{
		"pool_size": n,
	})
	return b.selectBest()
}

// selectBest picks the minimum of activeConnections*10 + lastResponseTimeMs
// + errors*100 across every backend, ties broken by lowest index. Always
// returns a valid index for a non-empty pool, regardless of health state —
// the documented fallback for "all backends Unhealthy".
func (b *Balancer) selectBest() int {
	best := 0
	bestScore := b.metrics.Score(0)
	for i := 1; i < b.pool.Len(); i++ {
		if s := b.metrics.Score(i); s < bestScore {
			bestScore = s
			best = i
		}
	}
	return best
}
