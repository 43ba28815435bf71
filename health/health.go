// Package health implements the Health Monitor: a background sampler that
// keeps a per-backend circuit-breaker state, consulted by the balancer's
// selection policy and kept in sync by real-traffic outcomes. Grounded on
// the teacher's circuit package (breaker.go's state-holding struct,
// registry.go's channel-guarded critical section).
package health

import (
	"sync"
	"time"

	"github.com/tabula17/satelles-balancer/logging"
)

// Status is one of Healthy or Unhealthy for a single backend.
type Status int

const (
	Healthy Status = iota
	Unhealthy
)

func (s Status) String() string {
	if s == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// State is one backend's circuit-breaker state, per §3 of the data model.
// Fields are read directly by callers under Monitor's lock via GetState /
// GetAllStates snapshots — never mutated outside Monitor.
type State struct {
	Status           Status
	FailureCount     int
	LastFailureAt    time.Time
	LastCheckAt      time.Time
	LastResponseTime time.Duration
}

// Options configures the Monitor's thresholds and sampling cadence.
type Options struct {
	FailureThreshold int
	RetryTimeout     time.Duration
	CheckInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.RetryTimeout <= 0 {
		o.RetryTimeout = 30 * time.Second
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 10 * time.Second
	}
	return o
}

// Prober is the subset of rpcclient.Client the Monitor needs to run probes.
// Kept as an interface so tests can substitute a stub without a real
// backend.
type Prober interface {
	Ping() bool
}

// Monitor owns the pool's State vector and the background sampler. One
// Monitor per balancer; entries are indexed identically to the backend
// pool.
type Monitor struct {
	opts    Options
	probers []Prober
	log     logging.Sink

	mu     sync.Mutex
	states []State

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New builds a Monitor for the given probers (one per pool entry, in pool
// order). All backends start Healthy.
func New(probers []Prober, opts Options, sink logging.Sink) *Monitor {
	if sink == nil {
		sink = logging.NoopSink
	}
	opts = opts.withDefaults()
	states := make([]State, len(probers))

	return &Monitor{
		opts:    opts,
		probers: probers,
		log:     sink,
		states:  states,
	}
}

// Start is idempotent; it launches one background sampler goroutine. A
// second call is a no-op, matching the teacher's registry construction
// style of guarding state behind a single lock rather than sync.Once, since
// Start/Stop can interleave with RunHealthChecks in tests.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.sampleLoop(m.stopCh, m.doneCh)
}

// Stop is idempotent; it signals the sampler to exit without waiting
// synchronously beyond the next scheduling boundary, per §4.3.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh := m.stopCh
	m.mu.Unlock()
	close(stopCh)
}

func (m *Monitor) sampleLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.RunHealthChecks()
		}
	}
}

// RunHealthChecks fires one concurrent probe per backend and updates state
// from the outcome. Probes within one tick run in parallel; this call
// returns once all of them have updated state.
func (m *Monitor) RunHealthChecks() {
	var wg sync.WaitGroup
	wg.Add(len(m.probers))
	for i, p := range m.probers {
		go func(i int, p Prober) {
			defer wg.Done()

			start := time.Now()
			ok := p.Ping()
			elapsed := time.Since(start)
			m.recordCheck(i, ok, elapsed)
		}(i, p)
	}
	wg.Wait()
}

func (m *Monitor) recordCheck(i int, ok bool, elapsed time.Duration) {
	m.mu.Lock()
	now := time.Now()
	s := &m.states[i]
	s.LastCheckAt = now
	s.LastResponseTime = elapsed
	m.mu.Unlock()

	if ok {
		m.MarkSuccess(i)
	} else {
		m.MarkFailed(i)
	}
}

// MarkSuccess applies the success transitions of the §4.3 state table.
// Called by RunHealthChecks and, per design, by the balancer after every
// successful real-traffic attempt.
func (m *Monitor) MarkSuccess(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return
	}
	s := &m.states[i]
	s.Status = Healthy
	s.FailureCount = 0
}

// MarkFailed applies the failure transitions of the §4.3 state table,
// tripping the breaker to Unhealthy once FailureCount reaches the
// threshold.
func (m *Monitor) MarkFailed(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return
	}
	s := &m.states[i]
	s.FailureCount++
	s.LastFailureAt = time.Now()
	if s.FailureCount >= m.opts.FailureThreshold {
		s.Status = Unhealthy
	}
}

// IsAvailable is the selection predicate: true if Healthy, or if Unhealthy
// and the reprobe window has elapsed — in which case it also performs the
// speculative reopen (flips to Healthy, resets FailureCount) under the same
// lock as the status mutation, per the design note on speculative reopen.
// Unknown indices return false.
func (m *Monitor) IsAvailable(i int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return false
	}
	s := &m.states[i]
	if s.Status == Healthy {
		return true
	}
	if time.Since(s.LastFailureAt) > m.opts.RetryTimeout {
		s.Status = Healthy
		s.FailureCount = 0
		return true
	}
	return false
}

// GetHealthy returns the indices whose status is currently Healthy (a pure
// snapshot read). Unhealthy backends whose reprobe window has elapsed are
// not included, and no speculative reopen is performed.
func (m *Monitor) GetHealthy() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for i, s := range m.states {
		if s.Status == Healthy {
			out = append(out, i)
		}
	}
	return out
}

// GetState returns a copy of backend i's state and whether i was valid.
func (m *Monitor) GetState(i int) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return State{}, false
	}
	return m.states[i], true
}

// GetAllStates returns a copy of the full state vector, indexed as the
// pool.
func (m *Monitor) GetAllStates() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, len(m.states))
	copy(out, m.states)
	return out
}
