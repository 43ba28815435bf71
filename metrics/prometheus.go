package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors is an additive view over Registry: it exports the same
// counters spec.md §6 requires (requests, errors, lastResponseTimeMs,
// activeConnections) as Prometheus GaugeVec/CounterVec collectors, labeled
// by backend index. GetServerMetrics/Snapshot remain the primary,
// mandatory observability surface; this is a second optional view a
// caller may register with promhttp.
type Collectors struct {
	requests           *prometheus.CounterVec
	errors             *prometheus.CounterVec
	lastResponseTimeMs *prometheus.GaugeVec
	activeConnections  *prometheus.GaugeVec

	mu       sync.Mutex
	lastSeen map[int]struct{ requests, errors int64 }
}

// NewCollectors builds the Prometheus collectors under the given namespace.
// Per-backend series are created on demand by Observe.
func NewCollectors(namespace string) *Collectors {
	labels := []string{"backend"}
	return &Collectors{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total completed conversion attempts per backend.",
		}, labels),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total failed conversion attempts per backend.",
		}, labels),
		lastResponseTimeMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_last_response_time_ms",
			Help:      "Most recently observed response time per backend, in milliseconds.",
		}, labels),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_active_connections",
			Help:      "Current in-flight attempts per backend.",
		}, labels),
		lastSeen: make(map[int]struct{ requests, errors int64 }),
	}
}

// MustRegister registers every collector with r.
func (c *Collectors) MustRegister(r prometheus.Registerer) {
	r.MustRegister(c.requests, c.errors, c.lastResponseTimeMs, c.activeConnections)
}

// Observe pushes Registry's current snapshot for backend i into the
// collectors. The gauges (last response time, active connections) are set
// directly; the request and error counters, which only accept Add with
// non-negative deltas, are advanced by the difference from the cumulative
// totals seen on the previous Observe for that backend.
func (c *Collectors) Observe(i int, s Snapshot) {
	label := prometheus.Labels{"backend": strconv.Itoa(i)}
	c.lastResponseTimeMs.With(label).Set(float64(s.LastResponseTimeMs))
	c.activeConnections.With(label).Set(float64(s.ActiveConnections))

	// CounterVec has no Set; track the last-seen cumulative total per
	// backend and add only the delta.
	c.addDelta(i, s)
}

func (c *Collectors) addDelta(i int, s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.lastSeen[i]
	label := prometheus.Labels{"backend": strconv.Itoa(i)}
	if d := s.Requests - prev.requests; d > 0 {
		c.requests.With(label).Add(float64(d))
	}
	if d := s.Errors - prev.errors; d > 0 {
		c.errors.With(label).Add(float64(d))
	}
	c.lastSeen[i] = struct{ requests, errors int64 }{s.Requests, s.Errors}
}
