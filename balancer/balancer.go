// Package balancer implements the Load Balancer: a bounded-queue request
// dispatcher that selects a backend per spec.md §4.4's round-robin-with-
// health-filter policy, retries across backends on failure, and keeps the
// Health Monitor and metrics Registry in sync with real traffic. Grounded
// on the teacher's channel-based internal fan-out idiom
// (dispatch/dispatch.go, circuit/registry.go's "sync chan *Registry"
// critical section), generalized here into a single-slot promise per
// request instead of a broadcast settings channel.
package balancer

import (
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tabula17/satelles-balancer/backend"
	"github.com/tabula17/satelles-balancer/balerr"
	"github.com/tabula17/satelles-balancer/health"
	"github.com/tabula17/satelles-balancer/logging"
	"github.com/tabula17/satelles-balancer/metrics"
	"github.com/tabula17/satelles-balancer/rpcclient"
	"github.com/tabula17/satelles-balancer/wire"
)

const maxRetries = 3

// retryDelays are the fixed inter-attempt sleeps before attempts 2 and 3,
// per spec.md §4.4.
var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}

const enqueueTimeout = 1 * time.Second
const dispatchPollTimeout = 2 * time.Second

// Converter is the subset of rpcclient.Client the balancer needs per
// backend. An interface so tests can substitute a stub.
type Converter interface {
	Convert(p wire.ConvertParams) (rpcclient.ConvertResult, error)
}

// Balancer dispatches ConvertRequests across a fixed backend pool.
type Balancer struct {
	pool        *backend.Pool
	clients     []Converter
	health      *health.Monitor
	metrics     *metrics.Registry
	concurrency int
	timeout     time.Duration
	log         logging.Sink

	queue  chan *request
	cursor uint64

	mu      sync.Mutex
	closed  bool
	running int32
	doneCh  chan struct{}
}

// New builds a Balancer. clients must have the same length and index
// correspondence as pool. concurrency is the per-backend in-flight cap C;
// timeout is the per-request deadline T applied by ConvertAsync.
func New(pool *backend.Pool, clients []Converter, monitor *health.Monitor, concurrency int, timeout time.Duration, sink logging.Sink) *Balancer {
	if sink == nil {
		sink = logging.NoopSink
	}
	return &Balancer{
		pool:        pool,
		clients:     clients,
		health:      monitor,
		metrics:     metrics.New(pool.Len()),
		concurrency: concurrency,
		timeout:     timeout,
		log:         sink,
		queue:       make(chan *request, 2*concurrency),
	}
}

// Start is idempotent; it spawns one dispatcher goroutine.
func (b *Balancer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if atomic.LoadInt32(&b.running) == 1 {
		return
	}
	atomic.StoreInt32(&b.running, 1)
	b.closed = false
	b.doneCh = make(chan struct{})
	go b.dispatchLoop(b.doneCh)
}

// Stop flips the running flag to false. The dispatcher drains remaining
// queued requests best-effort and exits once the queue is empty, per
// spec.md §5's shutdown rule. enqueue starts failing with QueueUnavailable
// immediately. Idempotent.
//
// The request channel itself is never closed: a concurrent enqueue could
// otherwise race a close() with a send on the same channel and panic. The
// closed flag, checked under the same mutex as the send-gate in enqueue,
// gives the same externally-visible contract without that hazard.
func (b *Balancer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	atomic.StoreInt32(&b.running, 0)
}

func (b *Balancer) isRunning() bool {
	return atomic.LoadInt32(&b.running) == 1
}

// enqueue pushes req onto the bounded queue with a 1s push timeout, per
// spec.md §4.4.
func (b *Balancer) enqueue(req *request) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &balerr.QueueUnavailable{Reason: "balancer is stopped"}
	}
	b.mu.Unlock()

	select {
	case b.queue <- req:
		return nil
	case <-time.After(enqueueTimeout):
		return &balerr.QueueUnavailable{Reason: "queue full"}
	}
}

func (b *Balancer) dispatchLoop(doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case req := <-b.queue:
			b.dispatchOne(req)
		case <-time.After(dispatchPollTimeout):
			if !b.isRunning() && len(b.queue) == 0 {
				return
			}
		}
	}
}

// dispatchOne selects a backend, acquires its slot, and spawns the
// attempt task without waiting for it to finish — backpressure comes from
// the bounded queue alone, per spec.md §4.4.
func (b *Balancer) dispatchOne(req *request) {
	i := b.selectBackend()
	release := b.metrics.Acquire(i)
	go b.runAttempt(req, i, release)
}

// ConvertAsync enqueues a request and waits on its promise with the
// balancer's configured deadline T. It is the blocking realization of the
// design note's "waitable handle producing exactly one result": the
// queue/promise machinery underneath is the asynchronous part, but the
// public call yields or fails exactly once, synchronously, matching
// spec.md §7's contract.
func (b *Balancer) ConvertAsync(body RequestBody, outputFormat string) (string, error) {
	req := &request{
		id:           uuid.NewString(),
		body:         body,
		outputFormat: outputFormat,
		promise:      make(chan Result, 1),
	}

	if err := b.enqueue(req); err != nil {
		return "", err
	}

	if b.timeout <= 0 {
		select {
		case res := <-req.promise:
			return res.Value, res.Err
		default:
			return "", &balerr.Timeout{Op: "convertAsync"}
		}
	}

	select {
	case res := <-req.promise:
		return res.Value, res.Err
	case <-time.After(b.timeout):
		return "", &balerr.Timeout{Op: "convertAsync"}
	}
}

// ConvertSync bypasses the queue entirely: it selects a backend directly,
// acquires its slot, and runs the retry driver synchronously on the
// caller's goroutine. Intended for callers that already manage their own
// concurrency.
func (b *Balancer) ConvertSync(body RequestBody, outputFormat string) (string, error) {
	i := b.selectBackend()
	release := b.metrics.Acquire(i)

	req := &request{
		id:           uuid.NewString(),
		body:         body,
		outputFormat: outputFormat,
		promise:      make(chan Result, 1),
	}

	b.runAttempt(req, i, release)
	res := <-req.promise
	return res.Value, res.Err
}

// GetServerMetrics returns a snapshot of every backend's metrics, indexed
// as the pool.
func (b *Balancer) GetServerMetrics() []metrics.Snapshot {
	return b.metrics.SnapshotAll()
}

// callBackend delegates one attempt to backend i's RPC Client, translating
// req's typed body into wire.ConvertParams.
func (b *Balancer) callBackend(i int, req *request) (string, error) {
	var params wire.ConvertParams
	params.OutputFormat = req.outputFormat

	switch body := req.body.(type) {
	case StreamBody:
		params.Mode = wire.ModeStream
		params.InputBase64 = base64.StdEncoding.EncodeToString(body.InputBytes)
	case FilePathBody:
		params.Mode = wire.ModeFilePath
		params.InputPath = body.InputPath
		params.OutputPath = body.OutputPath
	default:
		return "", &balerr.InvalidArgument{Reason: "unknown request body type"}
	}

	res, err := b.clients[i].Convert(params)
	if err != nil {
		return "", err
	}
	if params.Mode == wire.ModeStream {
		return res.Base64, nil
	}
	return res.Path, nil
}
