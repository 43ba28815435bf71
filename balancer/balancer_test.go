package balancer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabula17/satelles-balancer/backend"
	"github.com/tabula17/satelles-balancer/balerr"
	"github.com/tabula17/satelles-balancer/health"
	"github.com/tabula17/satelles-balancer/rpcclient"
	"github.com/tabula17/satelles-balancer/wire"
)

// stubConverter scripts a Convert outcome and optionally blocks until
// released, for backpressure tests. It also serves as a health.Prober
// (Ping mirrors the same scripted outcome) so a single stub can drive both
// the balancer and its monitor in tests.
type stubConverter struct {
	mu      sync.Mutex
	result  rpcclient.ConvertResult
	err     error
	calls   int64
	block   chan struct{} // if non-nil, Convert waits for this to close
	lastReq []wire.ConvertParams
}

func (s *stubConverter) Convert(p wire.ConvertParams) (rpcclient.ConvertResult, error) {
	atomic.AddInt64(&s.calls, 1)
	s.mu.Lock()
	s.lastReq = append(s.lastReq, p)
	block := s.block
	result, err := s.result, s.err
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return result, err
}

func (s *stubConverter) Ping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err == nil
}

func (s *stubConverter) Calls() int64 { return atomic.LoadInt64(&s.calls) }

func newTestPool(t *testing.T, n int) *backend.Pool {
	t.Helper()
	entries := make([]backend.Backend, n)
	for i := range entries {
		entries[i] = backend.Backend{Host: "127.0.0.1", Port: uint16(2000 + i)}
	}
	p, err := backend.NewPool(entries)
	require.NoError(t, err)
	return p
}

func newHealthyMonitor(probers []health.Prober) *health.Monitor {
	return health.New(probers, health.Options{
		FailureThreshold: 3,
		RetryTimeout:     time.Minute,
		CheckInterval:    time.Hour,
	}, nil)
}

// Scenario 1 from spec.md §8: happy path, Stream mode.
func TestConvertAsyncHappyPathStreamMode(t *testing.T) {
	pool := newTestPool(t, 1)
	stub := &stubConverter{result: rpcclient.ConvertResult{Base64: "SGVsbG8="}}
	mon := newHealthyMonitor([]health.Prober{stub})

	bal := New(pool, []Converter{stub}, mon, 4, 5*time.Second, nil)
	bal.Start()
	defer bal.Stop()

	val, err := bal.ConvertAsync(StreamBody{InputBytes: []byte("Hello")}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "SGVsbG8=", val)

	snaps := bal.GetServerMetrics()
	require.Len(t, snaps, 1)
	assert.EqualValues(t, 1, snaps[0].Requests)
	assert.EqualValues(t, 0, snaps[0].Errors)
	assert.EqualValues(t, 0, snaps[0].ActiveConnections)
}

// Scenario 2 from spec.md §8: fault surfaces as ExhaustedRetries wrapping
// UpstreamError after retries.
func TestConvertAsyncFaultExhaustsRetries(t *testing.T) {
	pool := newTestPool(t, 1)
	stub := &stubConverter{err: &balerr.UpstreamError{FaultCode: 1, FaultString: "bad"}}
	mon := newHealthyMonitor([]health.Prober{stub})

	bal := New(pool, []Converter{stub}, mon, 4, 5*time.Second, nil)
	bal.Start()
	defer bal.Stop()

	_, err := bal.ConvertAsync(StreamBody{InputBytes: []byte("x")}, "pdf")
	require.Error(t, err)

	var exhausted *balerr.ExhaustedRetries
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, maxRetries, exhausted.Attempts)

	var upstream *balerr.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "bad", upstream.FaultString)

	snaps := bal.GetServerMetrics()
	assert.EqualValues(t, 3, snaps[0].Requests)
	assert.EqualValues(t, 3, snaps[0].Errors)

	state, _ := mon.GetState(0)
	assert.Equal(t, health.Unhealthy, state.Status)
}

// Scenario 3 from spec.md §8: failover — backend 0 always fails, backend 1
// always succeeds.
func TestConvertAsyncFailsOverToHealthyBackend(t *testing.T) {
	pool := newTestPool(t, 2)
	bad := &stubConverter{err: &balerr.ConnectFailure{Backend: "b0", Err: assertErr{}}}
	good := &stubConverter{result: rpcclient.ConvertResult{Base64: "b2FrYXk="}}
	mon := newHealthyMonitor([]health.Prober{bad, good})

	bal := New(pool, []Converter{bad, good}, mon, 4, 5*time.Second, nil)
	bal.Start()
	defer bal.Stop()

	val, err := bal.ConvertAsync(StreamBody{InputBytes: []byte("x")}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "b2FrYXk=", val)

	snaps := bal.GetServerMetrics()
	assert.EqualValues(t, 1, snaps[0].Errors)
	assert.EqualValues(t, 0, snaps[1].Errors)
	assert.GreaterOrEqual(t, snaps[1].Requests, int64(1))

	state0, _ := mon.GetState(0)
	assert.Equal(t, 1, state0.FailureCount)
}

type assertErr struct{}

func (assertErr) Error() string { return "refused" }

// Scenario 5 from spec.md §8: backpressure with a full queue. The
// dispatcher is deliberately never started, so the bounded queue (cap
// 2*C=2) is never drained: the first two enqueues fill it, and the third
// observes it full within the 1s push timeout.
func TestConvertAsyncQueueFullIsQueueUnavailable(t *testing.T) {
	pool := newTestPool(t, 1)
	stub := &stubConverter{result: rpcclient.ConvertResult{Base64: "x"}}
	mon := newHealthyMonitor([]health.Prober{stub})

	bal := New(pool, []Converter{stub}, mon, 1, 300*time.Millisecond, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bal.ConvertAsync(StreamBody{InputBytes: []byte("x")}, "pdf")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var unavailable int
	for err := range errs {
		var qu *balerr.QueueUnavailable
		if err != nil && errors.As(err, &qu) {
			unavailable++
		}
	}
	assert.Equal(t, 1, unavailable, "exactly the third request should find the queue full")
}

func TestConvertAsyncZeroTimeoutFailsPromptly(t *testing.T) {
	pool := newTestPool(t, 1)
	block := make(chan struct{})
	stub := &stubConverter{result: rpcclient.ConvertResult{Base64: "x"}, block: block}
	defer close(block)
	mon := newHealthyMonitor([]health.Prober{stub})

	bal := New(pool, []Converter{stub}, mon, 4, 0, nil)
	bal.Start()
	defer bal.Stop()

	_, err := bal.ConvertAsync(StreamBody{InputBytes: []byte("x")}, "pdf")
	require.Error(t, err)
	var timeoutErr *balerr.Timeout
	require.ErrorAs(t, err, &timeoutErr)
}

func TestEnqueueOnStoppedBalancerFailsWithQueueUnavailable(t *testing.T) {
	pool := newTestPool(t, 1)
	stub := &stubConverter{result: rpcclient.ConvertResult{Base64: "x"}}
	mon := newHealthyMonitor([]health.Prober{stub})

	bal := New(pool, []Converter{stub}, mon, 4, 5*time.Second, nil)
	bal.Start()
	bal.Stop()

	_, err := bal.ConvertAsync(StreamBody{InputBytes: []byte("x")}, "pdf")
	require.Error(t, err)
	var qu *balerr.QueueUnavailable
	require.ErrorAs(t, err, &qu)
}

func TestConvertSyncBypassesQueue(t *testing.T) {
	pool := newTestPool(t, 1)
	stub := &stubConverter{result: rpcclient.ConvertResult{Path: "/out.pdf"}}
	mon := newHealthyMonitor([]health.Prober{stub})

	bal := New(pool, []Converter{stub}, mon, 4, 5*time.Second, nil)

	val, err := bal.ConvertSync(FilePathBody{InputPath: "/in.odt", OutputPath: "/out.pdf"}, "pdf")
	require.NoError(t, err)
	assert.Equal(t, "/out.pdf", val)
}

func TestSelectBestFallsBackWhenAllUnhealthy(t *testing.T) {
	pool := newTestPool(t, 3)
	stubs := make([]Converter, 3)
	probers := make([]health.Prober, 3)
	for i := range stubs {
		s := &stubConverter{err: assertErr{}}
		stubs[i] = s
		probers[i] = s
	}
	mon := newHealthyMonitor(probers)
	for i := 0; i < 3; i++ {
		mon.MarkFailed(i)
		mon.MarkFailed(i)
		mon.MarkFailed(i)
	}

	bal := New(pool, stubs, mon, 4, 5*time.Second, nil)
	i := bal.selectBackend()
	assert.True(t, i >= 0 && i < 3)
}
