package balancer

import (
	"time"

	"github.com/tabula17/satelles-balancer/balerr"
)

// runAttempt drives one request through up to maxRetries attempts,
// re-selecting a backend before each retry, updating health and metrics on
// every outcome, and finally delivering exactly one Result to req.promise.
// firstBackend/firstRelease are the selection already made by the
// dispatcher (or ConvertSync) for attempt 1.
func (b *Balancer) runAttempt(req *request, firstBackend int, firstRelease func()) {
	i := firstBackend
	release := firstRelease

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelays[attempt-1])
			i = b.selectBackend()
			release = b.metrics.Acquire(i)
		}

		start := time.Now()
		val, err := b.callBackend(i, req)
		elapsed := time.Since(start)
		release()

		if err == nil {
			b.health.MarkSuccess(i)
			b.metrics.RecordSuccess(i, elapsed)
			b.deliver(req, Result{Value: val})
			return
		}

		b.health.MarkFailed(i)
		b.metrics.RecordFailure(i)
		lastErr = err
	}

	b.deliver(req, Result{Err: &balerr.ExhaustedRetries{Attempts: maxRetries, Last: lastErr}})
}

// deliver is a non-blocking, at-most-once push to req's single-slot
// promise: the buffered channel of capacity 1 never blocks on its first
// send, and the select/default guards against a caller that has already
// abandoned the request (or, defensively, a double delivery), per the
// design note on promise abandonment.
func (b *Balancer) deliver(req *request, res Result) {
	select {
	case req.promise <- res:
	default:
	}
}
