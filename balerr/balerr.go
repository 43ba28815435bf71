// Package balerr defines the error taxonomy shared by the wire codec, RPC
// client, health monitor and load balancer. Each kind is a concrete type
// rather than a sentinel string, so callers can errors.As down to it to
// read structured fields (e.g. the fault code of an UpstreamError).
package balerr

import "fmt"

// InvalidConfig is returned when the backend pool is empty or malformed at
// construction time. Fatal to construction.
type InvalidConfig struct {
	Reason string
}

func (e *InvalidConfig) Error() string { return "invalid config: " + e.Reason }

// InvalidArgument is returned for a request the balancer or RPC client
// cannot interpret (an unknown request body type or conversion mode). The
// contents of a request, such as empty input bytes, are not validated.
type InvalidArgument struct {
	Reason string
}

func (e *InvalidArgument) Error() string { return "invalid argument: " + e.Reason }

// ConnectFailure wraps a TCP dial failure to a backend. Transient: triggers
// retry and a markFailed call.
type ConnectFailure struct {
	Backend string
	Err     error
}

func (e *ConnectFailure) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Backend, e.Err)
}
func (e *ConnectFailure) Unwrap() error { return e.Err }

// SendFailure wraps a write failure to an already-connected backend.
type SendFailure struct {
	Backend string
	Err     error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Backend, e.Err)
}
func (e *SendFailure) Unwrap() error { return e.Err }

// RecvFailure wraps a read failure while waiting for a backend's response.
type RecvFailure struct {
	Backend string
	Err     error
}

func (e *RecvFailure) Error() string {
	return fmt.Sprintf("recv from %s failed: %v", e.Backend, e.Err)
}
func (e *RecvFailure) Unwrap() error { return e.Err }

// Timeout is returned when a deadline elapses: a connect/send/recv socket
// deadline in the RPC client, or the end-to-end ConvertAsync deadline in
// the load balancer.
type Timeout struct {
	Op string
}

func (e *Timeout) Error() string { return "timeout: " + e.Op }

// MalformedResponse is returned when a backend's response cannot be parsed,
// or lacks a required element (e.g. no base64 value in Stream mode).
// Treated as transient by the load balancer's retry loop.
type MalformedResponse struct {
	Reason string
}

func (e *MalformedResponse) Error() string { return "malformed response: " + e.Reason }

// UpstreamError surfaces an XML-RPC <fault> returned by a backend.
type UpstreamError struct {
	FaultCode   int
	FaultString string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream fault %d: %s", e.FaultCode, e.FaultString)
}

// QueueUnavailable is returned when the load balancer's request queue is
// full or closed at enqueue time. Not retried — the caller sees it directly.
type QueueUnavailable struct {
	Reason string
}

func (e *QueueUnavailable) Error() string { return "queue unavailable: " + e.Reason }

// ExhaustedRetries is the terminal error after maxRetries attempts all
// failed. It wraps the last underlying error (typically an
// *UpstreamError or one of the transient kinds above).
type ExhaustedRetries struct {
	Attempts int
	Last     error
}

func (e *ExhaustedRetries) Error() string {
	return fmt.Sprintf("exhausted retries after %d attempts: %v", e.Attempts, e.Last)
}
func (e *ExhaustedRetries) Unwrap() error { return e.Last }
