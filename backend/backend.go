// Package backend describes the fixed pool of conversion servers that the
// load balancer dispatches work to.
package backend

import (
	"fmt"

	"github.com/tabula17/satelles-balancer/balerr"
)

// Backend is an immutable host/port tuple identifying one conversion server.
// Its position in a Pool is its stable identity for the lifetime of the
// balancer.
type Backend struct {
	Host string
	Port uint16
}

func (b Backend) String() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

func (b Backend) valid() bool {
	return b.Host != "" && b.Port != 0
}

// Pool is the fixed, ordered set of backends known to the balancer. It is
// validated once at construction time and never mutated afterwards: indices
// into a Pool are stable and are used throughout health and metrics state as
// array offsets.
type Pool struct {
	backends []Backend
}

// NewPool validates entries and returns a Pool. Construction fails if the
// pool is empty or every entry is invalid; valid entries are kept in their
// original order, with invalid ones dropped, mirroring a server operator
// pruning bad config rather than refusing to start over one typo.
func NewPool(entries []Backend) (*Pool, error) {
	if len(entries) == 0 {
		return nil, &balerr.InvalidConfig{Reason: "empty pool"}
	}

	valid := make([]Backend, 0, len(entries))
	for _, e := range entries {
		if e.valid() {
			valid = append(valid, e)
		}
	}

	if len(valid) == 0 {
		return nil, &balerr.InvalidConfig{Reason: "no valid backend entries"}
	}

	return &Pool{backends: valid}, nil
}

// Len returns the number of backends in the pool.
func (p *Pool) Len() int { return len(p.backends) }

// At returns the backend at index i. It panics on an out-of-range index,
// the same way a slice index would — callers are expected to bound i by
// Len(), never by user input.
func (p *Pool) At(i int) Backend { return p.backends[i] }

// All returns a copy of the backend slice, safe for the caller to range
// over without racing a (nonexistent, since the pool never mutates) writer.
func (p *Pool) All() []Backend {
	out := make([]Backend, len(p.backends))
	copy(out, p.backends)
	return out
}
