// Package budget implements the per-invocation subrequest budget.
//
// One Budget exists per engine invocation and is shared by the store client
// and every feed adapter, usually by way of Transport. Exhaustion is a
// sentinel error so callers can downgrade to a partial result instead of
// failing the feed.
package budget

import (
	"errors"
	"net/http"
	"sync"
)

// DefaultLimit is the hard cap on outbound HTTP calls per invocation.
const DefaultLimit = 50

// ErrExhausted is returned once the subrequest budget is spent. Compare with
// errors.Is; transport wrappers may re-wrap it.
var ErrExhausted = errors.New("subrequest budget exhausted")

// Budget is a monotonically decreasing counter of allowed outbound calls.
// Safe for concurrent use.
type Budget struct {
	mu        sync.Mutex
	remaining int
}

// New returns a Budget allowing n outbound calls. Non-positive n falls back
// to DefaultLimit.
func New(n int) *Budget {
	if n <= 0 {
		n = DefaultLimit
	}
	return &Budget{remaining: n}
}

// Take spends one unit, or reports ErrExhausted.
func (b *Budget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return ErrExhausted
	}
	b.remaining--
	return nil
}

// Remaining reports the units left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Exhausted reports whether err is (or wraps) ErrExhausted. The net/http
// client wraps transport errors in *url.Error, so errors.Is does the walk.
func Exhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

// Transport is an http.RoundTripper that charges every request against a
// Budget before delegating. Give each per-invocation http.Client and the
// store client the same Budget and the cap covers all outbound traffic.
type Transport struct {
	B    *Budget
	Base http.RoundTripper
}

// NewTransport wraps base, charging b per request. A nil base means
// http.DefaultTransport.
func NewTransport(b *Budget, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{B: b, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.B.Take(); err != nil {
		return nil, err
	}
	return t.Base.RoundTrip(req)
}
