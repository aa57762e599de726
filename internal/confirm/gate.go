// Package confirm implements the two-phase request/confirm protocol
// guarding irreversible bulk admin actions.
package confirm

import (
	"errors"
	"sync"
	"time"
)

// Kind identifies the guarded operation.
type Kind string

const (
	KindBroadcast      Kind = "broadcast"
	KindUnsubscribeAll Kind = "unsubscribe_all"
)

// TTL is how long a pending operation stays confirmable.
const TTL = 5 * time.Minute

var (
	// ErrConflict means the operator already has a pending operation.
	ErrConflict = errors.New("operation already pending for this operator")
	// ErrNotPending means there is nothing to confirm or cancel.
	ErrNotPending = errors.New("no pending operation")
	// ErrExpired means the pending operation outlived its TTL. It is
	// surfaced distinctly from ErrNotPending so operators know to
	// re-issue the request.
	ErrExpired = errors.New("pending operation expired")
)

// Operation is a bulk action awaiting confirmation.
type Operation struct {
	Kind       Kind
	Operator   int64
	Message    string // broadcast text, empty for unsubscribe-all
	Recipients int    // subscriber count snapshot taken at request time
	CreatedAt  time.Time
}

// Gate holds at most one pending operation per operator. Expiry is
// checked lazily on every access, so the gate stays deterministic under
// an injected clock and leaks no timers.
type Gate struct {
	mu      sync.Mutex
	pending map[int64]*Operation
	ttl     time.Duration
	now     func() time.Time
}

// NewGate creates an empty gate with the default TTL
func NewGate() *Gate {
	return &Gate{
		pending: make(map[int64]*Operation),
		ttl:     TTL,
		now:     time.Now,
	}
}

// Request stores op as the operator's pending operation. It fails with
// ErrConflict if that operator already has a live pending operation;
// an expired leftover is replaced.
func (g *Gate) Request(op Operation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.pending[op.Operator]; ok && !g.expired(existing) {
		return ErrConflict
	}

	op.CreatedAt = g.now()
	g.pending[op.Operator] = &op
	return nil
}

// Confirm atomically clears the operator's pending operation of the
// given kind and returns it for execution. The clear happens before the
// caller runs any side effects, so a duplicate confirm cannot
// re-trigger execution.
func (g *Gate) Confirm(operator int64, kind Kind) (*Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	op, ok := g.pending[operator]
	if !ok {
		return nil, ErrNotPending
	}
	if g.expired(op) {
		delete(g.pending, operator)
		return nil, ErrExpired
	}
	if op.Kind != kind {
		return nil, ErrNotPending
	}

	delete(g.pending, operator)
	return op, nil
}

// Cancel drops the operator's pending operation, reporting whether one
// was live.
func (g *Gate) Cancel(operator int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	op, ok := g.pending[operator]
	delete(g.pending, operator)
	return ok && !g.expired(op)
}

// Pending returns the operator's live pending operation, if any.
func (g *Gate) Pending(operator int64) (*Operation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	op, ok := g.pending[operator]
	if !ok {
		return nil, false
	}
	if g.expired(op) {
		delete(g.pending, operator)
		return nil, false
	}
	return op, true
}

// Sweep drops every expired pending operation and returns how many were
// removed. Lazy expiry on access is authoritative; the sweep only keeps
// the map small on long-running processes.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for operator, op := range g.pending {
		if g.expired(op) {
			delete(g.pending, operator)
			removed++
		}
	}
	return removed
}

func (g *Gate) expired(op *Operation) bool {
	return g.now().Sub(op.CreatedAt) > g.ttl
}
