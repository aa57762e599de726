package confirm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGate returns a gate whose clock the test controls.
func newTestGate() (*Gate, *time.Time) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	g := NewGate()
	g.now = func() time.Time { return now }
	return g, &now
}

func TestRequestAndConfirm(t *testing.T) {
	g, _ := newTestGate()

	err := g.Request(Operation{Kind: KindBroadcast, Operator: 1, Message: "внимание", Recipients: 3})
	require.NoError(t, err)

	op, err := g.Confirm(1, KindBroadcast)
	require.NoError(t, err)
	assert.Equal(t, "внимание", op.Message)
	assert.Equal(t, 3, op.Recipients)

	// confirmation consumed the operation
	_, err = g.Confirm(1, KindBroadcast)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestRequestConflict(t *testing.T) {
	g, _ := newTestGate()

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1}))
	assert.ErrorIs(t, g.Request(Operation{Kind: KindUnsubscribeAll, Operator: 1}), ErrConflict)
}

func TestPerOperatorIsolation(t *testing.T) {
	g, _ := newTestGate()

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1, Message: "от первого"}))
	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 2, Message: "от второго"}))

	op, err := g.Confirm(2, KindBroadcast)
	require.NoError(t, err)
	assert.Equal(t, "от второго", op.Message)

	// operator 1's operation is untouched
	op, ok := g.Pending(1)
	require.True(t, ok)
	assert.Equal(t, "от первого", op.Message)
}

func TestConfirmKindMismatchKeepsPending(t *testing.T) {
	g, _ := newTestGate()

	require.NoError(t, g.Request(Operation{Kind: KindUnsubscribeAll, Operator: 1}))

	_, err := g.Confirm(1, KindBroadcast)
	assert.ErrorIs(t, err, ErrNotPending)

	// the mismatched confirm must not consume the operation
	op, err := g.Confirm(1, KindUnsubscribeAll)
	require.NoError(t, err)
	assert.Equal(t, KindUnsubscribeAll, op.Kind)
}

func TestExpiryBoundary(t *testing.T) {
	g, now := newTestGate()

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1}))

	*now = now.Add(TTL - time.Second)
	_, ok := g.Pending(1)
	assert.True(t, ok, "still confirmable just inside the TTL")

	*now = now.Add(2 * time.Second)
	_, err := g.Confirm(1, KindBroadcast)
	assert.ErrorIs(t, err, ErrExpired)

	// expiry cleared the slot, a fresh request succeeds
	assert.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1}))
}

func TestExpiredLeftoverIsReplaced(t *testing.T) {
	g, now := newTestGate()

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1, Message: "старое"}))
	*now = now.Add(TTL + time.Minute)

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1, Message: "новое"}))

	op, err := g.Confirm(1, KindBroadcast)
	require.NoError(t, err)
	assert.Equal(t, "новое", op.Message)
}

func TestCancel(t *testing.T) {
	g, now := newTestGate()

	assert.False(t, g.Cancel(1), "nothing pending")

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1}))
	assert.True(t, g.Cancel(1))
	_, ok := g.Pending(1)
	assert.False(t, ok)

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1}))
	*now = now.Add(TTL + time.Second)
	assert.False(t, g.Cancel(1), "cancelling an expired operation reports nothing live")
}

func TestSweep(t *testing.T) {
	g, now := newTestGate()

	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 1}))
	*now = now.Add(TTL + time.Second)
	require.NoError(t, g.Request(Operation{Kind: KindBroadcast, Operator: 2}))

	assert.Equal(t, 1, g.Sweep())

	_, ok := g.Pending(2)
	assert.True(t, ok, "live operation survives the sweep")
}
