package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindmeld/application/ports"
	"mindmeld/domain/core/entities"
	"mindmeld/domain/core/valueobjects"
	"mindmeld/domain/events"
	"mindmeld/infrastructure/realtime"
)

func newTestSession(t *testing.T, broker *realtime.Broker, docID, userID string) *Session {
	t.Helper()
	s := NewSession(docID, ports.Participant{UserID: userID, DisplayName: "User " + userID}, broker.Client(), zap.NewNop())
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSession_SoloUntilSecondParticipant(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	require.NoError(t, a.Start(ctx))
	assert.Equal(t, StateSolo, a.State())
	assert.Len(t, a.Roster(), 1)

	b := newTestSession(t, broker, "doc-1", "bob")
	require.NoError(t, b.Start(ctx))

	assert.Equal(t, StateCollaborating, a.State())
	assert.Equal(t, StateCollaborating, b.State())
	assert.Len(t, a.Roster(), 2)
	assert.Len(t, b.Roster(), 2)
}

func TestSession_RosterIsScopedByDocument(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	require.NoError(t, a.Start(ctx))
	other := newTestSession(t, broker, "doc-2", "carol")
	require.NoError(t, other.Start(ctx))

	assert.Equal(t, StateSolo, a.State())
	assert.Len(t, a.Roster(), 1)
}

func TestSession_DeescalatesWhenPeerLeaves(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	require.NoError(t, a.Start(ctx))
	b := newTestSession(t, broker, "doc-1", "bob")
	require.NoError(t, b.Start(ctx))
	require.Equal(t, StateCollaborating, a.State())

	require.NoError(t, b.Close(ctx))

	assert.Equal(t, StateSolo, a.State())
	assert.Len(t, a.Roster(), 1)
	assert.Empty(t, a.Cursors())

	// A third participant escalates again on a fresh channel
	c := newTestSession(t, broker, "doc-1", "carol")
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, StateCollaborating, a.State())
	assert.Equal(t, StateCollaborating, c.State())
}

func TestSession_StateChangeCallback(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var transitions []State

	a := newTestSession(t, broker, "doc-1", "alice")
	a.OnStateChange(func(s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})
	require.NoError(t, a.Start(ctx))

	b := newTestSession(t, broker, "doc-1", "bob")
	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateCollaborating, StateSolo}, transitions)
}

func TestSession_LiveChangeRoundTrip(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	b := newTestSession(t, broker, "doc-1", "bob")

	var mu sync.Mutex
	var aReceived, bReceived []events.LiveChange
	a.OnRemoteChange(func(c events.LiveChange) {
		mu.Lock()
		aReceived = append(aReceived, c)
		mu.Unlock()
	})
	b.OnRemoteChange(func(c events.LiveChange) {
		mu.Lock()
		bReceived = append(bReceived, c)
		mu.Unlock()
	})

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	require.Equal(t, StateCollaborating, a.State())

	node := entities.NewNode(entities.KindText, valueobjects.NewPosition(100, 100))
	a.BroadcastChange(ctx, events.NodeCreate(node))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bReceived, 1)
	got := bReceived[0]
	assert.Equal(t, node.ID, got.TargetID)
	assert.Equal(t, events.ChangeCreate, got.Action)
	assert.Equal(t, "alice", got.OriginID)
	assert.NotEmpty(t, got.ChangeID)
	assert.False(t, got.SentAt.IsZero())

	assert.Empty(t, aReceived, "a sender never receives its own change")
}

func TestSession_BroadcastChangeIsNoOpInSolo(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	require.NoError(t, a.Start(ctx))

	node := entities.NewNode(entities.KindText, valueobjects.NewPosition(100, 100))
	a.BroadcastChange(ctx, events.NodeCreate(node))
}

func TestSession_ChangeIDsAreMonotonic(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	b := newTestSession(t, broker, "doc-1", "bob")

	var mu sync.Mutex
	var ids []string
	b.OnRemoteChange(func(c events.LiveChange) {
		mu.Lock()
		ids = append(ids, c.ChangeID)
		mu.Unlock()
	})

	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	for i := 0; i < 5; i++ {
		node := entities.NewNode(entities.KindText, valueobjects.NewPosition(float64(i), 0))
		a.BroadcastChange(ctx, events.NodeCreate(node))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 5)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i], "change ids must sort in send order")
	}
}

func TestSession_CursorPropagation(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	b := newTestSession(t, broker, "doc-1", "bob")
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	pos := valueobjects.NewPosition(42, 24)
	a.PublishCursor(ctx, pos)

	assert.Equal(t, pos, a.LocalCursor())
	assert.Empty(t, a.Cursors(), "own cursor is never in the remote set")

	cursors := b.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, "alice", cursors[0].UserID)
	assert.Equal(t, "User alice", cursors[0].DisplayName)
	assert.Equal(t, pos, cursors[0].Position)
}

func TestSession_CursorThrottleCoalesces(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	a.sendInterval = 40 * time.Millisecond
	b := newTestSession(t, broker, "doc-1", "bob")
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	// First send goes out immediately
	a.PublishCursor(ctx, valueobjects.NewPosition(1, 1))
	require.Len(t, b.Cursors(), 1)

	// Rapid updates inside the window coalesce; only the last survives
	a.PublishCursor(ctx, valueobjects.NewPosition(2, 2))
	a.PublishCursor(ctx, valueobjects.NewPosition(3, 3))

	assert.Equal(t, valueobjects.NewPosition(3, 3), a.LocalCursor(), "local cursor updates unthrottled")
	cursors := b.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, valueobjects.NewPosition(1, 1), cursors[0].Position, "network send still pending")

	require.Eventually(t, func() bool {
		cursors := b.Cursors()
		return len(cursors) == 1 && cursors[0].Position == valueobjects.NewPosition(3, 3)
	}, time.Second, 5*time.Millisecond, "trailing edge flush carries the latest position")
}

func TestSession_CursorExpiry(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	b := newTestSession(t, broker, "doc-1", "bob")
	b.ttl = 50 * time.Millisecond
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	a.PublishCursor(ctx, valueobjects.NewPosition(10, 10))
	require.Len(t, b.Cursors(), 1)

	assert.Eventually(t, func() bool {
		return len(b.Cursors()) == 0
	}, time.Second, 10*time.Millisecond, "an unrefreshed cursor expires")
}

func TestSession_CursorRefreshDefusesOldExpiry(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	a.sendInterval = 0
	b := newTestSession(t, broker, "doc-1", "bob")
	b.ttl = 120 * time.Millisecond
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	a.PublishCursor(ctx, valueobjects.NewPosition(1, 1))
	time.Sleep(60 * time.Millisecond)
	a.PublishCursor(ctx, valueobjects.NewPosition(2, 2))
	time.Sleep(90 * time.Millisecond)

	// 150ms after the first broadcast its timer has fired, but the refresh
	// carried a newer seq so the cursor survives.
	cursors := b.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, valueobjects.NewPosition(2, 2), cursors[0].Position)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	a := newTestSession(t, broker, "doc-1", "alice")
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))
}
