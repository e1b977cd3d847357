package integration

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindmeld/application/collab"
	"mindmeld/application/ports"
	"mindmeld/application/services"
	"mindmeld/domain/core/entities"
	"mindmeld/domain/core/valueobjects"
	"mindmeld/infrastructure/persistence/memory"
	"mindmeld/infrastructure/realtime"
	"mindmeld/interfaces/http/rest"
	"mindmeld/interfaces/http/rest/handlers"
	"mindmeld/pkg/auth"
	"mindmeld/pkg/common"
	apperrors "mindmeld/pkg/errors"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

type stack struct {
	server    *httptest.Server
	validator *auth.Validator
}

func startStack(t *testing.T) *stack {
	t.Helper()
	logger := zap.NewNop()
	validator := auth.NewValidator("integration-test-signing-secret")
	broker := realtime.NewBroker(logger, nil)
	store := memory.NewDocumentStore()
	eh := apperrors.NewErrorHandler(logger, false)

	router := rest.NewRouter(rest.Dependencies{
		Logger:    logger,
		Validator: validator,
		Documents: handlers.NewDocumentHandler(store, eh, logger),
		Realtime:  realtime.NewServer(broker, logger),
		CORS:      []string{"http://localhost:5173"},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &stack{server: server, validator: validator}
}

// connect dials the realtime endpoint over a real websocket and builds an
// editor on top of it, the way a browser client would.
func (s *stack) connect(t *testing.T, userID, displayName, docID string) (*services.Editor, *collab.Session, *realtime.WSTransport) {
	t.Helper()
	token, err := s.validator.Issue(common.Principal{UserID: userID, DisplayName: displayName}, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/realtime?token=" + token
	transport, err := realtime.Dial(context.Background(), url, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { transport.Close() })

	session := collab.NewSession(docID, ports.Participant{UserID: userID, DisplayName: displayName}, transport, zap.NewNop())
	editor := services.NewEditor("Shared Map", session, zap.NewNop())
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(func() { session.Close(context.Background()) })
	return editor, session, transport
}

func nodeCount(e *services.Editor) int {
	return len(e.View().Nodes)
}

func TestCollaboration_EscalatesOverWebsocket(t *testing.T) {
	s := startStack(t)

	_, alice, _ := s.connect(t, "alice", "Alice", "doc-1")
	require.Eventually(t, func() bool {
		return alice.State() == collab.StateSolo && len(alice.Roster()) == 1
	}, waitFor, tick)

	_, bob, _ := s.connect(t, "bob", "Bob", "doc-1")

	require.Eventually(t, func() bool {
		return alice.State() == collab.StateCollaborating && bob.State() == collab.StateCollaborating
	}, waitFor, tick, "both sessions escalate once two participants are present")
	assert.Len(t, alice.Roster(), 2)
}

func TestCollaboration_LiveChangesPropagate(t *testing.T) {
	s := startStack(t)

	aliceEd, alice, _ := s.connect(t, "alice", "Alice", "doc-1")
	bobEd, bob, _ := s.connect(t, "bob", "Bob", "doc-1")
	require.Eventually(t, func() bool {
		return alice.State() == collab.StateCollaborating && bob.State() == collab.StateCollaborating
	}, waitFor, tick)

	aliceEd.AddNode(context.Background(), entities.KindText, valueobjects.NewPosition(300, 200), entities.RootNodeID)

	require.Eventually(t, func() bool {
		return nodeCount(bobEd) == 2
	}, waitFor, tick, "bob receives alice's node over the socket")
	assert.Equal(t, 2, nodeCount(aliceEd))

	// Undo travels the same path as the original mutation
	require.True(t, aliceEd.Undo(context.Background()))
	require.Eventually(t, func() bool {
		return nodeCount(bobEd) == 1
	}, waitFor, tick)

	// Remote applies never touch the receiver's history
	assert.False(t, bobEd.CanUndo())
}

func TestCollaboration_CursorsPropagateAndClear(t *testing.T) {
	s := startStack(t)

	aliceEd, alice, _ := s.connect(t, "alice", "Alice", "doc-1")
	_, bob, bobConn := s.connect(t, "bob", "Bob", "doc-1")
	require.Eventually(t, func() bool {
		return alice.State() == collab.StateCollaborating && bob.State() == collab.StateCollaborating
	}, waitFor, tick)

	viewport := valueobjects.Viewport{Zoom: 1}
	aliceEd.PublishCursor(context.Background(), valueobjects.NewPosition(120, 80), viewport)

	require.Eventually(t, func() bool {
		cursors := bob.Cursors()
		return len(cursors) == 1 && cursors[0].UserID == "alice"
	}, waitFor, tick)
	assert.Empty(t, alice.Cursors(), "own cursor is never in the remote set")

	// Bob dropping off the socket returns alice to solo and clears state
	require.NoError(t, bobConn.Close())
	require.Eventually(t, func() bool {
		return alice.State() == collab.StateSolo && len(alice.Roster()) == 1
	}, waitFor, tick)
	assert.Empty(t, alice.Cursors())
}

func TestCollaboration_ReEscalationAfterPeerReturns(t *testing.T) {
	s := startStack(t)

	aliceEd, alice, _ := s.connect(t, "alice", "Alice", "doc-1")
	_, bob1, bob1Conn := s.connect(t, "bob", "Bob", "doc-1")
	require.Eventually(t, func() bool {
		return alice.State() == collab.StateCollaborating && bob1.State() == collab.StateCollaborating
	}, waitFor, tick)

	// Peer drops, alice tears the sync channel down...
	require.NoError(t, bob1Conn.Close())
	require.Eventually(t, func() bool {
		return alice.State() == collab.StateSolo
	}, waitFor, tick)

	// ...and rejoining escalates onto a fresh channel that actually delivers
	bobEd2, bob2, _ := s.connect(t, "bob", "Bob", "doc-1")
	require.Eventually(t, func() bool {
		return alice.State() == collab.StateCollaborating && bob2.State() == collab.StateCollaborating
	}, waitFor, tick)

	aliceEd.AddNode(context.Background(), entities.KindText, valueobjects.NewPosition(300, 200), entities.RootNodeID)
	require.Eventually(t, func() bool {
		return nodeCount(bobEd2) == 2
	}, waitFor, tick, "live changes flow over the re-escalated channel")
	require.True(t, aliceEd.Undo(context.Background()))
	require.Eventually(t, func() bool {
		return nodeCount(bobEd2) == 1
	}, waitFor, tick)
}

func TestCollaboration_DocumentScopedChannels(t *testing.T) {
	s := startStack(t)

	_, alice, _ := s.connect(t, "alice", "Alice", "doc-1")
	_, bob, _ := s.connect(t, "bob", "Bob", "doc-2")

	// Different documents never see each other
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, collab.StateSolo, alice.State())
	assert.Equal(t, collab.StateSolo, bob.State())
	assert.Len(t, alice.Roster(), 1)
}
