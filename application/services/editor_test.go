package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindmeld/application/collab"
	"mindmeld/application/ports"
	"mindmeld/domain/core/entities"
	"mindmeld/domain/core/valueobjects"
	"mindmeld/domain/events"
	"mindmeld/infrastructure/realtime"
)

// collabPair is two editors on the same document, escalated to collaborating
type collabPair struct {
	alice, bob *Editor
}

func newCollabPair(t *testing.T) collabPair {
	t.Helper()
	broker := realtime.NewBroker(nil, nil)
	ctx := context.Background()

	sa := collab.NewSession("doc-1", ports.Participant{UserID: "alice", DisplayName: "Alice"}, broker.Client(), zap.NewNop())
	sb := collab.NewSession("doc-1", ports.Participant{UserID: "bob", DisplayName: "Bob"}, broker.Client(), zap.NewNop())
	alice := NewEditor("Shared Map", sa, zap.NewNop())
	bob := NewEditor("Shared Map", sb, zap.NewNop())

	require.NoError(t, sa.Start(ctx))
	require.NoError(t, sb.Start(ctx))
	require.Equal(t, collab.StateCollaborating, sa.State())
	require.Equal(t, collab.StateCollaborating, sb.State())

	t.Cleanup(func() {
		sa.Close(ctx)
		sb.Close(ctx)
	})
	return collabPair{alice: alice, bob: bob}
}

func TestEditor_AddNodeWithParentEdge(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()

	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 100), entities.RootNodeID)

	view := e.View()
	require.Len(t, view.Nodes, 2)
	require.Len(t, view.Edges, 1)
	assert.Equal(t, entities.RootNodeID, view.Edges[0].Source)
	assert.Equal(t, node.ID, view.Edges[0].Target)
	assert.True(t, e.Dirty())
	assert.True(t, e.CanUndo())
}

func TestEditor_UndoRedoPropagatesToCollaborator(t *testing.T) {
	pair := newCollabPair(t)
	ctx := context.Background()

	node := pair.alice.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 100), entities.RootNodeID)

	bobView := pair.bob.View()
	require.Len(t, bobView.Nodes, 2, "collaborator sees the created node")
	require.Len(t, bobView.Edges, 1, "collaborator sees the parent edge")

	require.True(t, pair.alice.Undo(ctx))
	bobView = pair.bob.View()
	assert.Len(t, bobView.Nodes, 1, "undo broadcasts the node deletion")
	assert.Empty(t, bobView.Edges)

	require.True(t, pair.alice.Redo(ctx))
	bobView = pair.bob.View()
	assert.Len(t, bobView.Nodes, 2, "redo re-creates the node for the collaborator")
	assert.Len(t, bobView.Edges, 1)

	assert.False(t, pair.bob.CanUndo(), "remote changes are not locally undoable")
	_ = node
}

func TestEditor_ConnectRejectsSelfAndMissing(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 100), "")

	assert.False(t, e.Connect(ctx, node.ID, node.ID))
	assert.False(t, e.Connect(ctx, node.ID, "missing"))
	assert.True(t, e.Connect(ctx, entities.RootNodeID, node.ID))
}

func TestEditor_DisconnectRequiresEdges(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 100), entities.RootNodeID)
	isolated := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(300, 300), "")

	assert.False(t, e.Disconnect(ctx, isolated.ID))
	assert.True(t, e.Disconnect(ctx, node.ID))
	assert.Empty(t, e.View().Edges)
}

func TestEditor_DeleteNodeProtectsRoot(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 100), entities.RootNodeID)

	assert.False(t, e.DeleteNode(ctx, entities.RootNodeID))
	assert.False(t, e.DeleteNode(ctx, "missing"))
	assert.True(t, e.DeleteNode(ctx, node.ID))
	assert.Len(t, e.View().Nodes, 1)
}

func TestEditor_PayloadValidation(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindLink, valueobjects.NewPosition(100, 100), "")

	assert.True(t, e.Relabel(ctx, node.ID, "Reading List"))
	assert.True(t, e.SetURL(ctx, node.ID, "https://example.com/articles"))
	assert.False(t, e.SetURL(ctx, node.ID, "not a url"))
	assert.True(t, e.Recolor(ctx, node.ID, "#aabbcc"))
	assert.False(t, e.Recolor(ctx, node.ID, "red"))
}

func TestEditor_DragCoalescesIntoOneHistoryEntry(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(1000, 0), "")
	e.MarkSaved()

	require.True(t, e.BeginDrag(node.ID, false))
	e.DragBy(ctx, 40, 0)
	e.DragBy(ctx, 40, 0)
	e.DragBy(ctx, 20, 10)
	e.EndDrag()

	require.True(t, e.CanUndo())

	dragged, ok := e.View().nodeByID(node.ID)
	require.True(t, ok)
	assert.Equal(t, valueobjects.NewPosition(1100, 10), dragged.Position)

	require.True(t, e.Undo(ctx))
	assert.False(t, e.CanUndo(), "the whole gesture is a single history entry")

	reverted, ok := e.View().nodeByID(node.ID)
	require.True(t, ok)
	assert.Equal(t, valueobjects.NewPosition(1000, 0), reverted.Position)
}

func TestEditor_DragResistanceDampsMovement(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	dragged := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(500, 0), "")
	// Neighbor at saturation distance: full strength, 70% damping
	e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(540, 0), "")

	require.True(t, e.BeginDrag(dragged.ID, false))
	resistance := e.DragBy(ctx, 10, 0)
	e.EndDrag()

	assert.True(t, resistance.IsResisting)
	assert.InDelta(t, 1.0, resistance.Strength, 1e-9)

	moved, ok := e.View().nodeByID(dragged.ID)
	require.True(t, ok)
	assert.InDelta(t, 503.0, moved.Position.X, 1e-9, "delta damped to 30 percent")
}

func TestEditor_SubPixelDragLeavesNoHistory(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(1000, 0), "")
	e.MarkSaved()

	require.True(t, e.BeginDrag(node.ID, false))
	e.DragBy(ctx, 0.4, 0.3)
	e.EndDrag()

	assert.False(t, e.CanUndo())
}

func TestEditor_DragWithDescendants(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	parent := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(1000, 1000), "")
	child := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(1500, 1000), parent.ID)

	require.True(t, e.BeginDrag(parent.ID, true))
	e.DragBy(ctx, 10, 20)
	e.EndDrag()

	view := e.View()
	p, _ := view.nodeByID(parent.ID)
	c, _ := view.nodeByID(child.ID)
	assert.Equal(t, valueobjects.NewPosition(1010, 1020), p.Position)
	assert.Equal(t, valueobjects.NewPosition(1510, 1020), c.Position)
}

func TestEditor_LiveDragUpdatesReachCollaborator(t *testing.T) {
	pair := newCollabPair(t)
	ctx := context.Background()
	node := pair.alice.AddNode(ctx, entities.KindText, valueobjects.NewPosition(500, 500), "")

	require.True(t, pair.alice.BeginDrag(node.ID, false))
	pair.alice.DragBy(ctx, 100, 0)

	remote, ok := pair.bob.View().nodeByID(node.ID)
	require.True(t, ok)
	assert.Equal(t, 600.0, remote.Position.X, "intermediate positions broadcast live")

	pair.alice.EndDrag()
	remote, _ = pair.bob.View().nodeByID(node.ID)
	assert.Equal(t, 600.0, remote.Position.X)
}

func TestEditor_ApplyRemoteChangeIsIdempotent(t *testing.T) {
	e := NewEditor("test", nil, nil)
	node := entities.NewNode(entities.KindText, valueobjects.NewPosition(50, 50))

	create := events.NodeCreate(node)
	e.ApplyRemoteChange(create)
	e.ApplyRemoteChange(create)
	assert.Len(t, e.View().Nodes, 2, "duplicate create is a no-op")

	e.ApplyRemoteChange(events.NodeDelete(node.ID))
	e.ApplyRemoteChange(events.NodeDelete(node.ID))
	assert.Len(t, e.View().Nodes, 1)

	assert.False(t, e.Dirty(), "remote changes never mark the document dirty")
	assert.False(t, e.CanUndo(), "remote changes bypass history")
}

func TestEditor_ApplyRemoteChangeProtectsRoot(t *testing.T) {
	e := NewEditor("test", nil, nil)
	e.ApplyRemoteChange(events.NodeDelete(entities.RootNodeID))
	assert.Len(t, e.View().Nodes, 1)
}

func TestEditor_ApplyRemoteEdgeSkipsMissingEndpoints(t *testing.T) {
	e := NewEditor("test", nil, nil)
	edge := entities.NewEdge("ghost-a", "ghost-b")

	e.ApplyRemoteChange(events.EdgeCreate(edge))
	assert.Empty(t, e.View().Edges, "an edge whose endpoint was deleted concurrently is dropped")

	e.ApplyRemoteChange(events.EdgeDelete(edge.ID))
}

func TestEditor_ExportMarkSavedLoad(t *testing.T) {
	e := NewEditor("My Map", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 100), entities.RootNodeID)
	e.SetTitle(ctx, "Renamed Map")

	record := e.Export("doc-1", "alice")
	assert.Equal(t, "doc-1", record.ID)
	assert.Equal(t, "alice", record.OwnerID)
	assert.Equal(t, "Renamed Map", record.Title)
	assert.Len(t, record.Nodes, 2)
	assert.Len(t, record.Edges, 1)

	require.True(t, e.CanUndo())
	e.MarkSaved()
	assert.False(t, e.Dirty())
	assert.False(t, e.CanUndo(), "save moves the undo watermark")

	other := NewEditor("fresh", nil, nil)
	other.Load(record)
	view := other.View()
	assert.Equal(t, "Renamed Map", view.Title)
	assert.Len(t, view.Nodes, 2)
	assert.False(t, other.Dirty())
	assert.False(t, other.CanUndo(), "loading resets history")
	_ = node
}

func TestEditor_LoadEmptyRecordFallsBackToRoot(t *testing.T) {
	e := NewEditor("test", nil, nil)
	e.Load(&ports.DocumentRecord{ID: "doc-1", Title: "Empty"})

	view := e.View()
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, entities.RootNodeID, view.Nodes[0].ID)
	assert.Empty(t, view.Edges)
}

func TestEditor_CollapseHidesDescendantsInView(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	parent := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 0), entities.RootNodeID)
	child := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(200, 0), parent.ID)
	e.MarkSaved()

	e.ToggleCollapse(parent.ID)

	view := e.View()
	hidden := map[string]bool{}
	for _, n := range view.Nodes {
		hidden[n.ID] = n.Hidden
	}
	assert.False(t, hidden[parent.ID], "the collapsed node itself stays visible")
	assert.True(t, hidden[child.ID])
	assert.False(t, e.Dirty(), "collapse is view state, not a document change")
	assert.False(t, e.CanUndo(), "collapse is not undoable")

	e.ToggleCollapse(parent.ID)
	view = e.View()
	for _, n := range view.Nodes {
		assert.False(t, n.Hidden)
	}
}

func TestEditor_ViewResolvesEdgeStyleAndColor(t *testing.T) {
	e := NewEditor("test", nil, nil)
	ctx := context.Background()
	node := e.AddNode(ctx, entities.KindText, valueobjects.NewPosition(100, 0), entities.RootNodeID)
	e.Recolor(ctx, entities.RootNodeID, "#112233")
	e.SetEdgeRenderStyle(ctx, entities.RenderStep)

	view := e.View()
	require.Len(t, view.Edges, 1)
	assert.Equal(t, entities.RenderStep, view.Edges[0].ResolvedStyle, "empty per-edge style falls back to the document default")
	assert.Equal(t, "#112233", view.Edges[0].Color, "edge color follows the source node")
	_ = node
}

func TestEditor_PublishCursorConvertsToCanvasSpace(t *testing.T) {
	broker := realtime.NewBroker(nil, nil)
	session := collab.NewSession("doc-1", ports.Participant{UserID: "alice"}, broker.Client(), zap.NewNop())
	e := NewEditor("test", session, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, session.Start(ctx))
	defer session.Close(ctx)

	viewport := valueobjects.Viewport{OffsetX: 10, OffsetY: 10, Zoom: 2}
	e.PublishCursor(ctx, valueobjects.NewPosition(110, 110), viewport)

	assert.Equal(t, valueobjects.NewPosition(50, 50), session.LocalCursor())
}

// nodeByID is a test convenience over the render snapshot
func (v View) nodeByID(id string) (NodeView, bool) {
	for _, n := range v.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeView{}, false
}
