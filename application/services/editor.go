// Package services holds the application services gluing the domain model,
// the history engine, and the collaboration session together.
package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mindmeld/application/collab"
	"mindmeld/application/history"
	"mindmeld/application/ports"
	"mindmeld/domain/core/aggregates"
	"mindmeld/domain/core/entities"
	"mindmeld/domain/core/validators"
	"mindmeld/domain/core/valueobjects"
	domainservices "mindmeld/domain/services"
	"mindmeld/domain/events"
)

// Editor is the node/edge mutation pipeline. Every user gesture runs through
// it: the document model is updated, a history action is appended, and — when
// a collaboration session is active — the matching live changes are
// broadcast. Inbound remote changes re-enter through ApplyRemoteChange and
// bypass history entirely: remote edits are not locally undoable.
//
// All entry points (local gestures, remote changes, timer callbacks) are
// serialized through one mutex, the Go rendering of the single event queue
// the protocol assumes. Methods are safe for concurrent use.
type Editor struct {
	mu        sync.Mutex
	logger    *zap.Logger
	doc       aggregates.Document
	collapsed aggregates.CollapseSet
	history   *history.Engine
	session   *collab.Session
	validator *validators.NodeValidator
	dirty     bool

	drag           *dragState
	lastResistance domainservices.Resistance
}

type dragState struct {
	nodeID          string
	withDescendants bool
	descendants     map[string]struct{}
	prev            history.Snapshot
}

// NewEditor creates a pipeline over a fresh document containing only the
// root node. Pass a nil session for offline editing.
func NewEditor(title string, session *collab.Session, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Editor{
		logger:    logger,
		doc:       aggregates.NewDocument(title),
		collapsed: aggregates.CollapseSet{},
		history:   history.NewEngine(logger),
		session:   session,
		validator: validators.NewNodeValidator(),
	}
	if session != nil {
		session.OnRemoteChange(e.ApplyRemoteChange)
	}
	return e
}

// AddNode creates a node of the given kind and, when parentID names an
// existing node, an edge connecting it to its parent. Both land in a single
// history entry.
func (e *Editor) AddNode(ctx context.Context, kind entities.NodeKind, pos valueobjects.Position, parentID string) entities.Node {
	e.mu.Lock()
	prev := history.TakeSnapshot(e.doc)
	node := entities.NewNode(kind, pos)

	after := e.doc.WithNodeAdded(node)
	if parentID != "" && parentID != node.ID && after.HasNode(parentID) {
		after = after.WithEdgeAdded(entities.NewEdge(parentID, node.ID))
	}

	action := history.NewAddNode(prev, after)
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return node
}

// Connect adds an edge between two existing nodes. Self-connections are
// rejected here as a silent no-op before reaching the model.
func (e *Editor) Connect(ctx context.Context, sourceID, targetID string) bool {
	e.mu.Lock()
	if sourceID == targetID || !e.doc.HasNode(sourceID) || !e.doc.HasNode(targetID) {
		e.mu.Unlock()
		return false
	}
	prev := history.TakeSnapshot(e.doc)
	action := history.NewConnect(prev, entities.NewEdge(sourceID, targetID))
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return true
}

// Disconnect removes every edge touching the node
func (e *Editor) Disconnect(ctx context.Context, nodeID string) bool {
	e.mu.Lock()
	if len(e.doc.EdgesTouching(nodeID)) == 0 {
		e.mu.Unlock()
		return false
	}
	prev := history.TakeSnapshot(e.doc)
	action := history.NewDisconnect(prev, nodeID)
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return true
}

// DeleteNode removes the node, its descendants, and every touching edge.
// Deleting the root or an unknown id is a silent no-op.
func (e *Editor) DeleteNode(ctx context.Context, nodeID string) bool {
	e.mu.Lock()
	if nodeID == entities.RootNodeID || !e.doc.HasNode(nodeID) {
		e.mu.Unlock()
		return false
	}
	prev := history.TakeSnapshot(e.doc)
	action := history.NewDeleteNode(prev, e.doc, nodeID)
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return true
}

// Relabel sets the node's label payload field
func (e *Editor) Relabel(ctx context.Context, nodeID, label string) bool {
	if err := e.validator.ValidateLabel(label); err != nil {
		e.logger.Warn("label rejected", zap.String("node_id", nodeID), zap.Error(err))
		return false
	}
	return e.updateNode(ctx, nodeID, history.FieldLabel, label)
}

// SetURL sets the node's url payload field
func (e *Editor) SetURL(ctx context.Context, nodeID, url string) bool {
	if err := e.validator.ValidateURL(url); err != nil {
		e.logger.Warn("url rejected", zap.String("node_id", nodeID), zap.Error(err))
		return false
	}
	return e.updateNode(ctx, nodeID, history.FieldURL, url)
}

// Recolor sets the background color on the node and all its descendants
func (e *Editor) Recolor(ctx context.Context, nodeID, color string) bool {
	if err := e.validator.ValidateColor(color); err != nil {
		e.logger.Warn("color rejected", zap.String("node_id", nodeID), zap.Error(err))
		return false
	}
	return e.updateNode(ctx, nodeID, history.FieldColor, color)
}

func (e *Editor) updateNode(ctx context.Context, nodeID string, field history.Field, value string) bool {
	e.mu.Lock()
	if !e.doc.HasNode(nodeID) {
		e.mu.Unlock()
		return false
	}
	prev := history.TakeSnapshot(e.doc)
	action := history.NewUpdateNode(prev, e.doc, nodeID, field, value)
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return true
}

// Resize replaces the node's width and height
func (e *Editor) Resize(ctx context.Context, nodeID string, size valueobjects.Size) bool {
	e.mu.Lock()
	if !e.doc.HasNode(nodeID) {
		e.mu.Unlock()
		return false
	}
	prev := history.TakeSnapshot(e.doc)
	action := history.NewResizeNode(prev, nodeID, size)
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return true
}

// SetTitle replaces the document title
func (e *Editor) SetTitle(ctx context.Context, title string) {
	e.mu.Lock()
	prev := history.TakeSnapshot(e.doc)
	action := history.NewUpdateTitle(prev, title)
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
}

// SetEdgeRenderStyle replaces the document-wide default edge render style
func (e *Editor) SetEdgeRenderStyle(ctx context.Context, style entities.RenderStyle) {
	e.mu.Lock()
	prev := history.TakeSnapshot(e.doc)
	action := history.NewChangeEdgeStyle(prev, style)
	changes := e.commitLocked(action)
	e.mu.Unlock()

	e.broadcast(ctx, changes)
}

// commitLocked applies an action, appends it to history, and marks the
// document dirty. Returns the live changes to broadcast.
func (e *Editor) commitLocked(action history.Action) []events.LiveChange {
	var changes []events.LiveChange
	e.doc, changes = action.Apply(e.doc)
	e.history.Append(action)
	e.dirty = true
	return changes
}

// BeginDrag starts a drag gesture for the node. The pre-drag snapshot is
// captured once; intermediate positions are applied to the document for live
// feedback but coalesce into a single history entry at EndDrag.
func (e *Editor) BeginDrag(nodeID string, withDescendants bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.doc.HasNode(nodeID) || e.drag != nil {
		return false
	}
	drag := &dragState{
		nodeID:          nodeID,
		withDescendants: withDescendants,
		prev:            history.TakeSnapshot(e.doc),
	}
	if withDescendants {
		drag.descendants = e.doc.DescendantsOf(nodeID)
	}
	e.drag = drag
	return true
}

// DragBy applies one intermediate drag delta. The delta runs through the
// resistance calculator first; the damped position becomes the real position,
// broadcast to collaborators like any other mutation. Returns the resistance
// for rendering hints.
func (e *Editor) DragBy(ctx context.Context, dx, dy float64) domainservices.Resistance {
	e.mu.Lock()
	drag := e.drag
	if drag == nil {
		e.mu.Unlock()
		return domainservices.Resistance{}
	}
	dragged, ok := e.doc.NodeByID(drag.nodeID)
	if !ok {
		e.mu.Unlock()
		return domainservices.Resistance{}
	}

	resistance := domainservices.ComputeResistance(dragged, e.doc.Nodes)
	e.lastResistance = resistance
	dx, dy = resistance.DampDelta(dx, dy)

	targets := map[string]valueobjects.Position{
		drag.nodeID: dragged.Position.Translate(dx, dy),
	}
	for id := range drag.descendants {
		if n, ok := e.doc.NodeByID(id); ok {
			targets[id] = n.Position.Translate(dx, dy)
		}
	}
	e.doc = e.doc.WithNodesMoved(targets)
	e.dirty = true

	var changes []events.LiveChange
	for id := range targets {
		if n, ok := e.doc.NodeByID(id); ok {
			changes = append(changes, events.NodeUpdate(n))
		}
	}
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return resistance
}

// EndDrag commits the drag's terminal, resistance-adjusted positions as one
// history entry. Sub-pixel drags are discarded by the engine.
func (e *Editor) EndDrag() {
	e.mu.Lock()
	defer e.mu.Unlock()
	drag := e.drag
	e.drag = nil
	e.lastResistance = domainservices.Resistance{}
	if drag == nil {
		return
	}

	targets := map[string]valueobjects.Position{}
	if n, ok := e.doc.NodeByID(drag.nodeID); ok {
		targets[drag.nodeID] = n.Position
	}
	for id := range drag.descendants {
		if n, ok := e.doc.NodeByID(id); ok {
			targets[id] = n.Position
		}
	}
	if len(targets) == 0 {
		return
	}
	// Intermediate updates were already broadcast live; the history entry
	// only records the gesture for undo.
	e.history.Append(history.NewMoveNode(drag.prev, targets))
}

// Undo reverts the most recent undoable action and broadcasts the equivalent
// live changes so collaborators observe the same effect
func (e *Editor) Undo(ctx context.Context) bool {
	e.mu.Lock()
	doc, changes, ok := e.history.Undo(e.doc)
	if ok {
		e.doc = doc
		e.dirty = true
	}
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return ok
}

// Redo reapplies the most recently undone action
func (e *Editor) Redo(ctx context.Context) bool {
	e.mu.Lock()
	doc, changes, ok := e.history.Redo(e.doc)
	if ok {
		e.doc = doc
		e.dirty = true
	}
	e.mu.Unlock()

	e.broadcast(ctx, changes)
	return ok
}

// CanUndo reports whether undo is available above the save watermark
func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo()
}

// CanRedo reports whether redone actions remain
func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanRedo()
}

// ToggleCollapse flips descendant visibility for the node. View-state only:
// no history entry, no broadcast, no dirty flag.
func (e *Editor) ToggleCollapse(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collapsed.Toggle(nodeID)
}

// ApplyRemoteChange applies an inbound collaborator mutation directly to the
// document, bypassing history. All operations are idempotent and keyed by
// stable ids: creates skip existing entities, updates and deletes tolerate
// absent ones.
func (e *Editor) ApplyRemoteChange(change events.LiveChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case change.Entity == events.EntityNode && change.Action == events.ChangeCreate:
		if change.Node == nil || e.doc.HasNode(change.Node.ID) {
			return
		}
		e.doc = e.doc.WithNodeAdded(*change.Node)

	case change.Entity == events.EntityNode && change.Action == events.ChangeUpdate:
		if change.Node == nil || !e.doc.HasNode(change.Node.ID) {
			return
		}
		e.doc = e.doc.WithNodeReplaced(*change.Node)

	case change.Entity == events.EntityNode && change.Action == events.ChangeDelete:
		if change.TargetID == entities.RootNodeID {
			return
		}
		e.doc = e.doc.WithoutNodes(map[string]struct{}{change.TargetID: {}})

	case change.Entity == events.EntityEdge && change.Action == events.ChangeCreate:
		if change.Edge == nil || e.doc.HasEdge(change.Edge.ID) {
			return
		}
		if !e.doc.HasNode(change.Edge.Source) || !e.doc.HasNode(change.Edge.Target) {
			// Endpoint deleted concurrently; dropping the edge matches
			// what the delete already did everywhere else.
			return
		}
		e.doc = e.doc.WithEdgeAdded(*change.Edge)

	case change.Entity == events.EntityEdge && change.Action == events.ChangeDelete:
		e.doc = e.doc.WithoutEdge(change.TargetID)

	case change.Entity == events.EntityEdge && change.Action == events.ChangeUpdate:
		if change.Edge == nil || !e.doc.HasEdge(change.Edge.ID) {
			return
		}
		e.doc = e.doc.WithoutEdge(change.Edge.ID).WithEdgeAdded(*change.Edge)

	default:
		e.logger.Warn("unknown live change dropped",
			zap.String("entity", string(change.Entity)),
			zap.String("action", string(change.Action)),
		)
	}
}

// PublishCursor converts a screen-space pointer position to canvas space and
// hands it to the session
func (e *Editor) PublishCursor(ctx context.Context, screen valueobjects.Position, viewport valueobjects.Viewport) {
	if e.session == nil {
		return
	}
	e.session.PublishCursor(ctx, viewport.ToCanvas(screen))
}

// Dirty reports whether unsaved changes exist
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// Export reads the persistable state out for an external save
func (e *Editor) Export(id, ownerID string) *ports.DocumentRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &ports.DocumentRecord{
		ID:              id,
		OwnerID:         ownerID,
		Title:           e.doc.Title,
		Nodes:           entities.CloneNodes(e.doc.Nodes),
		Edges:           entities.CloneEdges(e.doc.Edges),
		EdgeRenderStyle: e.doc.EdgeRenderStyle,
		UpdatedAt:       time.Now(),
	}
}

// MarkSaved moves the save watermark and clears the dirty bit. Actions at or
// below the watermark become permanently non-undoable.
func (e *Editor) MarkSaved() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.MarkSaved()
	e.dirty = false
}

// Load replaces the document wholesale from a stored record. The history log
// is reset and the save watermark cleared.
func (e *Editor) Load(record *ports.DocumentRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	nodes := entities.CloneNodes(record.Nodes)
	if len(nodes) == 0 {
		nodes = []entities.Node{entities.NewRootNode(record.Title)}
	}
	style := record.EdgeRenderStyle
	if style == "" {
		style = entities.DefaultRenderStyle
	}
	e.doc = aggregates.Document{
		Nodes:           nodes,
		Edges:           entities.CloneEdges(record.Edges),
		Title:           record.Title,
		EdgeRenderStyle: style,
	}
	e.collapsed = aggregates.CollapseSet{}
	e.history.Reset()
	e.dirty = false
	e.drag = nil
}

// broadcast sends live changes when a session is active; applied-local-first
// means this always runs after the document mutation
func (e *Editor) broadcast(ctx context.Context, changes []events.LiveChange) {
	if e.session == nil || len(changes) == 0 {
		return
	}
	e.session.BroadcastChanges(ctx, changes)
}
