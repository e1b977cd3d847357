// Package history implements the append-only undo/redo engine: an ordered
// action log, a cursor, and a save watermark below which undo is disallowed.
package history

import (
	"math"

	"mindmeld/domain/core/aggregates"
	"mindmeld/domain/core/entities"
	"mindmeld/domain/core/valueobjects"
	"mindmeld/domain/events"
)

// Kind identifies the action families the log records
type Kind string

const (
	KindAddNode         Kind = "add-node"
	KindMoveNode        Kind = "move-node"
	KindConnect         Kind = "connect"
	KindDisconnect      Kind = "disconnect"
	KindDeleteNode      Kind = "delete-node"
	KindUpdateNode      Kind = "update-node"
	KindUpdateTitle     Kind = "update-title"
	KindResizeNode      Kind = "resize-node"
	KindChangeEdgeStyle Kind = "change-edge-render-style"
)

// Snapshot is a full copy of the document captured before a mutation. Bulk
// actions (add, delete) restore from it wholesale; field-level actions patch
// individual entities out of it by id. This hybrid is intentional.
type Snapshot struct {
	Nodes           []entities.Node
	Edges           []entities.Edge
	Title           string
	EdgeRenderStyle entities.RenderStyle
}

// TakeSnapshot deep-copies the document's state
func TakeSnapshot(doc aggregates.Document) Snapshot {
	return Snapshot{
		Nodes:           entities.CloneNodes(doc.Nodes),
		Edges:           entities.CloneEdges(doc.Edges),
		Title:           doc.Title,
		EdgeRenderStyle: doc.EdgeRenderStyle,
	}
}

func (s Snapshot) nodeByID(id string) (entities.Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return entities.Node{}, false
}

// Action is one recorded mutation. Apply reapplies its forward data (redo),
// Revert re-derives state from the pre-mutation snapshot (undo). Both return
// the live changes collaborators need to observe the same effect, since undo
// and redo are never replayed through a remote participant's own log.
type Action interface {
	Kind() Kind
	Before() Snapshot
	Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange)
	Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange)
}

// AddNode records a bulk node addition (the node itself plus any edge
// connecting it to its parent). Undo and redo replace the node and edge lists
// wholesale from the recorded before/after states.
type AddNode struct {
	prev  Snapshot
	after Snapshot
}

// NewAddNode records the pre-add snapshot and the post-add state
func NewAddNode(prev Snapshot, after aggregates.Document) *AddNode {
	return &AddNode{prev: prev, after: TakeSnapshot(after)}
}

func (a *AddNode) Kind() Kind       { return KindAddNode }
func (a *AddNode) Before() Snapshot { return a.prev }

func (a *AddNode) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	doc.Nodes = entities.CloneNodes(a.after.Nodes)
	doc.Edges = entities.CloneEdges(a.after.Edges)

	var changes []events.LiveChange
	for _, n := range diffNodes(a.after, a.prev) {
		changes = append(changes, events.NodeCreate(n))
	}
	for _, e := range diffEdges(a.after, a.prev) {
		changes = append(changes, events.EdgeCreate(e))
	}
	return doc, changes
}

func (a *AddNode) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	doc.Nodes = entities.CloneNodes(a.prev.Nodes)
	doc.Edges = entities.CloneEdges(a.prev.Edges)

	var changes []events.LiveChange
	for _, n := range diffNodes(a.after, a.prev) {
		changes = append(changes, events.NodeDelete(n.ID))
	}
	return doc, changes
}

// DeleteNode records a node deletion. Redo recomputes the descendant set
// freshly; undo reinstates exactly the nodes and edges recorded at delete
// time.
type DeleteNode struct {
	prev    Snapshot
	nodeID  string
	deleted map[string]struct{}
}

// NewDeleteNode records the snapshot and the node-plus-descendants set being
// removed
func NewDeleteNode(prev Snapshot, doc aggregates.Document, nodeID string) *DeleteNode {
	deleted := doc.DescendantsOf(nodeID)
	deleted[nodeID] = struct{}{}
	return &DeleteNode{prev: prev, nodeID: nodeID, deleted: deleted}
}

func (a *DeleteNode) Kind() Kind       { return KindDeleteNode }
func (a *DeleteNode) Before() Snapshot { return a.prev }

func (a *DeleteNode) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	doomed := doc.DescendantsOf(a.nodeID)
	doomed[a.nodeID] = struct{}{}

	var changes []events.LiveChange
	for _, n := range doc.Nodes {
		if _, gone := doomed[n.ID]; gone {
			changes = append(changes, events.NodeDelete(n.ID))
		}
	}
	return doc.WithoutNodes(doomed), changes
}

func (a *DeleteNode) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	var changes []events.LiveChange
	for id := range a.deleted {
		if doc.HasNode(id) {
			continue
		}
		if n, ok := a.prev.nodeByID(id); ok {
			doc = doc.WithNodeAdded(n)
			changes = append(changes, events.NodeCreate(n))
		}
	}
	for _, e := range a.prev.Edges {
		_, src := a.deleted[e.Source]
		_, dst := a.deleted[e.Target]
		if !src && !dst {
			continue
		}
		if doc.HasEdge(e.ID) || !doc.HasNode(e.Source) || !doc.HasNode(e.Target) {
			continue
		}
		doc = doc.WithEdgeAdded(e)
		changes = append(changes, events.EdgeCreate(e))
	}
	return doc, changes
}

// MoveNode records a move of one node and, when "move with descendants" mode
// was active, all its descendants. Forward data is the target position map.
type MoveNode struct {
	prev    Snapshot
	targets map[string]valueobjects.Position
}

// NewMoveNode records the snapshot and the target positions
func NewMoveNode(prev Snapshot, targets map[string]valueobjects.Position) *MoveNode {
	return &MoveNode{prev: prev, targets: targets}
}

func (a *MoveNode) Kind() Kind       { return KindMoveNode }
func (a *MoveNode) Before() Snapshot { return a.prev }

// negligible reports whether every moved node stayed within one pixel of its
// prior position on both axes. Such moves are drag jitter and not recorded.
func (a *MoveNode) negligible() bool {
	for id, pos := range a.targets {
		before, ok := a.prev.nodeByID(id)
		if !ok {
			continue
		}
		if math.Abs(pos.X-before.Position.X) >= 1 || math.Abs(pos.Y-before.Position.Y) >= 1 {
			return false
		}
	}
	return true
}

func (a *MoveNode) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	doc = doc.WithNodesMoved(a.targets)
	return doc, nodeUpdates(doc, a.targets)
}

func (a *MoveNode) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	restored := make(map[string]valueobjects.Position, len(a.targets))
	for id := range a.targets {
		if before, ok := a.prev.nodeByID(id); ok {
			restored[id] = before.Position
		}
	}
	doc = doc.WithNodesMoved(restored)
	return doc, nodeUpdates(doc, restored)
}

// Connect records one edge addition
type Connect struct {
	prev Snapshot
	edge entities.Edge
}

// NewConnect records the snapshot and the connection endpoints
func NewConnect(prev Snapshot, edge entities.Edge) *Connect {
	return &Connect{prev: prev, edge: edge}
}

func (a *Connect) Kind() Kind       { return KindConnect }
func (a *Connect) Before() Snapshot { return a.prev }

func (a *Connect) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	return doc.WithEdgeAdded(a.edge), []events.LiveChange{events.EdgeCreate(a.edge)}
}

func (a *Connect) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	return doc.WithoutEdge(a.edge.ID), []events.LiveChange{events.EdgeDelete(a.edge.ID)}
}

// Disconnect records the removal of every edge touching one node
type Disconnect struct {
	prev   Snapshot
	nodeID string
}

// NewDisconnect records the snapshot and the disconnected node
func NewDisconnect(prev Snapshot, nodeID string) *Disconnect {
	return &Disconnect{prev: prev, nodeID: nodeID}
}

func (a *Disconnect) Kind() Kind       { return KindDisconnect }
func (a *Disconnect) Before() Snapshot { return a.prev }

func (a *Disconnect) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	var changes []events.LiveChange
	for _, e := range doc.EdgesTouching(a.nodeID) {
		changes = append(changes, events.EdgeDelete(e.ID))
	}
	return doc.WithoutEdgesTouching(a.nodeID), changes
}

func (a *Disconnect) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	var changes []events.LiveChange
	for _, e := range a.prev.Edges {
		if !e.Touches(a.nodeID) || doc.HasEdge(e.ID) {
			continue
		}
		doc = doc.WithEdgeAdded(e)
		changes = append(changes, events.EdgeCreate(e))
	}
	return doc, changes
}

// Field is the node field an UpdateNode action touches
type Field string

const (
	FieldLabel Field = "label"
	FieldURL   Field = "url"
	FieldColor Field = "color"
)

// UpdateNode records a single-field node update. Color updates affect the
// node and all its descendants; the affected set is recorded so redo reapplies
// to exactly the same nodes.
type UpdateNode struct {
	prev     Snapshot
	nodeID   string
	field    Field
	value    string
	affected map[string]struct{}
}

// NewUpdateNode records the snapshot, field, new value, and affected set
func NewUpdateNode(prev Snapshot, doc aggregates.Document, nodeID string, field Field, value string) *UpdateNode {
	affected := map[string]struct{}{nodeID: {}}
	if field == FieldColor {
		for id := range doc.DescendantsOf(nodeID) {
			affected[id] = struct{}{}
		}
	}
	return &UpdateNode{prev: prev, nodeID: nodeID, field: field, value: value, affected: affected}
}

func (a *UpdateNode) Kind() Kind       { return KindUpdateNode }
func (a *UpdateNode) Before() Snapshot { return a.prev }

func (a *UpdateNode) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	switch a.field {
	case FieldColor:
		doc = doc.WithNodesRecolored(a.affected, a.value)
	case FieldURL:
		doc = doc.WithNodePayload(a.nodeID, entities.PayloadURL, a.value)
	default:
		doc = doc.WithNodePayload(a.nodeID, entities.PayloadLabel, a.value)
	}
	return doc, a.updates(doc)
}

func (a *UpdateNode) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	for id := range a.affected {
		before, ok := a.prev.nodeByID(id)
		if !ok {
			continue
		}
		current, ok := doc.NodeByID(id)
		if !ok {
			continue
		}
		restored := current.Clone()
		switch a.field {
		case FieldColor:
			restored.Style.BackgroundColor = before.Style.BackgroundColor
		case FieldURL:
			restorePayloadField(&restored, before, entities.PayloadURL)
		default:
			restorePayloadField(&restored, before, entities.PayloadLabel)
		}
		doc = doc.WithNodeReplaced(restored)
	}
	return doc, a.updates(doc)
}

func (a *UpdateNode) updates(doc aggregates.Document) []events.LiveChange {
	var changes []events.LiveChange
	for id := range a.affected {
		if n, ok := doc.NodeByID(id); ok {
			changes = append(changes, events.NodeUpdate(n))
		}
	}
	return changes
}

// ResizeNode records a width/height change. Dimensions are kind-aware: image
// nodes carry raw numeric values, other kinds CSS-style strings; the snapshot
// preserves whichever form the node had.
type ResizeNode struct {
	prev   Snapshot
	nodeID string
	size   valueobjects.Size
}

// NewResizeNode records the snapshot and the new size
func NewResizeNode(prev Snapshot, nodeID string, size valueobjects.Size) *ResizeNode {
	return &ResizeNode{prev: prev, nodeID: nodeID, size: size}
}

func (a *ResizeNode) Kind() Kind       { return KindResizeNode }
func (a *ResizeNode) Before() Snapshot { return a.prev }

func (a *ResizeNode) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	doc = doc.WithNodeResized(a.nodeID, a.size)
	return doc, a.update(doc)
}

func (a *ResizeNode) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	before, ok := a.prev.nodeByID(a.nodeID)
	if !ok {
		return doc, nil
	}
	current, ok := doc.NodeByID(a.nodeID)
	if !ok {
		return doc, nil
	}
	restored := current.Clone()
	restored.Size = nil
	if before.Size != nil {
		size := *before.Size
		restored.Size = &size
	}
	doc = doc.WithNodeReplaced(restored)
	return doc, a.update(doc)
}

func (a *ResizeNode) update(doc aggregates.Document) []events.LiveChange {
	if n, ok := doc.NodeByID(a.nodeID); ok {
		return []events.LiveChange{events.NodeUpdate(n)}
	}
	return nil
}

// UpdateTitle records a document title change. Titles are document metadata,
// not node/edge entities, so no live change is emitted.
type UpdateTitle struct {
	prev  Snapshot
	title string
}

// NewUpdateTitle records the snapshot and the new title
func NewUpdateTitle(prev Snapshot, title string) *UpdateTitle {
	return &UpdateTitle{prev: prev, title: title}
}

func (a *UpdateTitle) Kind() Kind       { return KindUpdateTitle }
func (a *UpdateTitle) Before() Snapshot { return a.prev }

func (a *UpdateTitle) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	return doc.WithTitle(a.title), nil
}

func (a *UpdateTitle) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	return doc.WithTitle(a.prev.Title), nil
}

// ChangeEdgeStyle records a change of the document-wide default edge render
// style
type ChangeEdgeStyle struct {
	prev  Snapshot
	style entities.RenderStyle
}

// NewChangeEdgeStyle records the snapshot and the new style
func NewChangeEdgeStyle(prev Snapshot, style entities.RenderStyle) *ChangeEdgeStyle {
	return &ChangeEdgeStyle{prev: prev, style: style}
}

func (a *ChangeEdgeStyle) Kind() Kind       { return KindChangeEdgeStyle }
func (a *ChangeEdgeStyle) Before() Snapshot { return a.prev }

func (a *ChangeEdgeStyle) Apply(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	return doc.WithEdgeRenderStyle(a.style), nil
}

func (a *ChangeEdgeStyle) Revert(doc aggregates.Document) (aggregates.Document, []events.LiveChange) {
	return doc.WithEdgeRenderStyle(a.prev.EdgeRenderStyle), nil
}

// diffNodes returns nodes present in a but not in b, matched by id
func diffNodes(a, b Snapshot) []entities.Node {
	var out []entities.Node
	for _, n := range a.Nodes {
		if _, ok := b.nodeByID(n.ID); !ok {
			out = append(out, n)
		}
	}
	return out
}

// diffEdges returns edges present in a but not in b, matched by id
func diffEdges(a, b Snapshot) []entities.Edge {
	var out []entities.Edge
	for _, e := range a.Edges {
		found := false
		for _, be := range b.Edges {
			if be.ID == e.ID {
				found = true
				break
			}
		}
		if !found {
			out = append(out, e)
		}
	}
	return out
}

// nodeUpdates builds update changes for the listed ids out of the current doc
func nodeUpdates(doc aggregates.Document, ids map[string]valueobjects.Position) []events.LiveChange {
	var changes []events.LiveChange
	for id := range ids {
		if n, ok := doc.NodeByID(id); ok {
			changes = append(changes, events.NodeUpdate(n))
		}
	}
	return changes
}

func restorePayloadField(node *entities.Node, before entities.Node, key string) {
	prior, had := before.Payload[key]
	if node.Payload == nil {
		node.Payload = map[string]interface{}{}
	}
	if had {
		node.Payload[key] = prior
	} else {
		delete(node.Payload, key)
	}
}
