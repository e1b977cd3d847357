package aggregates

import (
	"mindmeld/domain/core/entities"
	"mindmeld/domain/core/valueobjects"
)

// Document is the canonical in-memory state of one open mind map: the node
// and edge arrays plus the two document-wide scalars (title, default edge
// render style).
//
// All mutations are pure transformations returning a new Document value.
// Callers that need undo are responsible for snapshotting before mutating;
// the aggregate itself keeps no history.
type Document struct {
	Nodes           []entities.Node
	Edges           []entities.Edge
	Title           string
	EdgeRenderStyle entities.RenderStyle
}

// NewDocument creates a document containing only the protected root node
func NewDocument(title string) Document {
	return Document{
		Nodes:           []entities.Node{entities.NewRootNode(title)},
		Edges:           []entities.Edge{},
		Title:           title,
		EdgeRenderStyle: entities.DefaultRenderStyle,
	}
}

// CollapseSet is the set of node ids whose descendants are hidden. It is
// view-state only: never snapshotted by the history engine and never
// persisted.
type CollapseSet map[string]struct{}

// Toggle flips the collapse state for a node
func (c CollapseSet) Toggle(nodeID string) {
	if _, ok := c[nodeID]; ok {
		delete(c, nodeID)
	} else {
		c[nodeID] = struct{}{}
	}
}

// Has reports whether the node is collapsed
func (c CollapseSet) Has(nodeID string) bool {
	_, ok := c[nodeID]
	return ok
}

// NodeByID returns the node with the given id, if present
func (d Document) NodeByID(id string) (entities.Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return entities.Node{}, false
}

// EdgeByID returns the edge with the given id, if present
func (d Document) EdgeByID(id string) (entities.Edge, bool) {
	for _, e := range d.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return entities.Edge{}, false
}

// HasNode reports whether a node with the given id exists
func (d Document) HasNode(id string) bool {
	_, ok := d.NodeByID(id)
	return ok
}

// HasEdge reports whether an edge with the given id exists
func (d Document) HasEdge(id string) bool {
	_, ok := d.EdgeByID(id)
	return ok
}

// DescendantsOf returns the transitive closure of nodes reachable from the
// given node by following edges source-to-target. The data is normally a
// tree, but nothing structurally prevents a cycle, so traversal carries a
// visited set.
func (d Document) DescendantsOf(nodeID string) map[string]struct{} {
	visited := map[string]struct{}{nodeID: {}}
	frontier := []string{nodeID}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for _, e := range d.Edges {
			if e.Source != current {
				continue
			}
			if _, seen := visited[e.Target]; seen {
				continue
			}
			visited[e.Target] = struct{}{}
			frontier = append(frontier, e.Target)
		}
	}

	delete(visited, nodeID)
	return visited
}

// IsHidden reports whether any strict ancestor of the node is collapsed
func (d Document) IsHidden(nodeID string, collapsed CollapseSet) bool {
	visited := map[string]struct{}{nodeID: {}}
	frontier := []string{nodeID}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		for _, e := range d.Edges {
			if e.Target != current {
				continue
			}
			if _, seen := visited[e.Source]; seen {
				continue
			}
			if collapsed.Has(e.Source) {
				return true
			}
			visited[e.Source] = struct{}{}
			frontier = append(frontier, e.Source)
		}
	}

	return false
}

// Snapshot returns a deep copy safe to retain across later mutations
func (d Document) Snapshot() Document {
	return Document{
		Nodes:           entities.CloneNodes(d.Nodes),
		Edges:           entities.CloneEdges(d.Edges),
		Title:           d.Title,
		EdgeRenderStyle: d.EdgeRenderStyle,
	}
}

// WithNodeAdded returns a document with the node appended. Adding an id that
// already exists is a no-op, which makes remote create broadcasts idempotent.
func (d Document) WithNodeAdded(node entities.Node) Document {
	if d.HasNode(node.ID) {
		return d
	}
	out := d
	out.Nodes = append(entities.CloneNodes(d.Nodes), node.Clone())
	return out
}

// WithNodeReplaced returns a document with the node of the same id replaced
// wholesale (last-writer-wins at node granularity). Missing ids are a no-op.
func (d Document) WithNodeReplaced(node entities.Node) Document {
	out := d
	out.Nodes = entities.CloneNodes(d.Nodes)
	for i := range out.Nodes {
		if out.Nodes[i].ID == node.ID {
			out.Nodes[i] = node.Clone()
			break
		}
	}
	return out
}

// WithoutNodeAndDescendants returns a document with the node, its freshly
// recomputed descendants, and every edge touching any of them removed.
// Deleting the root is a no-op, not an error.
func (d Document) WithoutNodeAndDescendants(nodeID string) Document {
	if nodeID == entities.RootNodeID {
		return d
	}
	doomed := d.DescendantsOf(nodeID)
	doomed[nodeID] = struct{}{}
	return d.WithoutNodes(doomed)
}

// WithoutNodes returns a document with the given node set and every edge
// touching it removed
func (d Document) WithoutNodes(ids map[string]struct{}) Document {
	out := d
	out.Nodes = make([]entities.Node, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if _, gone := ids[n.ID]; !gone {
			out.Nodes = append(out.Nodes, n.Clone())
		}
	}
	out.Edges = make([]entities.Edge, 0, len(d.Edges))
	for _, e := range d.Edges {
		if _, src := ids[e.Source]; src {
			continue
		}
		if _, dst := ids[e.Target]; dst {
			continue
		}
		out.Edges = append(out.Edges, e)
	}
	return out
}

// WithNodesMoved returns a document with each listed node moved to its
// target position. Unknown ids are skipped.
func (d Document) WithNodesMoved(targets map[string]valueobjects.Position) Document {
	out := d
	out.Nodes = entities.CloneNodes(d.Nodes)
	for i := range out.Nodes {
		if pos, ok := targets[out.Nodes[i].ID]; ok {
			out.Nodes[i].Position = pos
		}
	}
	return out
}

// WithEdgeAdded returns a document with the edge appended. Duplicate ids are
// a no-op for remote-create idempotence.
func (d Document) WithEdgeAdded(edge entities.Edge) Document {
	if d.HasEdge(edge.ID) {
		return d
	}
	out := d
	out.Edges = append(entities.CloneEdges(d.Edges), edge)
	return out
}

// WithoutEdge returns a document with the edge removed, tolerating absence
func (d Document) WithoutEdge(edgeID string) Document {
	out := d
	out.Edges = make([]entities.Edge, 0, len(d.Edges))
	for _, e := range d.Edges {
		if e.ID != edgeID {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// WithoutEdgesTouching returns a document with every edge that has the node
// as either endpoint removed
func (d Document) WithoutEdgesTouching(nodeID string) Document {
	out := d
	out.Edges = make([]entities.Edge, 0, len(d.Edges))
	for _, e := range d.Edges {
		if !e.Touches(nodeID) {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// EdgesTouching returns every edge with the node as either endpoint
func (d Document) EdgesTouching(nodeID string) []entities.Edge {
	var out []entities.Edge
	for _, e := range d.Edges {
		if e.Touches(nodeID) {
			out = append(out, e)
		}
	}
	return out
}

// WithNodePayload returns a document with one payload field set on the node
func (d Document) WithNodePayload(nodeID, key string, value interface{}) Document {
	out := d
	out.Nodes = entities.CloneNodes(d.Nodes)
	for i := range out.Nodes {
		if out.Nodes[i].ID == nodeID {
			if out.Nodes[i].Payload == nil {
				out.Nodes[i].Payload = map[string]interface{}{}
			}
			out.Nodes[i].Payload[key] = value
			break
		}
	}
	return out
}

// WithNodesRecolored returns a document with the background color set on
// every listed node
func (d Document) WithNodesRecolored(ids map[string]struct{}, color string) Document {
	out := d
	out.Nodes = entities.CloneNodes(d.Nodes)
	for i := range out.Nodes {
		if _, ok := ids[out.Nodes[i].ID]; ok {
			out.Nodes[i].Style.BackgroundColor = color
		}
	}
	return out
}

// WithNodeResized returns a document with the node's size replaced
func (d Document) WithNodeResized(nodeID string, size valueobjects.Size) Document {
	out := d
	out.Nodes = entities.CloneNodes(d.Nodes)
	for i := range out.Nodes {
		if out.Nodes[i].ID == nodeID {
			s := size
			out.Nodes[i].Size = &s
			break
		}
	}
	return out
}

// WithTitle returns a document with the title replaced
func (d Document) WithTitle(title string) Document {
	out := d
	out.Title = title
	return out
}

// WithEdgeRenderStyle returns a document with the document-wide default edge
// render style replaced
func (d Document) WithEdgeRenderStyle(style entities.RenderStyle) Document {
	out := d
	out.EdgeRenderStyle = style
	return out
}
