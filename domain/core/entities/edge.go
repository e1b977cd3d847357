package entities

import (
	"github.com/google/uuid"
)

// RenderStyle controls how an edge is drawn. The empty value means "use the
// document-wide default".
type RenderStyle string

const (
	RenderBezier   RenderStyle = "bezier"
	RenderStraight RenderStyle = "straight"
	RenderStep     RenderStyle = "step"
)

// DefaultRenderStyle is the document-wide default for new documents
const DefaultRenderStyle = RenderBezier

// Edge is a directed connection between two nodes. Parent/child and
// descendant relations are derived by traversing edges, never stored.
type Edge struct {
	ID     string      `json:"id"`
	Source string      `json:"source"`
	Target string      `json:"target"`
	Style  RenderStyle `json:"style,omitempty"`
}

// NewEdge creates an edge with a fresh id
func NewEdge(source, target string) Edge {
	return Edge{
		ID:     uuid.New().String(),
		Source: source,
		Target: target,
	}
}

// Touches reports whether the edge has the given node as either endpoint
func (e Edge) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// CloneEdges copies an edge slice
func CloneEdges(edges []Edge) []Edge {
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}
