package services

import (
	"mindmeld/application/collab"
	"mindmeld/domain/core/entities"
	domainservices "mindmeld/domain/services"
)

// NodeView is a node plus its computed visibility for the rendering layer
type NodeView struct {
	entities.Node
	Hidden bool `json:"hidden"`
}

// EdgeView is an edge with its render style resolved against the document
// default and a color derived from the source node
type EdgeView struct {
	entities.Edge
	ResolvedStyle entities.RenderStyle `json:"resolved_style"`
	Color         string               `json:"color,omitempty"`
}

// View is everything the rendering layer needs per state change. The core
// renders nothing itself.
type View struct {
	Title      string
	Nodes      []NodeView
	Edges      []EdgeView
	Cursors    []collab.RemoteCursor
	Resistance domainservices.Resistance
	Dirty      bool
	CanUndo    bool
	CanRedo    bool
	State      collab.State
}

// View builds the current render state
func (e *Editor) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := View{
		Title:      e.doc.Title,
		Nodes:      make([]NodeView, 0, len(e.doc.Nodes)),
		Edges:      make([]EdgeView, 0, len(e.doc.Edges)),
		Resistance: e.lastResistance,
		Dirty:      e.dirty,
		CanUndo:    e.history.CanUndo(),
		CanRedo:    e.history.CanRedo(),
	}

	for _, n := range e.doc.Nodes {
		out.Nodes = append(out.Nodes, NodeView{
			Node:   n.Clone(),
			Hidden: e.doc.IsHidden(n.ID, e.collapsed),
		})
	}

	for _, edge := range e.doc.Edges {
		view := EdgeView{Edge: edge, ResolvedStyle: edge.Style}
		if view.ResolvedStyle == "" {
			view.ResolvedStyle = e.doc.EdgeRenderStyle
		}
		if source, ok := e.doc.NodeByID(edge.Source); ok {
			view.Color = source.Style.BackgroundColor
		}
		out.Edges = append(out.Edges, view)
	}

	if e.session != nil {
		out.Cursors = e.session.Cursors()
		out.State = e.session.State()
	}
	return out
}
