package entities

import (
	"github.com/google/uuid"

	"mindmeld/domain/core/valueobjects"
)

// RootNodeID is the fixed identifier of the root node. Exactly one node with
// this id always exists in a document and it is never deleted.
const RootNodeID = "1"

// NodeKind identifies the closed set of node types a map can contain
type NodeKind string

const (
	KindText     NodeKind = "text"
	KindImage    NodeKind = "image"
	KindLink     NodeKind = "link"
	KindVideo    NodeKind = "video"
	KindAudio    NodeKind = "audio"
	KindSocial   NodeKind = "social"
	KindSubMap   NodeKind = "submap"
	KindPlaylist NodeKind = "playlist"
)

// Payload field keys shared by the mutation pipeline and the history engine.
// Kind-specific editors may store additional keys; the core only ever touches
// these.
const (
	PayloadLabel = "label"
	PayloadURL   = "url"
)

// StyleOverrides holds per-node visual overrides
type StyleOverrides struct {
	BackgroundColor string `json:"backgroundColor,omitempty"`
	BorderColor     string `json:"borderColor,omitempty"`
}

// Node is a single mind-map node. It is a plain data entity: nodes are
// snapshotted wholesale by the history engine and serialized onto the wire by
// the collaboration engine, so every field is exported and JSON-tagged.
type Node struct {
	ID       string                 `json:"id"`
	Kind     NodeKind               `json:"kind"`
	Position valueobjects.Position  `json:"position"`
	Size     *valueobjects.Size     `json:"size,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Style    StyleOverrides         `json:"style,omitempty"`
}

// NewNode creates a node of the given kind with a fresh id
func NewNode(kind NodeKind, position valueobjects.Position) Node {
	return Node{
		ID:       uuid.New().String(),
		Kind:     kind,
		Position: position,
		Payload:  map[string]interface{}{},
	}
}

// NewRootNode creates the protected root node every document starts with
func NewRootNode(label string) Node {
	return Node{
		ID:       RootNodeID,
		Kind:     KindText,
		Position: valueobjects.Position{},
		Payload:  map[string]interface{}{PayloadLabel: label},
	}
}

// Label returns the node's label payload field, if any
func (n Node) Label() string {
	if s, ok := n.Payload[PayloadLabel].(string); ok {
		return s
	}
	return ""
}

// IsRoot reports whether this is the protected root node
func (n Node) IsRoot() bool {
	return n.ID == RootNodeID
}

// Clone returns a deep copy. History snapshots and live-change payloads must
// never alias the canonical document's payload map.
func (n Node) Clone() Node {
	out := n
	if n.Payload != nil {
		out.Payload = make(map[string]interface{}, len(n.Payload))
		for k, v := range n.Payload {
			out.Payload[k] = v
		}
	}
	if n.Size != nil {
		size := *n.Size
		out.Size = &size
	}
	return out
}

// CloneNodes deep-copies a node slice
func CloneNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}
