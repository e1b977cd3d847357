package events

import (
	"time"

	"mindmeld/domain/core/entities"
)

// EntityKind distinguishes the two entity families a live change can touch
type EntityKind string

const (
	EntityNode EntityKind = "node"
	EntityEdge EntityKind = "edge"
)

// ChangeAction is the operation a live change describes
type ChangeAction string

const (
	ChangeCreate ChangeAction = "create"
	ChangeUpdate ChangeAction = "update"
	ChangeDelete ChangeAction = "delete"
)

// LiveChange is a broadcast describing one create/update/delete applied to a
// node or edge. It exists only on the wire and is never persisted. Create and
// update carry the full entity; delete carries the id only.
type LiveChange struct {
	ChangeID   string         `json:"change_id"`
	TargetID   string         `json:"target_id"`
	Entity     EntityKind     `json:"entity"`
	Action     ChangeAction   `json:"action"`
	Node       *entities.Node `json:"node,omitempty"`
	Edge       *entities.Edge `json:"edge,omitempty"`
	OriginID   string         `json:"origin_id"`
	OriginName string         `json:"origin_name"`
	SentAt     time.Time      `json:"sent_at"`
}

// NodeCreate builds a create change for a node
func NodeCreate(node entities.Node) LiveChange {
	n := node.Clone()
	return LiveChange{TargetID: n.ID, Entity: EntityNode, Action: ChangeCreate, Node: &n}
}

// NodeUpdate builds an update change carrying the node's new field values
func NodeUpdate(node entities.Node) LiveChange {
	n := node.Clone()
	return LiveChange{TargetID: n.ID, Entity: EntityNode, Action: ChangeUpdate, Node: &n}
}

// NodeDelete builds an id-only delete change for a node
func NodeDelete(nodeID string) LiveChange {
	return LiveChange{TargetID: nodeID, Entity: EntityNode, Action: ChangeDelete}
}

// EdgeCreate builds a create change for an edge
func EdgeCreate(edge entities.Edge) LiveChange {
	e := edge
	return LiveChange{TargetID: e.ID, Entity: EntityEdge, Action: ChangeCreate, Edge: &e}
}

// EdgeDelete builds an id-only delete change for an edge
func EdgeDelete(edgeID string) LiveChange {
	return LiveChange{TargetID: edgeID, Entity: EntityEdge, Action: ChangeDelete}
}
