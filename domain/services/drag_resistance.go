package services

import (
	"mindmeld/domain/core/entities"
)

// Drag-resistance tuning. Nodes within ResistanceDistance canvas units of the
// dragged node contribute resistance; at MaxResistanceDistance or closer the
// per-node contribution saturates at 1.
const (
	ResistanceDistance    = 80.0
	MaxResistanceDistance = 40.0

	// MaxDamping caps how much of an attempted movement resistance can
	// remove. The node is slowed near neighbors, never frozen.
	MaxDamping = 0.7
)

// Resistance is the result of a proximity check during an in-progress drag.
// The rendering layer uses IsResisting and AffectedNodeIDs for visual hints;
// the mutation pipeline uses Strength to damp the proposed position delta.
type Resistance struct {
	IsResisting     bool
	Strength        float64
	AffectedNodeIDs map[string]struct{}
}

// ComputeResistance calculates the damping factor for a dragged node based on
// Euclidean distance to every other node. Overall strength is the maximum
// across contributing nodes, each contributing
// clamp((ResistanceDistance-d)/(ResistanceDistance-MaxResistanceDistance), 0, 1).
//
// Pure function of the current node list; it holds no state and is recomputed
// on every intermediate drag position update.
func ComputeResistance(dragged entities.Node, others []entities.Node) Resistance {
	result := Resistance{AffectedNodeIDs: map[string]struct{}{}}

	for _, other := range others {
		if other.ID == dragged.ID {
			continue
		}
		distance := dragged.Position.DistanceTo(other.Position)
		if distance >= ResistanceDistance {
			continue
		}

		strength := (ResistanceDistance - distance) / (ResistanceDistance - MaxResistanceDistance)
		strength = clamp(strength, 0, 1)

		result.IsResisting = true
		result.AffectedNodeIDs[other.ID] = struct{}{}
		if strength > result.Strength {
			result.Strength = strength
		}
	}

	return result
}

// DampDelta shrinks a proposed drag delta by the current resistance strength.
// The damped delta is the real movement: the committed position is not
// treated differently from intermediate ones.
func (r Resistance) DampDelta(dx, dy float64) (float64, float64) {
	factor := 1 - r.Strength*MaxDamping
	return dx * factor, dy * factor
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
