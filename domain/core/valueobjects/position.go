package valueobjects

import (
	"math"
)

// Position is a value object representing node coordinates in canvas space.
// Fields are exported because positions travel on the wire in cursor and
// live-change broadcasts.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPosition creates a position, clamping non-finite coordinates to zero.
// Broadcast payloads from other participants are not trusted to be finite.
func NewPosition(x, y float64) Position {
	if !isFinite(x) {
		x = 0
	}
	if !isFinite(y) {
		y = 0
	}
	return Position{X: x, Y: y}
}

// DistanceTo calculates the Euclidean distance to another position
func (p Position) DistanceTo(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Equals checks if two positions are equal
func (p Position) Equals(other Position) bool {
	const epsilon = 1e-9
	return math.Abs(p.X-other.X) < epsilon &&
		math.Abs(p.Y-other.Y) < epsilon
}

// Translate moves the position by the given offsets
func (p Position) Translate(dx, dy float64) Position {
	return NewPosition(p.X+dx, p.Y+dy)
}

// isFinite checks if a coordinate is a valid finite number
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
