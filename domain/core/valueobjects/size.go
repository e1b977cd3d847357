package valueobjects

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Dimension is a single width or height value. Image nodes store raw numeric
// pixel dimensions; every other kind stores CSS-style strings ("240px",
// "auto"). Both representations must round-trip through JSON unchanged, so
// the distinction is preserved rather than normalized away.
type Dimension struct {
	Value   string
	Numeric bool
}

// NewPixelDimension creates a numeric pixel dimension
func NewPixelDimension(px float64) Dimension {
	return Dimension{Value: strconv.FormatFloat(px, 'f', -1, 64), Numeric: true}
}

// NewCSSDimension creates a CSS-style string dimension
func NewCSSDimension(v string) Dimension {
	return Dimension{Value: v}
}

// Pixels returns the numeric value, or 0 for CSS-style dimensions
func (d Dimension) Pixels() float64 {
	if !d.Numeric {
		return 0
	}
	px, _ := strconv.ParseFloat(d.Value, 64)
	return px
}

// IsZero reports whether the dimension is unset
func (d Dimension) IsZero() bool {
	return d.Value == ""
}

// MarshalJSON encodes numeric dimensions as JSON numbers and CSS-style
// dimensions as strings
func (d Dimension) MarshalJSON() ([]byte, error) {
	if d.Numeric {
		return []byte(d.Value), nil
	}
	return json.Marshal(d.Value)
}

// UnmarshalJSON accepts either a JSON number or a string
func (d *Dimension) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = Dimension{Value: s}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("dimension must be a number or string: %w", err)
	}
	*d = NewPixelDimension(n)
	return nil
}

// Size holds a node's width and height
type Size struct {
	Width  Dimension `json:"width"`
	Height Dimension `json:"height"`
}

// Equals checks if two sizes are equal
func (s Size) Equals(other Size) bool {
	return s.Width == other.Width && s.Height == other.Height
}
