package valueobjects

// Viewport captures the canvas pan/zoom state needed to convert screen
// coordinates to canvas space. Cursor broadcasts always travel in canvas
// space so viewers at different zoom levels render them correctly.
type Viewport struct {
	OffsetX float64
	OffsetY float64
	Zoom    float64
}

// ToCanvas converts a screen-space point to canvas space
func (v Viewport) ToCanvas(screen Position) Position {
	zoom := v.Zoom
	if zoom == 0 {
		zoom = 1
	}
	return NewPosition((screen.X-v.OffsetX)/zoom, (screen.Y-v.OffsetY)/zoom)
}

// ToScreen converts a canvas-space point back to screen space
func (v Viewport) ToScreen(canvas Position) Position {
	zoom := v.Zoom
	if zoom == 0 {
		zoom = 1
	}
	return NewPosition(canvas.X*zoom+v.OffsetX, canvas.Y*zoom+v.OffsetY)
}
