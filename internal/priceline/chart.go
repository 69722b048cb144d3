// Package priceline implements draggable horizontal price lines for entry,
// stop-loss and take-profit levels, and the manager that commits them.
package priceline

// Cursor is the pointer shape shown over the chart.
type Cursor string

const (
	CursorDefault  Cursor = "default"
	CursorGrab     Cursor = "grab"
	CursorGrabbing Cursor = "grabbing"
)

// Line is the drawn state of one price line.
type Line struct {
	Price     float64
	Color     string
	LineWidth int
	Label     string
}

// Chart is the surface a price line is drawn on. Coordinates are pixels from
// the top of the price pane; the bool result is false when the chart cannot
// map the value.
type Chart interface {
	PriceToCoordinate(price float64) (float64, bool)
	CoordinateToPrice(y float64) (float64, bool)
	SetGesturesEnabled(enabled bool)
	SetCursor(cursor Cursor)
	DrawLine(id string, line Line)
	RemoveLine(id string)
}
