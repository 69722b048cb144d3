package priceline

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// HeadlessChart is a Chart with a linear price scale and no rendering. Top is
// the price at y=0 and Bottom the price at y=Height. It records what would be
// drawn, which makes it usable from the CLI and in tests.
type HeadlessChart struct {
	mu       sync.Mutex
	top      float64
	bottom   float64
	height   float64
	lines    map[string]Line
	gestures bool
	cursor   Cursor
	draws    int
}

// NewHeadlessChart creates a chart spanning [bottom, top] over height pixels.
func NewHeadlessChart(top, bottom, height float64) *HeadlessChart {
	return &HeadlessChart{
		top:      top,
		bottom:   bottom,
		height:   height,
		lines:    make(map[string]Line),
		gestures: true,
		cursor:   CursorDefault,
	}
}

func (h *HeadlessChart) PriceToCoordinate(price float64) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	span := h.top - h.bottom
	if span == 0 || h.height <= 0 {
		return 0, false
	}
	return (h.top - price) / span * h.height, true
}

func (h *HeadlessChart) CoordinateToPrice(y float64) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	span := h.top - h.bottom
	if span == 0 || h.height <= 0 {
		return 0, false
	}
	return h.top - y/h.height*span, true
}

func (h *HeadlessChart) SetGesturesEnabled(enabled bool) {
	h.mu.Lock()
	h.gestures = enabled
	h.mu.Unlock()
}

func (h *HeadlessChart) SetCursor(cursor Cursor) {
	h.mu.Lock()
	h.cursor = cursor
	h.mu.Unlock()
}

func (h *HeadlessChart) DrawLine(id string, line Line) {
	h.mu.Lock()
	h.lines[id] = line
	h.draws++
	h.mu.Unlock()
}

func (h *HeadlessChart) RemoveLine(id string) {
	h.mu.Lock()
	delete(h.lines, id)
	h.mu.Unlock()
}

// Rescale changes the visible price range.
func (h *HeadlessChart) Rescale(top, bottom float64) {
	h.mu.Lock()
	h.top, h.bottom = top, bottom
	h.mu.Unlock()
}

// Line returns the drawn line with id.
func (h *HeadlessChart) Line(id string) (Line, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.lines[id]
	return l, ok
}

// LineIDs returns the ids of drawn lines in sorted order.
func (h *HeadlessChart) LineIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := maps.Keys(h.lines)
	slices.Sort(ids)
	return ids
}

func (h *HeadlessChart) GesturesEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gestures
}

func (h *HeadlessChart) Cursor() Cursor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Draws counts DrawLine calls.
func (h *HeadlessChart) Draws() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draws
}

var _ Chart = (*HeadlessChart)(nil)
