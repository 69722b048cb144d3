package priceline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2px per price unit: price 100 sits at y=200.
func newTestChart() *HeadlessChart {
	return NewHeadlessChart(200, 0, 400)
}

type dragRecorder struct {
	changes []float64
	starts  []float64
	ends    []float64
}

func (r *dragRecorder) options(id string, price float64) Options {
	return Options{
		ID:            id,
		Price:         price,
		Label:         id,
		OnPriceChange: func(p float64) { r.changes = append(r.changes, p) },
		OnDragStart:   func(p float64) { r.starts = append(r.starts, p) },
		OnDragEnd:     func(p float64) { r.ends = append(r.ends, p) },
	}
}

func TestControllerDrawsOnCreate(t *testing.T) {
	chart := newTestChart()
	NewController(chart, Options{ID: "sl", Price: 120, Color: ColorStopLoss, Label: "P-7"})

	line, ok := chart.Line("sl")
	require.True(t, ok)
	assert.Equal(t, 120.0, line.Price)
	assert.Equal(t, ColorStopLoss, line.Color)
	assert.Equal(t, "P-7", line.Label)
	assert.Equal(t, 2, line.LineWidth)
}

func TestControllerHoverThreshold(t *testing.T) {
	chart := newTestChart()
	c := NewController(chart, Options{ID: "e", Price: 100})

	c.PointerMove(208)
	assert.Equal(t, PhaseHovering, c.Phase())
	assert.Equal(t, CursorGrab, chart.Cursor())

	c.PointerMove(209)
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Equal(t, CursorDefault, chart.Cursor())
}

func TestControllerDownRequiresHover(t *testing.T) {
	chart := newTestChart()
	rec := &dragRecorder{}
	c := NewController(chart, rec.options("e", 100))

	c.PointerMove(300)
	assert.False(t, c.PointerDown())
	assert.True(t, chart.GesturesEnabled())

	c.PointerMove(150)
	c.PointerUp(150)
	assert.Empty(t, rec.changes)
	assert.Empty(t, rec.ends)
	assert.Equal(t, 100.0, c.Price())
}

func TestControllerDrag(t *testing.T) {
	chart := newTestChart()
	rec := &dragRecorder{}
	c := NewController(chart, rec.options("e", 100))

	c.PointerMove(203)
	require.True(t, c.PointerDown())
	assert.Equal(t, PhaseDragging, c.Phase())
	assert.Equal(t, CursorGrabbing, chart.Cursor())
	assert.False(t, chart.GesturesEnabled())

	c.PointerMove(180)
	c.PointerMove(160)
	c.PointerUp(160)

	assert.Equal(t, []float64{100}, rec.starts)
	assert.Equal(t, []float64{110, 120}, rec.changes)
	assert.Equal(t, []float64{120}, rec.ends)
	assert.True(t, chart.GesturesEnabled())

	// Pointer is still on the line after release.
	assert.Equal(t, PhaseHovering, c.Phase())
	assert.Equal(t, CursorGrab, chart.Cursor())

	line, _ := chart.Line("e")
	assert.Equal(t, 120.0, line.Price)
}

func TestControllerRejectsNonPositivePrice(t *testing.T) {
	chart := newTestChart()
	rec := &dragRecorder{}
	c := NewController(chart, rec.options("e", 100))

	c.PointerMove(200)
	require.True(t, c.PointerDown())
	c.PointerMove(400) // price 0
	c.PointerMove(450) // price -25
	c.PointerUp(450)

	assert.Empty(t, rec.changes)
	assert.Equal(t, []float64{100}, rec.ends)
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Equal(t, CursorDefault, chart.Cursor())
}

func TestControllerLeaveEndsDrag(t *testing.T) {
	chart := newTestChart()
	rec := &dragRecorder{}
	c := NewController(chart, rec.options("e", 100))

	c.PointerMove(200)
	require.True(t, c.PointerDown())
	c.PointerMove(190)
	c.PointerLeave()

	assert.Equal(t, []float64{105}, rec.ends)
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.True(t, chart.GesturesEnabled())

	c.PointerLeave()
	c.PointerUp(190)
	assert.Len(t, rec.ends, 1)
}

func TestControllerSetPriceIsSilent(t *testing.T) {
	chart := newTestChart()
	rec := &dragRecorder{}
	c := NewController(chart, rec.options("e", 100))

	assert.True(t, c.SetPrice(130))
	assert.False(t, c.SetPrice(130))
	assert.Empty(t, rec.changes)

	line, _ := chart.Line("e")
	assert.Equal(t, 130.0, line.Price)
}

func TestControllerSetPriceIgnoredWhileDragging(t *testing.T) {
	chart := newTestChart()
	c := NewController(chart, Options{ID: "e", Price: 100})

	c.PointerMove(200)
	require.True(t, c.PointerDown())
	c.PointerMove(180)

	assert.False(t, c.SetPrice(90))
	assert.Equal(t, 110.0, c.Price())
}

func TestControllerDestroyIdempotent(t *testing.T) {
	chart := newTestChart()
	rec := &dragRecorder{}
	c := NewController(chart, rec.options("e", 100))

	c.PointerMove(200)
	require.True(t, c.PointerDown())

	c.Destroy()
	c.Destroy()

	_, ok := chart.Line("e")
	assert.False(t, ok)
	assert.True(t, chart.GesturesEnabled())
	assert.Equal(t, CursorDefault, chart.Cursor())

	c.PointerMove(150)
	c.PointerUp(150)
	assert.Empty(t, rec.changes)
	assert.Empty(t, rec.ends)
}
