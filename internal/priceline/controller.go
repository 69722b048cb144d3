package priceline

import (
	"math"
	"sync"
)

// DefaultHitThreshold is the pointer distance in pixels that counts as
// hovering a line.
const DefaultHitThreshold = 8.0

// Phase is the pointer state of a controller.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseHovering
	PhaseDragging
)

func (p Phase) String() string {
	switch p {
	case PhaseHovering:
		return "hovering"
	case PhaseDragging:
		return "dragging"
	default:
		return "idle"
	}
}

// Options configures a Controller.
type Options struct {
	ID           string
	Price        float64
	Color        string
	LineWidth    int
	Label        string
	HitThreshold float64

	// OnPriceChange fires once per accepted drag move.
	OnPriceChange func(price float64)
	// OnDragStart fires when a drag begins, with the price before the drag.
	OnDragStart func(price float64)
	// OnDragEnd fires exactly once per drag with the final price.
	OnDragEnd func(price float64)
}

// Controller turns pointer events over a chart into price edits of one line.
type Controller struct {
	chart Chart
	id    string

	mu        sync.Mutex
	opts      Options
	phase     Phase
	destroyed bool
}

// NewController draws the line and returns its controller.
func NewController(chart Chart, opts Options) *Controller {
	if opts.HitThreshold <= 0 {
		opts.HitThreshold = DefaultHitThreshold
	}
	if opts.LineWidth <= 0 {
		opts.LineWidth = 2
	}
	if opts.Color == "" {
		opts.Color = "#dc2626"
	}

	c := &Controller{chart: chart, id: opts.ID, opts: opts}
	c.draw()
	return c
}

// draw renders the current options; callers hold mu or own c exclusively.
func (c *Controller) draw() {
	c.chart.DrawLine(c.id, Line{
		Price:     c.opts.Price,
		Color:     c.opts.Color,
		LineWidth: c.opts.LineWidth,
		Label:     c.opts.Label,
	})
}

func (c *Controller) hits(y float64) bool {
	coord, ok := c.chart.PriceToCoordinate(c.opts.Price)
	if !ok {
		return false
	}
	return math.Abs(y-coord) <= c.opts.HitThreshold
}

// setHover updates the hover phase and the cursor when it changes.
func (c *Controller) setHover(hovering bool) {
	was := c.phase == PhaseHovering
	if hovering {
		c.phase = PhaseHovering
	} else {
		c.phase = PhaseIdle
	}
	if hovering != was {
		if hovering {
			c.chart.SetCursor(CursorGrab)
		} else {
			c.chart.SetCursor(CursorDefault)
		}
	}
}

// PointerMove handles pointer motion at vertical coordinate y. While dragging
// it moves the line; otherwise it tracks hover.
func (c *Controller) PointerMove(y float64) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	if c.phase != PhaseDragging {
		c.setHover(c.hits(y))
		c.mu.Unlock()
		return
	}

	price, ok := c.chart.CoordinateToPrice(y)
	if !ok || price <= 0 {
		c.mu.Unlock()
		return
	}
	c.opts.Price = price
	c.draw()
	onChange := c.opts.OnPriceChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(price)
	}
}

// PointerDown starts a drag if the pointer is over the line.
func (c *Controller) PointerDown() bool {
	c.mu.Lock()
	if c.destroyed || c.phase != PhaseHovering {
		c.mu.Unlock()
		return false
	}

	c.phase = PhaseDragging
	c.chart.SetCursor(CursorGrabbing)
	c.chart.SetGesturesEnabled(false)
	price := c.opts.Price
	onStart := c.opts.OnDragStart
	c.mu.Unlock()

	if onStart != nil {
		onStart(price)
	}
	return true
}

// PointerUp ends a drag at y, then re-checks hover at that position.
func (c *Controller) PointerUp(y float64) {
	c.endDrag(&y)
}

// PointerLeave ends any drag and clears hover.
func (c *Controller) PointerLeave() {
	c.endDrag(nil)
}

func (c *Controller) endDrag(y *float64) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	if c.phase != PhaseDragging {
		if y == nil {
			c.setHover(false)
		}
		c.mu.Unlock()
		return
	}

	price := c.opts.Price
	onEnd := c.opts.OnDragEnd
	c.chart.SetGesturesEnabled(true)

	// Hover is re-evaluated from scratch after a drag.
	c.phase = PhaseIdle
	c.chart.SetCursor(CursorDefault)
	if y != nil && c.hits(*y) {
		c.phase = PhaseHovering
		c.chart.SetCursor(CursorGrab)
	}
	c.mu.Unlock()

	if onEnd != nil {
		onEnd(price)
	}
}

// SetPrice moves the line without firing callbacks. It is ignored while the
// line is being dragged.
func (c *Controller) SetPrice(price float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed || c.phase == PhaseDragging || c.opts.Price == price {
		return false
	}
	c.opts.Price = price
	c.draw()
	return true
}

// SetLabel changes the axis label.
func (c *Controller) SetLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed || c.opts.Label == label {
		return
	}
	c.opts.Label = label
	c.draw()
}

// SetColor changes the line color.
func (c *Controller) SetColor(color string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed || c.opts.Color == color {
		return
	}
	c.opts.Color = color
	c.draw()
}

func (c *Controller) Price() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Price
}

func (c *Controller) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Label
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Destroy removes the line and detaches the controller. Later pointer events
// are ignored. Destroying twice is a no-op.
func (c *Controller) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	c.destroyed = true

	if c.phase == PhaseDragging {
		c.chart.SetGesturesEnabled(true)
	}
	c.phase = PhaseIdle
	c.chart.RemoveLine(c.id)
	c.chart.SetCursor(CursorDefault)
}
