package stream

import (
	"sync"
	"time"
)

// Coalescer rate-limits deliveries per key. The first value for a key is
// delivered at once and opens a window; values submitted inside the window
// replace each other and the survivor is delivered when the window ends.
// Deliveries for one key never overlap and arrive in submission order.
type Coalescer[K comparable, V any] struct {
	window  time.Duration
	handler func(K, V)

	mu       sync.Mutex
	slots    map[K]*slot[V]
	stopped  bool
	inflight sync.WaitGroup

	// Metrics
	submitted uint64
	delivered uint64
	coalesced uint64
}

type slot[V any] struct {
	pending    V
	hasPending bool
	delivering bool
	timer      *time.Timer
}

// NewCoalescer creates a coalescer that calls handler at most once per
// window per key, plus the leading delivery.
func NewCoalescer[K comparable, V any](window time.Duration, handler func(K, V)) *Coalescer[K, V] {
	return &Coalescer[K, V]{
		window:  window,
		handler: handler,
		slots:   make(map[K]*slot[V]),
	}
}

// Submit offers value for key.
func (c *Coalescer[K, V]) Submit(key K, value V) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.submitted++

	if c.window <= 0 {
		c.delivered++
		c.inflight.Add(1)
		c.mu.Unlock()
		defer c.inflight.Done()
		c.handler(key, value)
		return
	}

	s, ok := c.slots[key]
	if !ok {
		s = &slot[V]{}
		s.timer = time.AfterFunc(c.window, func() { c.flush(key) })
		c.slots[key] = s
		c.deliver(key, s, value)
		return
	}

	if s.hasPending {
		c.coalesced++
	}
	s.pending = value
	s.hasPending = true
	c.mu.Unlock()
}

// deliver hands value to the handler outside the lock. It is called with
// c.mu held and releases it.
func (c *Coalescer[K, V]) deliver(key K, s *slot[V], value V) {
	s.delivering = true
	c.delivered++
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.handler(key, value)

	c.mu.Lock()
	s.delivering = false
	c.mu.Unlock()
}

// flush ends the window of key, delivering the pending value if any. A
// window that ends while the previous delivery is still running is extended.
func (c *Coalescer[K, V]) flush(key K) {
	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok || c.stopped {
		c.mu.Unlock()
		return
	}

	if s.delivering {
		s.timer = time.AfterFunc(c.window, func() { c.flush(key) })
		c.mu.Unlock()
		return
	}

	if !s.hasPending {
		delete(c.slots, key)
		c.mu.Unlock()
		return
	}

	value := s.pending
	var zero V
	s.pending = zero
	s.hasPending = false
	s.timer = time.AfterFunc(c.window, func() { c.flush(key) })
	c.deliver(key, s, value)
}

// Stop cancels every window, drops pending values and waits for deliveries
// already handed to the handler. It must not be called from the handler.
func (c *Coalescer[K, V]) Stop() {
	c.mu.Lock()
	c.stopped = true
	for key, s := range c.slots {
		s.timer.Stop()
		delete(c.slots, key)
	}
	c.mu.Unlock()

	c.inflight.Wait()
}

// Metrics returns coalescer counters.
func (c *Coalescer[K, V]) Metrics() CoalescerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CoalescerMetrics{
		Submitted:  c.submitted,
		Delivered:  c.delivered,
		Coalesced:  c.coalesced,
		ActiveKeys: len(c.slots),
	}
}

// CoalescerMetrics contains coalescer counters.
type CoalescerMetrics struct {
	Submitted  uint64
	Delivered  uint64
	Coalesced  uint64
	ActiveKeys int
}
