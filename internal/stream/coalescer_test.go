package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

type delivery struct {
	key   string
	value int
}

type deliveryLog struct {
	mu  sync.Mutex
	got []delivery
}

func (l *deliveryLog) handle(key string, value int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, delivery{key: key, value: value})
}

func (l *deliveryLog) snapshot() []delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]delivery(nil), l.got...)
}

// Feature: tradedesk, Property 8: A burst inside one window delivers the leading and the latest value
//
// Property: For any burst of N submissions within one window, the first value
// is delivered at once, the last value is delivered when the window ends, and
// nothing else is delivered.
func TestProperty_BurstCoalescesToLatest(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("leading plus trailing delivery", prop.ForAll(
		func(n int, base int) bool {
			values := make([]int, n)
			for i := range values {
				values[i] = base + i
			}
			log := &deliveryLog{}
			c := NewCoalescer[string, int](50*time.Millisecond, log.handle)
			defer c.Stop()

			for _, v := range values {
				c.Submit("k", v)
			}
			time.Sleep(120 * time.Millisecond)

			got := log.snapshot()
			if len(values) == 1 {
				return len(got) == 1 && got[0].value == values[0]
			}
			return len(got) == 2 &&
				got[0].value == values[0] &&
				got[1].value == values[len(values)-1]
		},
		gen.IntRange(1, 25),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestCoalescerDeliveriesBoundedByElapsedTime(t *testing.T) {
	log := &deliveryLog{}
	window := 20 * time.Millisecond
	c := NewCoalescer[string, int](window, log.handle)
	defer c.Stop()

	start := time.Now()
	for i := 0; i < 200; i++ {
		c.Submit("k", i)
		time.Sleep(time.Millisecond)
	}
	elapsed := time.Since(start)
	time.Sleep(3 * window)

	got := log.snapshot()
	bound := int(elapsed/window) + 2
	assert.LessOrEqual(t, len(got), bound)
	assert.Equal(t, 199, got[len(got)-1].value)
}

func TestCoalescerKeysAreIndependent(t *testing.T) {
	log := &deliveryLog{}
	c := NewCoalescer[string, int](time.Hour, log.handle)
	defer c.Stop()

	c.Submit("a", 1)
	c.Submit("b", 2)
	c.Submit("a", 3)

	assert.Equal(t, []delivery{{"a", 1}, {"b", 2}}, log.snapshot())
	m := c.Metrics()
	assert.Equal(t, uint64(3), m.Submitted)
	assert.Equal(t, uint64(2), m.Delivered)
	assert.Equal(t, 2, m.ActiveKeys)
}

func TestCoalescerStopDropsPending(t *testing.T) {
	log := &deliveryLog{}
	c := NewCoalescer[string, int](20*time.Millisecond, log.handle)

	c.Submit("a", 1)
	c.Submit("a", 2)
	c.Stop()
	c.Submit("a", 3)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, []delivery{{"a", 1}}, log.snapshot())
}

func TestCoalescerZeroWindowPassesThrough(t *testing.T) {
	log := &deliveryLog{}
	c := NewCoalescer[string, int](0, log.handle)

	c.Submit("a", 1)
	c.Submit("a", 2)

	assert.Len(t, log.snapshot(), 2)
}

func TestCoalescerFlushWaitsForLeadingDelivery(t *testing.T) {
	log := &deliveryLog{}
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewCoalescer[string, int](time.Millisecond, func(key string, value int) {
		if value == 1 {
			close(entered)
			<-release
		}
		log.handle(key, value)
	})
	defer c.Stop()

	go c.Submit("a", 1)
	<-entered
	c.Submit("a", 2)

	// Several windows pass while the leading call is still running.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, log.snapshot())

	close(release)
	assert.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []delivery{{"a", 1}, {"a", 2}}, log.snapshot())
}

func TestCoalescerStopWaitsForRunningDelivery(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewCoalescer[string, int](time.Hour, func(string, int) {
		close(entered)
		<-release
	})

	go c.Submit("a", 1)
	<-entered

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the delivery finished")
	}
}
