package stream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// AllTopics subscribes to every published topic.
const AllTopics = "*"

// HubConfig holds configuration for a Hub.
type HubConfig struct {
	// BufferSize is the size of the internal publish buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Message is one published value and its topic.
type Message[T any] struct {
	Topic string
	Value T
	At    time.Time
}

// Subscriber is a channel subscriber with metadata.
type Subscriber[T any] struct {
	Topic        string
	Channel      chan Message[T]
	DroppedCount int
	CreatedAt    time.Time
}

// Hub fans published values out to per-topic subscriber channels. Publishing
// never blocks: a full publish buffer or a full subscriber channel drops the
// value for that receiver.
type Hub[T any] struct {
	config HubConfig

	mu          sync.RWMutex
	subscribers map[string][]*Subscriber[T]
	in          chan Message[T]
	done        chan struct{}
	started     bool

	metricsMu sync.Mutex
	received  uint64
	broadcast uint64
	dropped   uint64
}

// NewHub creates a hub with the default configuration.
func NewHub[T any]() *Hub[T] {
	return NewHubWithConfig[T](DefaultHubConfig())
}

// NewHubWithConfig creates a hub.
func NewHubWithConfig[T any](config HubConfig) *Hub[T] {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 1
	}
	return &Hub[T]{
		config:      config,
		subscribers: make(map[string][]*Subscriber[T]),
		in:          make(chan Message[T], config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the distribution loop. It returns once the loop is running;
// the loop ends with ctx or Stop.
func (h *Hub[T]) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.loop(ctx)
}

func (h *Hub[T]) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg := <-h.in:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()
			h.deliver(msg)
		}
	}
}

// Stop ends the loop and closes every subscriber channel.
func (h *Hub[T]) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for topic, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, topic)
	}
}

// Subscribe returns a channel receiving every value published on topic.
// AllTopics receives everything.
func (h *Hub[T]) Subscribe(topic string) <-chan Message[T] {
	sub := &Subscriber[T]{
		Topic:     topic,
		Channel:   make(chan Message[T], h.config.SubscriberBufferSize),
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[topic] = append(h.subscribers[topic], sub)
	h.mu.Unlock()

	return sub.Channel
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub[T]) Unsubscribe(topic string, ch <-chan Message[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[topic]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[topic]) == 0 {
		delete(h.subscribers, topic)
	}
}

// Publish queues value for distribution on topic.
func (h *Hub[T]) Publish(topic string, value T) {
	select {
	case h.in <- Message[T]{Topic: topic, Value: value, At: time.Now()}:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
	}
}

func (h *Hub[T]) deliver(msg Message[T]) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.subscribers[msg.Topic]
	if msg.Topic != AllTopics {
		targets = append(append([]*Subscriber[T](nil), targets...), h.subscribers[AllTopics]...)
	}

	var sent, dropped uint64
	for _, sub := range targets {
		select {
		case sub.Channel <- msg:
			sent++
		default:
			sub.DroppedCount++
			dropped++
		}
	}

	h.metricsMu.Lock()
	h.broadcast += sent
	h.dropped += dropped
	h.metricsMu.Unlock()
}

// Topics returns the topics with subscribers in sorted order.
func (h *Hub[T]) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topics := maps.Keys(h.subscribers)
	slices.Sort(topics)
	return topics
}

// SubscriberCount returns the number of subscribers across topics.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, subs := range h.subscribers {
		n += len(subs)
	}
	return n
}

// IsStarted returns whether the loop is running.
func (h *Hub[T]) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Metrics returns hub counters.
func (h *Hub[T]) Metrics() HubMetrics {
	subs := h.SubscriberCount()
	topics := len(h.Topics())

	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{
		Received:    h.received,
		Broadcast:   h.broadcast,
		Dropped:     h.dropped,
		Subscribers: subs,
		Topics:      topics,
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received    uint64
	Broadcast   uint64
	Dropped     uint64
	Subscribers int
	Topics      int
}
