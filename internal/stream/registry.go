// Package stream provides subscription bookkeeping and rate-limited fan-out
// of push updates.
package stream

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"tradedesk/internal/feed"
)

// RegistryConfig names the wire events a registry emits.
type RegistryConfig struct {
	Name             string
	SubscribeEvent   string
	UnsubscribeEvent string
	// ResubscribeEvent is sent for keys that were live before a drop. When
	// empty those keys are sent SubscribeEvent with their original payload.
	ResubscribeEvent string
	// ResubscribePayload builds the resubscribe body for a key.
	ResubscribePayload func(key string) interface{}
	Logger             zerolog.Logger
}

// ChartRegistryConfig returns the configuration for chart subscriptions.
func ChartRegistryConfig(logger zerolog.Logger) RegistryConfig {
	return RegistryConfig{
		Name:             "chart",
		SubscribeEvent:   feed.OutSubscribeChart,
		UnsubscribeEvent: feed.OutUnsubscribeChart,
		ResubscribeEvent: feed.OutResubscribeChart,
		ResubscribePayload: func(key string) interface{} {
			return feed.ChartKey{InstanceID: key}
		},
		Logger: logger,
	}
}

// OptionDataRegistryConfig returns the configuration for per-instance
// premium subscriptions. The server has no unsubscribe or resubscribe for
// them, so live keys are re-sent their subscribe payload after a reconnect.
func OptionDataRegistryConfig(logger zerolog.Logger) RegistryConfig {
	return RegistryConfig{
		Name:           "options",
		SubscribeEvent: feed.OutSubscribeOptionsData,
		Logger:         logger,
	}
}

// Request identifies a subscription and carries its subscribe payload.
type Request struct {
	Key     string
	Payload interface{}
}

// Consumer receives messages routed to a subscription.
type Consumer[T any] interface {
	OnMessage(key string, msg T)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc[T any] func(key string, msg T)

// OnMessage implements Consumer.
func (f ConsumerFunc[T]) OnMessage(key string, msg T) {
	f(key, msg)
}

type entry[T any] struct {
	req      Request
	consumer Consumer[T]
	onWire   bool
}

// Registry tracks active subscriptions on one connection so that each key is
// sent at most once and live keys are resumed after a reconnect.
type Registry[T any] struct {
	cfg    RegistryConfig
	sender feed.Sender
	logger zerolog.Logger

	mu        sync.Mutex
	entries   map[string]*entry[T]
	resumable map[string]struct{}

	// Metrics
	subscribesSent   uint64
	resubscribesSent uint64
	unsubscribesSent uint64
	dispatched       uint64
	dropped          uint64
}

// NewRegistry creates a registry that emits on sender.
func NewRegistry[T any](cfg RegistryConfig, sender feed.Sender) *Registry[T] {
	return &Registry[T]{
		cfg:       cfg,
		sender:    sender,
		logger:    cfg.Logger.With().Str("registry", cfg.Name).Logger(),
		entries:   make(map[string]*entry[T]),
		resumable: make(map[string]struct{}),
	}
}

// Subscribe registers consumer for req.Key. An existing key only has its
// consumer replaced; nothing is sent.
func (r *Registry[T]) Subscribe(req Request, consumer Consumer[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[req.Key]; ok {
		e.consumer = consumer
		return
	}

	e := &entry[T]{req: req, consumer: consumer}
	r.entries[req.Key] = e

	if r.sender.IsConnected() {
		r.sendSubscribe(e)
	}
}

// Unsubscribe removes key. The unsubscribe event is sent only if the key was
// live on the wire.
func (r *Registry[T]) Unsubscribe(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return
	}
	delete(r.entries, key)
	delete(r.resumable, key)

	if !e.onWire || r.cfg.UnsubscribeEvent == "" {
		return
	}
	if err := r.sender.Send(r.cfg.UnsubscribeEvent, r.resubscribePayload(key)); err != nil {
		r.logger.Debug().Err(err).Str("key", key).Msg("Unsubscribe not sent")
		return
	}
	r.unsubscribesSent++
}

// HandleDisconnect marks every live key as resumable.
func (r *Registry[T]) HandleDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if e.onWire {
			e.onWire = false
			r.resumable[key] = struct{}{}
		}
	}
}

// HandleConnect brings every registered key onto the wire: resumable keys
// get one resubscribe, keys never sent get one subscribe.
func (r *Registry[T]) HandleConnect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := maps.Keys(r.entries)
	slices.Sort(keys)

	for _, key := range keys {
		e := r.entries[key]
		if e.onWire {
			continue
		}

		if _, ok := r.resumable[key]; ok && r.cfg.ResubscribeEvent != "" {
			if err := r.sender.Send(r.cfg.ResubscribeEvent, r.resubscribePayload(key)); err != nil {
				r.logger.Warn().Err(err).Str("key", key).Msg("Resubscribe failed")
				continue
			}
			e.onWire = true
			delete(r.resumable, key)
			r.resubscribesSent++
			continue
		}

		if r.sendSubscribe(e) {
			delete(r.resumable, key)
		}
	}
}

func (r *Registry[T]) sendSubscribe(e *entry[T]) bool {
	if err := r.sender.Send(r.cfg.SubscribeEvent, e.req.Payload); err != nil {
		r.logger.Warn().Err(err).Str("key", e.req.Key).Msg("Subscribe failed")
		return false
	}
	e.onWire = true
	r.subscribesSent++
	return true
}

func (r *Registry[T]) resubscribePayload(key string) interface{} {
	if r.cfg.ResubscribePayload != nil {
		return r.cfg.ResubscribePayload(key)
	}
	return feed.ChartKey{InstanceID: key}
}

// Dispatch routes msg to the consumer of key. It returns false when the key
// has no subscription.
func (r *Registry[T]) Dispatch(key string, msg T) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	var consumer Consumer[T]
	if ok {
		consumer = e.consumer
		r.dispatched++
	} else {
		r.dropped++
	}
	r.mu.Unlock()

	if consumer == nil {
		return false
	}
	consumer.OnMessage(key, msg)
	return true
}

// Broadcast routes msg to every consumer.
func (r *Registry[T]) Broadcast(msg T) {
	r.mu.Lock()
	targets := make(map[string]Consumer[T], len(r.entries))
	for key, e := range r.entries {
		targets[key] = e.consumer
	}
	r.dispatched += uint64(len(targets))
	r.mu.Unlock()

	for key, c := range targets {
		c.OnMessage(key, msg)
	}
}

// IsSubscribed reports whether key is registered.
func (r *Registry[T]) IsSubscribed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := maps.Keys(r.entries)
	slices.Sort(keys)
	return keys
}

// WireKeys returns the keys currently live on the wire in sorted order.
func (r *Registry[T]) WireKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.entries))
	for key, e := range r.entries {
		if e.onWire {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Reset forgets every subscription without sending anything.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*entry[T])
	r.resumable = make(map[string]struct{})
}

// Metrics returns registry metrics.
func (r *Registry[T]) Metrics() RegistryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	wire := 0
	for _, e := range r.entries {
		if e.onWire {
			wire++
		}
	}

	return RegistryMetrics{
		SubscribesSent:   r.subscribesSent,
		ResubscribesSent: r.resubscribesSent,
		UnsubscribesSent: r.unsubscribesSent,
		Dispatched:       r.dispatched,
		Dropped:          r.dropped,
		Registered:       len(r.entries),
		OnWire:           wire,
	}
}

// RegistryMetrics contains registry counters.
type RegistryMetrics struct {
	SubscribesSent   uint64
	ResubscribesSent uint64
	UnsubscribesSent uint64
	Dispatched       uint64
	Dropped          uint64
	Registered       int
	OnWire           int
}
