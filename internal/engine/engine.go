// Package engine wires the push feeds, subscription registries, coalescers,
// state store, valuation, candle aggregation and price lines into one
// running desk. Every state mutation runs on a single event-loop goroutine.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"tradedesk/internal/backend"
	"tradedesk/internal/candles"
	"tradedesk/internal/config"
	"tradedesk/internal/errors"
	"tradedesk/internal/feed"
	"tradedesk/internal/models"
	"tradedesk/internal/notify"
	"tradedesk/internal/priceline"
	"tradedesk/internal/resilience"
	"tradedesk/internal/state"
	"tradedesk/internal/store"
	"tradedesk/internal/stream"
	"tradedesk/internal/trading"
)

// Backend is the part of the backend of record the engine uses.
type Backend interface {
	priceline.Committer
	GetTradeInfo(ctx context.Context) ([]models.Instance, error)
	GetLotSizes(ctx context.Context) ([]models.LotSize, error)
	GetCandles(ctx context.Context, q backend.CandleQuery) ([]models.Bar, error)
	GetPositions(ctx context.Context, tradeID string) ([]models.Position, error)
	GetServiceEvents(ctx context.Context) ([]models.ServiceEvent, error)
}

var _ Backend = (*backend.Client)(nil)

// Config holds engine settings.
type Config struct {
	Token          string
	Feeds          config.FeedsConfig
	ThrottleWindow time.Duration
	Candles        candles.Config
	PriceLine      config.PriceLineConfig
	// HistoryWorkers bounds concurrent candle-history fetches.
	HistoryWorkers int
	Health         resilience.HealthMonitorConfig
	// OnCommit observes every finished price-line commit.
	OnCommit func(store.Commit)
	Logger   zerolog.Logger
}

// ConfigFrom maps file configuration onto engine settings.
func ConfigFrom(cfg *config.Config, logger zerolog.Logger) Config {
	health := resilience.DefaultHealthMonitorConfig()
	health.Logger = logger
	return Config{
		Token:          cfg.Backend.Token,
		Feeds:          cfg.Feeds,
		ThrottleWindow: cfg.Stream.ThrottleWindow,
		Candles: candles.Config{
			Offset:  cfg.Candles.UTCOffset,
			MaxBars: cfg.Candles.MaxBars,
		},
		PriceLine: cfg.PriceLine,
		Health:    health,
		Logger:    logger,
	}
}

// Deps are the engine's collaborators. Store, Notifier and the sockets are
// optional; sockets are built from Config.Feeds for every feed with a URL.
type Deps struct {
	Backend  Backend
	Store    store.DataStore
	Notifier notify.Notifier

	Market feed.Socket
	Chart  feed.Socket
	Info   feed.Socket
}

// Engine is the running desk.
type Engine struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	state  *state.Store
	bars   *candles.Aggregator
	hub    *stream.Hub[Update]
	health *resilience.HealthMonitor

	feeds       []*feedLink
	chartReg    *stream.Registry[chartUpdate]
	optionReg   *stream.Registry[struct{}]
	indexCo     *stream.Coalescer[int64, models.PriceTick]
	optionCo    *stream.Coalescer[string, models.OptionPrice]
	premiumCo   *stream.Coalescer[feed.EventKind, []models.OptionPremium]
	instanceIDs map[string]struct{}

	// queue is unbounded so that posting from the loop itself never blocks.
	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	loops  conc.WaitGroup
	async  conc.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	managers  map[string]*priceline.Manager
	loggedOut chan struct{}
	logoutOne sync.Once
	unwatch   func()
}

// New builds an engine. Nothing runs until Start.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Backend == nil {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "engine needs a backend")
	}
	if cfg.Candles.MaxBars <= 0 {
		cfg.Candles = candles.DefaultConfig()
	}
	if cfg.HistoryWorkers <= 0 {
		cfg.HistoryWorkers = 4
	}
	if cfg.Health.CheckInterval <= 0 {
		cfg.Health = resilience.DefaultHealthMonitorConfig()
		cfg.Health.Logger = cfg.Logger
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewMultiNotifier(&config.NotificationConfig{Enabled: true}, cfg.Logger)
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		logger:      cfg.Logger.With().Str("component", "engine").Logger(),
		state:       state.NewStore(),
		bars:        candles.NewAggregator(cfg.Candles),
		hub:         stream.NewHub[Update](),
		health:      resilience.NewHealthMonitor(cfg.Health),
		instanceIDs: make(map[string]struct{}),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		managers:    make(map[string]*priceline.Manager),
		loggedOut:   make(chan struct{}),
	}

	e.indexCo = stream.NewCoalescer(cfg.ThrottleWindow, func(_ int64, tick models.PriceTick) {
		e.Post(func() { e.applyIndexPrice(tick) })
	})
	e.optionCo = stream.NewCoalescer(cfg.ThrottleWindow, func(_ string, p models.OptionPrice) {
		e.Post(func() { e.state.SetOptionPrice(p) })
	})
	e.premiumCo = stream.NewCoalescer(cfg.ThrottleWindow, func(_ feed.EventKind, premiums []models.OptionPremium) {
		e.Post(func() { e.state.SetOptionPremiums(premiums) })
	})

	e.buildFeeds()
	e.bars.OnUpdate(func(id string, bar models.Bar) {
		e.hub.Publish(Topic(UpdateBar, id), Update{Kind: UpdateBar, Key: id, Bar: bar})
	})
	e.unwatch = e.state.Watch(e.onStateChange)
	e.registerHealthChecks()

	return e, nil
}

// Start runs the event loop, loads the snapshot, lot sizes and candle
// history, then connects the feeds. Only a failed snapshot fetch is
// returned; feeds that cannot connect are reported and left offline.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.hub.Start(e.ctx)
	e.loops.Go(func() { e.run(e.ctx) })

	if err := e.bootstrap(ctx); err != nil {
		return err
	}

	e.connectFeeds(ctx)
	e.loops.Go(func() { e.health.Run(e.ctx) })

	e.logger.Info().
		Int("instances", len(e.state.Instances())).
		Int("feeds", len(e.feeds)).
		Msg("Engine started")
	return nil
}

// Stop disconnects the feeds, waits for in-flight commits and ends every
// background loop. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	managers := make([]*priceline.Manager, 0, len(e.managers))
	for _, m := range e.managers {
		managers = append(managers, m)
	}
	e.managers = make(map[string]*priceline.Manager)
	cancel := e.cancel
	e.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
	e.disconnectFeeds()

	e.indexCo.Stop()
	e.optionCo.Stop()
	e.premiumCo.Stop()
	e.unwatch()

	if cancel != nil {
		cancel()
	}
	close(e.done)
	e.loops.Wait()
	e.async.Wait()
	e.hub.Stop()

	e.logger.Info().Msg("Engine stopped")
}

// Post queues fn on the event loop. It never blocks and returns false once
// the engine is stopped.
func (e *Engine) Post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	e.queueMu.Lock()
	e.queue = append(e.queue, fn)
	e.queueMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the event loop and waits for it. It must not be called from
// the loop itself, and returns false before Start.
func (e *Engine) Do(fn func()) bool {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return false
	}

	finished := make(chan struct{})
	if !e.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}

		for {
			e.queueMu.Lock()
			batch := e.queue
			e.queue = nil
			e.queueMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				e.exec(fn)
			}
		}
	}
}

func (e *Engine) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	fn()
}

// goAsync runs fn off the loop with the engine context.
func (e *Engine) goAsync(fn func(ctx context.Context)) {
	e.mu.Lock()
	ctx, stopped := e.ctx, e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.async.Go(func() { fn(ctx) })
}

// State returns the canonical store.
func (e *Engine) State() *state.Store { return e.state }

// Bars returns the candle aggregator.
func (e *Engine) Bars() *candles.Aggregator { return e.bars }

// Hub returns the update hub.
func (e *Engine) Hub() *stream.Hub[Update] { return e.hub }

// Health returns the health monitor.
func (e *Engine) Health() *resilience.HealthMonitor { return e.health }

// LoggedOut is closed when the server forces a logout.
func (e *Engine) LoggedOut() <-chan struct{} { return e.loggedOut }

// Valuations values every priceable position from a consistent snapshot.
func (e *Engine) Valuations() []trading.Valuation {
	snap := e.state.Snapshot()
	return trading.ValuePositions(snap.Instances, snap.OptionPrices, snap.LotSizes)
}

// AttachPriceLines loads the positions of a trade and binds draggable lines
// for its levels to chart. The lines live until DetachPriceLines or Stop.
func (e *Engine) AttachPriceLines(ctx context.Context, tradeID string, chart priceline.Chart) (*priceline.Manager, error) {
	positions, err := e.deps.Backend.GetPositions(ctx, tradeID)
	if err != nil {
		e.logger.Warn().Err(err).Str("trade_id", tradeID).Msg("Positions unavailable, committing to trade detail")
		positions = nil
	}
	if !e.Do(func() { e.state.SetPositions(tradeID, positions) }) {
		return nil, errors.ErrEngineStopped
	}

	var journal store.Journal
	if e.deps.Store != nil {
		journal = e.deps.Store
	}

	m := priceline.NewManager(priceline.ManagerConfig{
		TradeID:           tradeID,
		Chart:             chart,
		State:             e.state,
		Committer:         e.deps.Backend,
		Journal:           journal,
		Notifier:          e.deps.Notifier,
		HitThreshold:      e.cfg.PriceLine.HitThresholdPx,
		RollbackOnFailure: e.cfg.PriceLine.RollbackOnFailure,
		CommitTimeout:     e.cfg.PriceLine.CommitTimeout,
		Dispatch:          func(fn func()) { e.Post(fn) },
		OnCommit:          e.cfg.OnCommit,
		Logger:            e.cfg.Logger,
	})

	e.mu.Lock()
	old := e.managers[tradeID]
	e.managers[tradeID] = m
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return m, nil
}

// DetachPriceLines removes the lines of a trade after its commits finish.
func (e *Engine) DetachPriceLines(tradeID string) {
	e.mu.Lock()
	m := e.managers[tradeID]
	delete(e.managers, tradeID)
	e.mu.Unlock()
	if m != nil {
		m.Close()
	}
}

// Stats reports feed, registry and coalescer counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Chart:        e.chartReg.Metrics(),
		Options:      e.optionReg.Metrics(),
		IndexPrices:  e.indexCo.Metrics(),
		OptionPrices: e.optionCo.Metrics(),
		Premiums:     e.premiumCo.Metrics(),
		Hub:          e.hub.Metrics(),
		StateVersion: e.state.Version(),
		FeedStates:   make(map[string]feed.State, len(e.feeds)),
	}
	for _, l := range e.feeds {
		s.FeedStates[l.name] = l.sock.State()
	}
	return s
}

// Stats contains engine counters.
type Stats struct {
	Chart        stream.RegistryMetrics
	Options      stream.RegistryMetrics
	IndexPrices  stream.CoalescerMetrics
	OptionPrices stream.CoalescerMetrics
	Premiums     stream.CoalescerMetrics
	Hub          stream.HubMetrics
	StateVersion uint64
	FeedStates   map[string]feed.State
}
