package engine

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradedesk/internal/backend"
	"tradedesk/internal/errors"
	"tradedesk/internal/feed"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
	"tradedesk/internal/state"
	"tradedesk/internal/store"
	"tradedesk/internal/stream"
	"tradedesk/internal/trading"
	"tradedesk/pkg/utils"
)

const notifyTimeout = 5 * time.Second

// chartUpdate is routed to an instance's chart subscription: either a
// server bar or a single value stamped with its arrival time.
type chartUpdate struct {
	bar   *models.Bar
	value float64
	at    time.Time
}

// handleEvent applies one decoded feed event. It runs on the loop.
func (e *Engine) handleEvent(ev feed.Event) {
	switch v := ev.(type) {
	case feed.PriceUpdate:
		tick := v.Tick
		name, ok := utils.IndexName(tick.InstrumentID)
		if !ok {
			e.logger.Debug().Int64("id", tick.InstrumentID).Msg("Price for untracked instrument dropped")
			return
		}
		tick.Name = name
		e.indexCo.Submit(tick.InstrumentID, tick)

	case feed.OptionPriceUpdate:
		e.optionCo.Submit(v.Price.OptionName, v.Price)

	case feed.PremiumUpdate:
		if v.Source == feed.KindLastPrice && len(v.Premiums) == 0 {
			return
		}
		e.premiumCo.Submit(v.Source, v.Premiums)

	case feed.CandleUpdate:
		bar := v.Bar
		if !e.chartReg.Dispatch(v.InstanceID, chartUpdate{bar: &bar}) {
			e.logger.Debug().Str("instance_id", v.InstanceID).Msg("Candle for unsubscribed instance dropped")
		}

	case feed.TradeInfoUpdate:
		if added := e.applyInstances(v.Instances); len(added) > 0 {
			e.goAsync(func(ctx context.Context) { e.loadHistories(ctx, added) })
		}

	case feed.OrderUpdate:
		e.handleOrder(v)

	case feed.PositionData:
		e.logger.Debug().Int("bytes", len(v.Raw)).Msg("Position data")

	case feed.Logout:
		e.handleLogout(v.Reason)

	default:
		e.logger.Debug().Str("event", string(ev.Kind())).Msg("Unhandled event")
	}
}

func (e *Engine) applyIndexPrice(tick models.PriceTick) {
	if e.state.SetIndexPrice(tick) {
		e.hub.Publish(Topic(UpdateIndex, ""), Update{Kind: UpdateIndex, Key: tick.Name, Tick: tick})
	}
}

func (e *Engine) applyChartUpdate(instanceID string, u chartUpdate) {
	if u.bar != nil {
		e.bars.Merge(instanceID, *u.bar)
		return
	}
	e.bars.Update(instanceID, u.value, u.at)
}

// applyInstances installs a snapshot, seeds trade levels and keeps the
// chart and option-data subscriptions in step with it. It returns the
// instances that were not tracked before. It runs on the loop.
func (e *Engine) applyInstances(instances []models.Instance) []models.Instance {
	e.state.SetInstances(instances)

	next := make(map[string]struct{}, len(instances))
	var added []models.Instance
	for _, inst := range instances {
		next[inst.ID] = struct{}{}
		for _, td := range inst.TradeDetails {
			e.state.SetTradeLevels(td.ID, trading.LevelsFromDetail(td))
		}

		if _, ok := e.instanceIDs[inst.ID]; ok {
			continue
		}
		e.instanceIDs[inst.ID] = struct{}{}
		added = append(added, inst)

		e.chartReg.Subscribe(stream.Request{Key: inst.ID, Payload: feed.NewChartSubscription(inst)},
			stream.ConsumerFunc[chartUpdate](e.applyChartUpdate))
		e.optionReg.Subscribe(stream.Request{Key: inst.ID, Payload: feed.NewOptionDataRequest(inst)},
			stream.ConsumerFunc[struct{}](func(string, struct{}) {}))
	}

	for id := range e.instanceIDs {
		if _, ok := next[id]; ok {
			continue
		}
		delete(e.instanceIDs, id)
		e.chartReg.Unsubscribe(id)
		e.optionReg.Unsubscribe(id)
		e.bars.Remove(id)
		l := logging.WithInstance(e.logger, id)
		l.Debug().Msg("Instance removed")
	}

	return added
}

// bootstrap loads the snapshot and lot sizes concurrently, installs them and
// fetches candle history. Only the snapshot is required.
func (e *Engine) bootstrap(ctx context.Context) error {
	var (
		instances []models.Instance
		lots      []models.LotSize
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		instances, err = e.deps.Backend.GetTradeInfo(gctx)
		if err != nil {
			return errors.Wrap(err, "loading trade snapshot")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lots, err = e.loadLotSizes(gctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Lot sizes unavailable, MTM paused until they load")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	var added []models.Instance
	e.Do(func() {
		e.state.SetLotSizes(lots)
		added = e.applyInstances(instances)
	})
	e.loadHistories(ctx, added)
	return nil
}

func (e *Engine) loadLotSizes(ctx context.Context) ([]models.LotSize, error) {
	if e.deps.Store == nil {
		return e.deps.Backend.GetLotSizes(ctx)
	}
	sizes, freshness, err := store.SyncLotSizesFrom(ctx, e.deps.Store, e.deps.Backend.GetLotSizes)
	if err != nil {
		return nil, err
	}
	if freshness != nil && !freshness.IsFresh {
		e.logger.Warn().Str("age", store.FormatFreshness(freshness)).Msg("Using cached lot sizes")
	}
	return sizes, nil
}

// loadHistories fetches candle history for each instance with bounded
// concurrency. A failed fetch leaves that chart to build from live values.
func (e *Engine) loadHistories(ctx context.Context, instances []models.Instance) {
	var g errgroup.Group
	g.SetLimit(e.cfg.HistoryWorkers)

	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			l := logging.WithInstance(e.logger, inst.ID)
			history, err := e.deps.Backend.GetCandles(ctx, backend.CandleQueryFor(inst))
			if err != nil {
				l.Warn().Err(err).Msg("Candle history unavailable")
				return nil
			}
			e.Do(func() {
				loaded := e.bars.Load(inst.ID, history)
				l.Debug().
					Int("fetched", len(history)).
					Int("kept", len(loaded)).
					Msg("Candle history loaded")
			})
			return nil
		})
	}
	_ = g.Wait()
}

// onStateChange runs on the goroutine that mutated the store, which is the
// loop.
func (e *Engine) onStateChange(c state.Change) {
	switch c.Kind {
	case state.ChangeOptionPrice, state.ChangeLotSizes, state.ChangeInstances:
		e.revalue()
	case state.ChangePremiums:
		e.chartPremiums()
	case state.ChangeLevels:
		if levels, ok := e.state.TradeLevels(c.Key); ok {
			e.hub.Publish(Topic(UpdateLevels, c.Key), Update{Kind: UpdateLevels, Key: c.Key, Levels: levels})
		}
	}
}

// chartPremiums folds the stored premium of every charted instance into its
// open bar.
func (e *Engine) chartPremiums() {
	now := time.Now()
	for _, p := range e.state.OptionPremiums() {
		if p.LowestCombinedPremium <= 0 {
			continue
		}
		e.chartReg.Dispatch(string(p.ID), chartUpdate{value: p.LowestCombinedPremium, at: now})
	}
}

// revalue prices what it can and publishes the total over the last known
// value of every position.
func (e *Engine) revalue() {
	snap := e.state.Snapshot()
	vals := trading.ValuePositions(snap.Instances, snap.OptionPrices, snap.LotSizes)
	for _, v := range vals {
		e.state.SetPositionMTM(v.PositionID, v.MTM)
	}

	total := decimal.Zero
	for _, inst := range snap.Instances {
		for _, td := range inst.TradeDetails {
			for _, pos := range td.LiveTradePositions {
				if mtm, ok := e.state.PositionMTM(pos.ID); ok {
					total = total.Add(mtm)
				}
			}
		}
	}

	e.hub.Publish(Topic(UpdateMTM, ""), Update{
		Kind:       UpdateMTM,
		Valuations: vals,
		Total:      total,
	})
}

func (e *Engine) handleOrder(v feed.OrderUpdate) {
	logging.LogOrderEvent(e.logger, string(v.Status), v.RejectReason)

	switch v.Status {
	case models.OrderPendingNew:
		e.notifyInfo("Order placed", "Order is pending execution")
	case models.OrderRejected:
		reason := v.RejectReason
		if reason == "" {
			reason = "no reason given"
		}
		e.notifyError(errors.New(reason), "Order rejected")
	case models.OrderFilled:
		e.notifySuccess("Order filled", "Order executed successfully")
	}
}

// handleLogout tears the feeds down off the loop, since disconnecting fires
// state handlers that post back to it.
func (e *Engine) handleLogout(reason string) {
	if reason == "" {
		reason = "session ended by server"
	}
	e.logger.Warn().Str("reason", reason).Msg("Forced logout")
	e.notifyError(errors.Wrap(errors.ErrNotAuthenticated, reason), "Logged out")

	e.goAsync(func(context.Context) {
		e.disconnectFeeds()
		e.Post(func() {
			e.chartReg.Reset()
			e.optionReg.Reset()
		})
		e.logoutOne.Do(func() { close(e.loggedOut) })
	})
}

func (e *Engine) notifyInfo(title, message string) {
	e.goAsync(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		_ = e.deps.Notifier.SendInfo(ctx, title, message)
	})
}

func (e *Engine) notifySuccess(title, message string) {
	e.goAsync(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		_ = e.deps.Notifier.SendSuccess(ctx, title, message)
	})
}

func (e *Engine) notifyError(err error, title string) {
	e.goAsync(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		_ = e.deps.Notifier.SendError(ctx, err, title)
	})
}

func isFeedComponent(name string) bool {
	return strings.HasPrefix(name, "feed.")
}
