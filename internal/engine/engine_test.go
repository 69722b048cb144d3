package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/backend"
	"tradedesk/internal/candles"
	"tradedesk/internal/config"
	"tradedesk/internal/errors"
	"tradedesk/internal/feed"
	"tradedesk/internal/feed/feedtest"
	"tradedesk/internal/models"
	"tradedesk/internal/notify"
	"tradedesk/internal/priceline"
	"tradedesk/internal/resilience"
	"tradedesk/internal/trading"
)

const (
	instanceID = "inst-1"
	tradeID    = "td-1"
	optionName = "NIFTY 24500 CE"
)

type positionCall struct {
	PositionID string
	Price      float64
}

type fakeBackend struct {
	mu        sync.Mutex
	instances []models.Instance
	lots      []models.LotSize
	history   []models.Bar
	positions []models.Position
	infoErr   error
	commits   []positionCall
	queries   []backend.CandleQuery
}

func (f *fakeBackend) GetTradeInfo(context.Context) ([]models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances, f.infoErr
}

func (f *fakeBackend) GetLotSizes(context.Context) ([]models.LotSize, error) {
	return f.lots, nil
}

func (f *fakeBackend) GetCandles(_ context.Context, q backend.CandleQuery) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.history, nil
}

func (f *fakeBackend) GetPositions(context.Context, string) ([]models.Position, error) {
	return f.positions, nil
}

func (f *fakeBackend) GetServiceEvents(context.Context) ([]models.ServiceEvent, error) {
	return nil, nil
}

func (f *fakeBackend) UpdatePosition(_ context.Context, positionID string, price float64) (models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, positionCall{positionID, price})
	return models.Position{ID: positionID, Price: price}, nil
}

func (f *fakeBackend) UpdateTradeDetail(context.Context, string, trading.DetailUpdate) error {
	return nil
}

func (f *fakeBackend) commitCalls() []positionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]positionCall(nil), f.commits...)
}

type note struct {
	Kind  string
	Title string
	Err   error
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (f *fakeNotifier) add(n note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeNotifier) Send(_ context.Context, n notify.Notification) error {
	return f.add(note{Kind: string(n.Type), Title: n.Title})
}

func (f *fakeNotifier) SendInfo(_ context.Context, title, _ string) error {
	return f.add(note{Kind: "info", Title: title})
}

func (f *fakeNotifier) SendSuccess(_ context.Context, title, _ string) error {
	return f.add(note{Kind: "success", Title: title})
}

func (f *fakeNotifier) SendError(_ context.Context, err error, title string) error {
	return f.add(note{Kind: "error", Title: title, Err: err})
}

func (f *fakeNotifier) has(kind, title string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notes {
		if n.Kind == kind && n.Title == title {
			return true
		}
	}
	return false
}

func testInstance() models.Instance {
	return models.Instance{
		ID:        instanceID,
		IndexName: "NIFTY",
		Expiry:    "2024-11-28",
		LTPRange:  200,
		TradeDetails: []models.TradeDetail{{
			ID:                tradeID,
			Qty:               2,
			EntrySide:         models.SideSell,
			EntryType:         models.EntryLimit,
			EntryPrice:        100,
			StopLossPremium:   110,
			TakeProfitPremium: 80,
			LiveTradePositions: []models.LiveTradePosition{{
				ID:             "ltp-1",
				OptionName:     optionName,
				InitialQty:     2,
				CurrentQty:     2,
				EntryPrice:     100,
				TradeDetailsID: tradeID,
			}},
		}},
	}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		instances: []models.Instance{testInstance()},
		lots:      []models.LotSize{{OptionName: "nifty24500", LotSize: 50}},
		history: []models.Bar{
			{Time: 1731562200, Open: 1, High: 2, Low: 0.5, Close: 1.5},
			{Time: 1731562260, Open: 1.5, High: 3, Low: 1, Close: 2},
		},
	}
}

func feedConfig(srv *feedtest.Server) config.FeedConfig {
	return config.FeedConfig{
		URL:                  srv.URL(),
		HealthURL:            srv.HealthURL(),
		MaxReconnectAttempts: 5,
		ReconnectDelay:       10 * time.Millisecond,
		HandshakeTimeout:     time.Second,
	}
}

func newTestEngine(t *testing.T, be *fakeBackend, n *fakeNotifier, feeds config.FeedsConfig) *Engine {
	t.Helper()

	e, err := New(Config{
		Token:          feedtest.Token,
		Feeds:          feeds,
		ThrottleWindow: 5 * time.Millisecond,
		Candles:        candles.DefaultConfig(),
		PriceLine:      config.PriceLineConfig{CommitTimeout: time.Second},
		Health: resilience.HealthMonitorConfig{
			CheckInterval: time.Hour,
			CheckTimeout:  time.Second,
			Logger:        zerolog.Nop(),
		},
		Logger: zerolog.Nop(),
	}, Deps{Backend: be, Notifier: n})
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

func waitFrame(t *testing.T, srv *feedtest.Server, event string) feedtest.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, ok := srv.Next(time.Until(deadline))
		if !ok {
			break
		}
		if f.Event == event {
			return f
		}
	}
	t.Fatalf("no %s frame", event)
	return feedtest.Frame{}
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Config{Logger: zerolog.Nop()}, Deps{})
	assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
}

func TestBootstrapSeedsStateAndValuesPositions(t *testing.T) {
	be := newFakeBackend()
	e := newTestEngine(t, be, &fakeNotifier{}, config.FeedsConfig{})
	updates := e.Hub().Subscribe(Topic(UpdateMTM, ""))

	require.NoError(t, e.Start(context.Background()))

	levels, ok := e.State().TradeLevels(tradeID)
	require.True(t, ok)
	sl, _ := levels.Get(models.LevelStopLoss)
	tp, _ := levels.Get(models.LevelTakeProfit)
	assert.Equal(t, 110.0, sl)
	assert.Equal(t, 80.0, tp)

	lot, ok := e.State().LotSize("nifty24500")
	require.True(t, ok)
	assert.Equal(t, int64(50), lot)

	// The trailing bar does not end on :59 and is dropped.
	assert.Equal(t, []models.Bar{be.history[0]}, e.Bars().Bars(instanceID))
	require.Len(t, be.queries, 1)
	assert.Equal(t, backend.CandleQuery{IndexName: "NIFTY", ExpiryDate: "2024-11-28", Range: 200}, be.queries[0])

	require.True(t, e.Do(func() {
		e.handleEvent(feed.OptionPriceUpdate{Price: models.OptionPrice{ID: 1, OptionName: optionName, Price: 90}})
	}))

	require.Eventually(t, func() bool {
		mtm, ok := e.State().PositionMTM("ltp-1")
		return ok && mtm.Equal(decimal.NewFromInt(1000))
	}, 2*time.Second, 5*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-updates:
			if msg.Value.Total.Equal(decimal.NewFromInt(1000)) {
				require.Len(t, msg.Value.Valuations, 1)
				assert.Equal(t, instanceID, msg.Value.Valuations[0].InstanceID)
				return
			}
		case <-deadline:
			t.Fatal("no MTM update published")
		}
	}
}

func TestTotalKeepsLastKnownValueOfUnpriceablePositions(t *testing.T) {
	e := newTestEngine(t, newFakeBackend(), &fakeNotifier{}, config.FeedsConfig{})
	require.NoError(t, e.Start(context.Background()))

	require.True(t, e.Do(func() {
		e.handleEvent(feed.OptionPriceUpdate{Price: models.OptionPrice{ID: 1, OptionName: optionName, Price: 90}})
	}))
	require.Eventually(t, func() bool {
		mtm, ok := e.State().PositionMTM("ltp-1")
		return ok && mtm.Equal(decimal.NewFromInt(1000))
	}, 2*time.Second, 5*time.Millisecond)

	updates := e.Hub().Subscribe(Topic(UpdateMTM, ""))
	require.True(t, e.Do(func() { e.state.SetLotSizes(nil) }))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-updates:
			if len(msg.Value.Valuations) > 0 {
				continue
			}
			assert.True(t, msg.Value.Total.Equal(decimal.NewFromInt(1000)), msg.Value.Total.String())
			return
		case <-deadline:
			t.Fatal("no MTM update published")
		}
	}
}

func TestStartFailsWithoutSnapshot(t *testing.T) {
	be := newFakeBackend()
	be.infoErr = errors.NewAPIError(503, "/user/tradeInfo", "unavailable", nil)
	e := newTestEngine(t, be, &fakeNotifier{}, config.FeedsConfig{})

	err := e.Start(context.Background())
	require.Error(t, err)

	var apiErr *errors.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestIndexPricesMapTrackedIDsOnly(t *testing.T) {
	e := newTestEngine(t, newFakeBackend(), &fakeNotifier{}, config.FeedsConfig{})
	require.NoError(t, e.Start(context.Background()))

	e.Do(func() {
		e.handleEvent(feed.PriceUpdate{Tick: models.PriceTick{InstrumentID: 26001, Price: 51234.5}})
		e.handleEvent(feed.PriceUpdate{Tick: models.PriceTick{InstrumentID: 99, Price: 1}})
	})

	require.Eventually(t, func() bool {
		tick, ok := e.State().IndexPrice(26001)
		return ok && tick.Name == "BANKNIFTY" && tick.Price == 51234.5
	}, time.Second, 5*time.Millisecond)

	_, ok := e.State().IndexPrice(99)
	assert.False(t, ok)
}

func TestChartFeedSubscribesMergesAndResubscribes(t *testing.T) {
	srv := feedtest.NewServer(t)
	e := newTestEngine(t, newFakeBackend(), &fakeNotifier{}, config.FeedsConfig{Chart: feedConfig(srv)})
	require.NoError(t, e.Start(context.Background()))

	sub := waitFrame(t, srv, feed.OutSubscribeChart)
	assert.Equal(t, instanceID, sub.Data["instanceId"])
	assert.Equal(t, "NIFTY", sub.Data["indexName"])

	require.NoError(t, srv.Push(`{"event":"candleUpdate","data":{"instanceId":"inst-1","candle":{"time":1731562320,"open":10,"high":12,"low":9,"close":11}}}`))
	want := models.Bar{Time: 1731562320, Open: 10, High: 12, Low: 9, Close: 11}
	require.Eventually(t, func() bool {
		bar, ok := e.Bars().Current(instanceID)
		return ok && bar == want
	}, 2*time.Second, 5*time.Millisecond)

	srv.DropAll()

	resub := waitFrame(t, srv, feed.OutResubscribeChart)
	assert.Equal(t, instanceID, resub.Data["instanceId"])

	for _, f := range srv.Drain(100 * time.Millisecond) {
		assert.NotEqual(t, feed.OutSubscribeChart, f.Event, "resumed keys must not be subscribed again")
	}
	assert.Equal(t, uint64(1), e.Stats().Chart.ResubscribesSent)
}

func TestChartFeedLastPriceBuildsBars(t *testing.T) {
	srv := feedtest.NewServer(t)
	e := newTestEngine(t, newFakeBackend(), &fakeNotifier{}, config.FeedsConfig{Chart: feedConfig(srv)})
	require.NoError(t, e.Start(context.Background()))
	waitFrame(t, srv, feed.OutSubscribeChart)

	require.NoError(t, srv.Push(`{"event":"lastPrice","data":{"optionsData":[{"id":"inst-1","lowestCombinedPremium":55}]}}`))

	require.Eventually(t, func() bool {
		bar, ok := e.Bars().Current(instanceID)
		premium, pok := e.State().OptionPremium(instanceID)
		return ok && bar.Close == 55 && pok && premium == 55
	}, 2*time.Second, 5*time.Millisecond)

	// An item without a premium is dropped instead of dragging the bar to zero.
	require.NoError(t, srv.Push(`{"event":"lastPrice","data":{"optionsData":[{"id":"inst-1"}]}}`))
	require.NoError(t, srv.Push(`{"event":"lastPrice","data":{"optionsData":[{"id":"inst-1","lowestCombinedPremium":60}]}}`))

	require.Eventually(t, func() bool {
		bar, ok := e.Bars().Current(instanceID)
		return ok && bar.Close == 60
	}, 2*time.Second, 5*time.Millisecond)

	bar, _ := e.Bars().Current(instanceID)
	assert.GreaterOrEqual(t, bar.Low, 55.0)
}

func TestStoredPremiumsBuildBars(t *testing.T) {
	srv := feedtest.NewServer(t)
	e := newTestEngine(t, newFakeBackend(), &fakeNotifier{}, config.FeedsConfig{Market: feedConfig(srv)})
	require.NoError(t, e.Start(context.Background()))
	waitFrame(t, srv, feed.OutSubscribeOptionsData)

	require.NoError(t, srv.Push(`{"event":"feLowest","data":{"data":[{"id":"inst-1","lowestCombinedPremium":42.5},{"id":"inst-9","lowestCombinedPremium":7}]}}`))

	require.Eventually(t, func() bool {
		bar, ok := e.Bars().Current(instanceID)
		return ok && bar.Close == 42.5
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := e.Bars().Current("inst-9")
	assert.False(t, ok, "premiums of untracked instances are not charted")
}

func TestMarketFeedSubscriptionsAndPremiums(t *testing.T) {
	srv := feedtest.NewServer(t)
	e := newTestEngine(t, newFakeBackend(), &fakeNotifier{}, config.FeedsConfig{Market: feedConfig(srv)})
	require.NoError(t, e.Start(context.Background()))

	sub := waitFrame(t, srv, feed.OutSubscribe)
	instruments, ok := sub.Data["instruments"].([]interface{})
	require.True(t, ok)
	assert.Len(t, instruments, 6)

	opt := waitFrame(t, srv, feed.OutSubscribeOptionsData)
	data, ok := opt.Data["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, instanceID, data["id"])

	require.NoError(t, srv.Push(`{"event":"priceUpdate","data":{"id":26000,"name":"Nifty 50","segment":1,"price":24510.25}}`))
	require.NoError(t, srv.Push(`{"event":"feLowest","data":{"data":[{"id":"inst-1","lowestCombinedPremium":42.5}]}}`))

	require.Eventually(t, func() bool {
		tick, ok := e.State().IndexPrice(26000)
		premium, pok := e.State().OptionPremium(instanceID)
		return ok && tick.Name == "NIFTY" && pok && premium == 42.5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInfoFeedOrdersAndLogout(t *testing.T) {
	srv := feedtest.NewServer(t)
	n := &fakeNotifier{}
	e := newTestEngine(t, newFakeBackend(), n, config.FeedsConfig{Info: feedConfig(srv)})
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		return e.Stats().FeedStates[FeedInfo] == feed.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Push(`{"event":"order","data":{"OrderStatus":"Rejected","CancelRejectReason":"margin shortfall"}}`))
	require.NoError(t, srv.Push(`{"event":"tradeData","data":{"OrderStatus":"Filled"}}`))

	require.Eventually(t, func() bool {
		return n.has("error", "Order rejected") && n.has("success", "Order filled")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Push(`{"event":"logout","data":{"reason":"session expired"}}`))

	select {
	case <-e.LoggedOut():
	case <-time.After(2 * time.Second):
		t.Fatal("logout not signalled")
	}
	assert.Eventually(t, func() bool { return n.has("error", "Logged out") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, feed.StateDisconnected, e.Stats().FeedStates[FeedInfo])
}

func TestTradeInfoPushTracksInstances(t *testing.T) {
	be := newFakeBackend()
	e := newTestEngine(t, be, &fakeNotifier{}, config.FeedsConfig{})
	require.NoError(t, e.Start(context.Background()))

	next := testInstance()
	next.ID = "inst-2"
	next.TradeDetails[0].ID = "td-2"
	next.TradeDetails[0].StopLossPremium = 120

	require.True(t, e.Do(func() { e.handleEvent(feed.TradeInfoUpdate{Instances: []models.Instance{next}}) }))

	assert.Equal(t, []string{"inst-2"}, e.chartReg.Keys())
	assert.Equal(t, []string{"inst-2"}, e.optionReg.Keys())

	levels, ok := e.State().TradeLevels("td-2")
	require.True(t, ok)
	sl, _ := levels.Get(models.LevelStopLoss)
	assert.Equal(t, 120.0, sl)

	require.Eventually(t, func() bool {
		return len(e.Bars().Bars("inst-2")) == 1 && len(e.Bars().Bars(instanceID)) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAttachPriceLinesCommitsThroughLoop(t *testing.T) {
	be := newFakeBackend()
	be.positions = []models.Position{{
		ID:           "pos-sl",
		PositionID:   "P-SL",
		TradeID:      tradeID,
		PositionType: models.PositionStopLoss,
		Price:        110,
	}}
	e := newTestEngine(t, be, &fakeNotifier{}, config.FeedsConfig{})
	require.NoError(t, e.Start(context.Background()))

	// One pixel per rupee: y = 200 - price.
	chart := priceline.NewHeadlessChart(200, 0, 200)
	m, err := e.AttachPriceLines(context.Background(), tradeID, chart)
	require.NoError(t, err)

	line, ok := m.Line(models.LevelStopLoss)
	require.True(t, ok)
	assert.Equal(t, 110.0, line.Price())

	m.PointerMove(90)
	require.True(t, m.PointerDown())
	m.PointerMove(85)
	m.PointerMove(80)
	m.PointerUp(80)
	m.Wait()

	assert.Equal(t, []positionCall{{"pos-sl", 120}}, be.commitCalls())
	require.Eventually(t, func() bool {
		levels, _ := e.State().TradeLevels(tradeID)
		sl, _ := levels.Get(models.LevelStopLoss)
		pos, _ := e.State().FindPosition(tradeID, models.PositionStopLoss)
		return sl == 120 && pos.Price == 120
	}, 2*time.Second, 5*time.Millisecond)

	e.DetachPriceLines(tradeID)
}

func TestPostAfterStop(t *testing.T) {
	e := newTestEngine(t, newFakeBackend(), &fakeNotifier{}, config.FeedsConfig{})
	require.NoError(t, e.Start(context.Background()))

	e.Stop()
	e.Stop()

	assert.False(t, e.Post(func() {}))
	_, err := e.AttachPriceLines(context.Background(), tradeID, priceline.NewHeadlessChart(200, 0, 200))
	assert.True(t, errors.Is(err, errors.ErrEngineStopped))
}
