package state

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/models"
)

// Feature: tradedesk, Property 1: Equal index prices change state at most once
//
// Property: For any instrument and price, applying the same tick n times
// reports a change only on the first call and bumps the version once.
func TestProperty_IndexPriceSetterIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("repeated equal price applies once", prop.ForAll(
		func(id int64, price float64, n int) bool {
			s := NewStore()
			var notified int
			s.Watch(func(Change) { notified++ })

			changes := 0
			for i := 0; i < n; i++ {
				if s.SetIndexPrice(models.PriceTick{InstrumentID: id, Price: price}) {
					changes++
				}
			}
			return changes == 1 && notified == 1 && s.Version() == 1
		},
		gen.Int64Range(26000, 26200),
		gen.Float64Range(1, 100000),
		gen.IntRange(1, 20),
	))

	properties.Property("a different price always applies", prop.ForAll(
		func(a, b float64) bool {
			s := NewStore()
			s.SetIndexPrice(models.PriceTick{InstrumentID: 1, Price: a})
			return s.SetIndexPrice(models.PriceTick{InstrumentID: 1, Price: b}) == (a != b)
		},
		gen.Float64Range(1, 1000),
		gen.Float64Range(1, 1000),
	))

	properties.TestingRun(t)
}

func TestOptionPriceIndexedByName(t *testing.T) {
	s := NewStore()
	p := models.OptionPrice{ID: 9, OptionName: "NIFTY 24500 CE", Price: 101}

	assert.True(t, s.SetOptionPrice(p))
	assert.False(t, s.SetOptionPrice(p))

	got, ok := s.OptionPrice("NIFTY 24500 CE")
	require.True(t, ok)
	assert.Equal(t, 101.0, got)
}

func TestOptionPremiumsGated(t *testing.T) {
	s := NewStore()
	first := []models.OptionPremium{{ID: "a", LowestCombinedPremium: 10}, {ID: "b", LowestCombinedPremium: 20}}

	assert.True(t, s.SetOptionPremiums(first))
	// Same content in another order.
	assert.False(t, s.SetOptionPremiums([]models.OptionPremium{first[1], first[0]}))
	assert.True(t, s.SetOptionPremiums([]models.OptionPremium{{ID: "a", LowestCombinedPremium: 11}, first[1]}))
	assert.True(t, s.SetOptionPremiums(first[:1]))

	v, ok := s.OptionPremium("a")
	require.True(t, ok)
	assert.Equal(t, 10.0, v)
}

func TestLotSizesGated(t *testing.T) {
	s := NewStore()
	sizes := []models.LotSize{{OptionName: "nifty24500", LotSize: 75}}

	assert.True(t, s.SetLotSizes(sizes))
	assert.False(t, s.SetLotSizes(sizes))

	l, ok := s.LotSize("nifty24500")
	require.True(t, ok)
	assert.Equal(t, int64(75), l)
}

func TestInstancesSnapshotReplace(t *testing.T) {
	s := NewStore()
	insts := []models.Instance{{ID: "i1", TradeDetails: []models.TradeDetail{{ID: "t1", EntrySide: models.SideSell}}}}

	assert.True(t, s.SetInstances(insts))
	assert.False(t, s.SetInstances(insts))

	// Getter returns a copy.
	got := s.Instances()
	got[0].TradeDetails[0].ID = "mutated"
	assert.Equal(t, "t1", s.Instances()[0].TradeDetails[0].ID)

	assert.True(t, s.SetInstances(nil))
	assert.Empty(t, s.Instances())
}

func TestPositionsLifecycle(t *testing.T) {
	s := NewStore()
	sl := models.Position{ID: "p2", PositionID: "POS-2", TradeID: "t1", PositionType: models.PositionStopLoss, Price: 80}

	s.SetPositions("t1", []models.Position{{ID: "p1", PositionType: models.PositionEntry, Price: 100}})
	s.AddPosition("t1", sl)

	found, ok := s.FindPosition("t1", models.PositionStopLoss)
	require.True(t, ok)
	assert.Equal(t, "POS-2", found.PositionID)

	assert.True(t, s.UpdatePositionPrice("t1", "p2", 85))
	assert.False(t, s.UpdatePositionPrice("t1", "p2", 85))
	assert.False(t, s.UpdatePositionPrice("t1", "missing", 1))

	assert.True(t, s.RemovePosition("t1", "p1"))
	assert.False(t, s.RemovePosition("t1", "p1"))

	list := s.Positions("t1")
	require.Len(t, list, 1)
	assert.Equal(t, 85.0, list[0].Price)
}

func TestPositionMTMDecimalEquality(t *testing.T) {
	s := NewStore()
	assert.True(t, s.SetPositionMTM("p", decimal.NewFromInt(1000)))
	assert.False(t, s.SetPositionMTM("p", decimal.RequireFromString("1000.00")))
	assert.True(t, s.SetPositionMTM("p", decimal.NewFromInt(-5)))
}

func TestTradeLevelsMerge(t *testing.T) {
	s := NewStore()
	entry := 100.0
	sl := 120.0

	assert.True(t, s.SetTradeLevels("t1", models.TradeLevels{Entry: &entry, StopLoss: &sl}))
	assert.True(t, s.UpdateTradeLevel("t1", models.LevelTakeProfit, 70))
	assert.False(t, s.UpdateTradeLevel("t1", models.LevelTakeProfit, 70))

	lv, ok := s.TradeLevels("t1")
	require.True(t, ok)
	assert.Equal(t, "t1", lv.TradeID)
	e, _ := lv.Get(models.LevelEntry)
	tp, _ := lv.Get(models.LevelTakeProfit)
	assert.Equal(t, 100.0, e)
	assert.Equal(t, 70.0, tp)

	// A nil field in the patch leaves the level alone.
	assert.False(t, s.SetTradeLevels("t1", models.TradeLevels{}))
}

func TestWatchUnsubscribe(t *testing.T) {
	s := NewStore()
	var kinds []ChangeKind
	stop := s.Watch(func(c Change) { kinds = append(kinds, c.Kind) })

	s.SetIndexPrice(models.PriceTick{InstrumentID: 1, Price: 1})
	stop()
	s.SetIndexPrice(models.PriceTick{InstrumentID: 1, Price: 2})

	assert.Equal(t, []ChangeKind{ChangeIndexPrice}, kinds)
	assert.Equal(t, uint64(2), s.Version())
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	s := NewStore()
	s.SetOptionPrice(models.OptionPrice{ID: 1, OptionName: "X 1 CE", Price: 5})
	s.SetLotSizes([]models.LotSize{{OptionName: "x1", LotSize: 10}})

	snap := s.Snapshot()
	snap.OptionPrices["X 1 CE"] = 99

	p, _ := s.OptionPrice("X 1 CE")
	assert.Equal(t, 5.0, p)
	assert.Equal(t, int64(10), snap.LotSizes["x1"])
	assert.Equal(t, uint64(2), snap.Version)
}
