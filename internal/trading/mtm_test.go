package trading

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

func floatPtr(v float64) *float64 { return &v }

func TestPositionMTMExamples(t *testing.T) {
	tests := []struct {
		name   string
		side   models.Side
		closed bool
		want   int64
	}{
		{"sell open", models.SideSell, false, 1000},
		{"buy open", models.SideBuy, false, -1000},
		// Closed: C=95, initial qty 3.
		{"sell closed", models.SideSell, true, 750},
		{"buy closed", models.SideBuy, true, -750},
	}

	prices := map[string]float64{"NIFTY 24500 CE": 90}
	lots := map[string]int64{"nifty24500": 50}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := models.LiveTradePosition{
				ID:         "p1",
				OptionName: "NIFTY 24500 CE",
				InitialQty: 3,
				CurrentQty: 2,
				EntryPrice: 100,
				Closed:     tt.closed,
			}
			if tt.closed {
				pos.ClosePrice = floatPtr(95)
			}

			v, ok := ValuePosition(tt.side, pos, prices, lots)
			require.True(t, ok)
			assert.True(t, v.MTM.Equal(decimal.NewFromInt(tt.want)), "got %s", v.MTM)
			assert.Equal(t, "CE", v.OptionType)
		})
	}
}

func TestValuePositionSkipsUnpriceable(t *testing.T) {
	base := models.LiveTradePosition{ID: "p", OptionName: "NIFTY 24500 PE", CurrentQty: 1, EntryPrice: 10}
	prices := map[string]float64{"NIFTY 24500 PE": 12}
	lots := map[string]int64{"nifty24500": 75}

	_, ok := ValuePosition(models.SideSell, base, map[string]float64{}, lots)
	assert.False(t, ok, "missing live price")

	_, ok = ValuePosition(models.SideSell, base, prices, map[string]int64{})
	assert.False(t, ok, "missing lot size")

	_, ok = ValuePosition(models.SideUndefined, base, prices, lots)
	assert.False(t, ok, "undefined side")

	closed := base
	closed.Closed = true
	_, ok = ValuePosition(models.SideSell, closed, prices, lots)
	assert.False(t, ok, "closed without close price")

	bad := base
	bad.OptionName = "NIFTY"
	_, ok = ValuePosition(models.SideSell, bad, prices, lots)
	assert.False(t, ok, "unparseable option name")
}

func TestValuePositionsAcrossInstances(t *testing.T) {
	instances := []models.Instance{{
		ID: "i1",
		TradeDetails: []models.TradeDetail{
			{
				ID:        "t1",
				EntrySide: models.SideSell,
				LiveTradePositions: []models.LiveTradePosition{
					{ID: "a", OptionName: "NIFTY 24500 CE", CurrentQty: 2, EntryPrice: 100},
					{ID: "b", OptionName: "NIFTY 24600 CE", CurrentQty: 2, EntryPrice: 100},
				},
			},
			{
				ID:        "t2",
				EntrySide: models.SideBuy,
				LiveTradePositions: []models.LiveTradePosition{
					{ID: "c", OptionName: "NIFTY 24500 CE", CurrentQty: 1, EntryPrice: 80},
				},
			},
		},
	}}
	prices := map[string]float64{"NIFTY 24500 CE": 90}
	lots := map[string]int64{"nifty24500": 50}

	vals := ValuePositions(instances, prices, lots)
	require.Len(t, vals, 2)
	assert.Equal(t, "i1", vals[0].InstanceID)
	assert.Equal(t, "t1", vals[0].TradeID)

	// 1000 + 500
	assert.True(t, TotalMTM(vals).Equal(decimal.NewFromInt(1500)))
	per := TradeMTM(vals)
	assert.True(t, per["t2"].Equal(decimal.NewFromInt(500)))
}

// Feature: tradedesk, Property 2: BUY and SELL valuations are exact negations
//
// Property: For any entry, price, quantity and lot size, the BUY MTM equals the
// negated SELL MTM, and a price equal to entry values to zero.
func TestProperty_SideSymmetry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("buy = -sell", prop.ForAll(
		func(entry, price float64, qty, lot int64) bool {
			sell, ok1 := PositionMTM(models.SideSell, entry, price, qty, lot)
			buy, ok2 := PositionMTM(models.SideBuy, entry, price, qty, lot)
			flat, _ := PositionMTM(models.SideBuy, entry, entry, qty, lot)
			return ok1 && ok2 && buy.Equal(sell.Neg()) && flat.IsZero()
		},
		gen.Float64Range(0.05, 5000),
		gen.Float64Range(0.05, 5000),
		gen.Int64Range(1, 100),
		gen.Int64Range(1, 1800),
	))

	properties.TestingRun(t)
}
