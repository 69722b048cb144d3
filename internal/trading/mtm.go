// Package trading values option positions mark-to-market and derives the
// price levels of a trade detail.
package trading

import (
	"github.com/shopspring/decimal"

	"tradedesk/internal/models"
	"tradedesk/pkg/utils"
)

// Valuation is the mark-to-market of one live trade position.
type Valuation struct {
	PositionID string
	TradeID    string
	InstanceID string
	OptionName string
	OptionType string
	Side       models.Side
	Closed     bool
	// Price is the live price for open positions and the close price for
	// closed ones.
	Price    float64
	Quantity int64
	LotSize  int64
	MTM      decimal.Decimal
}

// PositionMTM computes (exit - entry) * qty * lot for BUY and the negation
// for SELL. ok is false for an undefined side.
func PositionMTM(side models.Side, entry, exit float64, qty, lot int64) (decimal.Decimal, bool) {
	units := decimal.NewFromInt(qty).Mul(decimal.NewFromInt(lot))
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)

	switch side {
	case models.SideSell:
		return e.Sub(x).Mul(units), true
	case models.SideBuy:
		return x.Sub(e).Mul(units), true
	}
	return decimal.Zero, false
}

// ValuePosition values one position of a trade detail. Open positions use the
// live price of their option and the current quantity; closed positions use
// the close price and the initial quantity. ok is false when the price, close
// price or lot size is unknown, or the side is undefined.
func ValuePosition(side models.Side, pos models.LiveTradePosition, prices map[string]float64, lots map[string]int64) (Valuation, bool) {
	key, ok := utils.LotSizeKey(pos.OptionName)
	if !ok {
		return Valuation{}, false
	}
	lot, ok := lots[key]
	if !ok {
		return Valuation{}, false
	}

	var price float64
	var qty int64
	if pos.Closed {
		if pos.ClosePrice == nil {
			return Valuation{}, false
		}
		price = *pos.ClosePrice
		qty = pos.InitialQty.Int64()
	} else {
		p, ok := prices[pos.OptionName]
		if !ok {
			return Valuation{}, false
		}
		price = p
		qty = pos.CurrentQty.Int64()
	}

	mtm, ok := PositionMTM(side, pos.EntryPrice, price, qty, lot)
	if !ok {
		return Valuation{}, false
	}

	return Valuation{
		PositionID: pos.ID,
		TradeID:    pos.TradeDetailsID,
		OptionName: pos.OptionName,
		OptionType: utils.OptionType(pos.OptionName),
		Side:       side,
		Closed:     pos.Closed,
		Price:      price,
		Quantity:   qty,
		LotSize:    lot,
		MTM:        mtm,
	}, true
}

// ValuePositions values every position it can price across instances.
func ValuePositions(instances []models.Instance, prices map[string]float64, lots map[string]int64) []Valuation {
	var out []Valuation
	for _, inst := range instances {
		for _, td := range inst.TradeDetails {
			for _, pos := range td.LiveTradePositions {
				v, ok := ValuePosition(td.EntrySide, pos, prices, lots)
				if !ok {
					continue
				}
				v.InstanceID = inst.ID
				if v.TradeID == "" {
					v.TradeID = td.ID
				}
				out = append(out, v)
			}
		}
	}
	return out
}

// TotalMTM sums valuations.
func TotalMTM(vals []Valuation) decimal.Decimal {
	total := decimal.Zero
	for _, v := range vals {
		total = total.Add(v.MTM)
	}
	return total
}

// TradeMTM sums valuations per trade detail.
func TradeMTM(vals []Valuation) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, v := range vals {
		out[v.TradeID] = out[v.TradeID].Add(v.MTM)
	}
	return out
}
