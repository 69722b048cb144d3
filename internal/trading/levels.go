package trading

import (
	"github.com/shopspring/decimal"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
)

// Premiums converts stop-loss and take-profit points into absolute premiums
// relative to entry. A non-positive entry or an undefined side gives zeros.
func Premiums(side models.Side, entry, slPoints, tpPoints float64) (stopLoss, takeProfit float64) {
	if entry <= 0 {
		return 0, 0
	}
	e := decimal.NewFromFloat(entry)
	sl := decimal.NewFromFloat(slPoints)
	tp := decimal.NewFromFloat(tpPoints)

	switch side {
	case models.SideBuy:
		return e.Sub(sl).InexactFloat64(), e.Add(tp).InexactFloat64()
	case models.SideSell:
		return e.Add(sl).InexactFloat64(), e.Sub(tp).InexactFloat64()
	}
	return 0, 0
}

// Points is the inverse of Premiums.
func Points(side models.Side, entry, slPremium, tpPremium float64) (slPoints, tpPoints float64) {
	if entry <= 0 {
		return 0, 0
	}
	e := decimal.NewFromFloat(entry)
	sl := decimal.NewFromFloat(slPremium)
	tp := decimal.NewFromFloat(tpPremium)

	switch side {
	case models.SideBuy:
		return e.Sub(sl).InexactFloat64(), tp.Sub(e).InexactFloat64()
	case models.SideSell:
		return sl.Sub(e).InexactFloat64(), e.Sub(tp).InexactFloat64()
	}
	return 0, 0
}

// DetailUpdate is the editable part of a trade detail.
type DetailUpdate struct {
	Qty               int64
	EntrySide         models.Side
	EntryType         models.EntryType
	EntryPrice        float64
	StopLossPremium   float64
	TakeProfitPremium float64

	PointOfAdjustment           float64
	PointOfAdjustmentLowerLimit float64
	PointOfAdjustmentUpperLimit float64
}

// ValidateDetail checks an edit before it is sent. Zero premiums mean the
// level is unset and are not checked against entry.
func ValidateDetail(u DetailUpdate) error {
	if u.Qty <= 0 {
		return errors.NewValidationError("qty", u.Qty, "quantity is required and must be greater than 0")
	}
	if u.EntrySide != models.SideBuy && u.EntrySide != models.SideSell {
		return errors.NewValidationError("entrySide", u.EntrySide, "select an entry side (BUY or SELL)")
	}
	if u.EntryType != models.EntryMarket && u.EntryType != models.EntryLimit {
		return errors.NewValidationError("entryType", u.EntryType, "select an entry type (MARKET or LIMIT)")
	}
	if u.EntryType == models.EntryLimit && u.EntryPrice <= 0 {
		return errors.NewValidationError("entryPrice", u.EntryPrice, "a LIMIT order needs an entry price")
	}
	if u.EntryPrice <= 0 {
		return nil
	}

	sl, tp := u.StopLossPremium, u.TakeProfitPremium
	switch u.EntrySide {
	case models.SideBuy:
		if sl > 0 && sl > u.EntryPrice {
			return errors.NewValidationError("stopLossPremium", sl, "stop loss must be at or below entry for BUY")
		}
		if tp > 0 && tp < u.EntryPrice {
			return errors.NewValidationError("takeProfitPremium", tp, "take profit must be at or above entry for BUY")
		}
	case models.SideSell:
		if sl > 0 && sl < u.EntryPrice {
			return errors.NewValidationError("stopLossPremium", sl, "stop loss must be at or above entry for SELL")
		}
		if tp > 0 && tp > u.EntryPrice {
			return errors.NewValidationError("takeProfitPremium", tp, "take profit must be at or below entry for SELL")
		}
	}
	return nil
}

// DetailUpdateFrom returns the editable fields of td.
func DetailUpdateFrom(td models.TradeDetail) DetailUpdate {
	return DetailUpdate{
		Qty:               td.Qty.Int64(),
		EntrySide:         td.EntrySide,
		EntryType:         td.EntryType,
		EntryPrice:        td.EntryPrice,
		StopLossPremium:   td.StopLossPremium,
		TakeProfitPremium: td.TakeProfitPremium,

		PointOfAdjustment:           td.PointOfAdjustment,
		PointOfAdjustmentLowerLimit: td.PointOfAdjustmentLowerLimit,
		PointOfAdjustmentUpperLimit: td.PointOfAdjustmentUpperLimit,
	}
}

// WithLevel returns u with one level moved to price.
func (u DetailUpdate) WithLevel(kind models.LevelKind, price float64) DetailUpdate {
	switch kind {
	case models.LevelEntry:
		u.EntryPrice = price
	case models.LevelStopLoss:
		u.StopLossPremium = price
	case models.LevelTakeProfit:
		u.TakeProfitPremium = price
	}
	return u
}

// LevelsFromDetail seeds draggable levels from a trade detail. Non-positive
// values are left unset.
func LevelsFromDetail(td models.TradeDetail) models.TradeLevels {
	levels := models.TradeLevels{TradeID: td.ID}
	if td.EntryPrice > 0 {
		levels = levels.With(models.LevelEntry, td.EntryPrice)
	}
	if td.StopLossPremium > 0 {
		levels = levels.With(models.LevelStopLoss, td.StopLossPremium)
	}
	if td.TakeProfitPremium > 0 {
		levels = levels.With(models.LevelTakeProfit, td.TakeProfitPremium)
	}
	return levels
}
