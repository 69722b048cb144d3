package models

// PositionType identifies which trade level an order-service position backs.
type PositionType string

const (
	PositionEntry      PositionType = "entry"
	PositionStopLoss   PositionType = "stop_loss"
	PositionTakeProfit PositionType = "take_profit"
)

// Position is an order-service position that a price line commits to.
type Position struct {
	ID           string       `json:"id"`
	PositionID   string       `json:"position_id"`
	OrderID      string       `json:"order_id"`
	TradeID      string       `json:"trade_id"`
	PositionType PositionType `json:"position_type"`
	Price        float64      `json:"price"`
	Quantity     int64        `json:"quantity,omitempty"`
	Status       string       `json:"status,omitempty"`
}

// LevelKind names one of the three draggable trade levels.
type LevelKind string

const (
	LevelEntry      LevelKind = "entry"
	LevelStopLoss   LevelKind = "stopLoss"
	LevelTakeProfit LevelKind = "takeProfit"
)

// AllLevels lists the level kinds in display order.
var AllLevels = []LevelKind{LevelEntry, LevelStopLoss, LevelTakeProfit}

// PositionType returns the order-service position type backing the level.
func (k LevelKind) PositionType() PositionType {
	switch k {
	case LevelStopLoss:
		return PositionStopLoss
	case LevelTakeProfit:
		return PositionTakeProfit
	default:
		return PositionEntry
	}
}

// TradeLevels holds the optional absolute prices shown as price lines.
type TradeLevels struct {
	TradeID    string   `json:"tradeId"`
	Entry      *float64 `json:"entry"`
	StopLoss   *float64 `json:"stopLoss"`
	TakeProfit *float64 `json:"takeProfit"`
}

// Get returns the level for kind, if set.
func (l TradeLevels) Get(kind LevelKind) (float64, bool) {
	var p *float64
	switch kind {
	case LevelEntry:
		p = l.Entry
	case LevelStopLoss:
		p = l.StopLoss
	case LevelTakeProfit:
		p = l.TakeProfit
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// With returns a copy of l with kind set to price.
func (l TradeLevels) With(kind LevelKind, price float64) TradeLevels {
	v := price
	switch kind {
	case LevelEntry:
		l.Entry = &v
	case LevelStopLoss:
		l.StopLoss = &v
	case LevelTakeProfit:
		l.TakeProfit = &v
	}
	return l
}

// Merge overlays the non-nil fields of patch onto l.
func (l TradeLevels) Merge(patch TradeLevels) TradeLevels {
	if patch.Entry != nil {
		v := *patch.Entry
		l.Entry = &v
	}
	if patch.StopLoss != nil {
		v := *patch.StopLoss
		l.StopLoss = &v
	}
	if patch.TakeProfit != nil {
		v := *patch.TakeProfit
		l.TakeProfit = &v
	}
	return l
}

// Equal reports whether two level sets hold the same values.
func (l TradeLevels) Equal(o TradeLevels) bool {
	return l.TradeID == o.TradeID &&
		floatPtrEqual(l.Entry, o.Entry) &&
		floatPtrEqual(l.StopLoss, o.StopLoss) &&
		floatPtrEqual(l.TakeProfit, o.TakeProfit)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// OrderStatus is the lifecycle status pushed on the order and tradeData events.
type OrderStatus string

const (
	OrderPendingNew OrderStatus = "PendingNew"
	OrderRejected   OrderStatus = "Rejected"
	OrderFilled     OrderStatus = "Filled"
)
