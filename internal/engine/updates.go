package engine

import (
	"github.com/shopspring/decimal"

	"tradedesk/internal/feed"
	"tradedesk/internal/models"
	"tradedesk/internal/trading"
)

// UpdateKind names what an Update carries.
type UpdateKind string

const (
	UpdateIndex  UpdateKind = "index"
	UpdateBar    UpdateKind = "bar"
	UpdateMTM    UpdateKind = "mtm"
	UpdateLevels UpdateKind = "levels"
	UpdateFeed   UpdateKind = "feed"
)

// Update is published on the engine hub after state changes.
type Update struct {
	Kind UpdateKind
	// Key is the instance id for bars, the trade id for levels and the feed
	// name for feed state.
	Key string

	Tick       models.PriceTick
	Bar        models.Bar
	Levels     models.TradeLevels
	Valuations []trading.Valuation
	Total      decimal.Decimal
	FeedState  feed.State
}

// Topic returns the hub topic for kind and key. Index and MTM updates use
// the bare kind.
func Topic(kind UpdateKind, key string) string {
	if key == "" {
		return string(kind)
	}
	return string(kind) + ":" + key
}
