package models

import "time"

// Instance is a monitored basket of option legs sharing an index, expiry and
// strike range.
type Instance struct {
	ID           string        `json:"id"`
	IndexName    string        `json:"indexName"`
	Expiry       string        `json:"expiry"`
	LTPRange     Number        `json:"ltpRange"`
	LowestValue  float64       `json:"lowestValue"`
	LTPSpot      float64       `json:"ltpSpot"`
	TradeDetails []TradeDetail `json:"tradeDetails"`
}

// TradeDetail is one adjustable leg-group within an instance.
type TradeDetail struct {
	ID                          string              `json:"id"`
	HumanID                     string              `json:"humanId"`
	LegCount                    int                 `json:"legCount"`
	Qty                         Quantity            `json:"qty"`
	CurrentQty                  Quantity            `json:"currentQty"`
	QtyInLots                   Quantity            `json:"qtyInLots"`
	EntrySide                   Side                `json:"entrySide"`
	EntryType                   EntryType           `json:"entryType"`
	EntryPrice                  float64             `json:"entryPrice"`
	EntrySpotPrice              float64             `json:"entrySpotPrice"`
	StopLossPoints              float64             `json:"stopLossPoints"`
	StopLossPremium             float64             `json:"stopLossPremium"`
	TakeProfitPoints            float64             `json:"takeProfitPoints"`
	TakeProfitPremium           float64             `json:"takeProfitPremium"`
	PointOfAdjustment           float64             `json:"pointOfAdjustment"`
	PointOfAdjustmentLowerLimit float64             `json:"pointOfAdjustmentLowerLimit"`
	PointOfAdjustmentUpperLimit float64             `json:"pointOfAdjustmentUpperLimit"`
	EntryTriggered              bool                `json:"entryTriggered"`
	SLTriggered                 bool                `json:"slTriggered"`
	TPTriggered                 bool                `json:"tpTriggered"`
	Reason                      string              `json:"reason"`
	UserExit                    bool                `json:"userExit"`
	MTM                         float64             `json:"mtm"`
	UpdatedAt                   time.Time           `json:"updatedAt"`
	LiveTradePositions          []LiveTradePosition `json:"liveTradePositions"`
}

// LiveTradePosition is one executed leg. ClosePrice is nil while open.
type LiveTradePosition struct {
	ID             string    `json:"id"`
	OptionName     string    `json:"optionName"`
	InitialQty     Quantity  `json:"initialQty"`
	CurrentQty     Quantity  `json:"currentQty"`
	EntryPrice     float64   `json:"entryPrice"`
	ClosePrice     *float64  `json:"closePrice"`
	ExchangeID     string    `json:"exchangeId"`
	TradeDetailsID string    `json:"tradeDetailsId"`
	Closed         bool      `json:"closed"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FindTradeDetail returns the trade detail with the given id across instances.
func FindTradeDetail(instances []Instance, id string) (TradeDetail, bool) {
	for _, inst := range instances {
		for _, td := range inst.TradeDetails {
			if td.ID == id {
				return td, true
			}
		}
	}
	return TradeDetail{}, false
}

// FindInstance returns the instance with the given id.
func FindInstance(instances []Instance, id string) (Instance, bool) {
	for _, inst := range instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}
