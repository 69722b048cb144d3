package backend

import (
	"context"
	"net/http"

	"tradedesk/internal/models"
	"tradedesk/internal/priceline"
	"tradedesk/internal/trading"
)

var _ priceline.Committer = (*Client)(nil)

// CandleQuery selects the candle history of one instance.
type CandleQuery struct {
	IndexName  string  `url:"indexName"`
	ExpiryDate string  `url:"expiryDate"`
	Range      float64 `url:"range"`
}

// CandleQueryFor builds the history query for an instance.
func CandleQueryFor(inst models.Instance) CandleQuery {
	return CandleQuery{
		IndexName:  inst.IndexName,
		ExpiryDate: inst.Expiry,
		Range:      float64(inst.LTPRange),
	}
}

type idQuery struct {
	ID string `url:"id"`
}

type tradeQuery struct {
	TradeID string `url:"tradeId"`
}

// DetailBody is the PUT /user/tradeInfo body. Points are derived from the
// premiums so the two always agree.
type DetailBody struct {
	Qty                         int64            `json:"qty"`
	CurrentQty                  int64            `json:"currentQty"`
	EntrySide                   models.Side      `json:"entrySide"`
	EntryType                   models.EntryType `json:"entryType"`
	EntryPrice                  float64          `json:"entryPrice"`
	StopLossPoints              float64          `json:"stopLossPoints"`
	StopLossPremium             float64          `json:"stopLossPremium"`
	TakeProfitPoints            float64          `json:"takeProfitPoints"`
	TakeProfitPremium           float64          `json:"takeProfitPremium"`
	PointOfAdjustment           float64          `json:"pointOfAdjustment"`
	PointOfAdjustmentLowerLimit float64          `json:"pointOfAdjustmentLowerLimit"`
	PointOfAdjustmentUpperLimit float64          `json:"pointOfAdjustmentUpperLimit"`
}

// NewDetailBody builds the request body for an edit. An unset premium keeps
// zero points.
func NewDetailBody(u trading.DetailUpdate) DetailBody {
	slPoints, tpPoints := trading.Points(u.EntrySide, u.EntryPrice, u.StopLossPremium, u.TakeProfitPremium)
	if u.StopLossPremium <= 0 {
		slPoints = 0
	}
	if u.TakeProfitPremium <= 0 {
		tpPoints = 0
	}
	return DetailBody{
		Qty:                         u.Qty,
		CurrentQty:                  u.Qty,
		EntrySide:                   u.EntrySide,
		EntryType:                   u.EntryType,
		EntryPrice:                  u.EntryPrice,
		StopLossPoints:              slPoints,
		StopLossPremium:             u.StopLossPremium,
		TakeProfitPoints:            tpPoints,
		TakeProfitPremium:           u.TakeProfitPremium,
		PointOfAdjustment:           u.PointOfAdjustment,
		PointOfAdjustmentLowerLimit: u.PointOfAdjustmentLowerLimit,
		PointOfAdjustmentUpperLimit: u.PointOfAdjustmentUpperLimit,
	}
}

// GetTradeInfo fetches the instance snapshot.
func (c *Client) GetTradeInfo(ctx context.Context) ([]models.Instance, error) {
	return get[[]models.Instance](ctx, c, "/user/tradeInfo", nil)
}

// GetLotSizes fetches the lot-size table.
func (c *Client) GetLotSizes(ctx context.Context) ([]models.LotSize, error) {
	return get[[]models.LotSize](ctx, c, "/user/lotSize", nil)
}

// GetCandles fetches server-built candle history.
func (c *Client) GetCandles(ctx context.Context, q CandleQuery) ([]models.Bar, error) {
	return get[[]models.Bar](ctx, c, "/user/candle", q)
}

// GetServiceEvents fetches backend service heartbeats.
func (c *Client) GetServiceEvents(ctx context.Context) ([]models.ServiceEvent, error) {
	return get[[]models.ServiceEvent](ctx, c, "/user/servicesEvents", nil)
}

// GetPositions fetches the order-service positions backing a trade's levels.
func (c *Client) GetPositions(ctx context.Context, tradeID string) ([]models.Position, error) {
	return get[[]models.Position](ctx, c, "/user/position", tradeQuery{TradeID: tradeID})
}

// UpdatePosition moves an order-service position to price and returns the
// stored position. An empty response echoes the request.
func (c *Client) UpdatePosition(ctx context.Context, positionID string, price float64) (models.Position, error) {
	body := struct {
		Price float64 `json:"price"`
	}{Price: price}

	var env envelope[*models.Position]
	if err := c.do(ctx, BreakerCommit, http.MethodPut, "/user/position", idQuery{ID: positionID}, body, &env); err != nil {
		return models.Position{}, err
	}
	if env.Data == nil {
		return models.Position{ID: positionID, Price: price}, nil
	}
	return *env.Data, nil
}

// UpdateTradeDetail writes an edited trade detail.
func (c *Client) UpdateTradeDetail(ctx context.Context, tradeID string, update trading.DetailUpdate) error {
	return c.do(ctx, BreakerCommit, http.MethodPut, "/user/tradeInfo", idQuery{ID: tradeID}, NewDetailBody(update), nil)
}

// Health pings the backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, BreakerRead, http.MethodGet, "/health", nil, nil, nil)
}
