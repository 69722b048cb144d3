package feed

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"

	"tradedesk/internal/errors"
	"tradedesk/internal/models"
	"tradedesk/pkg/utils"
)

// EventKind is the wire name of an inbound event.
type EventKind string

const (
	KindPriceUpdate       EventKind = "priceUpdate"
	KindOptionPriceUpdate EventKind = "optionPriceUpdate"
	KindFeLowest          EventKind = "feLowest"
	KindOptionPremium     EventKind = "optionPremium"
	KindLastPrice         EventKind = "lastPrice"
	KindCandleUpdate      EventKind = "candleUpdate"
	KindTradeInfo         EventKind = "tradeInfo"
	KindOrder             EventKind = "order"
	KindTradeData         EventKind = "tradeData"
	KindPositionData      EventKind = "positionData"
	KindLogout            EventKind = "logout"
)

// Event is one validated inbound message.
type Event interface {
	Kind() EventKind
}

// PriceUpdate carries an instrument price.
type PriceUpdate struct {
	Tick models.PriceTick
}

func (PriceUpdate) Kind() EventKind { return KindPriceUpdate }

// OptionPriceUpdate carries the last traded price of one option leg.
type OptionPriceUpdate struct {
	Price models.OptionPrice
}

func (OptionPriceUpdate) Kind() EventKind { return KindOptionPriceUpdate }

// PremiumUpdate carries lowest combined premiums per instance. Source is
// feLowest, optionPremium or lastPrice.
type PremiumUpdate struct {
	Source   EventKind
	Premiums []models.OptionPremium
}

func (e PremiumUpdate) Kind() EventKind { return e.Source }

// CandleUpdate carries a server-built bar for one instance.
type CandleUpdate struct {
	InstanceID string
	Bar        models.Bar
}

func (CandleUpdate) Kind() EventKind { return KindCandleUpdate }

// TradeInfoUpdate carries a full instance snapshot.
type TradeInfoUpdate struct {
	Instances []models.Instance
}

func (TradeInfoUpdate) Kind() EventKind { return KindTradeInfo }

// OrderUpdate carries an order lifecycle status. Source is order or tradeData.
type OrderUpdate struct {
	Source       EventKind
	Status       models.OrderStatus
	RejectReason string
}

func (e OrderUpdate) Kind() EventKind { return e.Source }

// PositionData is passed through undecoded.
type PositionData struct {
	Raw json.RawMessage
}

func (PositionData) Kind() EventKind { return KindPositionData }

// Logout is the server's forced-disconnect signal.
type Logout struct {
	Reason string
}

func (Logout) Kind() EventKind { return KindLogout }

// envelope is the frame every message travels in.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wirePrice struct {
	Name    string   `json:"name"`
	Segment int      `json:"segment"`
	ID      *int64   `json:"id"`
	Price   *float64 `json:"price"`
}

type wireOptionPrice struct {
	Segment    int      `json:"segment"`
	ID         *int64   `json:"id"`
	OptionName string   `json:"optionName"`
	Price      *float64 `json:"price"`
}

type wirePremiums struct {
	Data        *[]models.OptionPremium `json:"data"`
	OptionsData *[]models.OptionPremium `json:"optionsData"`
}

type wireCandle struct {
	InstanceID string      `json:"instanceId"`
	Candle     *models.Bar `json:"candle"`
}

type wireTradeInfo struct {
	Data *[]models.Instance `json:"data"`
}

type wireOrder struct {
	OrderStatus        string `json:"OrderStatus"`
	CancelRejectReason string `json:"CancelRejectReason"`
}

type wireLogout struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Decode parses one frame into its event variant. Frames that are not valid
// JSON, lack required fields, or name an unknown event return an error and
// must be dropped by the caller.
func Decode(frame []byte, receivedAt time.Time) (Event, error) {
	var env envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return nil, errors.NewPayloadError("", "invalid envelope", errors.Wrap(errors.ErrMalformedPayload, err.Error()))
	}
	if env.Event == "" {
		return nil, errors.NewPayloadError("", "missing event name", nil)
	}

	kind := EventKind(env.Event)
	switch kind {
	case KindPriceUpdate:
		var w wirePrice
		if err := decodeBody(kind, env.Data, &w); err != nil {
			return nil, err
		}
		if w.ID == nil || w.Price == nil {
			return nil, errors.NewPayloadError(env.Event, "id and price are required", nil)
		}
		return PriceUpdate{Tick: models.PriceTick{
			InstrumentID: *w.ID,
			Name:         w.Name,
			Segment:      w.Segment,
			Price:        *w.Price,
			ReceivedAt:   receivedAt,
		}}, nil

	case KindOptionPriceUpdate:
		var w wireOptionPrice
		if err := decodeBody(kind, env.Data, &w); err != nil {
			return nil, err
		}
		if w.ID == nil || w.Price == nil || w.OptionName == "" {
			return nil, errors.NewPayloadError(env.Event, "id, optionName and price are required", nil)
		}
		return OptionPriceUpdate{Price: models.OptionPrice{
			ID:         *w.ID,
			Segment:    w.Segment,
			OptionName: w.OptionName,
			Price:      *w.Price,
		}}, nil

	case KindFeLowest, KindOptionPremium, KindLastPrice:
		var w wirePremiums
		if err := decodeBody(kind, env.Data, &w); err != nil {
			return nil, err
		}
		list := w.Data
		if kind == KindLastPrice {
			list = w.OptionsData
		}
		if list == nil {
			return nil, errors.NewPayloadError(env.Event, "premium list is required", nil)
		}
		premiums := make([]models.OptionPremium, 0, len(*list))
		for _, p := range *list {
			// Items without an id or a positive premium carry nothing to chart.
			if p.ID == "" || p.LowestCombinedPremium <= 0 {
				continue
			}
			premiums = append(premiums, p)
		}
		return PremiumUpdate{Source: kind, Premiums: premiums}, nil

	case KindCandleUpdate:
		var w wireCandle
		if err := decodeBody(kind, env.Data, &w); err != nil {
			return nil, err
		}
		if w.InstanceID == "" || w.Candle == nil || w.Candle.Time <= 0 {
			return nil, errors.NewPayloadError(env.Event, "instanceId and candle.time are required", nil)
		}
		return CandleUpdate{InstanceID: w.InstanceID, Bar: *w.Candle}, nil

	case KindTradeInfo:
		var w wireTradeInfo
		if err := decodeBody(kind, env.Data, &w); err != nil {
			return nil, err
		}
		if w.Data == nil {
			return nil, errors.NewPayloadError(env.Event, "data is required", nil)
		}
		return TradeInfoUpdate{Instances: *w.Data}, nil

	case KindOrder, KindTradeData:
		var w wireOrder
		if err := decodeBody(kind, env.Data, &w); err != nil {
			return nil, err
		}
		if w.OrderStatus == "" {
			return nil, errors.NewPayloadError(env.Event, "OrderStatus is required", nil)
		}
		return OrderUpdate{
			Source:       kind,
			Status:       models.OrderStatus(w.OrderStatus),
			RejectReason: w.CancelRejectReason,
		}, nil

	case KindPositionData:
		return PositionData{Raw: env.Data}, nil

	case KindLogout:
		var w wireLogout
		// Any body is accepted; the signal itself is what matters.
		_ = sonic.Unmarshal(env.Data, &w)
		reason := w.Reason
		if reason == "" {
			reason = w.Message
		}
		return Logout{Reason: reason}, nil
	}

	return nil, errors.NewPayloadError(env.Event, "unsupported event", errors.ErrUnknownEvent)
}

func decodeBody(kind EventKind, data json.RawMessage, target interface{}) error {
	if len(data) == 0 {
		return errors.NewPayloadError(string(kind), "missing body", nil)
	}
	if err := sonic.Unmarshal(data, target); err != nil {
		return errors.NewPayloadError(string(kind), "invalid body", errors.Wrap(errors.ErrMalformedPayload, err.Error()))
	}
	return nil
}

// Outbound event names.
const (
	OutSubscribe            = "subscribe"
	OutSubscribeOptionsData = "subscribe-options-data"
	OutSubscribeChart       = "subscribeChart"
	OutUnsubscribeChart     = "unsubscribeChart"
	OutResubscribeChart     = "resubscribeChart"
)

// ChartSubscription is the subscribeChart payload.
type ChartSubscription struct {
	InstanceID string  `json:"instanceId"`
	IndexName  string  `json:"indexName"`
	Expiry     string  `json:"expiry"`
	LTPRange   float64 `json:"ltpRange"`
}

// ChartKey is the unsubscribeChart and resubscribeChart payload.
type ChartKey struct {
	InstanceID string `json:"instanceId"`
}

// OptionDataRequest is the subscribe-options-data payload.
type OptionDataRequest struct {
	Data OptionDataSubscription `json:"data"`
}

// OptionDataSubscription identifies the premium stream of one instance.
type OptionDataSubscription struct {
	ID        string  `json:"id"`
	IndexName string  `json:"indexName"`
	Expiry    string  `json:"expiry"`
	LTPRange  float64 `json:"ltpRange"`
}

// NewChartSubscription builds the chart subscribe payload for an instance.
func NewChartSubscription(inst models.Instance) ChartSubscription {
	return ChartSubscription{
		InstanceID: inst.ID,
		IndexName:  inst.IndexName,
		Expiry:     inst.Expiry,
		LTPRange:   float64(inst.LTPRange),
	}
}

// NewOptionDataRequest builds the option-data subscribe payload for an instance.
func NewOptionDataRequest(inst models.Instance) OptionDataRequest {
	return OptionDataRequest{Data: OptionDataSubscription{
		ID:        inst.ID,
		IndexName: inst.IndexName,
		Expiry:    inst.Expiry,
		LTPRange:  float64(inst.LTPRange),
	}}
}

// IndexSubscription is the subscribe payload for index prices.
type IndexSubscription struct {
	Instruments []utils.IndexInstrument `json:"instruments"`
}

// NewIndexSubscription subscribes every tracked index.
func NewIndexSubscription() IndexSubscription {
	return IndexSubscription{Instruments: utils.TrackedIndices()}
}
