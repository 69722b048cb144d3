// Package models provides domain models for the trading desk.
package models

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Side represents the entry side of a trade detail.
type Side string

const (
	SideBuy       Side = "BUY"
	SideSell      Side = "SELL"
	SideUndefined Side = "UNDEFINED"
)

// EntryType represents how a trade detail enters the market.
type EntryType string

const (
	EntryMarket    EntryType = "MARKET"
	EntryLimit     EntryType = "LIMIT"
	EntryUndefined EntryType = "UNDEFINED"
)

// Quantity is a lot count that the backend sends either as a JSON number or
// as a numeric string.
type Quantity int64

// UnmarshalJSON accepts 3, "3" and "".
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*q = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	*q = Quantity(n)
	return nil
}

// Int64 returns the quantity as an int64.
func (q Quantity) Int64() int64 {
	return int64(q)
}

// Number is a float the backend may send quoted.
type Number float64

// UnmarshalJSON accepts 100, "100" and "".
func (n *Number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = Number(f)
	return nil
}

// ID is an identifier the backend sends either as a string or as a number.
type ID string

// UnmarshalJSON accepts "abc" and 42.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		*id = ID(unquoted)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("invalid id %s", s)
	}
	*id = ID(s)
	return nil
}

// PriceTick is an inbound index price event.
type PriceTick struct {
	InstrumentID int64
	Name         string
	Segment      int
	Price        float64
	ReceivedAt   time.Time
}

// OptionPrice is the last traded price of a single option leg.
type OptionPrice struct {
	ID         int64   `json:"id"`
	Segment    int     `json:"segment"`
	OptionName string  `json:"optionName"`
	Price      float64 `json:"price"`
}

// OptionPremium is the lowest combined premium of an instance's legs.
type OptionPremium struct {
	ID                    ID      `json:"id"`
	LowestCombinedPremium float64 `json:"lowestCombinedPremium"`
}

// CombinedPremium is one candidate combination for an instance.
type CombinedPremium struct {
	Name            string  `json:"name"`
	CombinedPremium float64 `json:"combinedPremium"`
}

// PremiumSet carries every candidate combination for an instance.
type PremiumSet struct {
	ID                   ID                `json:"id"`
	CombinedPremiumArray []CombinedPremium `json:"combinedPremiumArray"`
}

// LowestCombinedPremium reduces each set to its cheapest combination.
// Sets without candidates are skipped.
func LowestCombinedPremium(sets []PremiumSet) []OptionPremium {
	out := make([]OptionPremium, 0, len(sets))
	for _, set := range sets {
		if len(set.CombinedPremiumArray) == 0 {
			continue
		}
		lowest := set.CombinedPremiumArray[0].CombinedPremium
		for _, c := range set.CombinedPremiumArray[1:] {
			if c.CombinedPremium < lowest {
				lowest = c.CombinedPremium
			}
		}
		out = append(out, OptionPremium{ID: set.ID, LowestCombinedPremium: lowest})
	}
	return out
}

// Bar is an OHLC candle. Time is the bucket start in epoch seconds.
type Bar struct {
	Time  int64   `json:"time" csv:"time"`
	Open  float64 `json:"open" csv:"open"`
	High  float64 `json:"high" csv:"high"`
	Low   float64 `json:"low" csv:"low"`
	Close float64 `json:"close" csv:"close"`
}

// LotSize maps a lot-size key (e.g. "nifty24500") to its multiplier.
type LotSize struct {
	OptionName string `json:"optionName"`
	LotSize    int64  `json:"lotSize"`
}

// Readiness is the push server's readiness probe response.
type Readiness struct {
	BrokerWSConnected bool `json:"brokerWSConnected"`
	RedisConnected    bool `json:"redisConnected"`
}

// Ready reports whether both upstream links are up.
func (r Readiness) Ready() bool {
	return r.BrokerWSConnected && r.RedisConnected
}

// ServiceEventType identifies a heartbeat kind reported by a backend service.
type ServiceEventType string

const (
	ServiceEventRedis  ServiceEventType = "last_redis"
	ServiceEventSocket ServiceEventType = "last_socket"
	ServiceEventCheck  ServiceEventType = "last_check"
)

// ServiceEvent is one heartbeat record from /user/servicesEvents.
type ServiceEvent struct {
	Name string           `json:"name"`
	Type ServiceEventType `json:"type"`
	Date string           `json:"date"`
}
