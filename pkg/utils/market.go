package utils

import (
	"strings"
)

// Exchange instrument ids of the indices the desk tracks.
const (
	InstrumentNIFTY      int64 = 26000
	InstrumentBANKNIFTY  int64 = 26001
	InstrumentFINNIFTY   int64 = 26034
	InstrumentMIDCPNIFTY int64 = 26121
	InstrumentSENSEX     int64 = 26065
	InstrumentBANKEX     int64 = 26118
)

// indexNames maps instrument ids to index names.
var indexNames = map[int64]string{
	InstrumentNIFTY:      "NIFTY",
	InstrumentBANKNIFTY:  "BANKNIFTY",
	InstrumentFINNIFTY:   "FINNIFTY",
	InstrumentMIDCPNIFTY: "MIDCPNIFTY",
	InstrumentSENSEX:     "SENSEX",
	InstrumentBANKEX:     "BANKEX",
}

// Index exchange segments.
const (
	SegmentNSECM = 1
	SegmentBSECM = 11
)

// IndexName returns the index name for a tracked instrument id.
func IndexName(instrumentID int64) (string, bool) {
	name, ok := indexNames[instrumentID]
	return name, ok
}

// IndexInstrument is an exchange segment and instrument id pair.
type IndexInstrument struct {
	ExchangeSegment      int   `json:"exchangeSegment"`
	ExchangeInstrumentID int64 `json:"exchangeInstrumentID"`
}

// TrackedIndices returns the instruments to subscribe for index prices.
func TrackedIndices() []IndexInstrument {
	return []IndexInstrument{
		{ExchangeSegment: SegmentNSECM, ExchangeInstrumentID: InstrumentNIFTY},
		{ExchangeSegment: SegmentNSECM, ExchangeInstrumentID: InstrumentBANKNIFTY},
		{ExchangeSegment: SegmentNSECM, ExchangeInstrumentID: InstrumentFINNIFTY},
		{ExchangeSegment: SegmentNSECM, ExchangeInstrumentID: InstrumentMIDCPNIFTY},
		{ExchangeSegment: SegmentBSECM, ExchangeInstrumentID: InstrumentSENSEX},
		{ExchangeSegment: SegmentBSECM, ExchangeInstrumentID: InstrumentBANKEX},
	}
}

// LotSizeKey derives the lot-size lookup key from an option name such as
// "NIFTY 24500 CE": lower-cased underlying followed by the second field
// ("nifty24500"). ok is false when the name has fewer than two fields.
func LotSizeKey(optionName string) (string, bool) {
	fields := strings.Fields(optionName)
	if len(fields) < 2 {
		return "", false
	}
	return strings.ToLower(fields[0]) + fields[1], true
}

// OptionType returns CE or PE from an option name, or "".
func OptionType(optionName string) string {
	fields := strings.Fields(optionName)
	if len(fields) < 3 {
		return ""
	}
	switch t := strings.ToUpper(fields[2]); t {
	case "CE", "PE":
		return t
	}
	return ""
}
