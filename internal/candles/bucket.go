// Package candles aggregates premium values into one-minute OHLC bars.
package candles

import "time"

// ISTOffset is the exchange-local offset applied before minute truncation.
const ISTOffset = 5*time.Hour + 30*time.Minute

// bucketNudge rounds timestamps a hair forward so a value stamped a few
// milliseconds before a minute boundary lands in the next bar.
const bucketNudge = 50 * time.Millisecond

// BucketTime returns the start of the one-minute bar containing at, in
// epoch seconds shifted by offset.
func BucketTime(at time.Time, offset time.Duration) int64 {
	ms := at.UnixMilli() + offset.Milliseconds() + bucketNudge.Milliseconds()
	sec := floorDiv(ms, 1000)
	return sec - floorMod(sec, 60)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
