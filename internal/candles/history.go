package candles

import "tradedesk/internal/models"

// TrimPartial drops the last bar of a fetched history unless its timestamp
// falls on second 59, which marks a completed minute.
func TrimPartial(bars []models.Bar) []models.Bar {
	if len(bars) == 0 {
		return bars
	}
	if bars[len(bars)-1].Time%60 != 59 {
		return bars[:len(bars)-1]
	}
	return bars
}

// capBars keeps at most max trailing bars. A non-positive max keeps all.
func capBars(bars []models.Bar, max int) []models.Bar {
	if max <= 0 || len(bars) <= max {
		return bars
	}
	return append([]models.Bar(nil), bars[len(bars)-max:]...)
}
