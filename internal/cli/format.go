package cli

import (
	"fmt"
	"time"

	"tradedesk/internal/models"
	"tradedesk/pkg/utils"
)

// FormatBarTime renders a bar's bucket start in the bar's own offset. Bar
// times already include the offset, so they are printed as UTC.
func FormatBarTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format("02-Jan 15:04")
}

// FormatLevel renders an optional trade level.
func FormatLevel(levels models.TradeLevels, kind models.LevelKind) string {
	if p, ok := levels.Get(kind); ok {
		return utils.FormatPrice(p)
	}
	return "-"
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatDateTime formats a timestamp in local time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("02-Jan-2006 15:04:05")
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
