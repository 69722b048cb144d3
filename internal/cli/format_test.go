package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"tradedesk/internal/models"
	"tradedesk/internal/store"
)

func TestFormatBarTime(t *testing.T) {
	// 1731562200 is 2024-11-14 05:30 UTC; bar times already carry the offset.
	assert.Equal(t, "14-Nov 05:30", FormatBarTime(1731562200))
	assert.Equal(t, "01-Jan 00:00", FormatBarTime(0))
}

func TestFormatLevel(t *testing.T) {
	levels := models.TradeLevels{}.With(models.LevelStopLoss, 112.5)

	assert.Equal(t, "112.50", FormatLevel(levels, models.LevelStopLoss))
	assert.Equal(t, "-", FormatLevel(levels, models.LevelTakeProfit))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in), tt.in.String())
	}
}

// Feature: tradedesk, Property 21: TruncateString never exceeds the limit
// and leaves short strings untouched.
func TestProperty21_TruncateString(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("truncated strings fit", prop.ForAll(
		func(s string, n int) bool {
			out := TruncateString(s, n)
			if utf8.RuneCountInString(s) <= n {
				return out == s
			}
			return utf8.RuneCountInString(out) == n
		},
		gen.AnyString(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

// Feature: tradedesk, Property 22: table columns line up regardless of
// color codes in their cells.
func TestProperty22_TableAlignment(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every row has the same visible width", prop.ForAll(
		func(cells []string) bool {
			var buf bytes.Buffer
			out := newOutput(&buf, false, true)
			table := NewTable(out, "Name", "Value")
			for i, c := range cells {
				if i%2 == 0 {
					c = out.Green(c)
				}
				table.AddRow(c, "x")
			}
			table.Render()

			width := len("Name")
			for _, c := range cells {
				if n := utf8.RuneCountInString(c); n > width {
					width = n
				}
			}

			lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
			for _, line := range lines[2:] {
				if visibleLen(line) != width+len("  x") {
					return false
				}
			}
			return len(lines) == len(cells)+2
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestOutputColorToggle(t *testing.T) {
	var plain, colored bytes.Buffer

	newOutput(&plain, false, false).Success("done")
	newOutput(&colored, false, true).Success("done")

	assert.Equal(t, "done\n", plain.String())
	assert.Contains(t, colored.String(), "\x1b[")
	assert.Equal(t, 4, visibleLen(strings.TrimSpace(colored.String())))
}

func TestFormatMTM(t *testing.T) {
	out := newOutput(&bytes.Buffer{}, false, false)

	assert.Equal(t, "+₹1,000.00", out.FormatMTM(decimal.NewFromInt(1000)))
	assert.Equal(t, "-₹1,25,000.50", out.FormatMTM(decimal.RequireFromString("-125000.50")))
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, true, false)

	assert.True(t, out.IsJSON())
	assert.NoError(t, out.JSON(store.Commit{TradeID: "td-1", Level: models.LevelStopLoss, Price: 120, Status: store.CommitOK}))
	assert.Contains(t, buf.String(), `"trade_id": "td-1"`)
	assert.Contains(t, buf.String(), `"level": "stopLoss"`)
}

func TestChartForRoundTripsExactly(t *testing.T) {
	chart := chartFor(110, 120.35)

	y, ok := chart.PriceToCoordinate(120.35)
	assert.True(t, ok)
	price, ok := chart.CoordinateToPrice(y)
	assert.True(t, ok)
	assert.Equal(t, 120.35, price)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "-", maskToken(""))
	assert.Equal(t, "sh***", maskToken("short"))
	assert.Equal(t, "abcd******wxyz", maskToken("abcdefghijwxyz"))
}
