package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesTemplate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADEDESK_TOKEN", "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, "http://localhost:8080", cfg.Backend.URL)
	assert.Equal(t, 5*time.Hour+30*time.Minute, cfg.Candles.UTCOffset)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.ThrottleWindow)
	assert.Equal(t, filepath.Join(dir, "tradedesk.db"), cfg.Store.Path)
	assert.Equal(t, 5, cfg.Feeds.Market.MaxReconnectAttempts)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	body := `
[backend]
url = "https://desk.example.com/api"
token = "from-file"

[feeds.chart]
url = "wss://desk.example.com/chart"
reconnect_delay = "500ms"

[stream]
throttle_window = "250ms"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0600))
	t.Setenv("TRADEDESK_TOKEN", "from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://desk.example.com/api", cfg.Backend.URL)
	assert.Equal(t, "from-env", cfg.Backend.Token)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.ThrottleWindow)

	chart, ok := cfg.FeedByName("chart")
	require.True(t, ok)
	assert.Equal(t, "wss://desk.example.com/chart", chart.URL)
	assert.Equal(t, 500*time.Millisecond, chart.ReconnectDelay)
	assert.Equal(t, 5, chart.MaxReconnectAttempts)

	_, ok = cfg.FeedByName("orders")
	assert.False(t, ok)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADEDESK_API_URL", "")
	require.NoError(t, os.Unsetenv("TRADEDESK_API_URL"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRADEDESK_API_URL=http://10.0.0.5:9000\n"), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9000", cfg.Backend.URL)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	body := `
[candles]
utc_offset = "20h"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0600))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "candles.utc_offset")
}

func validConfig() *Config {
	feed := FeedConfig{MaxReconnectAttempts: 5, ReconnectDelay: time.Second}
	return &Config{
		Backend:   BackendConfig{URL: "http://localhost:8080", RatePerSec: 10},
		Feeds:     FeedsConfig{Market: feed, Chart: feed, Info: feed},
		Candles:   CandleConfig{UTCOffset: 5*time.Hour + 30*time.Minute},
		PriceLine: PriceLineConfig{HitThresholdPx: 8},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad backend url", func(c *Config) { c.Backend.URL = "not a url" }, "backend.url"},
		{"zero rate", func(c *Config) { c.Backend.RatePerSec = 0 }, "rate_per_sec"},
		{"bad feed url", func(c *Config) { c.Feeds.Info.URL = "::" }, "feeds.info.url"},
		{"too many attempts", func(c *Config) { c.Feeds.Market.MaxReconnectAttempts = 51 }, "max_reconnect_attempts"},
		{"no delay", func(c *Config) { c.Feeds.Chart.ReconnectDelay = 0 }, "reconnect_delay"},
		{"negative throttle", func(c *Config) { c.Stream.ThrottleWindow = -time.Millisecond }, "throttle_window"},
		{"offset out of range", func(c *Config) { c.Candles.UTCOffset = -13 * time.Hour }, "utc_offset"},
		{"no hit threshold", func(c *Config) { c.PriceLine.HitThresholdPx = 0 }, "hit_threshold_px"},
		{"bad level", func(c *Config) { c.Notifications.Level = "loud" }, "notifications.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
