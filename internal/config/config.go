// Package config provides configuration management for the trading desk.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tradedesk/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Backend       BackendConfig      `mapstructure:"backend"`
	Feeds         FeedsConfig        `mapstructure:"feeds"`
	Stream        StreamConfig       `mapstructure:"stream"`
	Candles       CandleConfig       `mapstructure:"candles"`
	PriceLine     PriceLineConfig    `mapstructure:"priceline"`
	Store         StoreConfig        `mapstructure:"store"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       logging.LogConfig  `mapstructure:"logging"`
}

// BackendConfig holds the REST backend of record settings.
type BackendConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
}

// FeedConfig holds settings for one push connection.
type FeedConfig struct {
	URL                  string        `mapstructure:"url"`
	HealthURL            string        `mapstructure:"health_url"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
}

// FeedsConfig groups the three push connections the desk uses.
type FeedsConfig struct {
	Market FeedConfig `mapstructure:"market"` // index prices, option premiums
	Chart  FeedConfig `mapstructure:"chart"`  // candles, last prices, leg prices
	Info   FeedConfig `mapstructure:"info"`   // trade info, orders, logout
}

// StreamConfig holds coalescing settings.
type StreamConfig struct {
	ThrottleWindow time.Duration `mapstructure:"throttle_window"`
}

// CandleConfig holds bar aggregation settings.
type CandleConfig struct {
	UTCOffset time.Duration `mapstructure:"utc_offset"`
	MaxBars   int           `mapstructure:"max_bars"`
}

// PriceLineConfig holds draggable price-line settings.
type PriceLineConfig struct {
	HitThresholdPx    float64       `mapstructure:"hit_threshold_px"`
	RollbackOnFailure bool          `mapstructure:"rollback_on_failure"`
	CommitTimeout     time.Duration `mapstructure:"commit_timeout"`
}

// StoreConfig holds the local sqlite journal settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Level    string        `mapstructure:"level"` // all, errors_only
	Terminal bool          `mapstructure:"terminal"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tradedesk"
	}
	return filepath.Join(home, ".config", "tradedesk")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// A missing .env is fine.
	_ = godotenv.Load(filepath.Join(configDir, ".env"), ".env")

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target *Config) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("backend.url", "http://localhost:8080")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.rate_per_sec", 10.0)
	v.SetDefault("backend.burst", 5)

	for _, feed := range []string{"market", "chart", "info"} {
		v.SetDefault("feeds."+feed+".max_reconnect_attempts", 5)
		v.SetDefault("feeds."+feed+".reconnect_delay", 2*time.Second)
		v.SetDefault("feeds."+feed+".ping_interval", 20*time.Second)
		v.SetDefault("feeds."+feed+".handshake_timeout", 10*time.Second)
	}

	v.SetDefault("stream.throttle_window", 100*time.Millisecond)

	v.SetDefault("candles.utc_offset", 5*time.Hour+30*time.Minute)
	v.SetDefault("candles.max_bars", 1500)

	v.SetDefault("priceline.hit_threshold_px", 8.0)
	v.SetDefault("priceline.rollback_on_failure", false)
	v.SetDefault("priceline.commit_timeout", 15*time.Second)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(configDir, "tradedesk.db"))

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.terminal", true)

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADEDESK_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv("TRADEDESK_API_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("TRADEDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Backend.URL); err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if c.Backend.RatePerSec <= 0 {
		return fmt.Errorf("backend.rate_per_sec must be positive")
	}

	feeds := map[string]FeedConfig{
		"market": c.Feeds.Market,
		"chart":  c.Feeds.Chart,
		"info":   c.Feeds.Info,
	}
	for name, f := range feeds {
		if f.URL != "" {
			if _, err := url.ParseRequestURI(f.URL); err != nil {
				return fmt.Errorf("feeds.%s.url: %w", name, err)
			}
		}
		if f.MaxReconnectAttempts < 1 || f.MaxReconnectAttempts > 50 {
			return fmt.Errorf("feeds.%s.max_reconnect_attempts must be between 1 and 50", name)
		}
		if f.ReconnectDelay <= 0 {
			return fmt.Errorf("feeds.%s.reconnect_delay must be positive", name)
		}
	}

	if c.Stream.ThrottleWindow < 0 {
		return fmt.Errorf("stream.throttle_window must be non-negative")
	}
	if c.Candles.UTCOffset < -12*time.Hour || c.Candles.UTCOffset > 14*time.Hour {
		return fmt.Errorf("candles.utc_offset out of range: %s", c.Candles.UTCOffset)
	}
	if c.PriceLine.HitThresholdPx <= 0 {
		return fmt.Errorf("priceline.hit_threshold_px must be positive")
	}
	if c.Notifications.Level != "" && c.Notifications.Level != "all" && c.Notifications.Level != "errors_only" {
		return fmt.Errorf("invalid notifications.level: %s (must be 'all' or 'errors_only')", c.Notifications.Level)
	}

	return nil
}

// FeedByName returns the feed settings for market, chart or info.
func (c *Config) FeedByName(name string) (FeedConfig, bool) {
	switch name {
	case "market":
		return c.Feeds.Market, true
	case "chart":
		return c.Feeds.Chart, true
	case "info":
		return c.Feeds.Info, true
	}
	return FeedConfig{}, false
}
