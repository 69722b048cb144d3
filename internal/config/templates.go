package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Trading Desk Sync Configuration

[backend]
# REST backend of record
url = "http://localhost:8080"
# Bearer token; TRADEDESK_TOKEN overrides this
token = ""
timeout = "30s"
# Client-side request rate limit
rate_per_sec = 10.0
burst = 5

# Push connections. health_url must answer {"brokerWSConnected":true,"redisConnected":true}
[feeds.market]
url = "ws://localhost:8081/ws"
health_url = "http://localhost:8081/health"
max_reconnect_attempts = 5
reconnect_delay = "2s"
ping_interval = "20s"

[feeds.chart]
url = "ws://localhost:8082/ws"
health_url = "http://localhost:8082/health"
max_reconnect_attempts = 5
reconnect_delay = "2s"
ping_interval = "20s"

[feeds.info]
url = "ws://localhost:8083/ws"
health_url = "http://localhost:8083/health"
max_reconnect_attempts = 5
reconnect_delay = "2s"
ping_interval = "20s"

[stream]
# Minimum spacing between deliveries per key; latest value wins
throttle_window = "100ms"

[candles]
# Fixed offset applied before minute truncation
utc_offset = "5h30m"
max_bars = 1500

[priceline]
hit_threshold_px = 8.0
# Restore the pre-drag level when the backend write fails
rollback_on_failure = false
commit_timeout = "15s"

[store]
# Local sqlite journal of commits and lot-size cache
enabled = true
# Defaults to tradedesk.db in the config directory
# path = ""

[notifications]
enabled = true
# all, errors_only
level = "all"
terminal = true

[notifications.webhook]
enabled = false
url = ""

[logging]
level = "info"
console = true
file = true
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
