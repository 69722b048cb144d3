package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"tradedesk/internal/feed"
	"tradedesk/internal/models"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string
	Status    HealthStatus
	Message   string
	LastCheck time.Time
	Latency   time.Duration
	Details   map[string]interface{}
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthAlert is raised when a component turns unhealthy or recovers.
type HealthAlert struct {
	Component string
	From      HealthStatus
	To        HealthStatus
	Message   string
	Timestamp time.Time
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	Logger        zerolog.Logger
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval: 30 * time.Second,
		CheckTimeout:  10 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// HealthMonitor periodically runs component checks and raises alerts on
// status transitions.
type HealthMonitor struct {
	config HealthMonitorConfig
	logger zerolog.Logger

	mu              sync.RWMutex
	components      map[string]HealthCheck
	componentHealth map[string]ComponentHealth
	overallStatus   HealthStatus
	onAlert         func(HealthAlert)

	// Metrics
	totalChecks     int64
	failedChecks    int64
	panicRecoveries int64
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(config HealthMonitorConfig) *HealthMonitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 10 * time.Second
	}
	return &HealthMonitor{
		config:          config,
		logger:          config.Logger.With().Str("component", "health").Logger(),
		components:      make(map[string]HealthCheck),
		componentHealth: make(map[string]ComponentHealth),
		overallStatus:   HealthStatusUnknown,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// SetAlertCallback sets the callback for health alerts.
func (m *HealthMonitor) SetAlertCallback(callback func(HealthAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = callback
}

// Run checks every interval until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.RunChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunChecks(ctx)
		}
	}
}

// RunChecks runs every registered check once, concurrently.
func (m *HealthMonitor) RunChecks(ctx context.Context) SystemHealth {
	m.mu.RLock()
	components := maps.Clone(m.components)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
	defer cancel()

	var (
		wg      conc.WaitGroup
		resMu   sync.Mutex
		results = make([]ComponentHealth, 0, len(components))
	)
	for name, check := range components {
		name, check := name, check
		wg.Go(func() {
			health := m.runCheck(ctx, name, check)
			resMu.Lock()
			results = append(results, health)
			resMu.Unlock()
		})
	}
	wg.Wait()

	var alerts []HealthAlert

	m.mu.Lock()
	m.totalChecks++
	hasUnhealthy, hasDegraded := false, false
	for _, health := range results {
		prev, seen := m.componentHealth[health.Name]
		m.componentHealth[health.Name] = health

		switch health.Status {
		case HealthStatusUnhealthy:
			hasUnhealthy = true
			m.failedChecks++
		case HealthStatusDegraded:
			hasDegraded = true
		}

		from := HealthStatusUnknown
		if seen {
			from = prev.Status
		}
		if from != health.Status && (health.Status == HealthStatusUnhealthy || from == HealthStatusUnhealthy) {
			alerts = append(alerts, HealthAlert{
				Component: health.Name,
				From:      from,
				To:        health.Status,
				Message:   health.Message,
				Timestamp: health.LastCheck,
			})
		}
	}

	switch {
	case hasUnhealthy:
		m.overallStatus = HealthStatusUnhealthy
	case hasDegraded:
		m.overallStatus = HealthStatusDegraded
	case len(results) > 0:
		m.overallStatus = HealthStatusHealthy
	}
	onAlert := m.onAlert
	m.mu.Unlock()

	for _, a := range alerts {
		m.logger.Warn().
			Str("check", a.Component).
			Str("from", string(a.From)).
			Str("to", string(a.To)).
			Msg(a.Message)
		if onAlert != nil {
			onAlert(a)
		}
	}

	return m.GetHealth()
}

func (m *HealthMonitor) runCheck(ctx context.Context, name string, check HealthCheck) (health ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.panicRecoveries++
			m.mu.Unlock()
			health = ComponentHealth{
				Name:    name,
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Panic recovered: %v", r),
			}
		}
		health.Name = name
		health.LastCheck = time.Now()
		if health.Latency == 0 {
			health.Latency = time.Since(start)
		}
	}()

	return check(ctx)
}

// GetHealth returns the current health status.
func (m *HealthMonitor) GetHealth() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := maps.Keys(m.componentHealth)
	slices.Sort(names)
	components := make([]ComponentHealth, 0, len(names))
	for _, n := range names {
		components = append(components, m.componentHealth[n])
	}

	return SystemHealth{
		Status:          m.overallStatus,
		Components:      components,
		TotalChecks:     m.totalChecks,
		FailedChecks:    m.failedChecks,
		PanicRecoveries: m.panicRecoveries,
	}
}

// GetComponentHealth returns health for a specific component.
func (m *HealthMonitor) GetComponentHealth(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, ok := m.componentHealth[name]
	return health, ok
}

// IsHealthy returns true if the system is healthy.
func (m *HealthMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallStatus == HealthStatusHealthy
}

// SystemHealth represents overall health.
type SystemHealth struct {
	Status          HealthStatus      `json:"status"`
	Components      []ComponentHealth `json:"components"`
	TotalChecks     int64             `json:"total_checks"`
	FailedChecks    int64             `json:"failed_checks"`
	PanicRecoveries int64             `json:"panic_recoveries"`
}

// FeedStatus is what a feed health check reads from a connection.
type FeedStatus interface {
	State() feed.State
	Stats() (received, dropped int64)
}

// FeedHealthCheck reports a push connection: connected is healthy,
// reconnecting is degraded, anything else is unhealthy.
func FeedHealthCheck(conn FeedStatus) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		received, dropped := conn.Stats()
		state := conn.State()
		health := ComponentHealth{
			Details: map[string]interface{}{
				"state":    string(state),
				"received": received,
				"dropped":  dropped,
			},
		}

		switch state {
		case feed.StateConnected:
			health.Status = HealthStatusHealthy
			health.Message = "Feed connected"
		case feed.StateConnecting, feed.StateReconnecting:
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Feed %s", state)
		default:
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Feed %s", state)
		}
		return health
	}
}

// ReadinessHealthCheck probes a push server's readiness endpoint.
func ReadinessHealthCheck(probe func(ctx context.Context) (models.Readiness, error)) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		r, err := probe(ctx)
		health := ComponentHealth{Latency: time.Since(start)}

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Readiness probe failed: %v", err)
			return health
		}

		health.Details = map[string]interface{}{
			"brokerWSConnected": r.BrokerWSConnected,
			"redisConnected":    r.RedisConnected,
		}
		if !r.Ready() {
			health.Status = HealthStatusUnhealthy
			health.Message = "Push server not ready"
			return health
		}

		health.Status = HealthStatusHealthy
		health.Message = "Push server ready"
		return health
	}
}

// ServicesHealthCheck evaluates backend service heartbeats.
func ServicesHealthCheck(fetch func(ctx context.Context) ([]models.ServiceEvent, error), now func() time.Time) HealthCheck {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) ComponentHealth {
		events, err := fetch(ctx)
		if err != nil {
			return ComponentHealth{
				Status:  HealthStatusUnknown,
				Message: fmt.Sprintf("Service events unavailable: %v", err),
			}
		}

		statuses := EvaluateServices(events, now())
		down := make([]string, 0)
		details := make(map[string]interface{}, len(statuses))
		for _, s := range statuses {
			details[s.Name] = s.Up
			if !s.Up {
				down = append(down, s.Name)
			}
		}

		health := ComponentHealth{Details: details}
		switch {
		case len(statuses) == 0:
			health.Status = HealthStatusUnknown
			health.Message = "No services reported"
		case len(down) == len(statuses):
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("All services down: %v", down)
		case len(down) > 0:
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Services down: %v", down)
		default:
			health.Status = HealthStatusHealthy
			health.Message = fmt.Sprintf("%d services up", len(statuses))
		}
		return health
	}
}

// DatabaseHealthCheck creates a health check for the local store.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		health := ComponentHealth{Latency: time.Since(start)}

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Database ping failed: %v", err)
			return health
		}

		if health.Latency > 100*time.Millisecond {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Database slow: %v", health.Latency)
			return health
		}

		health.Status = HealthStatusHealthy
		health.Message = fmt.Sprintf("Database healthy: %v", health.Latency)
		return health
	}
}
