package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradedesk/internal/models"
)

func heartbeats(name, redis, socket, check string) []models.ServiceEvent {
	return []models.ServiceEvent{
		{Name: name, Type: models.ServiceEventRedis, Date: redis},
		{Name: name, Type: models.ServiceEventSocket, Date: socket},
		{Name: name, Type: models.ServiceEventCheck, Date: check},
	}
}

func TestEvaluateServices(t *testing.T) {
	now := time.Date(2024, 11, 14, 10, 0, 0, 0, time.UTC)

	var events []models.ServiceEvent
	events = append(events, heartbeats("alpha", "2024-11-14T09:59:50Z", "2024-11-14T10:00:20Z", "2024-11-14T09:59:30Z")...)
	events = append(events, heartbeats("beta", "2024-11-14T09:59:50Z", "2024-11-14T10:00:31Z", "2024-11-14T09:59:50Z")...)
	events = append(events, heartbeats("gamma", "2024-11-13T23:59:59Z", "2024-11-13T23:59:59Z", "2024-11-13T23:59:59Z")...)
	events = append(events, models.ServiceEvent{Name: "delta", Type: models.ServiceEventRedis, Date: "2024-11-14T09:59:50Z"})

	statuses := EvaluateServices(events, now)
	require.Len(t, statuses, 4)

	byName := make(map[string]ServiceStatus)
	for _, s := range statuses {
		byName[s.Name] = s
	}

	assert.True(t, byName["alpha"].Up)
	assert.False(t, byName["beta"].Up)
	assert.Equal(t, "socket heartbeat stale", byName["beta"].Reason)
	assert.False(t, byName["gamma"].Up)
	assert.Equal(t, "no redis heartbeat today", byName["gamma"].Reason)
	assert.False(t, byName["delta"].Up)
	assert.Equal(t, "missing heartbeat", byName["delta"].Reason)

	assert.Equal(t, "alpha", statuses[0].Name)
	assert.False(t, AllUp(statuses))
}

func TestEvaluateServicesSkewBoundary(t *testing.T) {
	now := time.Date(2024, 11, 14, 10, 0, 0, 0, time.UTC)
	events := heartbeats("svc", "2024-11-14T09:00:00.000Z", "2024-11-14T09:00:40.000Z", "2024-11-14T08:59:20.000Z")

	statuses := EvaluateServices(events, now)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Up)
	assert.True(t, AllUp(statuses))
	assert.False(t, AllUp(nil))
}

func TestServicesHealthCheck(t *testing.T) {
	now := time.Date(2024, 11, 14, 10, 0, 0, 0, time.UTC)
	events := append(
		heartbeats("up", "2024-11-14T09:59:50Z", "2024-11-14T09:59:50Z", "2024-11-14T09:59:50Z"),
		heartbeats("down", "2024-11-13T09:59:50Z", "2024-11-13T09:59:50Z", "2024-11-13T09:59:50Z")...,
	)

	check := ServicesHealthCheck(func(context.Context) ([]models.ServiceEvent, error) {
		return events, nil
	}, func() time.Time { return now })

	health := check(context.Background())
	assert.Equal(t, HealthStatusDegraded, health.Status)
	assert.Equal(t, true, health.Details["up"])
	assert.Equal(t, false, health.Details["down"])
}
