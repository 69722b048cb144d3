package resilience

import (
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"tradedesk/internal/models"
)

// HeartbeatSkew is the largest allowed gap between a service's redis
// heartbeat and its socket and check heartbeats.
const HeartbeatSkew = 40 * time.Second

// ServiceStatus is the evaluated state of one backend service.
type ServiceStatus struct {
	Name   string `json:"name"`
	Up     bool   `json:"up"`
	Reason string `json:"reason,omitempty"`
}

// EvaluateServices groups heartbeat events by service name. A service is up
// when all three heartbeats are present, the redis heartbeat is from today
// (UTC), and the socket and check heartbeats are within HeartbeatSkew of it.
// Later events for the same name and type replace earlier ones. The result is
// sorted by name.
func EvaluateServices(events []models.ServiceEvent, now time.Time) []ServiceStatus {
	grouped := make(map[string]map[models.ServiceEventType]string)
	for _, e := range events {
		if grouped[e.Name] == nil {
			grouped[e.Name] = make(map[models.ServiceEventType]string)
		}
		grouped[e.Name][e.Type] = e.Date
	}

	today := now.UTC().Format("2006-01-02")
	names := maps.Keys(grouped)
	slices.Sort(names)

	out := make([]ServiceStatus, 0, len(names))
	for _, name := range names {
		up, reason := evaluateService(grouped[name], today)
		out = append(out, ServiceStatus{Name: name, Up: up, Reason: reason})
	}
	return out
}

func evaluateService(times map[models.ServiceEventType]string, today string) (bool, string) {
	redisStr := times[models.ServiceEventRedis]
	socketStr := times[models.ServiceEventSocket]
	checkStr := times[models.ServiceEventCheck]

	if redisStr == "" || socketStr == "" || checkStr == "" {
		return false, "missing heartbeat"
	}
	if !strings.HasPrefix(redisStr, today) {
		return false, "no redis heartbeat today"
	}

	redis, err1 := parseHeartbeat(redisStr)
	socket, err2 := parseHeartbeat(socketStr)
	check, err3 := parseHeartbeat(checkStr)
	if err1 != nil || err2 != nil || err3 != nil {
		return false, "unparseable heartbeat"
	}

	if absDuration(socket.Sub(redis)) > HeartbeatSkew {
		return false, "socket heartbeat stale"
	}
	if absDuration(check.Sub(redis)) > HeartbeatSkew {
		return false, "check heartbeat stale"
	}
	return true, ""
}

func parseHeartbeat(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999999", s)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// AllUp reports whether every evaluated service is up. An empty list is not up.
func AllUp(statuses []ServiceStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if !s.Up {
			return false
		}
	}
	return true
}
