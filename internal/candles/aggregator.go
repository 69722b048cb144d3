package candles

import (
	"sync"
	"time"

	"tradedesk/internal/models"
)

// Config holds aggregator configuration.
type Config struct {
	Offset  time.Duration
	MaxBars int
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		Offset:  ISTOffset,
		MaxBars: 1500,
	}
}

// Aggregator keeps completed bars and one open bar per series.
type Aggregator struct {
	cfg Config

	mu     sync.RWMutex
	series map[string]*series

	handlerMu sync.RWMutex
	onUpdate  func(seriesID string, bar models.Bar)
}

type series struct {
	history []models.Bar
	current *models.Bar
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		series: make(map[string]*series),
	}
}

// OnUpdate sets a handler called with the open bar after every applied
// update or merge.
func (a *Aggregator) OnUpdate(handler func(seriesID string, bar models.Bar)) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.onUpdate = handler
}

func (a *Aggregator) emit(id string, bar models.Bar) {
	a.handlerMu.RLock()
	h := a.onUpdate
	a.handlerMu.RUnlock()
	if h != nil {
		h(id, bar)
	}
}

func (a *Aggregator) get(id string) *series {
	s, ok := a.series[id]
	if !ok {
		s = &series{}
		a.series[id] = s
	}
	return s
}

// roll finalizes the open bar and opens next; callers hold mu.
func (a *Aggregator) roll(s *series, next models.Bar) {
	if s.current != nil {
		s.history = capBars(append(s.history, *s.current), a.cfg.MaxBars)
	}
	s.current = &next
}

// Update folds one value observed at at into the open bar. It returns the
// open bar and false when the value belongs to a bar older than the open one.
func (a *Aggregator) Update(id string, value float64, at time.Time) (models.Bar, bool) {
	bucket := BucketTime(at, a.cfg.Offset)

	a.mu.Lock()
	s := a.get(id)
	switch {
	case s.current == nil || bucket > s.current.Time:
		a.roll(s, models.Bar{Time: bucket, Open: value, High: value, Low: value, Close: value})
	case bucket == s.current.Time:
		if value > s.current.High {
			s.current.High = value
		}
		if value < s.current.Low {
			s.current.Low = value
		}
		s.current.Close = value
	default:
		cur := *s.current
		a.mu.Unlock()
		return cur, false
	}
	bar := *s.current
	a.mu.Unlock()

	a.emit(id, bar)
	return bar, true
}

// Merge applies a server-built bar. A bar for a newer time replaces the open
// bar; a bar for the same time widens high and low and takes its close.
func (a *Aggregator) Merge(id string, bar models.Bar) (models.Bar, bool) {
	a.mu.Lock()
	s := a.get(id)
	switch {
	case s.current == nil || bar.Time > s.current.Time:
		a.roll(s, bar)
	case bar.Time == s.current.Time:
		if bar.High > s.current.High {
			s.current.High = bar.High
		}
		if bar.Low < s.current.Low {
			s.current.Low = bar.Low
		}
		s.current.Close = bar.Close
	default:
		cur := *s.current
		a.mu.Unlock()
		return cur, false
	}
	merged := *s.current
	a.mu.Unlock()

	a.emit(id, merged)
	return merged, true
}

// Load installs a fetched history after dropping a trailing partial bar.
// The open bar is reset.
func (a *Aggregator) Load(id string, history []models.Bar) []models.Bar {
	trimmed := capBars(TrimPartial(append([]models.Bar(nil), history...)), a.cfg.MaxBars)

	a.mu.Lock()
	a.series[id] = &series{history: trimmed}
	a.mu.Unlock()

	return append([]models.Bar(nil), trimmed...)
}

// Bars returns the completed bars followed by the open bar.
func (a *Aggregator) Bars(id string) []models.Bar {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[id]
	if !ok {
		return nil
	}
	out := make([]models.Bar, 0, len(s.history)+1)
	out = append(out, s.history...)
	if s.current != nil {
		out = append(out, *s.current)
	}
	return out
}

// Current returns the open bar.
func (a *Aggregator) Current(id string) (models.Bar, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[id]
	if !ok || s.current == nil {
		return models.Bar{}, false
	}
	return *s.current, true
}

// Remove forgets a series.
func (a *Aggregator) Remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.series, id)
}

// Series returns the ids of every tracked series.
func (a *Aggregator) Series() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.series))
	for id := range a.series {
		ids = append(ids, id)
	}
	return ids
}
