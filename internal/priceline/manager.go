package priceline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
	"tradedesk/internal/notify"
	"tradedesk/internal/state"
	"tradedesk/internal/store"
	"tradedesk/internal/trading"
)

// Level colors.
const (
	ColorEntry      = "#0096FF"
	ColorStopLoss   = "#FF0000"
	ColorTakeProfit = "#00FF00"
)

// LevelColor returns the line color of a level.
func LevelColor(kind models.LevelKind) string {
	switch kind {
	case models.LevelStopLoss:
		return ColorStopLoss
	case models.LevelTakeProfit:
		return ColorTakeProfit
	default:
		return ColorEntry
	}
}

// Committer writes dragged levels to the backend of record.
type Committer interface {
	UpdatePosition(ctx context.Context, positionID string, price float64) (models.Position, error)
	UpdateTradeDetail(ctx context.Context, tradeID string, update trading.DetailUpdate) error
}

// ManagerConfig configures a Manager. Journal, Notifier and Dispatch are
// optional.
type ManagerConfig struct {
	TradeID   string
	Chart     Chart
	State     *state.Store
	Committer Committer
	Journal   store.Journal
	Notifier  notify.Notifier

	HitThreshold      float64
	RollbackOnFailure bool
	CommitTimeout     time.Duration

	// Dispatch runs state mutations; the engine passes its event-loop poster.
	// Nil runs them inline.
	Dispatch func(func())
	// OnCommit observes every finished commit.
	OnCommit func(store.Commit)
	Logger   zerolog.Logger
}

// Manager keeps one controller per set level of a trade in step with the
// state store and commits finished drags.
type Manager struct {
	cfg    ManagerConfig
	logger zerolog.Logger

	mu        sync.Mutex
	lines     map[models.LevelKind]*Controller
	dragStart map[models.LevelKind]float64
	closed    bool

	unwatch func()
	commits conc.WaitGroup
}

// NewManager builds lines for the trade's current levels and follows later
// level and position changes.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.HitThreshold <= 0 {
		cfg.HitThreshold = DefaultHitThreshold
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 10 * time.Second
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logging.WithTrade(cfg.Logger, cfg.TradeID),
		lines:     make(map[models.LevelKind]*Controller),
		dragStart: make(map[models.LevelKind]float64),
	}

	m.Sync()
	m.unwatch = cfg.State.Watch(func(c state.Change) {
		if c.Key != cfg.TradeID {
			return
		}
		if c.Kind == state.ChangeLevels || c.Kind == state.ChangePositions {
			m.Sync()
		}
	})

	return m
}

func (m *Manager) dispatch(fn func()) {
	if m.cfg.Dispatch != nil {
		m.cfg.Dispatch(fn)
		return
	}
	fn()
}

func (m *Manager) lineID(kind models.LevelKind) string {
	return m.cfg.TradeID + "-" + string(kind)
}

// Sync reconciles the lines with the store. A line being dragged is left
// alone so that the drag is never interrupted.
func (m *Manager) Sync() {
	levels, _ := m.cfg.State.TradeLevels(m.cfg.TradeID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, kind := range models.AllLevels {
		price, ok := levels.Get(kind)
		ctrl, exists := m.lines[kind]

		if !ok || price <= 0 {
			if exists && ctrl.Phase() != PhaseDragging {
				ctrl.Destroy()
				delete(m.lines, kind)
			}
			continue
		}

		label := string(kind)
		if pos, found := m.cfg.State.FindPosition(m.cfg.TradeID, kind.PositionType()); found && pos.PositionID != "" {
			label = pos.PositionID
		}

		if exists {
			ctrl.SetPrice(price)
			ctrl.SetLabel(label)
			continue
		}

		m.lines[kind] = m.newController(kind, price, label)
	}
}

func (m *Manager) newController(kind models.LevelKind, price float64, label string) *Controller {
	return NewController(m.cfg.Chart, Options{
		ID:           m.lineID(kind),
		Price:        price,
		Color:        LevelColor(kind),
		LineWidth:    2,
		Label:        label,
		HitThreshold: m.cfg.HitThreshold,
		OnDragStart: func(p float64) {
			m.mu.Lock()
			m.dragStart[kind] = p
			m.mu.Unlock()
		},
		OnPriceChange: func(p float64) {
			m.dispatch(func() {
				m.cfg.State.UpdateTradeLevel(m.cfg.TradeID, kind, p)
			})
		},
		OnDragEnd: func(p float64) {
			m.mu.Lock()
			previous := m.dragStart[kind]
			delete(m.dragStart, kind)
			m.mu.Unlock()

			m.commits.Go(func() {
				m.commit(kind, previous, p)
			})
		},
	})
}

// controllers returns the live controllers in level order.
func (m *Manager) controllers() []*Controller {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Controller, 0, len(m.lines))
	for _, kind := range models.AllLevels {
		if c, ok := m.lines[kind]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) dragging() *Controller {
	for _, c := range m.controllers() {
		if c.Phase() == PhaseDragging {
			return c
		}
	}
	return nil
}

// PointerMove routes motion to the dragged line, or to every line for hover.
func (m *Manager) PointerMove(y float64) {
	if c := m.dragging(); c != nil {
		c.PointerMove(y)
		return
	}
	for _, c := range m.controllers() {
		c.PointerMove(y)
	}
}

// PointerDown starts a drag on the first hovered line.
func (m *Manager) PointerDown() bool {
	for _, c := range m.controllers() {
		if c.PointerDown() {
			return true
		}
	}
	return false
}

// PointerUp ends the active drag.
func (m *Manager) PointerUp(y float64) {
	for _, c := range m.controllers() {
		c.PointerUp(y)
	}
}

// PointerLeave ends the active drag and clears hover.
func (m *Manager) PointerLeave() {
	for _, c := range m.controllers() {
		c.PointerLeave()
	}
}

// Line returns the controller of a level.
func (m *Manager) Line(kind models.LevelKind) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.lines[kind]
	return c, ok
}

// commit writes a finished drag. A matching order-service position is
// updated directly; otherwise the trade detail is rewritten with the new level.
func (m *Manager) commit(kind models.LevelKind, previous, price float64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CommitTimeout)
	defer cancel()

	start := time.Now()
	rec := store.Commit{
		TradeID:       m.cfg.TradeID,
		Level:         kind,
		Price:         price,
		PreviousPrice: previous,
		CreatedAt:     start,
	}

	var err error
	if pos, ok := m.cfg.State.FindPosition(m.cfg.TradeID, kind.PositionType()); ok && pos.ID != "" {
		rec.Target = store.TargetPosition
		rec.PositionID = pos.ID
		if _, err = m.cfg.Committer.UpdatePosition(ctx, pos.ID, price); err == nil {
			m.dispatch(func() {
				m.cfg.State.UpdatePositionPrice(m.cfg.TradeID, pos.ID, price)
			})
		}
	} else {
		rec.Target = store.TargetTradeDetail
		err = m.commitDetail(ctx, kind, price)
	}

	rec.Duration = time.Since(start)
	rec.Status = store.CommitOK
	if err != nil {
		cerr := errors.NewCommitError(m.cfg.TradeID, rec.PositionID, string(kind), price, err)
		rec.Status = store.CommitFailed
		rec.Error = cerr.Error()

		if m.cfg.Notifier != nil {
			if nerr := m.cfg.Notifier.SendError(context.Background(), cerr, "Price update failed"); nerr != nil {
				m.logger.Debug().Err(nerr).Msg("Commit notification not delivered")
			}
		}
		if m.cfg.RollbackOnFailure && previous > 0 {
			m.dispatch(func() {
				m.cfg.State.UpdateTradeLevel(m.cfg.TradeID, kind, previous)
			})
			rec.Status = store.CommitRolledBack
		}
		err = cerr
	}

	logging.LogCommit(m.logger, m.cfg.TradeID, string(kind), price, err)

	if m.cfg.Journal != nil {
		if jerr := m.cfg.Journal.RecordCommit(context.Background(), &rec); jerr != nil {
			m.logger.Warn().Err(jerr).Msg("Failed to journal commit")
		}
	}
	if m.cfg.OnCommit != nil {
		m.cfg.OnCommit(rec)
	}
}

func (m *Manager) commitDetail(ctx context.Context, kind models.LevelKind, price float64) error {
	td, ok := models.FindTradeDetail(m.cfg.State.Instances(), m.cfg.TradeID)
	if !ok {
		return errors.NewDataError("trade_detail", m.cfg.TradeID, "trade detail not loaded", errors.ErrDataNotFound)
	}

	update := trading.DetailUpdateFrom(td).WithLevel(kind, price)
	if err := trading.ValidateDetail(update); err != nil {
		return err
	}
	return m.cfg.Committer.UpdateTradeDetail(ctx, m.cfg.TradeID, update)
}

// Wait blocks until in-flight commits finish.
func (m *Manager) Wait() {
	m.commits.Wait()
}

// Close stops following the store, removes every line and waits for
// in-flight commits.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	lines := m.lines
	m.lines = make(map[models.LevelKind]*Controller)
	m.mu.Unlock()

	if m.unwatch != nil {
		m.unwatch()
	}
	for _, c := range lines {
		c.Destroy()
	}
	m.Wait()
}
