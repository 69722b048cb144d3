// Package state holds the canonical in-memory view of prices, instances,
// positions and trade levels.
package state

import (
	"reflect"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/maps"

	"tradedesk/internal/models"
)

// ChangeKind identifies which slice of state a mutation touched.
type ChangeKind string

const (
	ChangeIndexPrice  ChangeKind = "index_price"
	ChangeOptionPrice ChangeKind = "option_price"
	ChangePremiums    ChangeKind = "premiums"
	ChangeLotSizes    ChangeKind = "lot_sizes"
	ChangeInstances   ChangeKind = "instances"
	ChangePositions   ChangeKind = "positions"
	ChangeMTM         ChangeKind = "mtm"
	ChangeLevels      ChangeKind = "levels"
)

// Change describes one applied mutation. Key is the instrument id, option
// name, trade id or position id the mutation applied to, when there is one.
type Change struct {
	Kind ChangeKind
	Key  string
}

// Store is the single source of truth shared by the feed handlers, the
// valuation engine and the price-line manager. Every setter compares the new
// value against the current one and reports whether anything changed;
// listeners are notified only for real changes.
type Store struct {
	mu sync.RWMutex

	indexPrices  map[int64]models.PriceTick
	optionPrices map[int64]models.OptionPrice
	pricesByName map[string]float64
	premiums     []models.OptionPremium
	lotSizes     map[string]int64
	instances    []models.Instance
	positions    map[string][]models.Position
	positionMTM  map[string]decimal.Decimal
	levels       map[string]models.TradeLevels
	version      uint64

	listenersMu sync.RWMutex
	listeners   map[int]func(Change)
	nextID      int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		indexPrices:  make(map[int64]models.PriceTick),
		optionPrices: make(map[int64]models.OptionPrice),
		pricesByName: make(map[string]float64),
		lotSizes:     make(map[string]int64),
		positions:    make(map[string][]models.Position),
		positionMTM:  make(map[string]decimal.Decimal),
		levels:       make(map[string]models.TradeLevels),
		listeners:    make(map[int]func(Change)),
	}
}

// Watch registers fn for every applied change and returns a function that
// removes it.
func (s *Store) Watch(fn func(Change)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.listenersMu.RLock()
	fns := maps.Values(s.listeners)
	s.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// commit bumps the version; callers hold mu.
func (s *Store) commit() {
	s.version++
}

// Version increases by one for every applied change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// SetIndexPrice records the latest price of an index.
func (s *Store) SetIndexPrice(tick models.PriceTick) bool {
	s.mu.Lock()
	if cur, ok := s.indexPrices[tick.InstrumentID]; ok && cur.Price == tick.Price {
		s.mu.Unlock()
		return false
	}
	s.indexPrices[tick.InstrumentID] = tick
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeIndexPrice, Key: tick.Name})
	return true
}

// IndexPrice returns the latest tick for an instrument.
func (s *Store) IndexPrice(instrumentID int64) (models.PriceTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.indexPrices[instrumentID]
	return t, ok
}

// IndexPrices returns every known index tick.
func (s *Store) IndexPrices() []models.PriceTick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Values(s.indexPrices)
}

// SetOptionPrice records the last traded price of an option leg.
func (s *Store) SetOptionPrice(p models.OptionPrice) bool {
	s.mu.Lock()
	if cur, ok := s.optionPrices[p.ID]; ok && cur.Price == p.Price {
		s.mu.Unlock()
		return false
	}
	s.optionPrices[p.ID] = p
	s.pricesByName[p.OptionName] = p.Price
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeOptionPrice, Key: p.OptionName})
	return true
}

// OptionPrice returns the last traded price for an option name.
func (s *Store) OptionPrice(optionName string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pricesByName[optionName]
	return p, ok
}

// SetOptionPremiums replaces the premium list unless it holds the same ids
// and values.
func (s *Store) SetOptionPremiums(premiums []models.OptionPremium) bool {
	s.mu.Lock()
	if premiumsEqual(s.premiums, premiums) {
		s.mu.Unlock()
		return false
	}
	s.premiums = append([]models.OptionPremium(nil), premiums...)
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePremiums})
	return true
}

func premiumsEqual(cur, next []models.OptionPremium) bool {
	if len(cur) != len(next) {
		return false
	}
	byID := make(map[models.ID]float64, len(cur))
	for _, p := range cur {
		byID[p.ID] = p.LowestCombinedPremium
	}
	for _, p := range next {
		v, ok := byID[p.ID]
		if !ok || v != p.LowestCombinedPremium {
			return false
		}
	}
	return true
}

// OptionPremiums returns a copy of the premium list.
func (s *Store) OptionPremiums() []models.OptionPremium {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.OptionPremium(nil), s.premiums...)
}

// OptionPremium returns the lowest combined premium of an instance.
func (s *Store) OptionPremium(instanceID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.premiums {
		if string(p.ID) == instanceID {
			return p.LowestCombinedPremium, true
		}
	}
	return 0, false
}

// SetLotSizes replaces the lot-size table.
func (s *Store) SetLotSizes(sizes []models.LotSize) bool {
	next := make(map[string]int64, len(sizes))
	for _, l := range sizes {
		next[l.OptionName] = l.LotSize
	}

	s.mu.Lock()
	if maps.Equal(s.lotSizes, next) {
		s.mu.Unlock()
		return false
	}
	s.lotSizes = next
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeLotSizes})
	return true
}

// LotSize returns the multiplier for a lot-size key.
func (s *Store) LotSize(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lotSizes[key]
	return l, ok
}

// SetInstances replaces the instance snapshot.
func (s *Store) SetInstances(instances []models.Instance) bool {
	s.mu.Lock()
	if reflect.DeepEqual(s.instances, instances) {
		s.mu.Unlock()
		return false
	}
	s.instances = cloneInstances(instances)
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeInstances})
	return true
}

// Instances returns a copy of the snapshot.
func (s *Store) Instances() []models.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInstances(s.instances)
}

func cloneInstances(in []models.Instance) []models.Instance {
	if in == nil {
		return nil
	}
	out := make([]models.Instance, len(in))
	for i, inst := range in {
		out[i] = inst
		if inst.TradeDetails != nil {
			out[i].TradeDetails = make([]models.TradeDetail, len(inst.TradeDetails))
			for j, td := range inst.TradeDetails {
				out[i].TradeDetails[j] = td
				if td.LiveTradePositions != nil {
					out[i].TradeDetails[j].LiveTradePositions = append(
						[]models.LiveTradePosition(nil), td.LiveTradePositions...)
				}
			}
		}
	}
	return out
}

// SetPositions replaces the order-service positions of a trade.
func (s *Store) SetPositions(tradeID string, positions []models.Position) bool {
	s.mu.Lock()
	if reflect.DeepEqual(s.positions[tradeID], positions) {
		s.mu.Unlock()
		return false
	}
	s.positions[tradeID] = append([]models.Position(nil), positions...)
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePositions, Key: tradeID})
	return true
}

// AddPosition appends a position to a trade.
func (s *Store) AddPosition(tradeID string, p models.Position) bool {
	s.mu.Lock()
	s.positions[tradeID] = append(s.positions[tradeID], p)
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePositions, Key: tradeID})
	return true
}

// UpdatePositionPrice sets the price of one position.
func (s *Store) UpdatePositionPrice(tradeID, positionID string, price float64) bool {
	s.mu.Lock()
	list := s.positions[tradeID]
	changed := false
	for i := range list {
		if list[i].ID == positionID && list[i].Price != price {
			updated := append([]models.Position(nil), list...)
			updated[i].Price = price
			s.positions[tradeID] = updated
			changed = true
			break
		}
	}
	if changed {
		s.commit()
	}
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangePositions, Key: tradeID})
	}
	return changed
}

// RemovePosition deletes one position from a trade.
func (s *Store) RemovePosition(tradeID, positionID string) bool {
	s.mu.Lock()
	list := s.positions[tradeID]
	kept := make([]models.Position, 0, len(list))
	for _, p := range list {
		if p.ID != positionID {
			kept = append(kept, p)
		}
	}
	changed := len(kept) != len(list)
	if changed {
		s.positions[tradeID] = kept
		s.commit()
	}
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangePositions, Key: tradeID})
	}
	return changed
}

// Positions returns a copy of a trade's positions.
func (s *Store) Positions(tradeID string) []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Position(nil), s.positions[tradeID]...)
}

// FindPosition returns the position of a trade backing the given level.
func (s *Store) FindPosition(tradeID string, pt models.PositionType) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.positions[tradeID] {
		if p.PositionType == pt {
			return p, true
		}
	}
	return models.Position{}, false
}

// SetPositionMTM records the valuation of a live position.
func (s *Store) SetPositionMTM(positionID string, mtm decimal.Decimal) bool {
	s.mu.Lock()
	if cur, ok := s.positionMTM[positionID]; ok && cur.Equal(mtm) {
		s.mu.Unlock()
		return false
	}
	s.positionMTM[positionID] = mtm
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMTM, Key: positionID})
	return true
}

// PositionMTM returns the last valuation of a position.
func (s *Store) PositionMTM(positionID string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.positionMTM[positionID]
	return m, ok
}

// SetTradeLevels merges the set fields of patch into a trade's levels.
func (s *Store) SetTradeLevels(tradeID string, patch models.TradeLevels) bool {
	s.mu.Lock()
	cur, ok := s.levels[tradeID]
	if !ok {
		cur = models.TradeLevels{TradeID: tradeID}
	}
	next := cur.Merge(patch)
	next.TradeID = tradeID
	if ok && next.Equal(cur) {
		s.mu.Unlock()
		return false
	}
	s.levels[tradeID] = next
	s.commit()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeLevels, Key: tradeID})
	return true
}

// UpdateTradeLevel sets a single level of a trade.
func (s *Store) UpdateTradeLevel(tradeID string, kind models.LevelKind, price float64) bool {
	return s.SetTradeLevels(tradeID, models.TradeLevels{}.With(kind, price))
}

// TradeLevels returns the levels of a trade.
func (s *Store) TradeLevels(tradeID string) (models.TradeLevels, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.levels[tradeID]
	return l, ok
}

// Snapshot is a consistent read view for valuation.
type Snapshot struct {
	Instances    []models.Instance
	OptionPrices map[string]float64
	LotSizes     map[string]int64
	Version      uint64
}

// Snapshot copies what valuation needs under a single read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Instances:    cloneInstances(s.instances),
		OptionPrices: maps.Clone(s.pricesByName),
		LotSizes:     maps.Clone(s.lotSizes),
		Version:      s.version,
	}
}
