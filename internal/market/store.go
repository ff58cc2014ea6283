// Package market holds the in-memory price state for tracked assets.
package market

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/pricepulse/internal/model"
)

// Store is the Price State Store. It tracks exactly the assets it was
// created with; updates for anything else are dropped so the store never
// grows. One writer, many readers.
type Store struct {
	mu      sync.RWMutex
	records map[string]model.PriceRecord

	subMu  sync.Mutex
	subs   map[int]chan model.PriceRecord
	nextID int
}

// NewStore creates a store tracking the given assets.
func NewStore(ids []string) *Store {
	s := &Store{
		records: make(map[string]model.PriceRecord, len(ids)),
		subs:    make(map[int]chan model.PriceRecord),
	}
	for _, id := range ids {
		id = model.NormalizeAsset(id)
		if id == "" {
			continue
		}
		s.records[id] = model.PriceRecord{AssetID: id}
	}
	return s
}

// Upsert moves a tracked asset to price and recomputes its change fields.
// Returns false, leaving the store untouched, when id is not tracked.
func (s *Store) Upsert(id string, price float64, at time.Time) (model.PriceRecord, bool) {
	id = model.NormalizeAsset(id)

	s.mu.Lock()
	prev, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return model.PriceRecord{}, false
	}
	rec := prev.Apply(price, at)
	s.records[id] = rec
	s.mu.Unlock()

	s.notify(rec)
	return rec, true
}

// Seed sets the starting price of tracked assets that have not seen a
// feed update yet, so the first streamed price already has a prior.
// Untracked ids and non-positive prices are ignored. Returns the number
// of assets seeded.
func (s *Store) Seed(markets []model.MarketData, at time.Time) int {
	var seeded []model.PriceRecord

	s.mu.Lock()
	for _, m := range markets {
		id := model.NormalizeAsset(m.ID)
		prev, ok := s.records[id]
		if !ok || prev.Current != 0 {
			continue
		}
		if m.CurrentPrice <= 0 || math.IsInf(m.CurrentPrice, 0) || math.IsNaN(m.CurrentPrice) {
			continue
		}
		rec := model.PriceRecord{AssetID: id, Current: m.CurrentPrice, UpdatedAt: at}
		s.records[id] = rec
		seeded = append(seeded, rec)
	}
	s.mu.Unlock()

	for _, rec := range seeded {
		s.notify(rec)
	}
	return len(seeded)
}

// Get returns the record for id.
func (s *Store) Get(id string) (model.PriceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[model.NormalizeAsset(id)]
	return rec, ok
}

// Snapshot returns all records sorted by asset id.
func (s *Store) Snapshot() []model.PriceRecord {
	s.mu.RLock()
	out := make([]model.PriceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Len returns the number of tracked assets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Subscribe returns a channel receiving every applied record and a cancel
// function. A subscriber that falls behind misses records; the writer never
// waits on it.
func (s *Store) Subscribe(buffer int) (<-chan model.PriceRecord, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.PriceRecord, buffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify(rec model.PriceRecord) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}
