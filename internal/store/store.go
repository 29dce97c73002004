// Package store holds the canonical in-memory trade collection.
package store

import (
	"sync"

	"go.uber.org/zap"

	"trade-journal-go/internal/models"
)

// Change describes one mutation of the store.
type Change struct {
	Kind    ChangeKind
	Version uint64
	Count   int // trades replaced or patched
}

// ChangeKind names the mutating entry point that produced a Change.
type ChangeKind string

const (
	ChangeReplace ChangeKind = "replace"
	ChangeUpsert  ChangeKind = "upsert"
	ChangeClear   ChangeKind = "clear"
)

// Subscriber is notified after every store mutation.
type Subscriber interface {
	TradesChanged(change Change)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(change Change)

// TradesChanged calls f(change).
func (f SubscriberFunc) TradesChanged(change Change) { f(change) }

// TradeStore is the read/write surface other components depend on.
type TradeStore interface {
	All() []models.Trade
	Snapshot() ([]models.Trade, uint64)
	Replace(trades []models.Trade)
	Upsert(patches []models.TradePatch) int
	Clear()
	Subscribe(sub Subscriber) func()
	Version() uint64
}

// Store owns the trade slice. Mutations and their notifications are serialized,
// so subscribers observe changes one at a time and in order.
type Store struct {
	logger *zap.Logger

	mu      sync.RWMutex
	trades  []models.Trade
	index   map[string]int
	version uint64

	// writeMu serializes mutate+notify; subMu guards the subscriber list.
	writeMu sync.Mutex
	subMu   sync.Mutex
	subs    []*subscription
	nextID  uint64
}

type subscription struct {
	id  uint64
	sub Subscriber
}

var _ TradeStore = (*Store)(nil)

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	return &Store{
		logger: logger.Named("store"),
		index:  make(map[string]int),
	}
}

// All returns a deep copy of the trades in insertion order.
func (s *Store) All() []models.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneTrades(s.trades)
}

// Snapshot returns a copy of the trades together with the version they belong to.
func (s *Store) Snapshot() ([]models.Trade, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneTrades(s.trades), s.version
}

// Len returns the number of trades held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

// Get returns a copy of one trade.
func (s *Store) Get(id string) (models.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Trade{}, false
	}
	return s.trades[i].Clone(), true
}

// Version returns the data version, incremented on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Replace overwrites the collection wholesale. Later duplicates of an ID win.
func (s *Store) Replace(trades []models.Trade) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := make([]models.Trade, 0, len(trades))
	index := make(map[string]int, len(trades))
	for i := range trades {
		t := trades[i].Clone()
		if pos, dup := index[t.ID]; dup {
			next[pos] = t
			continue
		}
		index[t.ID] = len(next)
		next = append(next, t)
	}

	s.mu.Lock()
	s.trades = next
	s.index = index
	s.version++
	change := Change{Kind: ChangeReplace, Version: s.version, Count: len(next)}
	s.mu.Unlock()

	s.logger.Debug("Trades replaced", zap.Int("count", change.Count), zap.Uint64("version", change.Version))
	s.notify(change)
}

// Upsert merges patches into existing trades by ID. Patches for unknown IDs are
// ignored. Returns the number of patches applied; subscribers are notified once.
func (s *Store) Upsert(patches []models.TradePatch) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	applied := 0
	for _, p := range patches {
		i, ok := s.index[p.ID]
		if !ok {
			continue
		}
		p.Apply(&s.trades[i])
		applied++
	}
	s.version++
	change := Change{Kind: ChangeUpsert, Version: s.version, Count: applied}
	s.mu.Unlock()

	if applied < len(patches) {
		s.logger.Debug("Ignored patches for unknown trades", zap.Int("ignored", len(patches)-applied))
	}
	s.notify(change)
	return applied
}

// Clear removes every trade.
func (s *Store) Clear() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.trades = nil
	s.index = make(map[string]int)
	s.version++
	change := Change{Kind: ChangeClear, Version: s.version}
	s.mu.Unlock()

	s.logger.Info("Trade store cleared")
	s.notify(change)
}

// Subscribe registers sub and returns a function that removes it.
// Subscribers must not mutate the store from inside TradesChanged.
func (s *Store) Subscribe(sub Subscriber) func() {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, &subscription{id: id, sub: sub})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, existing := range s.subs {
				if existing.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) notify(change Change) {
	s.subMu.Lock()
	subs := make([]*subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.sub.TradesChanged(change)
	}
}
