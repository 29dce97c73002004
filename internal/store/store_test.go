package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade-journal-go/internal/models"
)

func ptr[T any](v T) *T { return &v }

func sampleTrades() []models.Trade {
	return []models.Trade{
		{ID: "a", Symbol: "ES", Side: models.SideLong, EntryPrice: 5000, ExitPrice: 5002, Contracts: 1, OpenDate: "2024-03-01", CloseDate: "2024-03-01", NetPnL: 100},
		{ID: "b", Symbol: "NQ", Side: models.SideShort, EntryPrice: 18000, ExitPrice: 18002, Contracts: 1, OpenDate: "2024-03-02", CloseDate: "2024-03-02", NetPnL: -40, Tags: []string{"fomo"}},
	}
}

func TestEmptyStore(t *testing.T) {
	s := New(zap.NewNop())
	assert.Empty(t, s.All())
	assert.Equal(t, uint64(0), s.Version())
}

func TestReplace(t *testing.T) {
	s := New(zap.NewNop())

	var changes []Change
	s.Subscribe(SubscriberFunc(func(c Change) { changes = append(changes, c) }))

	s.Replace(sampleTrades())

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeReplace, changes[0].Kind)
	assert.Equal(t, uint64(1), changes[0].Version)
	assert.Equal(t, 2, changes[0].Count)
}

func TestReplaceDuplicateIDsLastWins(t *testing.T) {
	s := New(zap.NewNop())
	trades := sampleTrades()
	dup := trades[0]
	dup.NetPnL = 7
	s.Replace(append(trades, dup))

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, 7.0, all[0].NetPnL)
}

func TestAllReturnsCopies(t *testing.T) {
	s := New(zap.NewNop())
	s.Replace(sampleTrades())

	all := s.All()
	all[0].NetPnL = 999
	all[1].Tags[0] = "changed"

	again := s.All()
	assert.Equal(t, 100.0, again[0].NetPnL)
	assert.Equal(t, "fomo", again[1].Tags[0])
}

func TestUpsertChangesOnlyPatchedField(t *testing.T) {
	s := New(zap.NewNop())
	s.Replace(sampleTrades())
	before := s.All()

	applied := s.Upsert([]models.TradePatch{{ID: "a", NetPnL: ptr(500.0)}})
	assert.Equal(t, 1, applied)

	after := s.All()
	expected := before[0]
	expected.NetPnL = 500
	assert.Equal(t, expected, after[0])
	assert.Equal(t, before[1], after[1])
}

func TestUpsertIgnoresUnknownIDs(t *testing.T) {
	s := New(zap.NewNop())
	s.Replace(sampleTrades())

	notified := 0
	s.Subscribe(SubscriberFunc(func(Change) { notified++ }))

	applied := s.Upsert([]models.TradePatch{{ID: "zzz", NetPnL: ptr(1.0)}, {ID: "b", Notes: ptr("late entry")}})
	assert.Equal(t, 1, applied)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, notified)

	b, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "late entry", b.Notes)
}

func TestSubscribersNotifiedInRegistrationOrder(t *testing.T) {
	s := New(zap.NewNop())

	var order []string
	s.Subscribe(SubscriberFunc(func(Change) { order = append(order, "first") }))
	unsub := s.Subscribe(SubscriberFunc(func(Change) { order = append(order, "second") }))
	s.Subscribe(SubscriberFunc(func(Change) { order = append(order, "third") }))

	s.Replace(sampleTrades())
	assert.Equal(t, []string{"first", "second", "third"}, order)

	order = nil
	unsub()
	unsub() // second call is a no-op
	s.Clear()
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestSubscriberSeesUpdatedState(t *testing.T) {
	s := New(zap.NewNop())
	var seen int
	s.Subscribe(SubscriberFunc(func(Change) { seen = len(s.All()) }))

	s.Replace(sampleTrades())
	assert.Equal(t, 2, seen)

	s.Clear()
	assert.Equal(t, 0, seen)
	assert.Equal(t, uint64(2), s.Version())
}
