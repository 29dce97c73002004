package analytics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade-journal-go/internal/models"
	"trade-journal-go/internal/store"
)

// recorder collects delivered states.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) Notify(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func setupService(t *testing.T, debounce time.Duration) (*store.Store, *Service) {
	t.Helper()
	st := store.New(zap.NewNop())
	svc := NewService(st, Options{Debounce: debounce}, zap.NewNop())
	t.Cleanup(svc.Dispose)
	return st, svc
}

func scenarioTrades() []models.Trade {
	return []models.Trade{
		closedTrade("1", "2024-03-01", 100),
		closedTrade("2", "2024-03-04", -40),
	}
}

func TestServiceLifecycle(t *testing.T) {
	_, svc := setupService(t, 0)
	assert.Equal(t, PhaseUninitialized, svc.Phase())

	require.NoError(t, svc.Start())
	assert.Equal(t, PhaseReady, svc.Phase())
	assert.Error(t, svc.Start())

	state := svc.State()
	assert.Equal(t, PhaseReady, state.Phase)
	assert.Empty(t, state.FilteredTrades)
	assert.Equal(t, 0.0, state.Metrics.WinRate)
	assert.Equal(t, 0.0, state.Metrics.NetPnL)
	assert.False(t, state.Loading)
	assert.Empty(t, state.Error)
	assert.Len(t, state.Charts, len(DefaultCharts))

	svc.Dispose()
	assert.Equal(t, PhaseDisposed, svc.Phase())
	_, err := svc.ChartData(ChartDailyPnL, ChartConfig{})
	assert.ErrorIs(t, err, ErrDisposed)
	assert.ErrorIs(t, svc.Start(), ErrDisposed)
}

func TestServiceUpdateTradesScenario(t *testing.T) {
	st, svc := setupService(t, 0)
	require.NoError(t, svc.Start())

	rec := &recorder{}
	svc.Subscribe(rec, SubscribeOptions{})

	svc.UpdateTrades(scenarioTrades())

	assert.Len(t, st.All(), 2)
	require.Equal(t, 1, rec.count(), "one cycle per update, not one per store notification")
	state := rec.last()
	assert.Equal(t, 50.0, state.Metrics.WinRate)
	assert.InDelta(t, 60.0, state.Metrics.NetPnL, 1e-9)
	assert.Equal(t, []float64{100, 60}, state.Charts[ChartCumulativePnL].Values)
	assert.Equal(t, []float64{0, -40}, state.Charts[ChartDrawdown].Values)
	assert.Equal(t, st.Version(), state.DataVersion)
}

func TestServiceImmediateSubscribe(t *testing.T) {
	st, svc := setupService(t, 0)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	rec := &recorder{}
	unsubscribe := svc.Subscribe(rec, SubscribeOptions{Immediate: true})
	require.Equal(t, 1, rec.count())
	assert.Equal(t, 2, rec.last().Metrics.TotalTrades)

	unsubscribe()
	st.Clear()
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, svc.State().Metrics.TotalTrades)
}

func TestServiceRecomputesOnStoreMutation(t *testing.T) {
	st, svc := setupService(t, 0)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	_, err := svc.ChartData(ChartSymbol, ChartConfig{})
	require.NoError(t, err)
	require.NotZero(t, svc.CacheStats().TotalEntries)

	st.Upsert([]models.TradePatch{{ID: "2", NetPnL: ptr(500.0)}})

	state := svc.State()
	assert.InDelta(t, 600.0, state.Metrics.NetPnL, 1e-9)
	assert.Equal(t, 100.0, state.Metrics.WinRate)

	// The cache was dropped wholesale; only the default charts of the new cycle remain.
	assert.Equal(t, len(DefaultCharts), svc.CacheStats().TotalEntries)
}

func TestServiceChartDataIsCached(t *testing.T) {
	st, svc := setupService(t, 0)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	cfg := ChartConfig{BucketSize: 50}
	first, err := svc.ChartData(ChartDistribution, cfg)
	require.NoError(t, err)
	before := svc.CacheStats()

	second, err := svc.ChartData(ChartDistribution, cfg)
	require.NoError(t, err)
	after := svc.CacheStats()

	assert.Equal(t, first, second)
	assert.Equal(t, before.Hits+1, after.Hits)
	assert.Greater(t, after.HitRate, before.HitRate)

	_, err = svc.ChartData("radar", ChartConfig{})
	assert.ErrorIs(t, err, ErrUnknownChart)
}

func TestServiceChartDataEmptyHitMatchesMiss(t *testing.T) {
	_, svc := setupService(t, 0)
	require.NoError(t, svc.Start())

	for _, ct := range ChartTypes {
		t.Run(string(ct), func(t *testing.T) {
			miss, err := svc.ChartData(ct, ChartConfig{})
			require.NoError(t, err)
			hit, err := svc.ChartData(ct, ChartConfig{})
			require.NoError(t, err)

			assert.Equal(t, miss, hit)
			assert.NotNil(t, hit.Labels)
			raw, err := json.Marshal(hit)
			require.NoError(t, err)
			assert.JSONEq(t, `{"type":"`+string(ct)+`","labels":[],"values":[],"counts":[]}`, string(raw))
		})
	}

	t.Run("PublishedState", func(t *testing.T) {
		raw, err := json.Marshal(svc.State().Charts[ChartDailyPnL])
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"labels":[]`)
	})
}

func TestServiceFilterChangesChartKey(t *testing.T) {
	st, svc := setupService(t, 0)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	all, err := svc.ChartData(ChartDailyPnL, ChartConfig{})
	require.NoError(t, err)
	require.Len(t, all.Values, 2)

	svc.UpdateFilters(Filter{Statuses: []models.Status{models.StatusLoss}})
	filtered, err := svc.ChartData(ChartDailyPnL, ChartConfig{})
	require.NoError(t, err)
	assert.Equal(t, []float64{-40}, filtered.Values)

	state := svc.State()
	assert.Len(t, state.FilteredTrades, 1)
	assert.Equal(t, 2, state.TotalTrades)
	assert.False(t, state.LastFilterAt.IsZero())
}

func TestServiceDebounceCoalescesFilterUpdates(t *testing.T) {
	st, svc := setupService(t, 30*time.Millisecond)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	rec := &recorder{}
	svc.Subscribe(rec, SubscribeOptions{})

	svc.UpdateFilters(Filter{DateFrom: "2024-03-02"})
	svc.UpdateFilters(Filter{Statuses: []models.Status{models.StatusLoss}})
	svc.UpdateFilters(Filter{Statuses: []models.Status{models.StatusWin}})

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, rec.count())

	state := rec.last()
	assert.Equal(t, []models.Status{models.StatusWin}, state.Filter.Statuses)
	require.Len(t, state.FilteredTrades, 1)
	assert.Equal(t, "1", state.FilteredTrades[0].ID)
}

func TestServiceFlushRunsPendingCycle(t *testing.T) {
	st, svc := setupService(t, time.Hour)
	require.NoError(t, svc.Start())

	svc.UpdateTrades(scenarioTrades())
	assert.Empty(t, st.All(), "update is still pending")

	svc.Flush()
	assert.Len(t, st.All(), 2)
	assert.Equal(t, 2, svc.State().Metrics.TotalTrades)
}

func TestServiceInvalidFilterIsReported(t *testing.T) {
	st, svc := setupService(t, 0)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	svc.UpdateFilters(Filter{Sides: []models.Side{models.SideLong}})
	require.Empty(t, svc.State().Error)

	assert.NotPanics(t, func() {
		svc.UpdateFilters(Filter{DateFrom: "yesterday"})
	})

	state := svc.State()
	assert.Contains(t, state.Error, "invalid filter")
	assert.Equal(t, PhaseReady, state.Phase)
	assert.Equal(t, []models.Side{models.SideLong}, state.Filter.Sides, "previous filter stays active")
	assert.Len(t, state.FilteredTrades, 2)

	svc.UpdateFilters(Filter{})
	assert.Empty(t, svc.State().Error)
}

func TestServiceInvalidAggregationIsReported(t *testing.T) {
	_, svc := setupService(t, 0)
	require.NoError(t, svc.Start())

	svc.UpdateAggregation(AggregationConfig{Period: "hourly"})
	assert.Contains(t, svc.State().Error, "unknown aggregation period")

	svc.UpdateAggregation(AggregationConfig{Period: PeriodWeek})
	state := svc.State()
	assert.Empty(t, state.Error)
	assert.Equal(t, PeriodWeek, state.Aggregation.Period)
}

func TestServiceSubscribeFilterOption(t *testing.T) {
	st, svc := setupService(t, 0)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	all := &recorder{}
	metricsOnly := &recorder{}
	svc.Subscribe(all, SubscribeOptions{})
	svc.Subscribe(metricsOnly, SubscribeOptions{Filter: MetricsChanged, Immediate: true})
	require.Equal(t, 1, metricsOnly.count())

	// Aggregation changes the charts but not the metrics.
	svc.UpdateAggregation(AggregationConfig{Period: PeriodMonth})
	assert.Equal(t, 1, all.count())
	assert.Equal(t, 1, metricsOnly.count())

	st.Upsert([]models.TradePatch{{ID: "1", NetPnL: ptr(1.0)}})
	assert.Equal(t, 2, all.count())
	assert.Equal(t, 2, metricsOnly.count())
}

func TestServiceSubscribersInOrderAndIsolated(t *testing.T) {
	st, svc := setupService(t, 0)
	require.NoError(t, svc.Start())

	var order []string
	svc.Subscribe(SubscriberFunc(func(State) { order = append(order, "first") }), SubscribeOptions{})
	svc.Subscribe(SubscriberFunc(func(State) { panic("boom") }), SubscribeOptions{})
	svc.Subscribe(SubscriberFunc(func(s State) {
		order = append(order, "third")
		s.FilteredTrades[0].NetPnL = -1 // copies only
	}), SubscribeOptions{})

	st.Replace(scenarioTrades())
	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, 100.0, svc.State().FilteredTrades[0].NetPnL)
}

func TestServiceUpdateFromInsideNotifyIsCoalesced(t *testing.T) {
	st, svc := setupService(t, 0)
	st.Replace(scenarioTrades())
	require.NoError(t, svc.Start())

	rec := &recorder{}
	var once sync.Once
	svc.Subscribe(SubscriberFunc(func(State) {
		once.Do(func() { svc.UpdateFilters(Filter{Statuses: []models.Status{models.StatusWin}}) })
	}), SubscribeOptions{})
	svc.Subscribe(rec, SubscribeOptions{})

	st.Upsert(nil)

	require.Equal(t, 2, rec.count())
	assert.Len(t, rec.last().FilteredTrades, 1)
}

func TestServiceDisposeReleasesStore(t *testing.T) {
	st, svc := setupService(t, 0)
	require.NoError(t, svc.Start())

	rec := &recorder{}
	svc.Subscribe(rec, SubscribeOptions{})
	svc.Dispose()
	svc.Dispose()

	st.Replace(scenarioTrades())
	svc.UpdateFilters(Filter{Sides: []models.Side{models.SideShort}})
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, svc.State().Metrics.TotalTrades)
}
