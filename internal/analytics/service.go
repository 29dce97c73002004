package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"trade-journal-go/internal/models"
	"trade-journal-go/internal/store"
	"trade-journal-go/internal/trace"
)

// ErrDisposed is returned by operations on a disposed Service.
var ErrDisposed = errors.New("analytics service disposed")

// DefaultCharts are computed on every cycle and published in State.Charts.
var DefaultCharts = []ChartType{ChartDailyPnL, ChartCumulativePnL, ChartDrawdown, ChartWeekday, ChartTimeOfDay}

// Options configures a Service.
type Options struct {
	Debounce        time.Duration
	CacheMaxEntries int
	Aggregation     AggregationConfig
	Charts          []ChartType
}

// Service keeps filtered views, metrics and default charts in sync with the
// trade store and publishes every recomputed State to its subscribers.
//
// Filter, trade and aggregation updates are debounced: the last submission in
// a window wins. Recomputes never overlap; a request arriving during a cycle
// is folded into one follow-up cycle.
type Service struct {
	logger    *zap.Logger
	store     store.TradeStore
	cache     *Cache
	debouncer *Debouncer
	charts    []ChartType
	now       func() time.Time

	mu               sync.Mutex
	phase            Phase
	filter           Filter
	aggregation      AggregationConfig
	pendingTrades    []models.Trade
	hasPendingTrades bool
	pendingFilter    *Filter
	pendingAgg       *AggregationConfig
	pendingErr       error
	lastFilterAt     time.Time
	state            State
	running          bool
	rerun            bool
	unsubscribeStore func()

	// applying is set while the service itself writes to the store, so the
	// resulting change notification does not schedule a second cycle.
	applying atomic.Bool

	subMu     sync.Mutex
	subs      []*stateSubscription
	nextSubID uint64
	// notifyMu serializes deliveries so subscribers see states in order.
	notifyMu sync.Mutex
}

type stateSubscription struct {
	id     uint64
	sub    Subscriber
	filter func(prev, next State) bool
	last   State
}

var _ store.Subscriber = (*Service)(nil)

// NewService creates a Service over st. Call Start to begin tracking the store.
func NewService(st store.TradeStore, opts Options, logger *zap.Logger) *Service {
	charts := opts.Charts
	if charts == nil {
		charts = DefaultCharts
	}
	s := &Service{
		logger:      logger.Named("analytics"),
		store:       st,
		cache:       NewCache(opts.CacheMaxEntries),
		charts:      charts,
		now:         time.Now,
		phase:       PhaseUninitialized,
		aggregation: opts.Aggregation,
	}
	s.state = State{Phase: PhaseUninitialized, Aggregation: opts.Aggregation}
	s.debouncer = NewDebouncer(opts.Debounce, s.flushPending)
	return s
}

// Start subscribes to the store and computes the first state synchronously.
func (s *Service) Start() error {
	s.mu.Lock()
	switch s.phase {
	case PhaseUninitialized:
	case PhaseDisposed:
		s.mu.Unlock()
		return ErrDisposed
	default:
		s.mu.Unlock()
		return fmt.Errorf("analytics service already started")
	}
	s.phase = PhaseInitializing
	s.state.Phase = PhaseInitializing
	s.state.Loading = true
	s.mu.Unlock()

	unsubscribe := s.store.Subscribe(s)
	s.mu.Lock()
	s.unsubscribeStore = unsubscribe
	s.mu.Unlock()

	s.logger.Info("Analytics service starting")
	s.recompute()
	return nil
}

// TradesChanged implements store.Subscriber. Cached charts are dropped at once;
// the recompute is debounced.
func (s *Service) TradesChanged(change store.Change) {
	s.cache.InvalidateAll()
	if s.applying.Load() {
		return
	}
	s.mu.Lock()
	disposed := s.phase == PhaseDisposed
	s.mu.Unlock()
	if disposed {
		return
	}
	s.logger.Debug("Trade store changed", zap.String("kind", string(change.Kind)), zap.Uint64("version", change.Version))
	s.debouncer.Trigger()
}

// UpdateTrades replaces the store contents with trades on the next cycle.
func (s *Service) UpdateTrades(trades []models.Trade) {
	s.mu.Lock()
	if s.phase == PhaseDisposed {
		s.mu.Unlock()
		return
	}
	s.pendingTrades = models.CloneTrades(trades)
	s.hasPendingTrades = true
	s.mu.Unlock()
	s.debouncer.Trigger()
}

// UpdateFilters sets the active filter on the next cycle. An invalid filter is
// rejected and reported through State.Error; the previous filter stays active.
func (s *Service) UpdateFilters(f Filter) {
	s.mu.Lock()
	if s.phase == PhaseDisposed {
		s.mu.Unlock()
		return
	}
	f = f.clone()
	s.pendingFilter = &f
	s.lastFilterAt = s.now()
	s.mu.Unlock()
	s.debouncer.Trigger()
}

// UpdateAggregation sets the time-series bucketing on the next cycle.
func (s *Service) UpdateAggregation(cfg AggregationConfig) {
	s.mu.Lock()
	if s.phase == PhaseDisposed {
		s.mu.Unlock()
		return
	}
	s.pendingAgg = &cfg
	s.mu.Unlock()
	s.debouncer.Trigger()
}

// Flush runs a pending debounced cycle immediately.
func (s *Service) Flush() {
	s.debouncer.Flush()
}

// flushPending adopts the latest pending inputs and recomputes.
func (s *Service) flushPending() {
	s.mu.Lock()
	if s.phase == PhaseDisposed {
		s.mu.Unlock()
		return
	}
	trades, hasTrades := s.pendingTrades, s.hasPendingTrades
	s.pendingTrades, s.hasPendingTrades = nil, false

	var errs []error
	if s.pendingFilter != nil {
		if err := s.pendingFilter.Validate(); err != nil {
			errs = append(errs, err)
		} else {
			s.filter = *s.pendingFilter
		}
		s.pendingFilter = nil
	}
	if s.pendingAgg != nil {
		if err := s.pendingAgg.Validate(); err != nil {
			errs = append(errs, err)
		} else {
			s.aggregation = *s.pendingAgg
		}
		s.pendingAgg = nil
	}
	s.pendingErr = errors.Join(errs...)
	s.mu.Unlock()

	if hasTrades {
		s.applying.Store(true)
		s.store.Replace(trades)
		s.applying.Store(false)
	}
	s.recompute()
}

// recompute runs cycles until no further request arrived while running.
func (s *Service) recompute() {
	s.mu.Lock()
	if s.phase == PhaseDisposed || s.phase == PhaseUninitialized {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.rerun = true
		s.mu.Unlock()
		return
	}
	s.running = true

	for {
		s.rerun = false
		if s.phase == PhaseReady {
			s.phase = PhaseRecomputing
		}
		s.state.Phase = s.phase
		s.state.Loading = true
		filter, agg := s.filter, s.aggregation
		inputErr := s.pendingErr
		s.pendingErr = nil
		lastFilterAt := s.lastFilterAt
		s.mu.Unlock()

		next, err := s.compute(filter, agg)
		if err == nil {
			err = inputErr
		}

		s.mu.Lock()
		if s.phase == PhaseDisposed {
			s.running = false
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.logger.Error("Analytics cycle failed", zap.Error(err))
			if next.Charts == nil {
				// Keep the last good data and surface the error alongside it.
				next = s.state
			}
			next.Error = err.Error()
		}
		s.phase = PhaseReady
		next.Phase = PhaseReady
		next.Loading = false
		next.Filter = s.filter.clone()
		next.Aggregation = s.aggregation
		next.LastUpdated = s.now()
		next.LastFilterAt = lastFilterAt
		s.state = next
		s.mu.Unlock()

		s.publish(next)

		s.mu.Lock()
		if !s.rerun || s.phase == PhaseDisposed {
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}

// compute derives one State from the current store snapshot. Panics inside the
// calculation are converted into errors.
func (s *Service) compute(filter Filter, agg AggregationConfig) (next State, err error) {
	_, span := trace.StartSpan(context.Background(), "analytics.recompute")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			next = State{}
			err = fmt.Errorf("analytics calculation panicked: %v", r)
		}
	}()

	start := time.Now()
	trades, version := s.store.Snapshot()
	filtered := Apply(trades, filter)

	next = State{
		FilteredTrades: filtered,
		TotalTrades:    len(trades),
		Metrics:        Summarize(filtered),
		Charts:         make(map[ChartType]ChartSeries, len(s.charts)),
		DataVersion:    version,
	}
	cfg := ChartConfig{Period: agg.Period}
	for _, ct := range s.charts {
		series, err := s.chart(ct, cfg, filter, filtered, version)
		if err != nil {
			return State{}, err
		}
		next.Charts[ct] = series
	}

	span.SetAttributes(
		attribute.Int("trades.total", len(trades)),
		attribute.Int("trades.filtered", len(filtered)),
		attribute.Int64("data.version", int64(version)),
	)
	s.logger.Debug("Analytics recomputed",
		zap.Int("trades", len(trades)),
		zap.Int("filtered", len(filtered)),
		zap.Uint64("version", version),
		zap.Duration("took", time.Since(start)),
	)
	return next, nil
}

func (s *Service) chart(ct ChartType, cfg ChartConfig, filter Filter, filtered []models.Trade, version uint64) (ChartSeries, error) {
	key := CacheKey{Chart: ct, Config: cacheConfigKey(cfg, filter), Version: version}
	if series, ok := s.cache.Get(key); ok {
		return series, nil
	}
	series, err := BuildChart(ct, filtered, cfg)
	if err != nil {
		return ChartSeries{}, err
	}
	s.cache.Set(key, series)
	return series, nil
}

// ChartData returns the series for chartType under the active filter, served
// from the cache when the store has not changed since it was computed.
func (s *Service) ChartData(chartType ChartType, cfg ChartConfig) (ChartSeries, error) {
	s.mu.Lock()
	if s.phase == PhaseDisposed {
		s.mu.Unlock()
		return ChartSeries{}, ErrDisposed
	}
	filter := s.filter
	s.mu.Unlock()

	trades, version := s.store.Snapshot()
	key := CacheKey{Chart: chartType, Config: cacheConfigKey(cfg, filter), Version: version}
	if series, ok := s.cache.Get(key); ok {
		return series, nil
	}
	series, err := BuildChart(chartType, Apply(trades, filter), cfg)
	if err != nil {
		return ChartSeries{}, err
	}
	s.cache.Set(key, series)
	return series, nil
}

// Subscribe registers sub and returns a function that removes it. Subscribers
// are notified in registration order. Subscribe must not be called from inside
// a Notify callback when opts.Immediate is set.
func (s *Service) Subscribe(sub Subscriber, opts SubscribeOptions) func() {
	s.subMu.Lock()
	s.nextSubID++
	entry := &stateSubscription{id: s.nextSubID, sub: sub, filter: opts.Filter}
	s.subs = append(s.subs, entry)
	s.subMu.Unlock()

	if opts.Immediate {
		current := s.State()
		s.notifyMu.Lock()
		entry.last = current
		s.deliver(entry, current)
		s.notifyMu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, existing := range s.subs {
				if existing.id == entry.id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Service) publish(state State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.subMu.Lock()
	subs := make([]*stateSubscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		prev := sub.last
		sub.last = state
		if sub.filter != nil && !sub.filter(prev, state) {
			continue
		}
		s.deliver(sub, state)
	}
}

// deliver isolates subscriber panics so one bad consumer cannot stop the chain.
func (s *Service) deliver(sub *stateSubscription, state State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Analytics subscriber panicked", zap.Uint64("subscriber", sub.id), zap.Any("panic", r))
		}
	}()
	sub.sub.Notify(state.Clone())
}

// State returns a copy of the latest published state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Phase returns the current lifecycle phase.
func (s *Service) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Filter returns the active filter.
func (s *Service) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.clone()
}

// CacheStats reports the chart cache counters.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// Dispose releases the store subscription and drops pending work and
// subscribers. It is safe to call more than once.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.phase == PhaseDisposed {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseDisposed
	s.state.Phase = PhaseDisposed
	unsubscribe := s.unsubscribeStore
	s.unsubscribeStore = nil
	s.pendingTrades, s.hasPendingTrades = nil, false
	s.pendingFilter, s.pendingAgg = nil, nil
	s.mu.Unlock()

	s.debouncer.Cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	s.cache.InvalidateAll()

	s.subMu.Lock()
	s.subs = nil
	s.subMu.Unlock()
	s.logger.Info("Analytics service disposed")
}
