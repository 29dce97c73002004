// Package journal composes the trade store, analytics, enrichment and
// persistence into one running journal.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trade-journal-go/internal/analytics"
	"trade-journal-go/internal/config"
	"trade-journal-go/internal/enrichment"
	"trade-journal-go/internal/marketdata"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/repository"
	"trade-journal-go/internal/sessions"
	"trade-journal-go/internal/store"
)

// Engine owns the journal's components and keeps the database in step with
// the in-memory trade store.
type Engine struct {
	UUID      string
	StartTime time.Time

	logger    *zap.Logger
	cfg       *config.Config
	repo      *repository.Repository
	store     *store.Store
	analytics *analytics.Service
	enricher  *enrichment.Enricher
	provider  marketdata.Provider
	scheduler *Scheduler

	persistMu   sync.Mutex
	unsubscribe func()
	started     bool
	lastPersist error
}

// NewEngine creates a new journal engine over db. A nil provider builds the
// configured market-data client behind the per-day bar cache.
func NewEngine(logger *zap.Logger, cfg *config.Config, db *gorm.DB, provider marketdata.Provider) (*Engine, error) {
	loc, err := sessions.ParseLocation(cfg.Enrichment.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid enrichment timezone: %w", err)
	}
	agg := analytics.AggregationConfig{Period: analytics.AggregationPeriod(cfg.Analytics.Period)}
	if err := agg.Validate(); err != nil {
		return nil, err
	}

	calendar := sessions.NewCalendar()
	if provider == nil {
		client := marketdata.NewClient(cfg.MarketData, logger)
		provider = marketdata.NewCachedProvider(client, marketdata.NewBarStore(cfg.Cache, logger), calendar, cfg.Cache.TTL, logger)
	}

	st := store.New(logger)
	e := &Engine{
		UUID:      uuid.NewString(),
		logger:    logger.Named("journal"),
		cfg:       cfg,
		repo:      repository.New(db, logger),
		store:     st,
		provider:  provider,
		scheduler: NewScheduler(logger),
		analytics: analytics.NewService(st, analytics.Options{
			Debounce:        cfg.Analytics.Debounce,
			CacheMaxEntries: cfg.Analytics.CacheMaxEntries,
			Aggregation:     agg,
		}, logger),
		enricher: enrichment.NewEnricher(provider, calendar, st, enrichment.Options{
			Location:    loc,
			Interval:    cfg.MarketData.Interval,
			Concurrency: cfg.Enrichment.Concurrency,
		}, logger),
	}
	return e, nil
}

// Start loads the persisted trades, starts the analytics service and the
// scheduled jobs.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return errors.New("journal engine already started")
	}
	e.logger.Info("Initializing journal engine...")

	trades, err := e.repo.LoadTrades(ctx)
	if err != nil {
		// Storage problems leave an empty journal rather than a dead one.
		e.logger.Error("Failed to load trades, starting empty", zap.Error(err))
		trades = nil
	}
	e.store.Replace(trades)
	e.unsubscribe = e.store.Subscribe(store.SubscriberFunc(e.persist))

	if err := e.analytics.Start(); err != nil {
		return fmt.Errorf("could not start analytics: %w", err)
	}

	if err := e.scheduler.Add("enrichment", e.cfg.Schedule.Enrichment, e.enrichJob); err != nil {
		return err
	}
	if err := e.scheduler.Add("stats-refresh", e.cfg.Schedule.StatsRefresh, e.statsJob); err != nil {
		return err
	}
	e.scheduler.Start()

	e.started = true
	e.StartTime = time.Now()
	e.logger.Info("Journal engine started", zap.String("uuid", e.UUID), zap.Int("trades", len(trades)))
	return nil
}

// Run starts the engine and blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	e.logger.Info("Stopping journal engine...")
	e.Stop()
	return nil
}

// Stop halts scheduled jobs and the analytics service. The last store state
// has already been persisted.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	e.scheduler.Stop()
	e.analytics.Dispose()
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.started = false
}

// persist mirrors the store into the database after every mutation.
func (e *Engine) persist(change store.Change) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	trades, version := e.store.Snapshot()
	l := e.logger.With(zap.String("kind", string(change.Kind)), zap.Uint64("version", version))
	if err := e.repo.SaveTrades(context.Background(), trades); err != nil {
		l.Error("Failed to persist trades", zap.Error(err))
		e.lastPersist = err
		return
	}
	e.lastPersist = nil
	l.Debug("Trades persisted", zap.Int("count", len(trades)))
}

// ImportTrades puts imported trades into the store. With replace unset they
// are merged into the existing trades, imported rows winning on equal ids.
func (e *Engine) ImportTrades(trades []models.Trade, replace bool) int {
	if replace {
		e.store.Replace(trades)
		return len(trades)
	}

	existing := e.store.All()
	index := make(map[string]int, len(existing))
	for i, t := range existing {
		index[t.ID] = i
	}
	merged := existing
	for _, t := range trades {
		if i, ok := index[t.ID]; ok {
			merged[i] = t
			continue
		}
		index[t.ID] = len(merged)
		merged = append(merged, t)
	}
	e.store.Replace(merged)
	return len(trades)
}

// Enrich enriches pending trades, or every trade when force is set.
func (e *Engine) Enrich(ctx context.Context, force bool) (enrichment.Report, error) {
	return e.enricher.EnrichPending(ctx, force)
}

func (e *Engine) enrichJob(ctx context.Context) {
	if _, err := e.Enrich(ctx, false); err != nil {
		e.logger.Warn("Scheduled enrichment interrupted", zap.Error(err))
	}
}

func (e *Engine) statsJob(ctx context.Context) {
	if err := e.RefreshStats(ctx); err != nil {
		e.logger.Error("Scheduled stats refresh failed", zap.Error(err))
	}
}

// StrategyTrades returns the trades belonging to model: those tagged with it
// and those assigned to it.
func (e *Engine) StrategyTrades(ctx context.Context, model string) ([]models.Trade, error) {
	assignments, err := e.repo.Assignments(ctx)
	if err != nil {
		return nil, err
	}
	assigned := make(map[string]bool, len(assignments[model]))
	for _, id := range assignments[model] {
		assigned[id] = true
	}
	var out []models.Trade
	for _, t := range e.store.All() {
		if t.Model == model || assigned[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

// StrategyModels lists every model that tags or has trades assigned.
func (e *Engine) StrategyModels(ctx context.Context) ([]string, error) {
	assignments, err := e.repo.Assignments(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for model := range assignments {
		seen[model] = true
	}
	for _, t := range e.store.All() {
		if t.Model != "" {
			seen[t.Model] = true
		}
	}
	out := make([]string, 0, len(seen))
	for model := range seen {
		out = append(out, model)
	}
	sort.Strings(out)
	return out, nil
}

// StrategyStats returns the summary for model, served from the stored
// snapshot while it is fresh and recomputed otherwise.
func (e *Engine) StrategyStats(ctx context.Context, model string) (analytics.Summary, time.Time, error) {
	snapshot, fresh, err := e.repo.Stats(ctx, model)
	switch {
	case err == nil && fresh:
		var summary analytics.Summary
		if err := json.Unmarshal(snapshot.Payload, &summary); err == nil {
			return summary, snapshot.LastUpdated, nil
		}
		e.logger.Warn("Discarding unreadable stats snapshot", zap.String("model", model))
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		e.logger.Warn("Failed to read stats snapshot", zap.String("model", model), zap.Error(err))
	}
	return e.computeStats(ctx, model)
}

func (e *Engine) computeStats(ctx context.Context, model string) (analytics.Summary, time.Time, error) {
	trades, err := e.StrategyTrades(ctx, model)
	if err != nil {
		return analytics.Summary{}, time.Time{}, err
	}
	summary := analytics.Summarize(trades)
	if err := e.repo.SaveStats(ctx, model, summary); err != nil {
		return analytics.Summary{}, time.Time{}, err
	}
	return summary, time.Now(), nil
}

// RefreshStats recomputes and stores the snapshot of every strategy model.
func (e *Engine) RefreshStats(ctx context.Context) error {
	modelIDs, err := e.StrategyModels(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, model := range modelIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, _, err := e.computeStats(ctx, model); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Info("Strategy stats refreshed", zap.Int("models", len(modelIDs)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Status is a point-in-time description of the engine.
type Status struct {
	UUID        string                 `json:"uuid"`
	StartTime   time.Time              `json:"start_time"`
	Uptime      string                 `json:"uptime"`
	Trades      int                    `json:"trades"`
	DataVersion uint64                 `json:"data_version"`
	Phase       analytics.Phase        `json:"phase"`
	ChartCache  analytics.CacheStats   `json:"chart_cache"`
	BarCache    *marketdata.CacheStats `json:"bar_cache,omitempty"`
	Jobs        int                    `json:"jobs"`
	PersistErr  string                 `json:"persist_error,omitempty"`
}

// Status reports the engine's current status.
func (e *Engine) Status() Status {
	s := Status{
		UUID:        e.UUID,
		StartTime:   e.StartTime,
		Trades:      e.store.Len(),
		DataVersion: e.store.Version(),
		Phase:       e.analytics.Phase(),
		ChartCache:  e.analytics.CacheStats(),
		Jobs:        e.scheduler.Len(),
	}
	if !e.StartTime.IsZero() {
		s.Uptime = time.Since(e.StartTime).Round(time.Second).String()
	}
	if cached, ok := e.provider.(*marketdata.CachedProvider); ok {
		stats := cached.Stats()
		s.BarCache = &stats
	}
	e.persistMu.Lock()
	if e.lastPersist != nil {
		s.PersistErr = e.lastPersist.Error()
	}
	e.persistMu.Unlock()
	return s
}

// Store returns the canonical trade store.
func (e *Engine) Store() *store.Store { return e.store }

// Analytics returns the reactive analytics service.
func (e *Engine) Analytics() *analytics.Service { return e.analytics }

// Repository returns the journal repository.
func (e *Engine) Repository() *repository.Repository { return e.repo }
