package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"trade-journal-go/internal/marketdata"
	"trade-journal-go/internal/models"
	"trade-journal-go/internal/sessions"
	"trade-journal-go/internal/store"
	"trade-journal-go/internal/trace"
)

// ErrMissingFields is returned for trades without a symbol, entry price or open date.
var ErrMissingFields = errors.New("trade is missing fields required for enrichment")

// Options configures an Enricher.
type Options struct {
	// Location is the timezone trade dates and times are recorded in.
	Location    *time.Location
	Interval    string
	Concurrency int
}

// Report summarizes one enrichment batch.
type Report struct {
	Enriched int           `json:"enriched"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Enricher computes hypothetical best exits for trades from intraday bars and
// writes them back to the store.
type Enricher struct {
	provider    marketdata.Provider
	calendar    *sessions.Calendar
	store       store.TradeStore
	loc         *time.Location
	interval    string
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnricher creates a new Enricher.
func NewEnricher(provider marketdata.Provider, calendar *sessions.Calendar, st store.TradeStore, opts Options, logger *zap.Logger) *Enricher {
	loc := opts.Location
	if loc == nil {
		loc = calendar.Exchange()
	}
	interval := opts.Interval
	if interval == "" {
		interval = "1m"
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Enricher{
		provider:    provider,
		calendar:    calendar,
		store:       st,
		loc:         loc,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger.Named("enrichment"),
		now:         time.Now,
	}
}

// EntryTime resolves when the trade was opened and the session it belongs to.
// A trade without an open time is placed at the open of its date's session.
func (e *Enricher) EntryTime(t models.Trade) (time.Time, sessions.Session, error) {
	if t.Symbol == "" || t.EntryPrice == 0 || t.OpenDate == "" {
		return time.Time{}, sessions.Session{}, ErrMissingFields
	}
	kind := sessions.KindFor(t.Symbol)

	if strings.TrimSpace(t.OpenTime) == "" {
		session, err := e.calendar.SessionOn(kind, t.OpenDate)
		if err != nil {
			return time.Time{}, sessions.Session{}, err
		}
		return session.Start, session, nil
	}

	entry, err := parseLocal(t.OpenDate, t.OpenTime, e.loc)
	if err != nil {
		return time.Time{}, sessions.Session{}, err
	}
	session, err := e.calendar.SessionAt(kind, entry)
	if err != nil {
		return time.Time{}, sessions.Session{}, err
	}
	return entry, session, nil
}

func parseLocal(date, clock string, loc *time.Location) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	for _, layout := range models.ClockLayouts {
		if ts, err := time.ParseInLocation(models.DateLayout+" "+layout, date+" "+clock, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse open time %q %q", date, clock)
}

// EnrichTrade computes the enrichment for one trade. It returns nil without an
// error when the provider has no bars for the trade's session.
func (e *Enricher) EnrichTrade(ctx context.Context, t models.Trade) (*models.Enrichment, error) {
	entry, session, err := e.EntryTime(t)
	if err != nil {
		return nil, err
	}

	bars, err := e.provider.Intraday(ctx, t.Symbol, entry, session.End, e.interval)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil
	}

	clamp := func(d time.Duration) time.Time {
		end := entry.Add(d)
		if end.After(session.End) {
			return session.End
		}
		return end
	}

	return &models.Enrichment{
		BestExit1h:   bestExit(t, bars, entry, clamp(time.Hour)),
		BestExit2h:   bestExit(t, bars, entry, clamp(2*time.Hour)),
		BestExitDay:  bestExit(t, bars, entry, session.End),
		EntryAt:      entry,
		SessionStart: session.Start,
		SessionEnd:   session.End,
		EnrichedAt:   e.now(),
	}, nil
}

// bestExit scans bars starting in [from, to): the highest high for a long, the
// lowest low for a short.
func bestExit(t models.Trade, bars []models.Bar, from, to time.Time) *models.BestExit {
	var best *models.Bar
	for i := range bars {
		b := &bars[i]
		if b.Time.Before(from) || !b.Time.Before(to) {
			continue
		}
		if best == nil ||
			(t.Side == models.SideShort && b.Low < best.Low) ||
			(t.Side != models.SideShort && b.High > best.High) {
			best = b
		}
	}
	if best == nil {
		return nil
	}

	price := best.High
	if t.Side == models.SideShort {
		price = best.Low
	}
	return &models.BestExit{
		Price:   price,
		PnL:     models.GrossPnLFor(t.Symbol, t.Side, t.EntryPrice, price, t.Contracts) - t.Commissions,
		Percent: (price - t.EntryPrice) / t.EntryPrice * 100 * t.Side.Sign(),
		At:      best.Time,
	}
}

type enrichResult struct {
	id         string
	enrichment *models.Enrichment
	err        error
}

// Enrich enriches trades concurrently and writes every result to the store
// with a single upsert. Per-trade failures are logged and counted; the trade
// stays unenriched.
func (e *Enricher) Enrich(ctx context.Context, trades []models.Trade) (Report, error) {
	ctx, span := trace.StartSpan(ctx, "enrichment.batch")
	defer span.End()

	start := time.Now()
	var report Report

	var eligible []models.Trade
	for _, t := range trades {
		if t.ID == "" || t.Symbol == "" || t.EntryPrice == 0 || t.OpenDate == "" {
			e.logger.Debug("Skipping trade", zap.String("trade_id", t.ID), zap.Error(ErrMissingFields))
			report.Skipped++
			continue
		}
		eligible = append(eligible, t)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.concurrency)
	results := make(chan enrichResult, len(eligible))

	for _, t := range eligible {
		wg.Add(1)
		go func(trade models.Trade) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- enrichResult{id: trade.ID, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				results <- enrichResult{id: trade.ID, err: err}
				return
			}
			enrichment, err := e.EnrichTrade(ctx, trade)
			results <- enrichResult{id: trade.ID, enrichment: enrichment, err: err}
		}(t)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var patches []models.TradePatch
	for r := range results {
		l := e.logger.With(zap.String("trade_id", r.id))
		switch {
		case r.err != nil:
			l.Warn("Failed to enrich trade", zap.Error(r.err))
			report.Failed++
		case r.enrichment == nil:
			l.Debug("No bars for trade")
			report.Skipped++
		default:
			patches = append(patches, models.TradePatch{ID: r.id, Enrichment: r.enrichment})
			report.Enriched++
		}
	}

	if len(patches) > 0 {
		e.store.Upsert(patches)
	}
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("trades", len(trades)),
		attribute.Int("enriched", report.Enriched),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("failed", report.Failed),
	)
	e.logger.Info("Enrichment batch finished",
		zap.Int("enriched", report.Enriched),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.Duration),
	)
	return report, ctx.Err()
}

// EnrichPending enriches every stored trade that has no enrichment yet, or
// every trade when force is set.
func (e *Enricher) EnrichPending(ctx context.Context, force bool) (Report, error) {
	var pending []models.Trade
	for _, t := range e.store.All() {
		if force || t.Enrichment == nil {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return Report{}, nil
	}
	return e.Enrich(ctx, pending)
}
