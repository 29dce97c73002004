package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trade-journal-go/internal/models"
	"trade-journal-go/internal/sessions"
)

// CachedProvider serves bars from a per-trading-day cache. The first request
// inside a finished session fetches the whole session once; later requests for
// the same symbol, interval and trading day are sliced from the cached copy.
type CachedProvider struct {
	next     Provider
	store    BarStore
	calendar *sessions.Calendar
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

var _ Provider = (*CachedProvider)(nil)

// CacheStats counts day-cache lookups.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

func NewCachedProvider(next Provider, store BarStore, calendar *sessions.Calendar, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	return &CachedProvider{
		next:     next,
		store:    store,
		calendar: calendar,
		ttl:      ttl,
		logger:   logger.Named("bar-cache"),
		now:      time.Now,
	}
}

func dayKey(symbol, interval, tradingDay string) string {
	return fmt.Sprintf("bars:%s:%s:%s", strings.ToUpper(strings.TrimSpace(symbol)), interval, tradingDay)
}

// Intraday implements Provider.
func (p *CachedProvider) Intraday(ctx context.Context, symbol string, start, end time.Time, interval string) ([]models.Bar, error) {
	session, err := p.calendar.SessionAt(sessions.KindFor(symbol), start)
	if err != nil || end.After(session.End) || p.now().Before(session.End) {
		// Spans sessions, or the session is still producing bars.
		return p.next.Intraday(ctx, symbol, start, end, interval)
	}

	key := dayKey(symbol, interval, session.TradingDay)
	l := p.logger.With(zap.String("key", key))

	raw, found, err := p.store.Get(ctx, key)
	if err != nil {
		l.Warn("Bar cache read failed", zap.Error(err))
	}
	if found {
		var bars []models.Bar
		if err := json.Unmarshal(raw, &bars); err == nil {
			p.hits.Add(1)
			return window(bars, start, end), nil
		}
		l.Warn("Discarding undecodable cached bars")
	}
	p.misses.Add(1)

	bars, err := p.next.Intraday(ctx, symbol, session.Start, session.End, interval)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(bars); err == nil {
		if err := p.store.Set(ctx, key, raw, p.ttl); err != nil {
			l.Warn("Bar cache write failed", zap.Error(err))
		}
	}
	l.Debug("Cached session bars", zap.Int("bars", len(bars)))
	return window(bars, start, end), nil
}

// Stats returns the hit and miss counters.
func (p *CachedProvider) Stats() CacheStats {
	return CacheStats{Hits: p.hits.Load(), Misses: p.misses.Load()}
}

// window returns the bars starting in [start, end). bars must be sorted.
func window(bars []models.Bar, start, end time.Time) []models.Bar {
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Time.Before(start) {
			continue
		}
		if !b.Time.Before(end) {
			break
		}
		out = append(out, b)
	}
	return out
}
