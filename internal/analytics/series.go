package analytics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"trade-journal-go/internal/models"
)

// AggregationPeriod sets the width of time-series buckets.
type AggregationPeriod string

const (
	PeriodDay   AggregationPeriod = "day"
	PeriodWeek  AggregationPeriod = "week"
	PeriodMonth AggregationPeriod = "month"
)

// AggregationConfig controls how trades are bucketed into time series.
type AggregationConfig struct {
	Period AggregationPeriod `json:"period"`
}

// Validate rejects unknown periods. An empty period means daily.
func (c AggregationConfig) Validate() error {
	switch c.Period {
	case "", PeriodDay, PeriodWeek, PeriodMonth:
		return nil
	default:
		return fmt.Errorf("unknown aggregation period %q", c.Period)
	}
}

// SeriesPoint is one bucket of a P&L time series.
type SeriesPoint struct {
	Bucket     string  `json:"bucket"` // bucket start, YYYY-MM-DD
	PnL        float64 `json:"pnl"`
	Trades     int     `json:"trades"`
	Cumulative float64 `json:"cumulative"`
	Drawdown   float64 `json:"drawdown"` // Cumulative minus running peak, <= 0
}

// TimeSeries buckets trades by effective date in ascending order. Trades that
// share a bucket are summed into it; trades without any date are skipped.
func TimeSeries(trades []models.Trade, cfg AggregationConfig) []SeriesPoint {
	buckets := make(map[string]*SeriesPoint)
	for i := range trades {
		date := trades[i].EffectiveDate()
		if date == "" {
			continue
		}
		key := bucketKey(date, cfg.Period)
		p, ok := buckets[key]
		if !ok {
			p = &SeriesPoint{Bucket: key}
			buckets[key] = p
		}
		p.PnL += trades[i].NetPnL
		p.Trades++
	}

	out := make([]SeriesPoint, 0, len(buckets))
	for _, p := range buckets {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })

	var cumulative, peak float64
	for i := range out {
		cumulative += out[i].PnL
		if i == 0 || cumulative > peak {
			peak = cumulative
		}
		out[i].Cumulative = cumulative
		out[i].Drawdown = cumulative - peak
	}
	return out
}

func bucketKey(date string, period AggregationPeriod) string {
	if period == "" || period == PeriodDay {
		return date
	}
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	switch period {
	case PeriodWeek:
		// ISO weeks start on Monday.
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset).Format(models.DateLayout)
	case PeriodMonth:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).Format(models.DateLayout)
	default:
		return date
	}
}

// GroupStat aggregates trades that share a key such as a weekday or a symbol.
type GroupStat struct {
	Key     string  `json:"key"`
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	PnL     float64 `json:"pnl"`
	WinRate float64 `json:"win_rate"`
}

// groupBy aggregates trades by keyFn; an empty key skips the trade. less orders
// the resulting keys.
func groupBy(trades []models.Trade, keyFn func(*models.Trade) string, less func(a, b string) bool) []GroupStat {
	groups := make(map[string]*GroupStat)
	for i := range trades {
		t := &trades[i]
		key := keyFn(t)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &GroupStat{Key: key}
			groups[key] = g
		}
		g.Trades++
		g.PnL += t.NetPnL
		switch t.Status() {
		case models.StatusWin:
			g.Wins++
		case models.StatusLoss:
			g.Losses++
		}
	}

	out := make([]GroupStat, 0, len(groups))
	for _, g := range groups {
		g.WinRate = 100 * float64(g.Wins) / float64(g.Trades)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Key, out[j].Key) })
	return out
}

var weekdayOrder = map[string]int{
	"Monday": 0, "Tuesday": 1, "Wednesday": 2, "Thursday": 3, "Friday": 4, "Saturday": 5, "Sunday": 6,
}

// ByWeekday groups trades by the weekday of their effective date, Monday first.
func ByWeekday(trades []models.Trade) []GroupStat {
	return groupBy(trades, func(t *models.Trade) string {
		d, err := time.Parse(models.DateLayout, t.EffectiveDate())
		if err != nil {
			return ""
		}
		return d.Weekday().String()
	}, func(a, b string) bool { return weekdayOrder[a] < weekdayOrder[b] })
}

// ByHour groups trades by the hour of their open time. Trades without an open
// time are skipped.
func ByHour(trades []models.Trade) []GroupStat {
	return groupBy(trades, func(t *models.Trade) string {
		clock, ok := models.ParseClock(t.OpenTime)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%02d:00", clock.Hour())
	}, func(a, b string) bool { return a < b })
}

// BySymbol groups trades by root symbol.
func BySymbol(trades []models.Trade) []GroupStat {
	return groupBy(trades, func(t *models.Trade) string {
		return models.RootSymbol(t.Symbol)
	}, func(a, b string) bool { return a < b })
}

// ByModel groups trades by strategy model; untagged trades are skipped.
func ByModel(trades []models.Trade) []GroupStat {
	return groupBy(trades, func(t *models.Trade) string {
		return t.Model
	}, func(a, b string) bool { return a < b })
}

// Distribution buckets net P&L into bins of width bucketSize. Bin labels are the
// lower bound of each bin.
func Distribution(trades []models.Trade, bucketSize float64) []GroupStat {
	if bucketSize <= 0 {
		bucketSize = defaultBucketSize
	}
	lower := make(map[string]float64)
	stats := groupBy(trades, func(t *models.Trade) string {
		if !t.IsClosed() {
			return ""
		}
		lo := math.Floor(t.NetPnL/bucketSize) * bucketSize
		key := strconv.FormatFloat(lo, 'f', -1, 64)
		lower[key] = lo
		return key
	}, func(a, b string) bool { return false })

	sort.Slice(stats, func(i, j int) bool { return lower[stats[i].Key] < lower[stats[j].Key] })
	return stats
}

const defaultBucketSize = 100
