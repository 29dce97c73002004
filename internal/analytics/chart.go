package analytics

import (
	"encoding/json"
	"errors"
	"fmt"

	"trade-journal-go/internal/models"
)

// ErrUnknownChart is returned for chart types the calculator does not know.
var ErrUnknownChart = errors.New("unknown chart type")

// ChartType names a derived dataset.
type ChartType string

const (
	ChartDailyPnL      ChartType = "daily-pnl"
	ChartCumulativePnL ChartType = "cumulative-pnl"
	ChartDrawdown      ChartType = "drawdown"
	ChartWeekday       ChartType = "weekday"
	ChartTimeOfDay     ChartType = "time-of-day"
	ChartSymbol        ChartType = "symbol"
	ChartModel         ChartType = "model"
	ChartDistribution  ChartType = "distribution"
)

// ChartTypes lists every supported chart type.
var ChartTypes = []ChartType{
	ChartDailyPnL, ChartCumulativePnL, ChartDrawdown, ChartWeekday,
	ChartTimeOfDay, ChartSymbol, ChartModel, ChartDistribution,
}

// ChartConfig parameterizes a chart. Fields a chart type does not use are ignored.
type ChartConfig struct {
	Period     AggregationPeriod `json:"period,omitempty"`
	BucketSize float64           `json:"bucket_size,omitempty"`
}

// ChartSeries is a chart-ready dataset: one label, value and trade count per point.
type ChartSeries struct {
	Type   ChartType `json:"type"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
	Counts []int     `json:"counts"`
}

// Clone returns a deep copy of the series.
func (c ChartSeries) Clone() ChartSeries {
	return ChartSeries{
		Type:   c.Type,
		Labels: cloneSlice(c.Labels),
		Values: cloneSlice(c.Values),
		Counts: cloneSlice(c.Counts),
	}
}

// cloneSlice copies s, keeping an empty non-nil slice non-nil so it still
// serializes as [].
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// sizeBytes estimates the memory held by the series.
func (c ChartSeries) sizeBytes() int64 {
	size := int64(len(c.Type)) + int64(len(c.Values))*8 + int64(len(c.Counts))*8
	for _, l := range c.Labels {
		size += int64(len(l)) + 16
	}
	return size
}

// BuildChart computes the dataset for chartType over trades.
func BuildChart(chartType ChartType, trades []models.Trade, cfg ChartConfig) (ChartSeries, error) {
	out := ChartSeries{Type: chartType}

	switch chartType {
	case ChartDailyPnL, ChartCumulativePnL, ChartDrawdown:
		agg := AggregationConfig{Period: cfg.Period}
		if err := agg.Validate(); err != nil {
			return ChartSeries{}, err
		}
		for _, p := range TimeSeries(trades, agg) {
			out.Labels = append(out.Labels, p.Bucket)
			out.Counts = append(out.Counts, p.Trades)
			switch chartType {
			case ChartDailyPnL:
				out.Values = append(out.Values, p.PnL)
			case ChartCumulativePnL:
				out.Values = append(out.Values, p.Cumulative)
			default:
				out.Values = append(out.Values, p.Drawdown)
			}
		}
	case ChartWeekday:
		out.appendGroups(ByWeekday(trades))
	case ChartTimeOfDay:
		out.appendGroups(ByHour(trades))
	case ChartSymbol:
		out.appendGroups(BySymbol(trades))
	case ChartModel:
		out.appendGroups(ByModel(trades))
	case ChartDistribution:
		out.appendGroups(Distribution(trades, cfg.BucketSize))
	default:
		return ChartSeries{}, fmt.Errorf("%w: %q", ErrUnknownChart, chartType)
	}

	// Empty charts serialize as [] rather than null.
	if out.Labels == nil {
		out.Labels, out.Values, out.Counts = []string{}, []float64{}, []int{}
	}
	return out, nil
}

func (c *ChartSeries) appendGroups(groups []GroupStat) {
	for _, g := range groups {
		c.Labels = append(c.Labels, g.Key)
		c.Values = append(c.Values, g.PnL)
		c.Counts = append(c.Counts, g.Trades)
	}
}

// cacheConfigKey is the stable serialization of everything a chart depends on
// besides the data version.
func cacheConfigKey(cfg ChartConfig, filter Filter) string {
	b, err := json.Marshal(struct {
		Chart  ChartConfig `json:"c"`
		Filter Filter      `json:"f"`
	}{cfg, filter})
	if err != nil {
		// Both types are plain data and always marshal.
		return fmt.Sprintf("%+v|%+v", cfg, filter)
	}
	return string(b)
}
