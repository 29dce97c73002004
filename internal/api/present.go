package api

import (
	"github.com/shopspring/decimal"

	"trade-journal-go/internal/analytics"
)

// currencyPlaces is the precision currency values are shown with.
const currencyPlaces = 2

// Round rounds v half away from zero to places decimals.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundSummary rounds the currency and percentage fields of s for display.
func RoundSummary(s analytics.Summary) analytics.Summary {
	for _, v := range []*float64{
		&s.WinRate, &s.NetPnL, &s.GrossPnL, &s.GrossProfit, &s.GrossLoss,
		&s.ProfitFactor, &s.AverageWin, &s.AverageLoss, &s.LargestWin,
		&s.LargestLoss, &s.Expectancy, &s.TotalCommissions, &s.MaxDrawdown,
	} {
		*v = Round(*v, currencyPlaces)
	}
	if s.BestDay != nil {
		d := *s.BestDay
		d.PnL = Round(d.PnL, currencyPlaces)
		s.BestDay = &d
	}
	if s.WorstDay != nil {
		d := *s.WorstDay
		d.PnL = Round(d.PnL, currencyPlaces)
		s.WorstDay = &d
	}
	return s
}

// RoundSeries rounds chart values for display.
func RoundSeries(series analytics.ChartSeries) analytics.ChartSeries {
	out := series.Clone()
	for i, v := range out.Values {
		out.Values[i] = Round(v, currencyPlaces)
	}
	return out
}

// PresentState prepares a published state for clients.
func PresentState(state analytics.State) analytics.State {
	out := state.Clone()
	out.Metrics = RoundSummary(out.Metrics)
	for k, series := range out.Charts {
		out.Charts[k] = RoundSeries(series)
	}
	return out
}
