package analytics

import (
	"sort"

	"trade-journal-go/internal/models"
)

// Summary holds scalar statistics over a trade subset. Currency values are raw
// float sums; rounding belongs to the presentation layer.
type Summary struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Breakeven   int     `json:"breakeven"`
	OpenTrades  int     `json:"open_trades"`
	WinRate     float64 `json:"win_rate"` // percent, 0..100

	NetPnL      float64 `json:"net_pnl"`
	GrossPnL    float64 `json:"gross_pnl"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"` // magnitude, >= 0

	// ProfitFactor is 0 and ProfitFactorDefined false when there are no losses.
	ProfitFactor        float64 `json:"profit_factor"`
	ProfitFactorDefined bool    `json:"profit_factor_defined"`

	AverageWin       float64 `json:"average_win"`
	AverageLoss      float64 `json:"average_loss"` // <= 0
	LargestWin       float64 `json:"largest_win"`
	LargestLoss      float64 `json:"largest_loss"` // <= 0
	Expectancy       float64 `json:"expectancy"`
	TotalCommissions float64 `json:"total_commissions"`

	MaxDrawdown float64 `json:"max_drawdown"` // <= 0, over daily cumulative P&L
	TradingDays int     `json:"trading_days"`
	BestDay     *DayPnL `json:"best_day,omitempty"`
	WorstDay    *DayPnL `json:"worst_day,omitempty"`

	MaxWinStreak  int `json:"max_win_streak"`
	MaxLossStreak int `json:"max_loss_streak"`
	// CurrentStreak is positive for consecutive wins, negative for losses.
	CurrentStreak int `json:"current_streak"`
}

// DayPnL is the net result of one trading day.
type DayPnL struct {
	Date string  `json:"date"`
	PnL  float64 `json:"pnl"`
}

// Summarize computes the scalar statistics for trades. An empty input yields a
// zero Summary.
func Summarize(trades []models.Trade) Summary {
	var s Summary
	s.TotalTrades = len(trades)
	if s.TotalTrades == 0 {
		return s
	}

	for i := range trades {
		t := &trades[i]
		s.NetPnL += t.NetPnL
		s.GrossPnL += t.EffectiveGrossPnL()
		s.TotalCommissions += t.Commissions

		switch t.Status() {
		case models.StatusOpen:
			s.OpenTrades++
		case models.StatusWin:
			s.Wins++
			s.GrossProfit += t.NetPnL
			if t.NetPnL > s.LargestWin {
				s.LargestWin = t.NetPnL
			}
		case models.StatusLoss:
			s.Losses++
			s.GrossLoss += -t.NetPnL
			if t.NetPnL < s.LargestLoss {
				s.LargestLoss = t.NetPnL
			}
		default:
			s.Breakeven++
		}
	}

	s.WinRate = 100 * float64(s.Wins) / float64(s.TotalTrades)
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
		s.ProfitFactorDefined = true
	}
	if s.Wins > 0 {
		s.AverageWin = s.GrossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AverageLoss = -s.GrossLoss / float64(s.Losses)
	}
	if closed := s.TotalTrades - s.OpenTrades; closed > 0 {
		s.Expectancy = s.NetPnL / float64(closed)
	}

	daily := TimeSeries(trades, AggregationConfig{Period: PeriodDay})
	s.TradingDays = len(daily)
	for i, p := range daily {
		if p.Drawdown < s.MaxDrawdown {
			s.MaxDrawdown = p.Drawdown
		}
		if i == 0 || p.PnL > s.BestDay.PnL {
			s.BestDay = &DayPnL{Date: p.Bucket, PnL: p.PnL}
		}
		if i == 0 || p.PnL < s.WorstDay.PnL {
			s.WorstDay = &DayPnL{Date: p.Bucket, PnL: p.PnL}
		}
	}

	s.MaxWinStreak, s.MaxLossStreak, s.CurrentStreak = streaks(trades)
	return s
}

// streaks walks closed trades chronologically. Breakeven trades end a streak.
func streaks(trades []models.Trade) (maxWin, maxLoss, current int) {
	ordered := chronological(trades)
	for _, t := range ordered {
		switch t.Status() {
		case models.StatusWin:
			if current < 0 {
				current = 0
			}
			current++
			if current > maxWin {
				maxWin = current
			}
		case models.StatusLoss:
			if current > 0 {
				current = 0
			}
			current--
			if -current > maxLoss {
				maxLoss = -current
			}
		case models.StatusBreakeven:
			current = 0
		}
	}
	return maxWin, maxLoss, current
}

// chronological returns pointers to trades sorted by effective date, then by
// time of day. Equal keys keep their input order.
func chronological(trades []models.Trade) []*models.Trade {
	out := make([]*models.Trade, len(trades))
	for i := range trades {
		out[i] = &trades[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].EffectiveDate(), out[j].EffectiveDate()
		if di != dj {
			return di < dj
		}
		return effectiveTime(out[i]) < effectiveTime(out[j])
	})
	return out
}

func effectiveTime(t *models.Trade) string {
	if t.CloseDate != "" && t.CloseTime != "" {
		return t.CloseTime
	}
	return t.OpenTime
}
