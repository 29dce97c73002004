package models

import (
	"strings"
	"time"
)

// Date and time-of-day layouts used for the user-local trade timestamps.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// ClockLayouts are the accepted time-of-day forms, seconds optional. The hour
// may have one or two digits.
var ClockLayouts = []string{TimeLayout, "15:04"}

// ParseClock parses a time of day in any of ClockLayouts.
func ParseClock(clock string) (time.Time, bool) {
	clock = strings.TrimSpace(clock)
	for _, layout := range ClockLayouts {
		if ts, err := time.Parse(layout, clock); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Status is the derived outcome of a trade.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusWin       Status = "WIN"
	StatusLoss      Status = "LOSS"
	StatusBreakeven Status = "BREAKEVEN"
)

// Trade represents one position recorded in the journal.
type Trade struct {
	ID          string   `gorm:"primaryKey" json:"id"`
	Symbol      string   `gorm:"index" json:"symbol"`
	Side        Side     `json:"side"`
	EntryPrice  float64  `json:"entry_price"`
	ExitPrice   float64  `json:"exit_price"`
	Contracts   float64  `json:"contracts"`
	OpenDate    string   `gorm:"index" json:"open_date"`
	OpenTime    string   `json:"open_time,omitempty"`
	CloseDate   string   `gorm:"index" json:"close_date,omitempty"`
	CloseTime   string   `json:"close_time,omitempty"`
	Commissions float64  `json:"commissions"`
	NetPnL      float64  `json:"net_pnl"`
	GrossPnL    *float64 `json:"gross_pnl,omitempty"`
	NetROI      float64  `json:"net_roi"`
	Model       string   `gorm:"index" json:"model,omitempty"`
	Tags        []string `gorm:"serializer:json" json:"tags,omitempty"`
	Notes       string   `json:"notes,omitempty"`

	Enrichment *Enrichment `gorm:"serializer:json" json:"enrichment,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrichment holds the hypothetical best-exit analytics for a trade.
type Enrichment struct {
	BestExit1h   *BestExit `json:"best_exit_1h,omitempty"`
	BestExit2h   *BestExit `json:"best_exit_2h,omitempty"`
	BestExitDay  *BestExit `json:"best_exit_day,omitempty"`
	EntryAt      time.Time `json:"entry_at"`
	SessionStart time.Time `json:"session_start"`
	SessionEnd   time.Time `json:"session_end"`
	EnrichedAt   time.Time `json:"enriched_at"`
}

// BestExit is the most favorable exit inside one horizon.
type BestExit struct {
	Price   float64   `json:"price"`
	PnL     float64   `json:"pnl"`
	Percent float64   `json:"percent"`
	At      time.Time `json:"at"`
}

// Bar is one intraday OHLC candle. Time is the bar start.
type Bar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// EffectiveDate is the date a trade is attributed to: the close date,
// falling back to the open date for open or partially recorded trades.
func (t *Trade) EffectiveDate() string {
	if t.CloseDate != "" {
		return t.CloseDate
	}
	return t.OpenDate
}

// EffectiveGrossPnL returns the gross P&L, falling back to the net P&L.
func (t *Trade) EffectiveGrossPnL() float64 {
	if t.GrossPnL != nil {
		return *t.GrossPnL
	}
	return t.NetPnL
}

// IsClosed reports whether the trade carries an exit.
func (t *Trade) IsClosed() bool {
	return t.CloseDate != "" || t.ExitPrice != 0
}

// Status derives the outcome from the net P&L.
func (t *Trade) Status() Status {
	switch {
	case !t.IsClosed():
		return StatusOpen
	case t.NetPnL > 0:
		return StatusWin
	case t.NetPnL < 0:
		return StatusLoss
	default:
		return StatusBreakeven
	}
}

// HasTag reports whether the trade is tagged with tag.
func (t *Trade) HasTag(tag string) bool {
	for _, tt := range t.Tags {
		if tt == tag {
			return true
		}
	}
	return false
}

// Recalculate derives GrossPnL, NetPnL and NetROI from prices, side, size and
// commissions. Open trades are left untouched.
func (t *Trade) Recalculate() {
	if !t.IsClosed() || t.ExitPrice == 0 {
		return
	}
	gross := GrossPnLFor(t.Symbol, t.Side, t.EntryPrice, t.ExitPrice, t.Contracts)
	t.GrossPnL = &gross
	t.NetPnL = gross - t.Commissions
	t.NetROI = ROIFor(t.Symbol, t.EntryPrice, t.Contracts, t.NetPnL)
}

// Clone returns a deep copy of the trade.
func (t Trade) Clone() Trade {
	c := t
	if t.GrossPnL != nil {
		g := *t.GrossPnL
		c.GrossPnL = &g
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Enrichment != nil {
		e := t.Enrichment.Clone()
		c.Enrichment = &e
	}
	return c
}

// Clone returns a deep copy of the enrichment.
func (e Enrichment) Clone() Enrichment {
	c := e
	c.BestExit1h = e.BestExit1h.clone()
	c.BestExit2h = e.BestExit2h.clone()
	c.BestExitDay = e.BestExitDay.clone()
	return c
}

func (b *BestExit) clone() *BestExit {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// CloneTrades deep-copies a slice of trades. A nil input yields an empty slice.
func CloneTrades(trades []Trade) []Trade {
	out := make([]Trade, len(trades))
	for i := range trades {
		out[i] = trades[i].Clone()
	}
	return out
}

// TradePatch is a partial update for an existing trade. Nil fields are left as is.
type TradePatch struct {
	ID          string      `json:"id"`
	Symbol      *string     `json:"symbol,omitempty"`
	Side        *Side       `json:"side,omitempty"`
	EntryPrice  *float64    `json:"entry_price,omitempty"`
	ExitPrice   *float64    `json:"exit_price,omitempty"`
	Contracts   *float64    `json:"contracts,omitempty"`
	CloseDate   *string     `json:"close_date,omitempty"`
	CloseTime   *string     `json:"close_time,omitempty"`
	Commissions *float64    `json:"commissions,omitempty"`
	NetPnL      *float64    `json:"net_pnl,omitempty"`
	GrossPnL    *float64    `json:"gross_pnl,omitempty"`
	NetROI      *float64    `json:"net_roi,omitempty"`
	Model       *string     `json:"model,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Notes       *string     `json:"notes,omitempty"`
	Enrichment  *Enrichment `json:"enrichment,omitempty"`
}

// Apply merges the non-nil patch fields into t.
func (p TradePatch) Apply(t *Trade) {
	if p.Symbol != nil {
		t.Symbol = *p.Symbol
	}
	if p.Side != nil {
		t.Side = *p.Side
	}
	if p.EntryPrice != nil {
		t.EntryPrice = *p.EntryPrice
	}
	if p.ExitPrice != nil {
		t.ExitPrice = *p.ExitPrice
	}
	if p.Contracts != nil {
		t.Contracts = *p.Contracts
	}
	if p.CloseDate != nil {
		t.CloseDate = *p.CloseDate
	}
	if p.CloseTime != nil {
		t.CloseTime = *p.CloseTime
	}
	if p.Commissions != nil {
		t.Commissions = *p.Commissions
	}
	if p.NetPnL != nil {
		t.NetPnL = *p.NetPnL
	}
	if p.GrossPnL != nil {
		g := *p.GrossPnL
		t.GrossPnL = &g
	}
	if p.NetROI != nil {
		t.NetROI = *p.NetROI
	}
	if p.Model != nil {
		t.Model = *p.Model
	}
	if p.Tags != nil {
		t.Tags = append([]string(nil), p.Tags...)
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Enrichment != nil {
		e := p.Enrichment.Clone()
		t.Enrichment = &e
	}
}
