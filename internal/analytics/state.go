package analytics

import (
	"time"

	"trade-journal-go/internal/models"
)

// Phase is the lifecycle stage of the Service.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
	PhaseRecomputing   Phase = "recomputing"
	PhaseDisposed      Phase = "disposed"
)

// State is the snapshot the Service publishes. Subscribers receive copies.
type State struct {
	Phase          Phase                     `json:"phase"`
	FilteredTrades []models.Trade            `json:"filtered_trades"`
	TotalTrades    int                       `json:"total_trades"` // before filtering
	Metrics        Summary                   `json:"metrics"`
	Charts         map[ChartType]ChartSeries `json:"charts"`
	Filter         Filter                    `json:"filter"`
	Aggregation    AggregationConfig         `json:"aggregation"`
	DataVersion    uint64                    `json:"data_version"`
	Loading        bool                      `json:"loading"`
	Error          string                    `json:"error,omitempty"`
	LastUpdated    time.Time                 `json:"last_updated"`
	LastFilterAt   time.Time                 `json:"last_filter_at"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	c := s
	c.FilteredTrades = models.CloneTrades(s.FilteredTrades)
	if s.Charts != nil {
		c.Charts = make(map[ChartType]ChartSeries, len(s.Charts))
		for k, v := range s.Charts {
			c.Charts[k] = v.Clone()
		}
	}
	c.Filter = s.Filter.clone()
	if s.Metrics.BestDay != nil {
		d := *s.Metrics.BestDay
		c.Metrics.BestDay = &d
	}
	if s.Metrics.WorstDay != nil {
		d := *s.Metrics.WorstDay
		c.Metrics.WorstDay = &d
	}
	return c
}

func (f Filter) clone() Filter {
	c := f
	c.Statuses = cloneSlice(f.Statuses)
	c.Sides = cloneSlice(f.Sides)
	c.Symbols = cloneSlice(f.Symbols)
	c.Models = cloneSlice(f.Models)
	c.Tags = cloneSlice(f.Tags)
	if f.MinContracts != nil {
		v := *f.MinContracts
		c.MinContracts = &v
	}
	if f.MaxContracts != nil {
		v := *f.MaxContracts
		c.MaxContracts = &v
	}
	return c
}

// Subscriber receives published states.
type Subscriber interface {
	Notify(state State)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(state State)

// Notify calls f(state).
func (f SubscriberFunc) Notify(state State) { f(state) }

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// Filter, when set, is consulted with the previously delivered state and the
	// new one; returning false skips the delivery.
	Filter func(prev, next State) bool
	// Immediate delivers the current state synchronously from Subscribe.
	Immediate bool
}

// MetricsChanged is a SubscribeOptions.Filter that skips states whose metrics
// and error did not change.
func MetricsChanged(prev, next State) bool {
	return prev.Metrics.TotalTrades != next.Metrics.TotalTrades ||
		prev.Metrics.NetPnL != next.Metrics.NetPnL ||
		prev.Metrics.Wins != next.Metrics.Wins ||
		prev.Error != next.Error ||
		prev.Phase != next.Phase
}
