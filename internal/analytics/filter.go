// Package analytics derives filtered views, metrics and chart series from the
// trade store and publishes them to subscribers.
package analytics

import (
	"errors"
	"fmt"
	"time"

	"trade-journal-go/internal/models"
)

// ErrInvalidFilter is returned when a filter cannot be applied.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter selects a subset of trades. Every field is optional; a zero field
// imposes no constraint.
type Filter struct {
	DateFrom     string          `json:"date_from,omitempty"` // inclusive, YYYY-MM-DD
	DateTo       string          `json:"date_to,omitempty"`   // inclusive, YYYY-MM-DD
	Statuses     []models.Status `json:"statuses,omitempty"`
	Sides        []models.Side   `json:"sides,omitempty"`
	Symbols      []string        `json:"symbols,omitempty"`
	Models       []string        `json:"models,omitempty"`
	Tags         []string        `json:"tags,omitempty"` // any-of
	MinContracts *float64        `json:"min_contracts,omitempty"`
	MaxContracts *float64        `json:"max_contracts,omitempty"`
}

// IsZero reports whether the filter imposes no constraint at all.
func (f Filter) IsZero() bool {
	return f.DateFrom == "" && f.DateTo == "" &&
		len(f.Statuses) == 0 && len(f.Sides) == 0 && len(f.Symbols) == 0 &&
		len(f.Models) == 0 && len(f.Tags) == 0 &&
		f.MinContracts == nil && f.MaxContracts == nil
}

// Validate checks date formats and range ordering.
func (f Filter) Validate() error {
	var from, to time.Time
	var err error
	if f.DateFrom != "" {
		if from, err = time.Parse(models.DateLayout, f.DateFrom); err != nil {
			return fmt.Errorf("%w: date_from %q: %v", ErrInvalidFilter, f.DateFrom, err)
		}
	}
	if f.DateTo != "" {
		if to, err = time.Parse(models.DateLayout, f.DateTo); err != nil {
			return fmt.Errorf("%w: date_to %q: %v", ErrInvalidFilter, f.DateTo, err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: date_to %s is before date_from %s", ErrInvalidFilter, f.DateTo, f.DateFrom)
	}
	if f.MinContracts != nil && f.MaxContracts != nil && *f.MaxContracts < *f.MinContracts {
		return fmt.Errorf("%w: max_contracts is below min_contracts", ErrInvalidFilter)
	}
	return nil
}

// Match reports whether a single trade passes the filter.
func (f Filter) Match(t *models.Trade) bool {
	// YYYY-MM-DD compares correctly as a string.
	date := t.EffectiveDate()
	if f.DateFrom != "" && date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && date > f.DateTo {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, t.Status()) {
		return false
	}
	if len(f.Sides) > 0 && !contains(f.Sides, t.Side) {
		return false
	}
	if len(f.Symbols) > 0 && !contains(f.Symbols, t.Symbol) && !contains(f.Symbols, models.RootSymbol(t.Symbol)) {
		return false
	}
	if len(f.Models) > 0 && !contains(f.Models, t.Model) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, tag := range f.Tags {
			if t.HasTag(tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinContracts != nil && t.Contracts < *f.MinContracts {
		return false
	}
	if f.MaxContracts != nil && t.Contracts > *f.MaxContracts {
		return false
	}
	return true
}

// Apply returns the trades that pass the filter, preserving order. A zero
// filter returns the input slice itself.
func Apply(trades []models.Trade, f Filter) []models.Trade {
	if f.IsZero() {
		return trades
	}
	out := make([]models.Trade, 0, len(trades))
	for i := range trades {
		if f.Match(&trades[i]) {
			out = append(out, trades[i])
		}
	}
	return out
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
