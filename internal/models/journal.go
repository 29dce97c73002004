package models

import (
	"time"

	"gorm.io/datatypes"
)

// MoodEntry records how the trader felt on a given day.
// There should only ever be one row per date.
type MoodEntry struct {
	Date      string    `gorm:"primaryKey" json:"date"`
	Mood      int       `gorm:"not null" json:"mood"` // 1 (worst) .. 5 (best)
	Text      string    `json:"text,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Note is a journal page. Content holds the editor document as raw JSON.
type Note struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Title     string         `json:"title"`
	Date      string         `gorm:"index" json:"date,omitempty"`
	TradeID   string         `gorm:"index" json:"trade_id,omitempty"`
	Content   datatypes.JSON `json:"content,omitempty"`
	Tags      []string       `gorm:"serializer:json" json:"tags,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StrategyAssignment links a trade to a strategy model. No foreign keys are
// enforced; trades may disappear while assignments linger.
type StrategyAssignment struct {
	ModelID string `gorm:"primaryKey" json:"model_id"`
	TradeID string `gorm:"primaryKey" json:"trade_id"`
}

// StatsSnapshot caches computed statistics for one strategy model.
type StatsSnapshot struct {
	ModelID     string         `gorm:"primaryKey" json:"model_id"`
	Payload     datatypes.JSON `json:"payload"`
	LastUpdated time.Time      `json:"last_updated"`
}

// IsFresh reports whether the snapshot is younger than maxAge at now.
func (s *StatsSnapshot) IsFresh(now time.Time, maxAge time.Duration) bool {
	return !s.LastUpdated.IsZero() && now.Sub(s.LastUpdated) < maxAge
}
