// Package repository persists the journal in a relational database through gorm.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trade-journal-go/internal/models"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidMood is returned for mood scores outside 1..5.
	ErrInvalidMood = errors.New("mood must be between 1 and 5")
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid date")
)

// StatsMaxAge is how long a cached strategy statistics snapshot stays fresh.
const StatsMaxAge = 5 * time.Minute

const batchSize = 200

// Repository reads and writes journal records.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// New creates a new Repository over db. The schema is expected to be migrated.
func New(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger.Named("repository"), now: time.Now}
}

// LoadTrades returns every persisted trade ordered by open date.
func (r *Repository) LoadTrades(ctx context.Context) ([]models.Trade, error) {
	var trades []models.Trade
	if err := r.db.WithContext(ctx).Order("open_date asc, open_time asc, id asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("could not load trades: %w", err)
	}
	return trades, nil
}

// SaveTrades makes the trades table mirror trades exactly.
func (r *Repository) SaveTrades(ctx context.Context, trades []models.Trade) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Trade{}).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		rows := models.CloneTrades(trades)
		return tx.CreateInBatches(&rows, batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("could not save trades: %w", err)
	}
	r.logger.Debug("Trades saved", zap.Int("count", len(trades)))
	return nil
}

// SaveMood creates or replaces the mood entry for entry.Date.
func (r *Repository) SaveMood(ctx context.Context, entry models.MoodEntry) error {
	if entry.Mood < 1 || entry.Mood > 5 {
		return ErrInvalidMood
	}
	if _, err := time.Parse(models.DateLayout, entry.Date); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidDate, entry.Date, err)
	}
	entry.UpdatedAt = r.now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"mood", "text", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("could not save mood for %s: %w", entry.Date, err)
	}
	return nil
}

// Moods returns mood entries with dates in [from, to]. Empty bounds are open.
func (r *Repository) Moods(ctx context.Context, from, to string) ([]models.MoodEntry, error) {
	q := r.db.WithContext(ctx).Order("date asc")
	if from != "" {
		q = q.Where("date >= ?", from)
	}
	if to != "" {
		q = q.Where("date <= ?", to)
	}
	var moods []models.MoodEntry
	if err := q.Find(&moods).Error; err != nil {
		return nil, fmt.Errorf("could not load moods: %w", err)
	}
	return moods, nil
}

// DeleteMood removes the mood entry for date.
func (r *Repository) DeleteMood(ctx context.Context, date string) error {
	res := r.db.WithContext(ctx).Delete(&models.MoodEntry{}, "date = ?", date)
	if res.Error != nil {
		return fmt.Errorf("could not delete mood for %s: %w", date, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// NoteQuery narrows Notes. Zero fields match everything.
type NoteQuery struct {
	Date    string
	TradeID string
	Tag     string
}

// CreateNote stores a new note, assigning an id when it has none.
func (r *Repository) CreateNote(ctx context.Context, note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return fmt.Errorf("could not create note: %w", err)
	}
	return nil
}

// UpdateNote overwrites an existing note.
func (r *Repository) UpdateNote(ctx context.Context, note *models.Note) error {
	if _, err := r.Note(ctx, note.ID); err != nil {
		return err
	}
	note.UpdatedAt = r.now()
	err := r.db.WithContext(ctx).
		Model(&models.Note{ID: note.ID}).
		Select("title", "date", "trade_id", "content", "tags", "updated_at").
		Updates(note).Error
	if err != nil {
		return fmt.Errorf("could not update note %s: %w", note.ID, err)
	}
	stored, err := r.Note(ctx, note.ID)
	if err != nil {
		return err
	}
	*note = *stored
	return nil
}

// Note returns the note with id.
func (r *Repository) Note(ctx context.Context, id string) (*models.Note, error) {
	var note models.Note
	err := r.db.WithContext(ctx).First(&note, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load note %s: %w", id, err)
	}
	return &note, nil
}

// Notes returns notes matching q, newest first.
func (r *Repository) Notes(ctx context.Context, q NoteQuery) ([]models.Note, error) {
	db := r.db.WithContext(ctx).Order("created_at desc")
	if q.Date != "" {
		db = db.Where("date = ?", q.Date)
	}
	if q.TradeID != "" {
		db = db.Where("trade_id = ?", q.TradeID)
	}
	var notes []models.Note
	if err := db.Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("could not load notes: %w", err)
	}
	if q.Tag == "" {
		return notes, nil
	}
	// Tags are stored as a JSON column, so the tag match runs here.
	tagged := make([]models.Note, 0, len(notes))
	for _, n := range notes {
		for _, tag := range n.Tags {
			if tag == q.Tag {
				tagged = append(tagged, n)
				break
			}
		}
	}
	return tagged, nil
}

// DeleteNote removes the note with id.
func (r *Repository) DeleteNote(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Note{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("could not delete note %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignTrade links tradeID to the strategy model. Repeated calls are no-ops.
func (r *Repository) AssignTrade(ctx context.Context, modelID, tradeID string) error {
	row := models.StrategyAssignment{ModelID: modelID, TradeID: tradeID}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("could not assign trade %s to %s: %w", tradeID, modelID, err)
	}
	return nil
}

// UnassignTrade removes the link between tradeID and the strategy model.
func (r *Repository) UnassignTrade(ctx context.Context, modelID, tradeID string) error {
	err := r.db.WithContext(ctx).Delete(&models.StrategyAssignment{}, "model_id = ? AND trade_id = ?", modelID, tradeID).Error
	if err != nil {
		return fmt.Errorf("could not unassign trade %s from %s: %w", tradeID, modelID, err)
	}
	return nil
}

// Assignments returns trade ids per strategy model.
func (r *Repository) Assignments(ctx context.Context) (map[string][]string, error) {
	var rows []models.StrategyAssignment
	if err := r.db.WithContext(ctx).Order("model_id asc, trade_id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not load strategy assignments: %w", err)
	}
	out := make(map[string][]string)
	for _, row := range rows {
		out[row.ModelID] = append(out[row.ModelID], row.TradeID)
	}
	return out, nil
}

// SaveStats stores payload as the statistics snapshot for modelID.
func (r *Repository) SaveStats(ctx context.Context, modelID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not encode stats for %s: %w", modelID, err)
	}
	snapshot := models.StatsSnapshot{ModelID: modelID, Payload: datatypes.JSON(raw), LastUpdated: r.now()}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "last_updated"}),
	}).Create(&snapshot).Error
	if err != nil {
		return fmt.Errorf("could not save stats for %s: %w", modelID, err)
	}
	return nil
}

// Stats returns the snapshot for modelID and whether it is younger than StatsMaxAge.
func (r *Repository) Stats(ctx context.Context, modelID string) (*models.StatsSnapshot, bool, error) {
	var snapshot models.StatsSnapshot
	err := r.db.WithContext(ctx).First(&snapshot, "model_id = ?", modelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not load stats for %s: %w", modelID, err)
	}
	return &snapshot, snapshot.IsFresh(r.now(), StatsMaxAge), nil
}
