// Package history keeps finished query sessions in a local SQLite database.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
)

// ErrNotFound is returned by Latest when a plate has no history.
var ErrNotFound = errors.New("no history for plate")

// Entry is one finished session.
type Entry struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"-" yaml:"-"`
	SessionID  string    `gorm:"size:36;uniqueIndex" json:"session_id" yaml:"session_id"`
	Plate      string    `gorm:"size:32;index" json:"plate" yaml:"plate"`
	Identifier string    `gorm:"size:255" json:"identifier" yaml:"identifier"`
	FreeText   bool      `json:"free_text" yaml:"free_text"`
	Known      bool      `json:"known" yaml:"known"`
	Phase      string    `gorm:"size:16;index" json:"phase" yaml:"phase"`
	Reason     string    `gorm:"type:text" json:"reason,omitempty" yaml:"reason,omitempty"`
	Percentage float64   `json:"percentage" yaml:"percentage"`
	Brand      string    `gorm:"size:64" json:"brand" yaml:"brand"`
	Model      string    `gorm:"size:64" json:"model" yaml:"model"`
	Record     string    `gorm:"type:text" json:"-" yaml:"-"`
	Log        string    `gorm:"type:text" json:"-" yaml:"-"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `gorm:"index" json:"finished_at" yaml:"finished_at"`
}

// TableName keeps the table name stable across struct renames.
func (Entry) TableName() string { return "query_history" }

// VehicleRecord decodes the stored record.
func (e Entry) VehicleRecord() (model.VehicleRecord, error) {
	rec := model.NewVehicleRecord()
	if e.Record == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(e.Record), &rec); err != nil {
		return rec, fmt.Errorf("history: decode record of session %s: %w", e.SessionID, err)
	}
	return rec, nil
}

// Lines decodes the stored session log.
func (e Entry) Lines() ([]string, error) {
	var lines []string
	if e.Log == "" {
		return lines, nil
	}
	if err := json.Unmarshal([]byte(e.Log), &lines); err != nil {
		return nil, fmt.Errorf("history: decode log of session %s: %w", e.SessionID, err)
	}
	return lines, nil
}

// Store reads and writes history entries.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (and creates) the SQLite database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	return NewStore(db)
}

// NewStore migrates db and returns a Store on it.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Save stores a finished session. Saving the same session twice updates it.
func (s *Store) Save(ctx context.Context, snap session.Snapshot) error {
	if !snap.State.Phase.IsTerminal() {
		return fmt.Errorf("history: session %s is still %s", snap.SessionID, snap.State.Phase)
	}

	record, err := json.Marshal(snap.Record)
	if err != nil {
		return fmt.Errorf("history: encode record: %w", err)
	}
	lines, err := json.Marshal(snap.Log)
	if err != nil {
		return fmt.Errorf("history: encode log: %w", err)
	}

	plate := snap.Record.LicensePlate
	if model.IsUnknown(plate) && !snap.Query.FreeText {
		plate = snap.Query.Identifier
	}

	entry := Entry{
		SessionID:  snap.SessionID,
		Plate:      model.NormalizePlate(plate),
		Identifier: snap.Query.Identifier,
		FreeText:   snap.Query.FreeText,
		Known:      snap.Query.Known,
		Phase:      string(snap.State.Phase),
		Reason:     snap.State.Reason,
		Percentage: snap.State.Percentage,
		Brand:      snap.Record.Brand,
		Model:      snap.Record.Model,
		Record:     string(record),
		Log:        string(lines),
		StartedAt:  snap.StartedAt,
		FinishedAt: s.now(),
	}

	var existing Entry
	err = s.db.WithContext(ctx).Where("session_id = ?", entry.SessionID).Take(&existing).Error
	switch {
	case err == nil:
		entry.ID = existing.ID
		return s.db.WithContext(ctx).Save(&entry).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.WithContext(ctx).Create(&entry).Error
	default:
		return fmt.Errorf("history: lookup session %s: %w", entry.SessionID, err)
	}
}

// List returns the newest entries first. An empty plate lists every plate; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, plate string, limit int) ([]Entry, error) {
	q := s.db.WithContext(ctx).Order("finished_at DESC").Order("id DESC")
	if plate != "" {
		q = q.Where("plate = ?", model.NormalizePlate(plate))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []Entry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return entries, nil
}

// Latest returns the newest completed entry for plate.
func (s *Store) Latest(ctx context.Context, plate string) (Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where("plate = ? AND phase = ?", model.NormalizePlate(plate), string(model.PhaseCompleted)).
		Order("finished_at DESC").Order("id DESC").
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, fmt.Errorf("%w %s", ErrNotFound, model.NormalizePlate(plate))
	}
	if err != nil {
		return Entry{}, fmt.Errorf("history: latest: %w", err)
	}
	return e, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
