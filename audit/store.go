// Package audit persists the append-only record of every successful
// state-changing vault operation. The records are the only externally
// observable trace of vault activity besides the committed state itself.
package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradevault/core/types"
)

// Record is the persisted form of one vault event. Attributes are stored as
// canonical JSON; Vault and Type are lifted into columns for querying.
type Record struct {
	Sequence   uint64    `gorm:"primaryKey;autoIncrement"`
	ID         uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Vault      string    `gorm:"index"`
	Type       string    `gorm:"index"`
	Timestamp  int64     `gorm:"index"`
	Attributes string
	CreatedAt  time.Time
}

// Store wraps the audit database.
type Store struct {
	db *gorm.DB
}

// Open initialises the store. DSNs beginning with "postgres" select the
// Postgres driver; everything else is treated as a sqlite path or DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("audit: database DSN must be configured")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append persists one event and returns it with its assigned sequence.
func (s *Store) Append(evt *types.Event) (*types.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("audit: store not initialised")
	}
	if evt == nil {
		return nil, fmt.Errorf("audit: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("audit: encode attributes: %w", err)
	}
	record := Record{
		ID:         uuid.New(),
		Vault:      evt.Attributes["vault"],
		Type:       evt.Type,
		Timestamp:  evt.Timestamp,
		Attributes: string(attrs),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("audit: append record: %w", err)
	}
	stored := *evt
	stored.Sequence = record.Sequence
	return &stored, nil
}

// Query describes an event lookup. Zero values leave the corresponding filter
// open.
type Query struct {
	Vault         string
	Type          string
	AfterSequence uint64
	Limit         int
}

const defaultQueryLimit = 100

// Events returns matching records ordered by sequence.
func (s *Store) Events(q Query) ([]types.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("audit: store not initialised")
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultQueryLimit
	}
	tx := s.db.Model(&Record{}).Order("sequence asc").Limit(limit)
	if q.Vault != "" {
		tx = tx.Where("vault = ?", q.Vault)
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.AfterSequence > 0 {
		tx = tx.Where("sequence > ?", q.AfterSequence)
	}
	var records []Record
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	out := make([]types.Event, 0, len(records))
	for _, record := range records {
		var attrs map[string]string
		if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("audit: decode attributes for sequence %d: %w", record.Sequence, err)
		}
		out = append(out, types.Event{
			Type:       record.Type,
			Sequence:   record.Sequence,
			Timestamp:  record.Timestamp,
			Attributes: attrs,
		})
	}
	return out, nil
}
