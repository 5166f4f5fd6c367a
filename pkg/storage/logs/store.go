package logs

import (
	"context"
	"errors"
	"time"

	"scanhooks/pkg/storage"

	"gorm.io/gorm"
)

// Store implements storage.LogStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	ID             string    `gorm:"column:id;primaryKey;size:64"`
	WebhookID      string    `gorm:"column:webhook_id;size:64;index;not null"`
	EventKind      string    `gorm:"column:event_kind;size:64"`
	RepoName       string    `gorm:"column:repo_name;size:255"`
	SenderUsername string    `gorm:"column:sender_username;size:255"`
	Timestamp      time.Time `gorm:"column:timestamp;index"`
	Processed      bool      `gorm:"column:processed"`
}

// Open creates a GORM-backed webhook log store.
func Open(cfg storage.Config) (*Store, error) {
	db, err := storage.OpenGorm(cfg)
	if err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "webhook_logs"
	}
	store := &Store{db: db, table: table}
	if cfg.AutoMigrate {
		if err := store.tableDB().AutoMigrate(&row{}); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return storage.CloseGorm(s.db)
}

// Create appends one audit row. Rows are never updated afterwards.
func (s *Store) Create(ctx context.Context, record storage.LogRecord) error {
	if record.ID == "" {
		return errors.New("log id is required")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	data := row{
		ID:             record.ID,
		WebhookID:      record.WebhookID,
		EventKind:      record.EventKind,
		RepoName:       record.RepoName,
		SenderUsername: record.SenderUsername,
		Timestamp:      record.Timestamp,
		Processed:      record.Processed,
	}
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// List returns log rows, newest first.
func (s *Store) List(ctx context.Context, filter storage.LogFilter) ([]storage.LogRecord, error) {
	query := s.tableDB().WithContext(ctx)
	if filter.WebhookID != "" {
		query = query.Where("webhook_id = ?", filter.WebhookID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []row
	if err := query.Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]storage.LogRecord, 0, len(rows))
	for _, data := range rows {
		records = append(records, storage.LogRecord{
			ID:             data.ID,
			WebhookID:      data.WebhookID,
			EventKind:      data.EventKind,
			RepoName:       data.RepoName,
			SenderUsername: data.SenderUsername,
			Timestamp:      data.Timestamp,
			Processed:      data.Processed,
		})
	}
	return records, nil
}

// DeleteBefore removes rows observed before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.tableDB().WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&row{})
	return result.RowsAffected, result.Error
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}
