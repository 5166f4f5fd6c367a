package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scanhooks/pkg/storage"

	"gorm.io/gorm"
)

// Store implements storage.TaskStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	ID          string     `gorm:"column:id;primaryKey;size:64"`
	WebhookID   string     `gorm:"column:webhook_id;size:64;index;not null"`
	EventJSON   string     `gorm:"column:event_json;type:text"`
	RulesJSON   string     `gorm:"column:rules_json;type:text"`
	Status      string     `gorm:"column:status;size:16;index"`
	Error       string     `gorm:"column:error;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at;index"`
	FailedAt    *time.Time `gorm:"column:failed_at"`
}

// Open creates a GORM-backed task store.
func Open(cfg storage.Config) (*Store, error) {
	db, err := storage.OpenGorm(cfg)
	if err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "webhook_tasks"
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

// Create inserts a task in its initial state. The matched rules are embedded
// in the same write.
func (s *Store) Create(ctx context.Context, record storage.TaskRecord) error {
	if record.ID == "" {
		return errors.New("task id is required")
	}
	if record.Status == "" {
		record.Status = storage.TaskPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data := toRow(record)
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// Get returns the task with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*storage.TaskRecord, error) {
	var data row
	result := s.tableDB().WithContext(ctx).Where("id = ?", id).First(&data)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	record := fromRow(data)
	return &record, nil
}

// List returns tasks matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter storage.TaskFilter) ([]storage.TaskRecord, error) {
	query := s.tableDB().WithContext(ctx)
	if filter.WebhookID != "" {
		query = query.Where("webhook_id = ?", filter.WebhookID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []row
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]storage.TaskRecord, 0, len(rows))
	for _, data := range rows {
		records = append(records, fromRow(data))
	}
	return records, nil
}

// MarkProcessing transitions a pending task to processing in one row update.
func (s *Store) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":     string(storage.TaskProcessing),
		"started_at": at.UTC(),
	})
}

// MarkCompleted transitions a processing task to its completed terminal state.
func (s *Store) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":       string(storage.TaskCompleted),
		"completed_at": at.UTC(),
	})
}

// MarkFailed transitions a task to its failed terminal state, capturing the
// error message verbatim. Failed tasks are never requeued.
func (s *Store) MarkFailed(ctx context.Context, id string, at time.Time, message string) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":    string(storage.TaskFailed),
		"failed_at": at.UTC(),
		"error":     message,
	})
}

// DeleteCompletedBefore removes completed tasks older than cutoff. Failed
// tasks never have completed_at set and are retained.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.tableDB().WithContext(ctx).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff.UTC()).
		Delete(&row{})
	return result.RowsAffected, result.Error
}

func (s *Store) transition(ctx context.Context, id string, updates map[string]interface{}) error {
	result := s.tableDB().WithContext(ctx).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record storage.TaskRecord) row {
	return row{
		ID:          record.ID,
		WebhookID:   record.WebhookID,
		EventJSON:   record.EventJSON,
		RulesJSON:   record.RulesJSON,
		Status:      string(record.Status),
		Error:       record.Error,
		CreatedAt:   record.CreatedAt,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
		FailedAt:    record.FailedAt,
	}
}

func fromRow(data row) storage.TaskRecord {
	return storage.TaskRecord{
		ID:          data.ID,
		WebhookID:   data.WebhookID,
		EventJSON:   data.EventJSON,
		RulesJSON:   data.RulesJSON,
		Status:      storage.TaskStatus(data.Status),
		Error:       data.Error,
		CreatedAt:   data.CreatedAt,
		StartedAt:   data.StartedAt,
		CompletedAt: data.CompletedAt,
		FailedAt:    data.FailedAt,
	}
}
