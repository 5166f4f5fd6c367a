package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"scanhooks/pkg/storage"

	"gorm.io/gorm"
)

// Store implements storage.WebhookStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	ID            string     `gorm:"column:id;primaryKey;size:64"`
	UserID        string     `gorm:"column:user_id;size:64;index;not null"`
	Provider      string     `gorm:"column:provider;size:32;not null"`
	RepoID        string     `gorm:"column:repo_id;size:128"`
	RepoName      string     `gorm:"column:repo_name;size:255"`
	RepoURL       string     `gorm:"column:repo_url;size:512"`
	EventsJSON    string     `gorm:"column:events_json;type:text"`
	Secret        string     `gorm:"column:secret;size:128;not null"`
	Active        bool       `gorm:"column:active"`
	LastTriggered *time.Time `gorm:"column:last_triggered"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

// Open creates a GORM-backed webhook store.
func Open(cfg storage.Config) (*Store, error) {
	db, err := storage.OpenGorm(cfg)
	if err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "webhooks"
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

// Create inserts a webhook configuration.
func (s *Store) Create(ctx context.Context, record storage.WebhookRecord) error {
	if record.ID == "" {
		return errors.New("webhook id is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	data, err := toRow(record)
	if err != nil {
		return err
	}
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// Get returns the webhook with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*storage.WebhookRecord, error) {
	var data row
	result := s.tableDB().WithContext(ctx).Where("id = ?", id).First(&data)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	record, err := fromRow(data)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns webhooks matching the filter.
func (s *Store) List(ctx context.Context, filter storage.WebhookFilter) ([]storage.WebhookRecord, error) {
	query := s.tableDB().WithContext(ctx)
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}

	var rows []row
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]storage.WebhookRecord, 0, len(rows))
	for _, data := range rows {
		record, err := fromRow(data)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Update rewrites a webhook row. The stored secret and creation time are kept.
func (s *Store) Update(ctx context.Context, record storage.WebhookRecord) error {
	if record.ID == "" {
		return errors.New("webhook id is required")
	}
	events, err := json.Marshal(record.Events)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"repo_name":   record.RepoName,
		"repo_url":    record.RepoURL,
		"events_json": string(events),
		"active":      record.Active,
		"updated_at":  time.Now().UTC(),
	}
	return s.tableDB().WithContext(ctx).Where("id = ?", record.ID).Updates(updates).Error
}

// TouchLastTriggered records when the webhook last received an accepted event.
func (s *Store) TouchLastTriggered(ctx context.Context, id string, at time.Time) error {
	return s.tableDB().WithContext(ctx).Where("id = ?", id).
		Update("last_triggered", at.UTC()).Error
}

// Delete removes a webhook row. The caller is responsible for deleting the
// webhook's rules; rules hold only the webhook id, not a foreign key.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.tableDB().WithContext(ctx).Where("id = ?", id).Delete(&row{}).Error
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record storage.WebhookRecord) (row, error) {
	events, err := json.Marshal(record.Events)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:            record.ID,
		UserID:        record.UserID,
		Provider:      record.Provider,
		RepoID:        record.RepoID,
		RepoName:      record.RepoName,
		RepoURL:       record.RepoURL,
		EventsJSON:    string(events),
		Secret:        record.Secret,
		Active:        record.Active,
		LastTriggered: record.LastTriggered,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}, nil
}

func fromRow(data row) (storage.WebhookRecord, error) {
	var events []string
	if data.EventsJSON != "" {
		if err := json.Unmarshal([]byte(data.EventsJSON), &events); err != nil {
			return storage.WebhookRecord{}, err
		}
	}
	return storage.WebhookRecord{
		ID:            data.ID,
		UserID:        data.UserID,
		Provider:      data.Provider,
		RepoID:        data.RepoID,
		RepoName:      data.RepoName,
		RepoURL:       data.RepoURL,
		Events:        events,
		Secret:        data.Secret,
		Active:        data.Active,
		LastTriggered: data.LastTriggered,
		CreatedAt:     data.CreatedAt,
		UpdatedAt:     data.UpdatedAt,
	}, nil
}
