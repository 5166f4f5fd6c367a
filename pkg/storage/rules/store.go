package rules

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"scanhooks/pkg/storage"

	"gorm.io/gorm"
)

// Store implements storage.RuleStore on top of GORM.
type Store struct {
	db    *gorm.DB
	table string
}

type row struct {
	ID             string    `gorm:"column:id;primaryKey;size:64"`
	UserID         string    `gorm:"column:user_id;size:64;index;not null"`
	WebhookID      string    `gorm:"column:webhook_id;size:64;index;not null"`
	Name           string    `gorm:"column:name;size:255"`
	Description    string    `gorm:"column:description;size:1024"`
	ConditionsJSON string    `gorm:"column:conditions_json;type:text"`
	ActionsJSON    string    `gorm:"column:actions_json;type:text"`
	Enabled        bool      `gorm:"column:enabled"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// Open creates a GORM-backed rule store.
func Open(cfg storage.Config) (*Store, error) {
	db, err := storage.OpenGorm(cfg)
	if err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "monitoring_rules"
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

// Create inserts a monitoring rule.
func (s *Store) Create(ctx context.Context, record storage.RuleRecord) error {
	if record.ID == "" {
		return errors.New("rule id is required")
	}
	if record.WebhookID == "" {
		return errors.New("rule webhook id is required")
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

// Get returns the rule with the given id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*storage.RuleRecord, error) {
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

// List returns rules matching the filter, oldest first so rule actions run in
// a stable order.
func (s *Store) List(ctx context.Context, filter storage.RuleFilter) ([]storage.RuleRecord, error) {
	query := s.tableDB().WithContext(ctx)
	if filter.WebhookID != "" {
		query = query.Where("webhook_id = ?", filter.WebhookID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Enabled != nil {
		query = query.Where("enabled = ?", *filter.Enabled)
	}

	var rows []row
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]storage.RuleRecord, 0, len(rows))
	for _, data := range rows {
		record, err := fromRow(data)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Update rewrites the mutable fields of a rule.
func (s *Store) Update(ctx context.Context, record storage.RuleRecord) error {
	if record.ID == "" {
		return errors.New("rule id is required")
	}
	conditions, err := json.Marshal(record.Conditions)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(record.Actions)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"name":            record.Name,
		"description":     record.Description,
		"conditions_json": string(conditions),
		"actions_json":    string(actions),
		"enabled":         record.Enabled,
		"updated_at":      time.Now().UTC(),
	}
	return s.tableDB().WithContext(ctx).Where("id = ?", record.ID).Updates(updates).Error
}

// Delete removes a rule row.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.tableDB().WithContext(ctx).Where("id = ?", id).Delete(&row{}).Error
}

// DeleteForWebhook removes every rule belonging to one webhook.
func (s *Store) DeleteForWebhook(ctx context.Context, webhookID string) (int64, error) {
	result := s.tableDB().WithContext(ctx).Where("webhook_id = ?", webhookID).Delete(&row{})
	return result.RowsAffected, result.Error
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record storage.RuleRecord) (row, error) {
	conditions, err := json.Marshal(record.Conditions)
	if err != nil {
		return row{}, err
	}
	actions, err := json.Marshal(record.Actions)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:             record.ID,
		UserID:         record.UserID,
		WebhookID:      record.WebhookID,
		Name:           record.Name,
		Description:    record.Description,
		ConditionsJSON: string(conditions),
		ActionsJSON:    string(actions),
		Enabled:        record.Enabled,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}, nil
}

func fromRow(data row) (storage.RuleRecord, error) {
	record := storage.RuleRecord{
		ID:          data.ID,
		UserID:      data.UserID,
		WebhookID:   data.WebhookID,
		Name:        data.Name,
		Description: data.Description,
		Enabled:     data.Enabled,
		CreatedAt:   data.CreatedAt,
		UpdatedAt:   data.UpdatedAt,
	}
	if data.ConditionsJSON != "" {
		if err := json.Unmarshal([]byte(data.ConditionsJSON), &record.Conditions); err != nil {
			return storage.RuleRecord{}, err
		}
	}
	if data.ActionsJSON != "" {
		if err := json.Unmarshal([]byte(data.ActionsJSON), &record.Actions); err != nil {
			return storage.RuleRecord{}, err
		}
	}
	return record, nil
}
