package storage

import (
	"context"
	"time"
)

// Provider names accepted for a webhook configuration.
const (
	ProviderGitHub    = "github"
	ProviderGitLab    = "gitlab"
	ProviderBitbucket = "bitbucket"
)

// KnownProvider reports whether value is one of the supported providers.
func KnownProvider(value string) bool {
	switch value {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket:
		return true
	default:
		return false
	}
}

// WebhookRecord is one monitored repository connection. Secret is generated
// once at creation and must not be returned to clients after the create
// response.
type WebhookRecord struct {
	ID            string
	UserID        string
	Provider      string
	RepoID        string
	RepoName      string
	RepoURL       string
	Events        []string
	Secret        string
	Active        bool
	LastTriggered *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WebhookFilter selects webhook rows by equality.
type WebhookFilter struct {
	UserID   string
	Provider string
	Active   *bool
}

// RuleConditions are the predicates of a monitoring rule. All present
// predicates must pass; an absent predicate passes automatically.
// MinSeverity and CustomRuleIDs are not evaluated by this pipeline; they are
// forwarded to the analysis queue as hints.
type RuleConditions struct {
	FilePatterns  []string `json:"filePatterns,omitempty"`
	Branches      []string `json:"branches,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	MinSeverity   string   `json:"minSeverity,omitempty"`
	CustomRuleIDs []string `json:"customRuleIds,omitempty"`
}

// Empty reports whether no predicate is present, in which case the rule
// matches every event for its webhook.
func (c RuleConditions) Empty() bool {
	return len(c.FilePatterns) == 0 && len(c.Branches) == 0 && len(c.Authors) == 0
}

// RuleActions are the side effects of a matched rule, independently togglable.
type RuleActions struct {
	ScanImmediately bool     `json:"scanImmediately,omitempty"`
	BlockPR         bool     `json:"blockPr,omitempty"`
	NotifyUsers     []string `json:"notifyUsers,omitempty"`
	CreateIssue     bool     `json:"createIssue,omitempty"`
	SendEmail       bool     `json:"sendEmail,omitempty"`
}

// RuleRecord is one user-defined monitoring rule. It references its webhook
// by id; deleting the webhook must explicitly delete its rules.
type RuleRecord struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	WebhookID   string         `json:"webhookId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Conditions  RuleConditions `json:"conditions"`
	Actions     RuleActions    `json:"actions"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// RuleFilter selects rule rows by equality.
type RuleFilter struct {
	WebhookID string
	UserID    string
	Enabled   *bool
}

// LogRecord is one append-only audit row per accepted inbound event. It is
// never mutated; only the retention sweep deletes it.
type LogRecord struct {
	ID             string    `json:"id"`
	WebhookID      string    `json:"webhookId"`
	EventKind      string    `json:"eventKind"`
	RepoName       string    `json:"repoName,omitempty"`
	SenderUsername string    `json:"senderUsername,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Processed      bool      `json:"processed"`
}

// LogFilter selects log rows.
type LogFilter struct {
	WebhookID string
	Limit     int
}

// TaskStatus is the lifecycle state of a webhook task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskRecord is the durable unit of work created when at least one rule
// matches an inbound event. EventJSON and RulesJSON embed the canonical event
// and the matched rules as they were at creation time, so later rule edits do
// not change in-flight tasks.
type TaskRecord struct {
	ID          string     `json:"id"`
	WebhookID   string     `json:"webhookId"`
	EventJSON   string     `json:"event"`
	RulesJSON   string     `json:"rules"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

// TaskFilter selects task rows.
type TaskFilter struct {
	WebhookID string
	Status    TaskStatus
	Limit     int
}

// WebhookStore persists webhook configurations.
type WebhookStore interface {
	Create(ctx context.Context, record WebhookRecord) error
	// Get returns nil, nil when no row matches.
	Get(ctx context.Context, id string) (*WebhookRecord, error)
	List(ctx context.Context, filter WebhookFilter) ([]WebhookRecord, error)
	Update(ctx context.Context, record WebhookRecord) error
	TouchLastTriggered(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// RuleStore persists monitoring rules.
type RuleStore interface {
	Create(ctx context.Context, record RuleRecord) error
	// Get returns nil, nil when no row matches.
	Get(ctx context.Context, id string) (*RuleRecord, error)
	List(ctx context.Context, filter RuleFilter) ([]RuleRecord, error)
	Update(ctx context.Context, record RuleRecord) error
	Delete(ctx context.Context, id string) error
	// DeleteForWebhook removes every rule of one webhook and returns the
	// number of rows deleted.
	DeleteForWebhook(ctx context.Context, webhookID string) (int64, error)
	Close() error
}

// LogStore persists the append-only webhook audit log.
type LogStore interface {
	Create(ctx context.Context, record LogRecord) error
	List(ctx context.Context, filter LogFilter) ([]LogRecord, error)
	// DeleteBefore removes rows with Timestamp before cutoff and returns the
	// number of rows deleted. Safe to re-run.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// TaskStore persists webhook tasks. Each Mark* call is a single atomic row
// update.
type TaskStore interface {
	Create(ctx context.Context, record TaskRecord) error
	// Get returns nil, nil when no row matches.
	Get(ctx context.Context, id string) (*TaskRecord, error)
	List(ctx context.Context, filter TaskFilter) ([]TaskRecord, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time, message string) error
	// DeleteCompletedBefore removes tasks whose CompletedAt is set and before
	// cutoff. Failed tasks are retained for inspection.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
