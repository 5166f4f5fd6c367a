package internal

import (
	"context"
	"log"
	"time"

	"scanhooks/pkg/storage"
)

// RetentionPolicy holds the maximum ages of log and task rows. The cutoff
// helpers are pure so the sweep windows can be tested without a scheduler.
type RetentionPolicy struct {
	LogMaxAge  time.Duration
	TaskMaxAge time.Duration
}

// PolicyFromConfig builds a RetentionPolicy from day counts.
func PolicyFromConfig(cfg RetentionConfig) RetentionPolicy {
	return RetentionPolicy{
		LogMaxAge:  time.Duration(cfg.LogMaxAgeDays) * 24 * time.Hour,
		TaskMaxAge: time.Duration(cfg.TaskMaxAgeDays) * 24 * time.Hour,
	}
}

// LogCutoff returns the instant before which log rows are expired.
func (p RetentionPolicy) LogCutoff(now time.Time) time.Time {
	return now.Add(-p.LogMaxAge)
}

// TaskCutoff returns the instant before which completed tasks are expired.
func (p RetentionPolicy) TaskCutoff(now time.Time) time.Time {
	return now.Add(-p.TaskMaxAge)
}

// Sweeper runs the scheduled retention jobs. Both sweeps are idempotent and
// safe to re-run; deleting an already-deleted row is a no-op.
type Sweeper struct {
	policy RetentionPolicy
	logs   storage.LogStore
	tasks  storage.TaskStore
	clock  func() time.Time
	logger *log.Logger
}

// NewSweeper creates a Sweeper. clock may be nil, in which case time.Now is
// used.
func NewSweeper(policy RetentionPolicy, logs storage.LogStore, tasks storage.TaskStore, clock func() time.Time, logger *log.Logger) *Sweeper {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{policy: policy, logs: logs, tasks: tasks, clock: clock, logger: logger}
}

// SweepLogs deletes expired webhook log rows and returns the count.
func (s *Sweeper) SweepLogs(ctx context.Context) (int64, error) {
	cutoff := s.policy.LogCutoff(s.clock())
	deleted, err := s.logs.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Printf("log sweep failed: %v", err)
		return 0, err
	}
	AddRetentionDeleted("webhookLogs", deleted)
	s.logger.Printf("log sweep deleted %d rows older than %s", deleted, cutoff.UTC().Format(time.RFC3339))
	return deleted, nil
}

// SweepTasks deletes expired completed tasks and returns the count. Failed
// tasks are retained for inspection.
func (s *Sweeper) SweepTasks(ctx context.Context) (int64, error) {
	cutoff := s.policy.TaskCutoff(s.clock())
	deleted, err := s.tasks.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Printf("task sweep failed: %v", err)
		return 0, err
	}
	AddRetentionDeleted("webhookTasks", deleted)
	s.logger.Printf("task sweep deleted %d rows completed before %s", deleted, cutoff.UTC().Format(time.RFC3339))
	return deleted, nil
}
