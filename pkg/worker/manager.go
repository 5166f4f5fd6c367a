package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"scanhooks/internal"
	"scanhooks/pkg/storage"
)

// Manager drives a task through pending -> processing -> completed/failed.
// Each status change is a single atomic row update. Action failures are
// recorded per action and never fail the task; only decode errors, status
// write errors, and panics do.
type Manager struct {
	tasks    storage.TaskStore
	executor *Executor
	clock    func() time.Time
	logger   *log.Logger
}

func NewManager(tasks storage.TaskStore, executor *Executor, clock func() time.Time, logger *log.Logger) *Manager {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{tasks: tasks, executor: executor, clock: clock, logger: logger}
}

// Process runs one task to a terminal state. The returned error reflects the
// lifecycle, not the actions: a task whose actions all failed still completes.
func (m *Manager) Process(ctx context.Context, task storage.TaskRecord) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = m.fail(ctx, task.ID, fmt.Sprintf("panic: %v", rec))
		}
	}()

	// If the first transition cannot be written the store itself is
	// unreachable, so the task stays pending rather than attempting a
	// failed write that would hit the same store.
	if err := m.tasks.MarkProcessing(ctx, task.ID, m.clock()); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	internal.IncTask(string(storage.TaskProcessing))

	var event internal.Event
	if err := json.Unmarshal([]byte(task.EventJSON), &event); err != nil {
		return m.fail(ctx, task.ID, fmt.Sprintf("decode event: %v", err))
	}
	var rules []storage.RuleRecord
	if err := json.Unmarshal([]byte(task.RulesJSON), &rules); err != nil {
		return m.fail(ctx, task.ID, fmt.Sprintf("decode rules: %v", err))
	}

	for _, rule := range rules {
		results := m.executor.Execute(ctx, rule, event)
		for _, res := range results {
			if res.Err != nil {
				m.logger.Printf("task=%s rule=%s action=%s error: %v", task.ID, rule.ID, res.Action, res.Err)
			}
		}
	}

	if err := m.tasks.MarkCompleted(ctx, task.ID, m.clock()); err != nil {
		return m.fail(ctx, task.ID, fmt.Sprintf("mark completed: %v", err))
	}
	internal.IncTask(string(storage.TaskCompleted))
	return nil
}

// fail writes the terminal failed status. The original failure message wins
// over any error from the status write itself.
func (m *Manager) fail(ctx context.Context, taskID, message string) error {
	internal.IncTask(string(storage.TaskFailed))
	if err := m.tasks.MarkFailed(ctx, taskID, m.clock(), message); err != nil {
		m.logger.Printf("task=%s mark failed: %v", taskID, err)
	}
	return fmt.Errorf("task %s failed: %s", taskID, message)
}
