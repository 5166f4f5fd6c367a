package internal

import (
	"context"
	"testing"
	"time"

	"scanhooks/pkg/storage"
)

type stubLogStore struct {
	storage.LogStore
	cutoff  time.Time
	deleted int64
}

func (s *stubLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.deleted, nil
}

type stubTaskStore struct {
	storage.TaskStore
	cutoff  time.Time
	deleted int64
}

func (s *stubTaskStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.deleted, nil
}

func TestPolicyCutoffs(t *testing.T) {
	policy := PolicyFromConfig(RetentionConfig{LogMaxAgeDays: 30, TaskMaxAgeDays: 7})
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	if got, want := policy.LogCutoff(now), now.AddDate(0, 0, -30); !got.Equal(want) {
		t.Fatalf("log cutoff: got %v, want %v", got, want)
	}
	if got, want := policy.TaskCutoff(now), now.AddDate(0, 0, -7); !got.Equal(want) {
		t.Fatalf("task cutoff: got %v, want %v", got, want)
	}
}

func TestPolicyBoundary(t *testing.T) {
	policy := PolicyFromConfig(RetentionConfig{LogMaxAgeDays: 30})
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	cutoff := policy.LogCutoff(now)

	at31 := now.AddDate(0, 0, -31)
	at29 := now.AddDate(0, 0, -29)
	if !at31.Before(cutoff) {
		t.Fatalf("expected a 31-day-old log to fall before the cutoff")
	}
	if at29.Before(cutoff) {
		t.Fatalf("expected a 29-day-old log to be retained")
	}
}

func TestSweepLogs(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	logStore := &stubLogStore{deleted: 3}
	sweeper := NewSweeper(
		PolicyFromConfig(RetentionConfig{LogMaxAgeDays: 30, TaskMaxAgeDays: 7}),
		logStore,
		&stubTaskStore{},
		func() time.Time { return now },
		nil,
	)

	n, err := sweeper.SweepLogs(context.Background())
	if err != nil {
		t.Fatalf("sweep logs: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if want := now.AddDate(0, 0, -30); !logStore.cutoff.Equal(want) {
		t.Fatalf("log cutoff passed to store: got %v, want %v", logStore.cutoff, want)
	}
}

func TestSweepTasks(t *testing.T) {
	now := time.Date(2025, 6, 15, 1, 0, 0, 0, time.UTC)
	taskStore := &stubTaskStore{deleted: 2}
	sweeper := NewSweeper(
		PolicyFromConfig(RetentionConfig{LogMaxAgeDays: 30, TaskMaxAgeDays: 7}),
		&stubLogStore{},
		taskStore,
		func() time.Time { return now },
		nil,
	)

	n, err := sweeper.SweepTasks(context.Background())
	if err != nil {
		t.Fatalf("sweep tasks: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if want := now.AddDate(0, 0, -7); !taskStore.cutoff.Equal(want) {
		t.Fatalf("task cutoff passed to store: got %v, want %v", taskStore.cutoff, want)
	}
}
