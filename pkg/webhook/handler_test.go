package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"scanhooks/internal"
	"scanhooks/pkg/scm"
	"scanhooks/pkg/storage"
	"scanhooks/pkg/worker"
)

// In-memory fakes for the four collections. They implement just enough of
// the store interfaces for the ingestion path.

type memWebhookStore struct {
	mu   sync.Mutex
	rows map[string]storage.WebhookRecord
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{rows: map[string]storage.WebhookRecord{}}
}

func (s *memWebhookStore) Create(ctx context.Context, r storage.WebhookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[r.ID] = r
	return nil
}

func (s *memWebhookStore) Get(ctx context.Context, id string) (*storage.WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memWebhookStore) List(ctx context.Context, f storage.WebhookFilter) ([]storage.WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.WebhookRecord
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *memWebhookStore) Update(ctx context.Context, r storage.WebhookRecord) error {
	return s.Create(ctx, r)
}

func (s *memWebhookStore) TouchLastTriggered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	r.LastTriggered = &at
	s.rows[id] = r
	return nil
}

func (s *memWebhookStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *memWebhookStore) Close() error { return nil }

type memRuleStore struct {
	mu   sync.Mutex
	rows []storage.RuleRecord
}

func (s *memRuleStore) Create(ctx context.Context, r storage.RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return nil
}

func (s *memRuleStore) Get(ctx context.Context, id string) (*storage.RuleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memRuleStore) List(ctx context.Context, f storage.RuleFilter) ([]storage.RuleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.RuleRecord
	for _, r := range s.rows {
		if f.WebhookID != "" && r.WebhookID != f.WebhookID {
			continue
		}
		if f.Enabled != nil && r.Enabled != *f.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memRuleStore) Update(ctx context.Context, r storage.RuleRecord) error { return nil }
func (s *memRuleStore) Delete(ctx context.Context, id string) error            { return nil }
func (s *memRuleStore) DeleteForWebhook(ctx context.Context, webhookID string) (int64, error) {
	return 0, nil
}
func (s *memRuleStore) Close() error { return nil }

type memLogStore struct {
	mu   sync.Mutex
	rows []storage.LogRecord
}

func (s *memLogStore) Create(ctx context.Context, r storage.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return nil
}

func (s *memLogStore) List(ctx context.Context, f storage.LogFilter) ([]storage.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.LogRecord(nil), s.rows...), nil
}

func (s *memLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (s *memLogStore) Close() error { return nil }

type memTaskStore struct {
	mu       sync.Mutex
	rows     map[string]storage.TaskRecord
	statuses map[string][]storage.TaskStatus
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{
		rows:     map[string]storage.TaskRecord{},
		statuses: map[string][]storage.TaskStatus{},
	}
}

func (s *memTaskStore) Create(ctx context.Context, r storage.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[r.ID] = r
	s.statuses[r.ID] = append(s.statuses[r.ID], r.Status)
	return nil
}

func (s *memTaskStore) Get(ctx context.Context, id string) (*storage.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memTaskStore) List(ctx context.Context, f storage.TaskFilter) ([]storage.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.TaskRecord
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *memTaskStore) transition(id string, status storage.TaskStatus, mutate func(*storage.TaskRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	r.Status = status
	mutate(&r)
	s.rows[id] = r
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *memTaskStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return s.transition(id, storage.TaskProcessing, func(r *storage.TaskRecord) { r.StartedAt = &at })
}

func (s *memTaskStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return s.transition(id, storage.TaskCompleted, func(r *storage.TaskRecord) { r.CompletedAt = &at })
}

func (s *memTaskStore) MarkFailed(ctx context.Context, id string, at time.Time, message string) error {
	return s.transition(id, storage.TaskFailed, func(r *storage.TaskRecord) {
		r.FailedAt = &at
		r.Error = message
	})
}

func (s *memTaskStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (s *memTaskStore) Close() error { return nil }

// recordingPublisher captures everything published.
type recordingPublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload interface{}, metadata map[string]string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, raw)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	handler   *Handler
	webhooks  *memWebhookStore
	rules     *memRuleStore
	logs      *memLogStore
	tasks     *memTaskStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	webhooks := newMemWebhookStore()
	rules := &memRuleStore{}
	logs := &memLogStore{}
	tasks := newMemTaskStore()
	publisher := &recordingPublisher{}

	topics := internal.TopicsConfig{
		Scan:          "analysis.scan",
		Notifications: "notifications.user",
		Email:         "notifications.email",
	}
	executor := worker.NewExecutor(publisher, scm.NewRegistry(), topics, nil)
	manager := worker.NewManager(tasks, executor, nil, nil)

	handler := NewHandler(HandlerConfig{
		Webhooks:  webhooks,
		Rules:     rules,
		Logs:      logs,
		Tasks:     tasks,
		Evaluator: internal.NewEvaluator(nil),
		Processor: manager,
	})
	return &fixture{
		handler:   handler,
		webhooks:  webhooks,
		rules:     rules,
		logs:      logs,
		tasks:     tasks,
		publisher: publisher,
	}
}

const testSecret = "b2a9f0d1c3e5478899aabbccddeeff00"

func (f *fixture) seedWebhook(t *testing.T, id string, active bool) {
	t.Helper()
	err := f.webhooks.Create(context.Background(), storage.WebhookRecord{
		ID:       id,
		UserID:   "u1",
		Provider: storage.ProviderGitHub,
		RepoName: "acme/repo",
		Secret:   testSecret,
		Active:   active,
	})
	if err != nil {
		t.Fatalf("seed webhook: %v", err)
	}
}

func (f *fixture) post(body []byte, webhookID string, signed bool) *httptest.ResponseRecorder {
	target := "/hooks/ingest"
	if webhookID != "" {
		target += "?webhookId=" + webhookID
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	if signed {
		req.Header.Set(HMACSignatureHeader, sign(body, testSecret))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRejectsNonPost(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/hooks/ingest?webhookId=W1", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandlerRequiresWebhookID(t *testing.T) {
	f := newFixture(t)
	if rec := f.post([]byte("{}"), "", true); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing webhookId, got %d", rec.Code)
	}
}

func TestHandlerUnknownWebhook(t *testing.T) {
	f := newFixture(t)
	if rec := f.post([]byte("{}"), "missing", true); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerInactiveWebhook(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", false)
	if rec := f.post([]byte("{}"), "W1", true); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandlerMissingSignature(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", true)
	if rec := f.post([]byte("{}"), "W1", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}
}

func TestHandlerInvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", true)

	body := []byte("{}")
	req := httptest.NewRequest(http.MethodPost, "/hooks/ingest?webhookId=W1", bytes.NewReader(body))
	req.Header.Set(HMACSignatureHeader, sign(body, "not-the-secret"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
}

func TestHandlerOversizedBody(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", true)

	small := NewHandler(HandlerConfig{
		Webhooks:  f.webhooks,
		Rules:     f.rules,
		Logs:      f.logs,
		Tasks:     f.tasks,
		Evaluator: internal.NewEvaluator(nil),
		MaxBody:   16,
	})

	body := []byte(`{"greeting":"this body is comfortably past sixteen bytes"}`)
	req := httptest.NewRequest(http.MethodPost, "/hooks/ingest?webhookId=W1", bytes.NewReader(body))
	req.Header.Set(HMACSignatureHeader, sign(body, testSecret))
	rec := httptest.NewRecorder()
	small.ServeHTTP(rec, req)

	// A correctly signed over-limit delivery is a size problem, not an
	// authentication failure.
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "signature") {
		t.Fatalf("oversized body reported as a signature failure: %s", rec.Body.String())
	}
}

func TestHandlerUnparseablePayload(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", true)
	if rec := f.post([]byte("not json"), "W1", true); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unparseable payload, got %d", rec.Code)
	}
}

func TestHandlerNoRulesTriggered(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", true)

	rec := f.post([]byte(githubPushBody), "W1", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.RulesTriggered != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(f.logs.rows) != 1 {
		t.Fatalf("expected a log entry even without matches, got %d", len(f.logs.rows))
	}
	if len(f.tasks.rows) != 0 {
		t.Fatalf("expected no task without matches, got %d", len(f.tasks.rows))
	}
}

// TestHandlerEndToEnd drives the full pipeline: a signed push touching
// src/auth/login.ts against a rule on src/auth/** with an immediate scan.
func TestHandlerEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", true)
	if err := f.rules.Create(context.Background(), storage.RuleRecord{
		ID:        "R1",
		WebhookID: "W1",
		Name:      "auth changes",
		Conditions: storage.RuleConditions{
			FilePatterns: []string{"src/auth/**"},
		},
		Actions: storage.RuleActions{ScanImmediately: true},
		Enabled: true,
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	rec := f.post([]byte(githubPushBody), "W1", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ingestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.RulesTriggered != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if len(f.logs.rows) != 1 {
		t.Fatalf("expected one log entry, got %d", len(f.logs.rows))
	}
	if !f.logs.rows[0].Processed {
		t.Fatalf("expected log marked processed")
	}

	if len(f.tasks.rows) != 1 {
		t.Fatalf("expected one task, got %d", len(f.tasks.rows))
	}
	for id, history := range f.tasks.statuses {
		want := []storage.TaskStatus{storage.TaskPending, storage.TaskProcessing, storage.TaskCompleted}
		if len(history) != len(want) {
			t.Fatalf("task %s status history: got %v, want %v", id, history, want)
		}
		for i := range want {
			if history[i] != want[i] {
				t.Fatalf("task %s status history: got %v, want %v", id, history, want)
			}
		}
	}

	if len(f.publisher.topics) != 1 || f.publisher.topics[0] != "analysis.scan" {
		t.Fatalf("expected one scan enqueued, got topics %v", f.publisher.topics)
	}
	var scan worker.ScanRequest
	if err := json.Unmarshal(f.publisher.payloads[0], &scan); err != nil {
		t.Fatalf("decode scan request: %v", err)
	}
	if scan.Repository != "acme/repo" || scan.Priority != "high" {
		t.Fatalf("unexpected scan request: %+v", scan)
	}
	found := false
	for _, file := range scan.Files {
		if file == "src/auth/login.ts" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected scan files to include src/auth/login.ts, got %v", scan.Files)
	}

	hook, err := f.webhooks.Get(context.Background(), "W1")
	if err != nil || hook == nil {
		t.Fatalf("reload webhook: %v", err)
	}
	if hook.LastTriggered == nil {
		t.Fatalf("expected lastTriggered to be set")
	}
}

// TestHandlerActionFailureStillCompletes verifies that failing actions do not
// fail the task or the HTTP response.
func TestHandlerActionFailureStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.seedWebhook(t, "W1", true)
	// createIssue has no provider client registered, so the action errors.
	if err := f.rules.Create(context.Background(), storage.RuleRecord{
		ID:        "R1",
		WebhookID: "W1",
		Name:      "issue on everything",
		Actions:   storage.RuleActions{CreateIssue: true},
		Enabled:   true,
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	rec := f.post([]byte(githubPushBody), "W1", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	for _, task := range f.tasks.rows {
		if task.Status != storage.TaskCompleted {
			t.Fatalf("expected task completed despite action failure, got %s", task.Status)
		}
	}
}
