package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"scanhooks/internal"
	"scanhooks/pkg/scm"
	"scanhooks/pkg/storage"
)

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	fail     map[string]error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload interface{}, metadata map[string]string) error {
	if err := p.fail[topic]; err != nil {
		return err
	}
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

func (p *fakePublisher) Close() error { return nil }

type fakeSCM struct {
	blocked []int
	issues  []string
	err     error
}

func (c *fakeSCM) BlockPullRequest(ctx context.Context, repoFullName string, number int, reason string) error {
	if c.err != nil {
		return c.err
	}
	c.blocked = append(c.blocked, number)
	return nil
}

func (c *fakeSCM) CreateIssue(ctx context.Context, repoFullName string, title, body string) error {
	if c.err != nil {
		return c.err
	}
	c.issues = append(c.issues, title)
	return nil
}

var testTopics = internal.TopicsConfig{
	Scan:          "analysis.scan",
	Notifications: "notifications.user",
	Email:         "notifications.email",
}

func testEvent() internal.Event {
	return internal.Event{
		Provider:   storage.ProviderGitHub,
		Kind:       "pull_request",
		Repository: internal.Repository{ID: "1", Name: "repo", FullName: "acme/repo"},
		Sender:     internal.Sender{ID: "2", Username: "alice"},
		Changes: &internal.Changes{
			Files: []internal.FileChange{{Filename: "src/auth/login.ts", Status: "modified"}},
		},
		PullRequest: &internal.PullRequest{Number: 12, HeadBranch: "feature", BaseBranch: "main"},
	}
}

func TestExecuteScanImmediately(t *testing.T) {
	pub := &fakePublisher{}
	exec := NewExecutor(pub, scm.NewRegistry(), testTopics, nil)

	rule := storage.RuleRecord{
		ID:         "r1",
		WebhookID:  "w1",
		Name:       "scan",
		Conditions: storage.RuleConditions{CustomRuleIDs: []string{"CR-1"}},
		Actions:    storage.RuleActions{ScanImmediately: true},
	}
	results := exec.Execute(context.Background(), rule, testEvent())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "analysis.scan" {
		t.Fatalf("expected scan topic, got %v", pub.topics)
	}
	var req ScanRequest
	if err := json.Unmarshal(pub.payloads[0], &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Priority != "high" {
		t.Fatalf("expected high priority, got %q", req.Priority)
	}
	if len(req.CustomRuleIDs) != 1 || req.CustomRuleIDs[0] != "CR-1" {
		t.Fatalf("expected custom rule hint forwarded, got %v", req.CustomRuleIDs)
	}
}

func TestExecuteBlockPRSkipsWithoutPullRequest(t *testing.T) {
	client := &fakeSCM{}
	registry := scm.NewRegistry()
	registry.Register(storage.ProviderGitHub, client)
	exec := NewExecutor(&fakePublisher{}, registry, testTopics, nil)

	rule := storage.RuleRecord{ID: "r1", Actions: storage.RuleActions{BlockPR: true}}
	ev := testEvent()
	ev.PullRequest = nil
	ev.Kind = "push"

	results := exec.Execute(context.Background(), rule, ev)
	if len(results) != 1 || !results[0].Skipped {
		t.Fatalf("expected blockPr to be skipped, got %+v", results)
	}
	if len(client.blocked) != 0 {
		t.Fatalf("expected no provider call")
	}
}

func TestExecuteBlockPR(t *testing.T) {
	client := &fakeSCM{}
	registry := scm.NewRegistry()
	registry.Register(storage.ProviderGitHub, client)
	exec := NewExecutor(&fakePublisher{}, registry, testTopics, nil)

	rule := storage.RuleRecord{ID: "r1", Name: "block", Actions: storage.RuleActions{BlockPR: true}}
	results := exec.Execute(context.Background(), rule, testEvent())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(client.blocked) != 1 || client.blocked[0] != 12 {
		t.Fatalf("expected pull request 12 blocked, got %v", client.blocked)
	}
}

func TestExecuteNotifyUsers(t *testing.T) {
	pub := &fakePublisher{}
	exec := NewExecutor(pub, scm.NewRegistry(), testTopics, nil)

	rule := storage.RuleRecord{
		ID:         "r1",
		Name:       "notify",
		Conditions: storage.RuleConditions{MinSeverity: "critical"},
		Actions:    storage.RuleActions{NotifyUsers: []string{"u1", "u2"}},
	}
	results := exec.Execute(context.Background(), rule, testEvent())
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(pub.topics) != 2 {
		t.Fatalf("expected one notification per user, got %v", pub.topics)
	}

	var n Notification
	if err := json.Unmarshal(pub.payloads[0], &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Category != "security" || n.Priority != "urgent" {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestNotificationPriorityScale(t *testing.T) {
	cases := map[string]string{
		"critical": "urgent",
		"high":     "high",
		"medium":   "medium",
		"low":      "low",
		"":         "low",
	}
	for severity, want := range cases {
		if got := notificationPriority(severity); got != want {
			t.Fatalf("severity %q: got %q, want %q", severity, got, want)
		}
	}
}

func TestExecuteIndependentFailures(t *testing.T) {
	pub := &fakePublisher{fail: map[string]error{"analysis.scan": errors.New("queue down")}}
	client := &fakeSCM{}
	registry := scm.NewRegistry()
	registry.Register(storage.ProviderGitHub, client)
	exec := NewExecutor(pub, registry, testTopics, nil)

	rule := storage.RuleRecord{
		ID:   "r1",
		Name: "all",
		Actions: storage.RuleActions{
			ScanImmediately: true,
			CreateIssue:     true,
		},
	}
	results := exec.Execute(context.Background(), rule, testEvent())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0].Action != ActionScan || results[0].Err == nil {
		t.Fatalf("expected scan failure recorded, got %+v", results[0])
	}
	if results[1].Action != ActionCreateIssue || results[1].Err != nil {
		t.Fatalf("expected create issue to still run, got %+v", results[1])
	}
	if len(client.issues) != 1 {
		t.Fatalf("expected issue created despite scan failure")
	}
}

func TestExecuteSendEmailNeedsRecipients(t *testing.T) {
	pub := &fakePublisher{}
	exec := NewExecutor(pub, scm.NewRegistry(), testTopics, nil)

	rule := storage.RuleRecord{ID: "r1", Actions: storage.RuleActions{SendEmail: true}}
	results := exec.Execute(context.Background(), rule, testEvent())
	if len(results) != 1 || !results[0].Skipped {
		t.Fatalf("expected sendEmail skipped without recipients, got %+v", results)
	}

	rule.Actions.NotifyUsers = []string{"u1"}
	results = exec.Execute(context.Background(), rule, testEvent())
	// notify runs first, then the email.
	if len(results) != 2 || results[1].Action != ActionSendEmail || results[1].Err != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if pub.topics[len(pub.topics)-1] != "notifications.email" {
		t.Fatalf("expected email topic last, got %v", pub.topics)
	}
}
