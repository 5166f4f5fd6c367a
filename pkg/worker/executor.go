package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"scanhooks/internal"
	"scanhooks/pkg/scm"
	"scanhooks/pkg/storage"
)

// Action names, used in metrics and task logs.
const (
	ActionScan        = "scan"
	ActionBlockPR     = "blockPr"
	ActionNotify      = "notify"
	ActionCreateIssue = "createIssue"
	ActionSendEmail   = "sendEmail"
)

// ActionResult records the outcome of one attempted action. A failed action
// is logged and counted but never fails the surrounding task.
type ActionResult struct {
	Action  string
	Err     error
	Skipped bool
}

// Executor runs the actions of a matched rule. Queue-backed actions go
// through the publisher; provider-side actions go through the scm registry.
type Executor struct {
	publisher internal.Publisher
	providers *scm.Registry
	topics    internal.TopicsConfig
	logger    *log.Logger
}

func NewExecutor(publisher internal.Publisher, providers *scm.Registry, topics internal.TopicsConfig, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{publisher: publisher, providers: providers, topics: topics, logger: logger}
}

// Execute runs every enabled action of the rule against the event, in a fixed
// order. Each action is attempted independently.
func (e *Executor) Execute(ctx context.Context, rule storage.RuleRecord, event internal.Event) []ActionResult {
	var results []ActionResult

	record := func(action string, err error) {
		if err != nil {
			internal.IncActionError(action)
			e.logger.Printf("rule=%s action=%s failed: %v", rule.ID, action, err)
		} else {
			internal.IncAction(action)
		}
		results = append(results, ActionResult{Action: action, Err: err})
	}
	skip := func(action, reason string) {
		e.logger.Printf("rule=%s action=%s skipped: %s", rule.ID, action, reason)
		results = append(results, ActionResult{Action: action, Skipped: true})
	}

	if rule.Actions.ScanImmediately {
		record(ActionScan, e.enqueueScan(ctx, rule, event))
	}

	if rule.Actions.BlockPR {
		if event.PullRequest == nil {
			skip(ActionBlockPR, "no pull request context")
		} else {
			record(ActionBlockPR, e.blockPullRequest(ctx, rule, event))
		}
	}

	if len(rule.Actions.NotifyUsers) > 0 {
		record(ActionNotify, e.notifyUsers(ctx, rule, event))
	}

	if rule.Actions.CreateIssue {
		record(ActionCreateIssue, e.createIssue(ctx, rule, event))
	}

	if rule.Actions.SendEmail {
		if len(rule.Actions.NotifyUsers) == 0 {
			skip(ActionSendEmail, "no recipients")
		} else {
			record(ActionSendEmail, e.sendEmail(ctx, rule, event))
		}
	}

	return results
}

func (e *Executor) enqueueScan(ctx context.Context, rule storage.RuleRecord, event internal.Event) error {
	req := ScanRequest{
		Repository:    event.Repository.FullName,
		Files:         event.ChangedFilenames(),
		CustomRuleIDs: rule.Conditions.CustomRuleIDs,
		Priority:      "high",
	}
	return e.publisher.Publish(ctx, e.topics.Scan, req, map[string]string{
		"ruleId":    rule.ID,
		"webhookId": rule.WebhookID,
	})
}

func (e *Executor) blockPullRequest(ctx context.Context, rule storage.RuleRecord, event internal.Event) error {
	client, err := e.providers.For(event.Provider)
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("Blocked by monitoring rule %q: changes in this pull request require a security review.", rule.Name)
	return client.BlockPullRequest(ctx, event.Repository.FullName, event.PullRequest.Number, reason)
}

func (e *Executor) notifyUsers(ctx context.Context, rule storage.RuleRecord, event internal.Event) error {
	var errs []error
	for _, userID := range rule.Actions.NotifyUsers {
		n := Notification{
			UserID:   userID,
			Category: "security",
			Priority: notificationPriority(rule.Conditions.MinSeverity),
			Title:    fmt.Sprintf("Rule %q triggered", rule.Name),
			Message:  fmt.Sprintf("A %s event on %s matched rule %q.", event.Kind, event.Repository.FullName, rule.Name),
		}
		if err := e.publisher.Publish(ctx, e.topics.Notifications, n, map[string]string{"ruleId": rule.ID}); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) createIssue(ctx context.Context, rule storage.RuleRecord, event internal.Event) error {
	client, err := e.providers.For(event.Provider)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("Security review needed: rule %q triggered", rule.Name)
	body := fmt.Sprintf("Monitoring rule %q matched a %s event by @%s.\n\n%s",
		rule.Name, event.Kind, event.Sender.Username, rule.Description)
	return client.CreateIssue(ctx, event.Repository.FullName, title, body)
}

func (e *Executor) sendEmail(ctx context.Context, rule storage.RuleRecord, event internal.Event) error {
	var errs []error
	for _, userID := range rule.Actions.NotifyUsers {
		req := EmailRequest{
			UserID:  userID,
			Subject: fmt.Sprintf("[scanhooks] Rule %q triggered on %s", rule.Name, event.Repository.FullName),
			Body: fmt.Sprintf("Monitoring rule %q matched a %s event on %s by %s.",
				rule.Name, event.Kind, event.Repository.FullName, event.Sender.Username),
		}
		if err := e.publisher.Publish(ctx, e.topics.Email, req, map[string]string{"ruleId": rule.ID}); err != nil {
			errs = append(errs, fmt.Errorf("email %s: %w", userID, err))
		}
	}
	return errors.Join(errs...)
}
