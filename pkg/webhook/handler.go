package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"scanhooks/internal"
	"scanhooks/pkg/storage"

	"github.com/google/uuid"
)

// Processor runs a persisted task through its lifecycle. Satisfied by
// worker.Manager; the handler calls it synchronously after the task row
// is written so the response reflects a settled task.
type Processor interface {
	Process(ctx context.Context, task storage.TaskRecord) error
}

type ingestResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RulesTriggered int    `json:"rulesTriggered"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Handler is the single inbound webhook endpoint. The webhook id arrives as
// the webhookId query parameter and selects the registration that supplies
// the provider, the shared secret, and the active flag.
type Handler struct {
	webhooks  storage.WebhookStore
	rules     storage.RuleStore
	logs      storage.LogStore
	tasks     storage.TaskStore
	evaluator *internal.Evaluator
	processor Processor
	clock     func() time.Time
	logger    *log.Logger
	maxBody   int64
}

type HandlerConfig struct {
	Webhooks  storage.WebhookStore
	Rules     storage.RuleStore
	Logs      storage.LogStore
	Tasks     storage.TaskStore
	Evaluator *internal.Evaluator
	Processor Processor
	Clock     func() time.Time
	Logger    *log.Logger
	MaxBody   int64
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 20
	}
	return &Handler{
		webhooks:  cfg.Webhooks,
		rules:     cfg.Rules,
		logs:      cfg.Logs,
		tasks:     cfg.Tasks,
		evaluator: cfg.Evaluator,
		processor: cfg.Processor,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		maxBody:   cfg.MaxBody,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	logger := internal.WithRequestID(h.logger, requestID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Printf("panic serving webhook: %v", rec)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
	}()

	internal.IncRequest("ingest")

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	webhookID := r.URL.Query().Get("webhookId")
	if webhookID == "" {
		writeError(w, http.StatusBadRequest, "missing webhookId parameter")
		return
	}

	hook, err := h.webhooks.Get(r.Context(), webhookID)
	if err != nil {
		logger.Printf("load webhook %s: %v", webhookID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if hook == nil {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if !hook.Active {
		writeError(w, http.StatusForbidden, "webhook is inactive")
		return
	}

	// Signature verification needs the exact raw body, so an oversized
	// delivery must fail here rather than be truncated into a digest
	// mismatch later.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	if !HasSignature(r.Header) {
		internal.IncSignatureFailure(hook.Provider)
		writeError(w, http.StatusUnauthorized, "missing signature")
		return
	}
	if !VerifySignature(r.Header, body, hook.Secret) {
		internal.IncSignatureFailure(hook.Provider)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	now := h.clock()
	event := Normalize(body, hook.Provider, now)
	if event == nil {
		writeError(w, http.StatusBadRequest, "unparseable payload")
		return
	}

	logEntry := storage.LogRecord{
		ID:             uuid.NewString(),
		WebhookID:      hook.ID,
		EventKind:      event.Kind,
		RepoName:       event.Repository.FullName,
		SenderUsername: event.Sender.Username,
		Timestamp:      now,
		Processed:      true,
	}
	if err := h.logs.Create(r.Context(), logEntry); err != nil {
		logger.Printf("write webhook log: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.webhooks.TouchLastTriggered(r.Context(), hook.ID, now); err != nil {
		// Non-fatal, lastTriggered is advisory.
		logger.Printf("touch lastTriggered for %s: %v", hook.ID, err)
	}

	enabled := true
	ruleRecords, err := h.rules.List(r.Context(), storage.RuleFilter{WebhookID: hook.ID, Enabled: &enabled})
	if err != nil {
		logger.Printf("list rules for %s: %v", hook.ID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	matched := h.evaluator.MatchAll(ruleRecords, *event)
	logger.Printf("webhook=%s provider=%s kind=%s rules=%d matched=%d",
		hook.ID, hook.Provider, event.Kind, len(ruleRecords), len(matched))

	if len(matched) == 0 {
		writeJSON(w, http.StatusOK, ingestResponse{
			Success: true,
			Message: "event processed, no rules triggered",
		})
		return
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		logger.Printf("encode event: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	rulesJSON, err := json.Marshal(matched)
	if err != nil {
		logger.Printf("encode matched rules: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	task := storage.TaskRecord{
		ID:        uuid.NewString(),
		WebhookID: hook.ID,
		EventJSON: string(eventJSON),
		RulesJSON: string(rulesJSON),
		Status:    storage.TaskPending,
		CreatedAt: now,
	}
	if err := h.tasks.Create(r.Context(), task); err != nil {
		logger.Printf("create task: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.processor.Process(r.Context(), task); err != nil {
		// The task row records its own failure; the event itself was accepted.
		logger.Printf("process task %s: %v", task.ID, err)
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Success:        true,
		Message:        "event processed",
		RulesTriggered: len(matched),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("scanhooks/webhook encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}
