package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"scanhooks/pkg/storage"

	"github.com/google/uuid"
)

// Handler is the management surface: CRUD for webhook registrations and
// monitoring rules, read access to logs and tasks. Webhook secrets are
// returned exactly once, in the create response.
type Handler struct {
	webhooks storage.WebhookStore
	rules    storage.RuleStore
	logs     storage.LogStore
	tasks    storage.TaskStore
	clock    func() time.Time
	secret   func() (string, error)
	logger   *log.Logger
}

type HandlerConfig struct {
	Webhooks storage.WebhookStore
	Rules    storage.RuleStore
	Logs     storage.LogStore
	Tasks    storage.TaskStore
	Clock    func() time.Time
	// Secret generates a new shared secret for a webhook. Defaults to 32
	// random bytes, hex encoded.
	Secret func() (string, error)
	Logger *log.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Secret == nil {
		cfg.Secret = GenerateSecret
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Handler{
		webhooks: cfg.Webhooks,
		rules:    cfg.Rules,
		logs:     cfg.Logs,
		tasks:    cfg.Tasks,
		clock:    cfg.Clock,
		secret:   cfg.Secret,
		logger:   cfg.Logger,
	}
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Register mounts the management routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/webhooks", h.createWebhook)
	mux.HandleFunc("GET /api/webhooks", h.listWebhooks)
	mux.HandleFunc("GET /api/webhooks/{id}", h.getWebhook)
	mux.HandleFunc("PATCH /api/webhooks/{id}", h.updateWebhook)
	mux.HandleFunc("DELETE /api/webhooks/{id}", h.deleteWebhook)
	mux.HandleFunc("GET /api/webhooks/{id}/logs", h.listLogs)
	mux.HandleFunc("GET /api/webhooks/{id}/tasks", h.listTasks)

	mux.HandleFunc("POST /api/rules", h.createRule)
	mux.HandleFunc("GET /api/rules", h.listRules)
	mux.HandleFunc("GET /api/rules/{id}", h.getRule)
	mux.HandleFunc("PUT /api/rules/{id}", h.updateRule)
	mux.HandleFunc("DELETE /api/rules/{id}", h.deleteRule)
}

// webhookView is the client-facing shape of a webhook. It never carries the
// secret.
type webhookView struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Provider      string     `json:"provider"`
	RepoID        string     `json:"repoId,omitempty"`
	RepoName      string     `json:"repoName"`
	RepoURL       string     `json:"repoUrl,omitempty"`
	Events        []string   `json:"events,omitempty"`
	Active        bool       `json:"active"`
	LastTriggered *time.Time `json:"lastTriggered,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type createWebhookResponse struct {
	webhookView
	Secret string `json:"secret"`
}

func viewWebhook(r storage.WebhookRecord) webhookView {
	return webhookView{
		ID:            r.ID,
		UserID:        r.UserID,
		Provider:      r.Provider,
		RepoID:        r.RepoID,
		RepoName:      r.RepoName,
		RepoURL:       r.RepoURL,
		Events:        r.Events,
		Active:        r.Active,
		LastTriggered: r.LastTriggered,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type createWebhookRequest struct {
	UserID   string   `json:"userId"`
	Provider string   `json:"provider"`
	RepoID   string   `json:"repoId"`
	RepoName string   `json:"repoName"`
	RepoURL  string   `json:"repoUrl"`
	Events   []string `json:"events"`
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.clientError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.RepoName == "" {
		h.clientError(w, http.StatusBadRequest, "userId and repoName are required")
		return
	}
	if !storage.KnownProvider(req.Provider) {
		h.clientError(w, http.StatusBadRequest, "unknown provider")
		return
	}

	secret, err := h.secret()
	if err != nil {
		h.serverError(w, "generate secret", err)
		return
	}

	now := h.clock()
	record := storage.WebhookRecord{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Provider:  req.Provider,
		RepoID:    req.RepoID,
		RepoName:  req.RepoName,
		RepoURL:   req.RepoURL,
		Events:    req.Events,
		Secret:    secret,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.webhooks.Create(r.Context(), record); err != nil {
		h.serverError(w, "create webhook", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, createWebhookResponse{webhookView: viewWebhook(record), Secret: secret})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	filter := storage.WebhookFilter{
		UserID:   r.URL.Query().Get("userId"),
		Provider: r.URL.Query().Get("provider"),
	}
	records, err := h.webhooks.List(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list webhooks", err)
		return
	}
	views := make([]webhookView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewWebhook(rec))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	record, err := h.webhooks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serverError(w, "get webhook", err)
		return
	}
	if record == nil {
		h.clientError(w, http.StatusNotFound, "webhook not found")
		return
	}
	h.writeJSON(w, http.StatusOK, viewWebhook(*record))
}

type updateWebhookRequest struct {
	RepoName *string   `json:"repoName"`
	RepoURL  *string   `json:"repoUrl"`
	Events   *[]string `json:"events"`
	Active   *bool     `json:"active"`
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	record, err := h.webhooks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serverError(w, "get webhook", err)
		return
	}
	if record == nil {
		h.clientError(w, http.StatusNotFound, "webhook not found")
		return
	}

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.clientError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RepoName != nil {
		record.RepoName = *req.RepoName
	}
	if req.RepoURL != nil {
		record.RepoURL = *req.RepoURL
	}
	if req.Events != nil {
		record.Events = *req.Events
	}
	if req.Active != nil {
		record.Active = *req.Active
	}
	record.UpdatedAt = h.clock()

	if err := h.webhooks.Update(r.Context(), *record); err != nil {
		h.serverError(w, "update webhook", err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewWebhook(*record))
}

// deleteWebhook removes the webhook and all of its rules. Rules reference
// their webhook by id only, so the cascade is explicit.
func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := h.webhooks.Get(r.Context(), id)
	if err != nil {
		h.serverError(w, "get webhook", err)
		return
	}
	if record == nil {
		h.clientError(w, http.StatusNotFound, "webhook not found")
		return
	}

	deleted, err := h.rules.DeleteForWebhook(r.Context(), id)
	if err != nil {
		h.serverError(w, "delete rules", err)
		return
	}
	if err := h.webhooks.Delete(r.Context(), id); err != nil {
		h.serverError(w, "delete webhook", err)
		return
	}
	h.logger.Printf("deleted webhook %s and %d rules", id, deleted)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	records, err := h.logs.List(r.Context(), storage.LogFilter{
		WebhookID: r.PathValue("id"),
		Limit:     100,
	})
	if err != nil {
		h.serverError(w, "list logs", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	records, err := h.tasks.List(r.Context(), storage.TaskFilter{
		WebhookID: r.PathValue("id"),
		Status:    storage.TaskStatus(r.URL.Query().Get("status")),
		Limit:     100,
	})
	if err != nil {
		h.serverError(w, "list tasks", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

type ruleRequest struct {
	UserID      string                 `json:"userId"`
	WebhookID   string                 `json:"webhookId"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Conditions  storage.RuleConditions `json:"conditions"`
	Actions     storage.RuleActions    `json:"actions"`
	Enabled     *bool                  `json:"enabled"`
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.clientError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WebhookID == "" || req.Name == "" {
		h.clientError(w, http.StatusBadRequest, "webhookId and name are required")
		return
	}

	hook, err := h.webhooks.Get(r.Context(), req.WebhookID)
	if err != nil {
		h.serverError(w, "get webhook", err)
		return
	}
	if hook == nil {
		h.clientError(w, http.StatusBadRequest, "webhook not found")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := h.clock()
	record := storage.RuleRecord{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		WebhookID:   req.WebhookID,
		Name:        req.Name,
		Description: req.Description,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.rules.Create(r.Context(), record); err != nil {
		h.serverError(w, "create rule", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	filter := storage.RuleFilter{
		WebhookID: r.URL.Query().Get("webhookId"),
		UserID:    r.URL.Query().Get("userId"),
	}
	records, err := h.rules.List(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list rules", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	record, err := h.rules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serverError(w, "get rule", err)
		return
	}
	if record == nil {
		h.clientError(w, http.StatusNotFound, "rule not found")
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	record, err := h.rules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serverError(w, "get rule", err)
		return
	}
	if record == nil {
		h.clientError(w, http.StatusNotFound, "rule not found")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.clientError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name != "" {
		record.Name = req.Name
	}
	record.Description = req.Description
	record.Conditions = req.Conditions
	record.Actions = req.Actions
	if req.Enabled != nil {
		record.Enabled = *req.Enabled
	}
	record.UpdatedAt = h.clock()

	if err := h.rules.Update(r.Context(), *record); err != nil {
		h.serverError(w, "update rule", err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.serverError(w, "get rule", err)
		return
	}
	if record == nil {
		h.clientError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err := h.rules.Delete(r.Context(), id); err != nil {
		h.serverError(w, "delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Printf("encode response: %v", err)
	}
}

func (h *Handler) clientError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Printf("%s: %v", op, err)
	h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
