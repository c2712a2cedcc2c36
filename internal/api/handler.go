package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/db"
	"github.com/stockflow/reminderd/internal/escalation"
	"github.com/stockflow/reminderd/internal/notify"
	"github.com/stockflow/reminderd/internal/redis"
)

// Runner is the engine surface the run-now endpoint drives.
type Runner interface {
	Run(ctx context.Context, today time.Time) (*escalation.RunSummary, error)
}

// ReminderReader exposes the ledger's read side for the audit endpoints.
type ReminderReader interface {
	ListReminderRecords(ctx context.Context, invoiceID uuid.UUID) ([]*db.ReminderRecord, error)
	ListReminderRecordsByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*db.ReminderRecord, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	runner    Runner
	reminders ReminderReader
	health    HealthChecker
	lock      *redis.RunLock         // nil if Redis not configured
	webhook   *notify.SummaryWebhook // nil if not configured
	location  *time.Location
}

// NewHandler creates a new API handler. lock and webhook may be nil.
func NewHandler(
	logger *zap.Logger,
	runner Runner,
	reminders ReminderReader,
	health HealthChecker,
	lock *redis.RunLock,
	webhook *notify.SummaryWebhook,
	location *time.Location,
) *Handler {
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		logger:    logger,
		runner:    runner,
		reminders: reminders,
		health:    health,
		lock:      lock,
		webhook:   webhook,
		location:  location,
	}
}

// TriggerRun handles POST /v1/escalation/run. An optional ?date=YYYY-MM-DD
// runs the engine as of that date instead of today (operator re-runs); the
// dedup guard applies either way.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	today := time.Now().In(h.location)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.location)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid date", "date must be YYYY-MM-DD")
			return
		}
		today = parsed
	}
	runDate := today.Format("2006-01-02")

	if h.lock != nil {
		if err := h.lock.Acquire(ctx, runDate); err != nil {
			if errors.Is(err, redis.ErrRunInProgress) {
				h.writeError(w, http.StatusConflict, "run_in_progress", "Run already in progress",
					"an escalation run for this date is currently executing")
				return
			}
			h.logger.Warn("run lock unavailable, proceeding without it", zap.Error(err))
		} else {
			defer h.lock.Release(ctx, runDate)
		}
	}

	summary, err := h.runner.Run(ctx, today)
	if err != nil {
		h.logger.Error("on-demand escalation run failed",
			zap.Error(err),
			zap.String("run_date", runDate),
		)
		h.writeError(w, http.StatusBadGateway, "run_failed", "Escalation run failed", err.Error())
		return
	}

	if h.webhook != nil {
		h.webhook.Post(ctx, runDate, "manual", summary)
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// ListInvoiceReminders handles GET /v1/invoices/{id}/reminders
func (h *Handler) ListInvoiceReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	invoiceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid invoice id", "id must be a valid UUID")
		return
	}

	records, err := h.reminders.ListReminderRecords(ctx, invoiceID)
	if err != nil {
		h.logger.Error("failed to list invoice reminders",
			zap.Error(err),
			zap.String("invoice_id", invoiceID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list reminders", "")
		return
	}

	if records == nil {
		records = []*db.ReminderRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoice_id": invoiceID,
		"reminders":  records,
	})
}

// ListTenantReminders handles GET /v1/reminders?tenant_id=...&limit=&offset=
func (h *Handler) ListTenantReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, err := uuid.Parse(r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid tenant_id", "tenant_id must be a valid UUID")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l < 1 || l > 200 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be between 1 and 200")
			return
		}
		limit = l
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		o, err := strconv.Atoi(raw)
		if err != nil || o < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offset", "offset must be non-negative")
			return
		}
		offset = o
	}

	records, err := h.reminders.ListReminderRecordsByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list tenant reminders",
			zap.Error(err),
			zap.String("tenant_id", tenantID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list reminders", "")
		return
	}

	if records == nil {
		records = []*db.ReminderRecord{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"limit":     limit,
		"offset":    offset,
		"reminders": records,
	})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "unhealthy", "Database unreachable", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
