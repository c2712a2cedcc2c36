package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/escalation"
)

// SummaryWebhook posts each run's summary to an operations endpoint so a
// failed or error-heavy run is visible without scraping logs. Delivery
// failures are logged and dropped; they never affect the run itself.
type SummaryWebhook struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// NewSummaryWebhook creates a webhook poster. Returns nil when no URL is
// configured so callers can do a plain nil check.
func NewSummaryWebhook(cfg WebhookConfig, logger *zap.Logger) *SummaryWebhook {
	if cfg.URL == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &SummaryWebhook{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		logger: logger,
	}
}

// payload is the body POSTed after each run.
type payload struct {
	RunDate  string                 `json:"run_date"`
	Trigger  string                 `json:"trigger"`
	Summary  *escalation.RunSummary `json:"summary"`
	PostedAt time.Time              `json:"posted_at"`
}

// Post delivers one run summary. Always returns after logging; callers do
// not need to handle the error beyond ignoring it.
func (w *SummaryWebhook) Post(ctx context.Context, runDate, trigger string, summary *escalation.RunSummary) {
	body, err := json.Marshal(payload{
		RunDate:  runDate,
		Trigger:  trigger,
		Summary:  summary,
		PostedAt: time.Now().UTC(),
	})
	if err != nil {
		w.logger.Error("failed to marshal run summary", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("failed to create summary webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "reminderd/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("summary webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("summary webhook returned non-2xx status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_preview", string(preview)),
		)
		return
	}

	w.logger.Info("run summary posted",
		zap.String("run_date", runDate),
		zap.String("trigger", trigger),
		zap.Int("status_code", resp.StatusCode),
	)
}

// String describes the destination for startup logging.
func (w *SummaryWebhook) String() string {
	return fmt.Sprintf("SummaryWebhook[%s]", w.url)
}
