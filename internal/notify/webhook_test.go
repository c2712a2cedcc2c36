package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/stockflow/reminderd/internal/escalation"
)

func TestNewSummaryWebhook_NilWithoutURL(t *testing.T) {
	if w := NewSummaryWebhook(WebhookConfig{}, zap.NewNop()); w != nil {
		t.Fatal("expected nil webhook when no URL is configured")
	}
}

func TestSummaryWebhook_PostsPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewSummaryWebhook(WebhookConfig{URL: srv.URL}, zap.NewNop())
	summary := &escalation.RunSummary{TotalEligible: 5, Processed: 4, Skipped: 1}

	wh.Post(context.Background(), "2026-08-30", "scheduler", summary)

	if got.RunDate != "2026-08-30" {
		t.Errorf("run_date = %q, want 2026-08-30", got.RunDate)
	}
	if got.Trigger != "scheduler" {
		t.Errorf("trigger = %q, want scheduler", got.Trigger)
	}
	if got.Summary == nil || got.Summary.Processed != 4 {
		t.Errorf("summary = %+v, want processed 4", got.Summary)
	}
	if got.PostedAt.IsZero() {
		t.Error("posted_at not set")
	}
}

func TestSummaryWebhook_SwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewSummaryWebhook(WebhookConfig{URL: srv.URL}, zap.NewNop())

	// Must not panic or block; failures are logged and dropped.
	wh.Post(context.Background(), "2026-08-30", "manual", &escalation.RunSummary{})
}

func TestSummaryWebhook_SwallowsConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	wh := NewSummaryWebhook(WebhookConfig{URL: srv.URL}, zap.NewNop())
	wh.Post(context.Background(), "2026-08-30", "manual", &escalation.RunSummary{})
}
