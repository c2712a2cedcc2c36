package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.RunInterval != time.Hour {
		t.Errorf("RunInterval = %v, want 1h", cfg.RunInterval)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout = %v, want 10s", cfg.SendTimeout)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Timezone)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RUN_INTERVAL", "30m")
	t.Setenv("SEND_TIMEOUT", "5s")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("REMINDER_TZ", "America/New_York")
	t.Setenv("SUMMARY_WEBHOOK_URL", "https://hooks.example.com/runs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.RunInterval != 30*time.Minute {
		t.Errorf("RunInterval = %v, want 30m", cfg.RunInterval)
	}
	if cfg.SendTimeout != 5*time.Second {
		t.Errorf("SendTimeout = %v, want 5s", cfg.SendTimeout)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q, want America/New_York", cfg.Timezone)
	}
	if cfg.SummaryWebhook != "https://hooks.example.com/runs" {
		t.Errorf("SummaryWebhook = %q", cfg.SummaryWebhook)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "eighty"},
		{"bad interval", "RUN_INTERVAL", "hourly"},
		{"bad timeout", "SEND_TIMEOUT", "ten seconds"},
		{"zero concurrency", "WORKER_CONCURRENCY", "0"},
		{"unknown timezone", "REMINDER_TZ", "Mars/Olympus_Mons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	if _, err := time.LoadLocation("America/New_York"); err != nil {
		t.Skip("tzdata not available")
	}

	cfg := &Config{Timezone: "America/New_York"}
	loc := cfg.Location()
	if loc.String() != "America/New_York" {
		t.Errorf("Location() = %v, want America/New_York", loc)
	}

	cfg = &Config{Timezone: "not-a-zone"}
	if cfg.Location() != time.UTC {
		t.Error("unknown timezone must fall back to UTC")
	}
}
