package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NAYAX_ACTOR_ID", "actor-1")
	t.Setenv("NAYAX_API_TOKEN", "token-1")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.NayaxBaseURL != "https://lynx.nayax.com" {
		t.Fatalf("unexpected default base url %q", cfg.NayaxBaseURL)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected 30s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.Timezone != "UTC" || cfg.WeekStartDay != "monday" {
		t.Fatalf("unexpected calendar defaults %q/%q", cfg.Timezone, cfg.WeekStartDay)
	}
	if !cfg.IncludeRawInEvents {
		t.Fatal("raw payloads should be included by default")
	}
	if cfg.DedupRetentionDays != 430 {
		t.Fatalf("expected 430 retention days, got %d", cfg.DedupRetentionDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestPollIntervalClamped(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SECONDS", "3")
	if cfg := Load(); cfg.PollInterval != 10*time.Second {
		t.Fatalf("interval below 10s should clamp up, got %v", cfg.PollInterval)
	}

	t.Setenv("POLL_INTERVAL_SECONDS", "900")
	if cfg := Load(); cfg.PollInterval != 300*time.Second {
		t.Fatalf("interval above 300s should clamp down, got %v", cfg.PollInterval)
	}
}

func TestRetentionFloor(t *testing.T) {
	t.Setenv("DEDUP_RETENTION_DAYS", "30")
	if cfg := Load(); cfg.DedupRetentionDays != 400 {
		t.Fatalf("retention below the last_year horizon should clamp to 400, got %d", cfg.DedupRetentionDays)
	}
}

func TestValidateRequiresCredentials(t *testing.T) {
	t.Setenv("NAYAX_ACTOR_ID", "")
	t.Setenv("NAYAX_API_TOKEN", "")

	if err := Load().Validate(); err == nil {
		t.Fatal("missing credentials should fail validation")
	}

	t.Setenv("NAYAX_ACTOR_ID", "actor-1")
	if err := Load().Validate(); err == nil {
		t.Fatal("missing token should fail validation")
	}
}

func TestValidateRejectsBadCalendar(t *testing.T) {
	t.Setenv("NAYAX_ACTOR_ID", "actor-1")
	t.Setenv("NAYAX_API_TOKEN", "token-1")

	t.Setenv("TIMEZONE", "Atlantis/Nowhere")
	if err := Load().Validate(); err == nil {
		t.Fatal("invalid timezone should fail validation")
	}

	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("WEEK_START_DAY", "funday")
	if err := Load().Validate(); err == nil {
		t.Fatal("invalid week start should fail validation")
	}

	t.Setenv("WEEK_START_DAY", "sunday")
	if err := Load().Validate(); err != nil {
		t.Fatalf("sunday week start should validate: %v", err)
	}
}
