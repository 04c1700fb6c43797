package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.App.Port)
	}
	if cfg.App.Addr() != "0.0.0.0:8080" {
		t.Fatalf("unexpected addr: %s", cfg.App.Addr())
	}
	if cfg.Workflow.MaxAttempts != 3 {
		t.Fatalf("expected default retry budget 3, got %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.Workflow.BackoffStrategy != "exponential" {
		t.Fatalf("expected exponential backoff default, got %s", cfg.Workflow.BackoffStrategy)
	}
	if cfg.Workflow.StepTimeout() != 30*time.Second {
		t.Fatalf("expected 30s step timeout, got %v", cfg.Workflow.StepTimeout())
	}
	if cfg.Classifier.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected default model: %s", cfg.Classifier.Model)
	}
	if cfg.Mailer.SMTPPort != "587" {
		t.Fatalf("unexpected default smtp port: %s", cfg.Mailer.SMTPPort)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("TRIAGE_MAX_ATTEMPTS", "5")
	t.Setenv("TRIAGE_BACKOFF_STRATEGY", "fixed")
	t.Setenv("TRIAGE_STEP_TIMEOUT_SECONDS", "0")
	t.Setenv("CLASSIFIER_TIMEOUT_SECONDS", "7")
	t.Setenv("POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Port != "9090" {
		t.Fatalf("expected overridden port, got %s", cfg.App.Port)
	}
	if cfg.Workflow.MaxAttempts != 5 || cfg.Workflow.BackoffStrategy != "fixed" {
		t.Fatalf("workflow overrides not applied: %+v", cfg.Workflow)
	}
	if cfg.Workflow.StepTimeout() != 0 {
		t.Fatalf("zero seconds must disable the step timeout, got %v", cfg.Workflow.StepTimeout())
	}
	if cfg.Classifier.Timeout() != 7*time.Second {
		t.Fatalf("classifier timeout override not applied: %v", cfg.Classifier.Timeout())
	}
	if cfg.Postgres.RunMigrations {
		t.Fatalf("migration toggle override not applied")
	}
}

func TestLoadMalformedIntFallsBack(t *testing.T) {
	t.Setenv("TRIAGE_MAX_ATTEMPTS", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workflow.MaxAttempts != 3 {
		t.Fatalf("malformed int must fall back to default, got %d", cfg.Workflow.MaxAttempts)
	}
}
