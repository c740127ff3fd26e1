package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ConfidenceThreshold != 0.6 {
		t.Fatalf("expected default threshold 0.6, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.ReminderTickInterval != time.Minute {
		t.Fatalf("expected one-minute tick, got %v", cfg.ReminderTickInterval)
	}
	if cfg.CostAIReply != 2 || cfg.CostManualReply != 1 {
		t.Fatalf("unexpected default credit costs: ai=%d manual=%d", cfg.CostAIReply, cfg.CostManualReply)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("ESCALATION_INTENTS", "Complaint, emergency ,")
	t.Setenv("SEND_RETRY_BASE_DELAY", "90s")
	t.Setenv("USE_MEMORY_QUEUE", "true")

	cfg := Load()
	if cfg.ConfidenceThreshold != 0.85 {
		t.Fatalf("expected threshold 0.85, got %v", cfg.ConfidenceThreshold)
	}
	if len(cfg.EscalationIntents) != 2 || cfg.EscalationIntents[0] != "complaint" || cfg.EscalationIntents[1] != "emergency" {
		t.Fatalf("unexpected escalation intents: %v", cfg.EscalationIntents)
	}
	if cfg.SendRetryBaseDelay != 90*time.Second {
		t.Fatalf("expected 90s base delay, got %v", cfg.SendRetryBaseDelay)
	}
	if !cfg.UseMemoryQueue {
		t.Fatal("expected memory queue enabled")
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "not-a-float")
	t.Setenv("WORKER_COUNT", "two")

	cfg := Load()
	if cfg.ConfidenceThreshold != 0.6 {
		t.Fatalf("malformed float should fall back, got %v", cfg.ConfidenceThreshold)
	}
	if cfg.WorkerCount != 2 {
		t.Fatalf("malformed int should fall back, got %d", cfg.WorkerCount)
	}
}
