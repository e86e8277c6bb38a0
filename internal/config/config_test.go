package config

import (
	"testing"
	"time"
)

func TestDefaultsLoadWithoutFile(t *testing.T) {
	t.Setenv("VANTAGE_INTEL_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Orchestrator.WorkerTimeout != 30*time.Second {
		t.Fatalf("unexpected worker timeout %s", cfg.Orchestrator.WorkerTimeout)
	}
	if cfg.Similarity.Threshold != 0.85 {
		t.Fatalf("unexpected similarity threshold %f", cfg.Similarity.Threshold)
	}
	if cfg.Alerting.DailyCap != 5 {
		t.Fatalf("unexpected daily cap %d", cfg.Alerting.DailyCap)
	}
}

func TestDefaultResultTTLBelowCheckFrequency(t *testing.T) {
	t.Setenv("VANTAGE_INTEL_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	// The scheduler checks every 5m by default; a TTL at or above that would
	// replay the previous check's result and the diff would see no movement.
	if cfg.Orchestrator.ResultTTL >= 5*time.Minute {
		t.Fatalf("default result TTL %s must sit below the 5m default check frequency", cfg.Orchestrator.ResultTTL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VANTAGE_INTEL_CONFIG", "")
	t.Setenv("VANTAGE_INTEL_METRICS_ADDRESS", ":9099")
	t.Setenv("VANTAGE_INTEL_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.MetricsAddress != ":9099" {
		t.Fatalf("metrics address override ignored: %s", cfg.Server.MetricsAddress)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level override ignored: %s", cfg.Logging.Level)
	}
}
