package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: /tmp/steward-test
scheduler:
  enabled: true
  poll_interval_seconds: 10
  default_jitter_seconds: 120
queue:
  enabled: true
  max_attempts: 5
orchestrator:
  agent_cap: 3
  agents: [planner, researcher, risk]
ethics:
  score_threshold: 0.7
gateway:
  listen_addr: ":9090"
  api_keys:
    secret-key: ops-user
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataDir != "/tmp/steward-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if got := cfg.Scheduler.PollInterval(); got != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", got)
	}
	if got := cfg.Scheduler.DefaultJitter(); got != 2*time.Minute {
		t.Errorf("DefaultJitter = %v, want 2m", got)
	}
	if got := cfg.Queue.Attempts(); got != 5 {
		t.Errorf("Attempts = %d, want 5", got)
	}
	if got := cfg.Orchestrator.Cap(); got != 3 {
		t.Errorf("Cap = %d, want 3", got)
	}
	if got := len(cfg.Orchestrator.Catalog()); got != 3 {
		t.Errorf("Catalog size = %d, want 3", got)
	}
	if got := cfg.Ethics.Threshold(); got != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", got)
	}
	if got := cfg.Gateway.Addr(); got != ":9090" {
		t.Errorf("Addr = %q", got)
	}
	if cfg.Gateway.APIKeys["secret-key"] != "ops-user" {
		t.Errorf("APIKeys = %v", cfg.Gateway.APIKeys)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if got := cfg.Scheduler.PollInterval(); got != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", got)
	}
	if got := cfg.Scheduler.MaxConcurrent(); got != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", got)
	}
	if got := cfg.Scheduler.MissedJobWindow(); got != time.Hour {
		t.Errorf("MissedJobWindow = %v, want 1h", got)
	}
	if got := cfg.Orchestrator.Cap(); got != 5 {
		t.Errorf("Cap = %d, want 5", got)
	}
	if got := cfg.Orchestrator.Topic(); got != "subagent.run" {
		t.Errorf("Topic = %q", got)
	}
	if got := len(cfg.Orchestrator.Catalog()); got <= 5 {
		t.Errorf("default catalog should exceed the cap, got %d agents", got)
	}
	if got := cfg.Consensus.RiskW(); got != 0.6 {
		t.Errorf("RiskW = %v, want 0.6", got)
	}
	if got := cfg.Consensus.CostW(); got != 0.4 {
		t.Errorf("CostW = %v, want 0.4", got)
	}
	if got := cfg.Consensus.MaxConfidence(); got != 95 {
		t.Errorf("MaxConfidence = %d, want 95", got)
	}
	if got := cfg.Ethics.Threshold(); got != 0.6 {
		t.Errorf("Threshold = %v, want 0.6", got)
	}
	if got := cfg.Ethics.HumanCost(); got != 500 {
		t.Errorf("HumanCost = %v, want 500", got)
	}
	if got := cfg.SelfImprove.Floor(); got != 4.0 {
		t.Errorf("Floor = %v, want 4.0", got)
	}
	if got := cfg.SelfImprove.Fraction(); got != 0.10 {
		t.Errorf("Fraction = %v, want 0.10", got)
	}
	if got := cfg.SelfImprove.Duration(); got != 24 {
		t.Errorf("Duration = %d, want 24", got)
	}
	if got := cfg.Budget.DailyLimit(); got != 1000 {
		t.Errorf("DailyLimit = %d, want 1000", got)
	}
	if got := cfg.Budget.LowWater(); got != 50 {
		t.Errorf("LowWater = %d, want 50", got)
	}
	if got := cfg.Storage.StorageDriver(); got != "sqlite" {
		t.Errorf("StorageDriver = %q, want sqlite", got)
	}
}

func TestValidate_PostgresWithoutDSN(t *testing.T) {
	cfg := &Config{Storage: &StorageConfig{Driver: "postgres"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for postgres without DSN")
	}
}

func TestValidate_CanaryFractionRange(t *testing.T) {
	cfg := &Config{SelfImprove: SelfImproveConfig{CanaryFraction: 1.5}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for canary_fraction > 1")
	}
}
