// Package config handles loading and validating Steward configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Steward.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.steward/data. Override: STEWARD_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Gateway       GatewayConfig        `json:"gateway" yaml:"gateway"`
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"` // nil = cron scheduler disabled
	Queue         *QueueConfig         `json:"queue,omitempty" yaml:"queue,omitempty"`         // nil = event dispatcher disabled
	Orchestrator  OrchestratorConfig   `json:"orchestrator" yaml:"orchestrator"`
	Consensus     ConsensusConfig      `json:"consensus" yaml:"consensus"`
	Ethics        EthicsConfig         `json:"ethics" yaml:"ethics"`
	SelfImprove   SelfImproveConfig    `json:"self_improve" yaml:"self_improve"`
	Budget        BudgetConfig         `json:"budget" yaml:"budget"`
	Ledger        LedgerConfig         `json:"ledger" yaml:"ledger"`
	Notification  *NotificationConfig  `json:"notification,omitempty" yaml:"notification,omitempty"`   // nil = escalation notifications disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN               string `json:"dsn" yaml:"dsn"`
	MaxOpenConns      int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns      int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS  int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
	DefaultTenantName string `json:"default_tenant_name" yaml:"default_tenant_name"` // Default: "default"
}

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	ListenAddr        string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs        bool              `json:"enable_docs" yaml:"enable_docs"`
	APIKeys           map[string]string `json:"api_keys" yaml:"api_keys"`                       // API key -> user ID mapping.
	MaxRequestSizeKB  int               `json:"max_request_size_kb" yaml:"max_request_size_kb"` // Default: 1024 (1 MB).
	RequestsPerMinute int               `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int               `json:"burst_size" yaml:"burst_size"`
}

// Addr returns the listen address with a default of ":8080".
func (g GatewayConfig) Addr() string {
	if g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body limit in bytes.
func (g GatewayConfig) MaxRequestSize() int64 {
	if g.MaxRequestSizeKB > 0 {
		return int64(g.MaxRequestSizeKB) << 10
	}
	return 1 << 20
}

// SchedulerConfig configures the cron tick loop.
// When nil, no recurring jobs are fired.
type SchedulerConfig struct {
	Enabled                bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds    int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`         // Default: 30.
	MaxConcurrentJobs      int  `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`             // Default: 5.
	MissedJobWindowSeconds int  `json:"missed_job_window_seconds" yaml:"missed_job_window_seconds"` // Default: 3600 (1 hour).
	DefaultJitterSeconds   int  `json:"default_jitter_seconds" yaml:"default_jitter_seconds"`       // Default: 60. Used when a definition has no jitter bound.
}

// PollInterval returns the poll interval with a default of 30s.
func (s *SchedulerConfig) PollInterval() time.Duration {
	if s != nil && s.PollIntervalSeconds > 0 {
		return time.Duration(s.PollIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// MaxConcurrent returns the max concurrent firings with a default of 5.
func (s *SchedulerConfig) MaxConcurrent() int {
	if s != nil && s.MaxConcurrentJobs > 0 {
		return s.MaxConcurrentJobs
	}
	return 5
}

// MissedJobWindow returns the crash-recovery window with a default of 1h.
func (s *SchedulerConfig) MissedJobWindow() time.Duration {
	if s != nil && s.MissedJobWindowSeconds > 0 {
		return time.Duration(s.MissedJobWindowSeconds) * time.Second
	}
	return time.Hour
}

// DefaultJitter returns the fallback jitter bound with a default of 60s.
func (s *SchedulerConfig) DefaultJitter() time.Duration {
	if s != nil && s.DefaultJitterSeconds > 0 {
		return time.Duration(s.DefaultJitterSeconds) * time.Second
	}
	return time.Minute
}

// QueueConfig configures the event dispatcher.
type QueueConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	PollIntervalSeconds int  `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // Default: 5.
	BatchSize           int  `json:"batch_size" yaml:"batch_size"`                       // Default: 10.
	MaxAttempts         int  `json:"max_attempts" yaml:"max_attempts"`                   // Default: 3.
	HandlerTimeoutS     int  `json:"handler_timeout_s" yaml:"handler_timeout_s"`         // Default: 60.
}

// PollInterval returns the dispatcher poll interval with a default of 5s.
func (q *QueueConfig) PollInterval() time.Duration {
	if q != nil && q.PollIntervalSeconds > 0 {
		return time.Duration(q.PollIntervalSeconds) * time.Second
	}
	return 5 * time.Second
}

// Batch returns the claim batch size with a default of 10.
func (q *QueueConfig) Batch() int {
	if q != nil && q.BatchSize > 0 {
		return q.BatchSize
	}
	return 10
}

// Attempts returns max delivery attempts per event with a default of 3.
func (q *QueueConfig) Attempts() int {
	if q != nil && q.MaxAttempts > 0 {
		return q.MaxAttempts
	}
	return 3
}

// HandlerTimeout returns the per-handler deadline with a default of 60s.
func (q *QueueConfig) HandlerTimeout() time.Duration {
	if q != nil && q.HandlerTimeoutS > 0 {
		return time.Duration(q.HandlerTimeoutS) * time.Second
	}
	return time.Minute
}

// OrchestratorConfig configures sub-agent fan-out.
type OrchestratorConfig struct {
	Agents       []string `json:"agents,omitempty" yaml:"agents,omitempty"` // Agent catalog. Default: DefaultAgents.
	AgentCap     int      `json:"agent_cap" yaml:"agent_cap"`               // Hard fan-out cap. Default: 5.
	SpawnTopic   string   `json:"spawn_topic" yaml:"spawn_topic"`           // Event topic per spawned agent. Default: "subagent.run".
	CallTimeoutS int      `json:"call_timeout_s" yaml:"call_timeout_s"`     // Deadline for downstream calls. Default: 10.
}

// DefaultAgents is the built-in sub-agent catalog. Deliberately longer than
// the fan-out cap so the cap is exercised in the default configuration.
var DefaultAgents = []string{"planner", "researcher", "risk", "outreach", "finance", "verifier", "archivist"}

// Catalog returns the configured agent list, defaulting to DefaultAgents.
func (o OrchestratorConfig) Catalog() []string {
	if len(o.Agents) > 0 {
		return o.Agents
	}
	return DefaultAgents
}

// Cap returns the fan-out cap with a default of 5.
func (o OrchestratorConfig) Cap() int {
	if o.AgentCap > 0 {
		return o.AgentCap
	}
	return 5
}

// Topic returns the spawn topic with a default of "subagent.run".
func (o OrchestratorConfig) Topic() string {
	if o.SpawnTopic != "" {
		return o.SpawnTopic
	}
	return "subagent.run"
}

// CallTimeout returns the downstream call deadline with a default of 10s.
func (o OrchestratorConfig) CallTimeout() time.Duration {
	if o.CallTimeoutS > 0 {
		return time.Duration(o.CallTimeoutS) * time.Second
	}
	return 10 * time.Second
}

// ConsensusConfig carries the plan-scoring constants. The defaults preserve
// behavioral parity with the tuned production values.
type ConsensusConfig struct {
	RiskWeight    float64 `json:"risk_weight" yaml:"risk_weight"`       // Default: 0.6.
	CostWeight    float64 `json:"cost_weight" yaml:"cost_weight"`       // Default: 0.4.
	CostDivisor   float64 `json:"cost_divisor" yaml:"cost_divisor"`     // Default: 20.
	ConfidenceCap int     `json:"confidence_cap" yaml:"confidence_cap"` // Default: 95.
}

// RiskW returns the risk blend weight with a default of 0.6.
func (c ConsensusConfig) RiskW() float64 {
	if c.RiskWeight > 0 {
		return c.RiskWeight
	}
	return 0.6
}

// CostW returns the cost blend weight with a default of 0.4.
func (c ConsensusConfig) CostW() float64 {
	if c.CostWeight > 0 {
		return c.CostWeight
	}
	return 0.4
}

// CostDiv returns the cents-to-score divisor with a default of 20.
func (c ConsensusConfig) CostDiv() float64 {
	if c.CostDivisor > 0 {
		return c.CostDivisor
	}
	return 20
}

// MaxConfidence returns the confidence ceiling with a default of 95.
func (c ConsensusConfig) MaxConfidence() int {
	if c.ConfidenceCap > 0 {
		return c.ConfidenceCap
	}
	return 95
}

// EthicsConfig carries the policy gate thresholds and default weights.
type EthicsConfig struct {
	ScoreThreshold   float64 `json:"score_threshold" yaml:"score_threshold"`       // Default: 0.6.
	MaxRiskScore     float64 `json:"max_risk_score" yaml:"max_risk_score"`         // Default: 60.
	HumanRiskScore   float64 `json:"human_risk_score" yaml:"human_risk_score"`     // Default: 30. Above this, a human reviews.
	HumanCostCents   float64 `json:"human_cost_cents" yaml:"human_cost_cents"`     // Default: 500. Above this, a human reviews.
	CostCeilingCents float64 `json:"cost_ceiling_cents" yaml:"cost_ceiling_cents"` // Default: 1000. Normalization ceiling for cost efficiency.
}

// Threshold returns the minimum passing score with a default of 0.6.
func (e EthicsConfig) Threshold() float64 {
	if e.ScoreThreshold > 0 {
		return e.ScoreThreshold
	}
	return 0.6
}

// MaxRisk returns the autonomous risk ceiling with a default of 60.
func (e EthicsConfig) MaxRisk() float64 {
	if e.MaxRiskScore > 0 {
		return e.MaxRiskScore
	}
	return 60
}

// HumanRisk returns the human-review risk threshold with a default of 30.
func (e EthicsConfig) HumanRisk() float64 {
	if e.HumanRiskScore > 0 {
		return e.HumanRiskScore
	}
	return 30
}

// HumanCost returns the human-review cost threshold with a default of 500.
func (e EthicsConfig) HumanCost() float64 {
	if e.HumanCostCents > 0 {
		return e.HumanCostCents
	}
	return 500
}

// CostCeiling returns the cost normalization ceiling with a default of 1000.
func (e EthicsConfig) CostCeiling() float64 {
	if e.CostCeilingCents > 0 {
		return e.CostCeilingCents
	}
	return 1000
}

// SelfImproveConfig configures the daily tuning controller.
type SelfImproveConfig struct {
	QualityFloor        float64 `json:"quality_floor" yaml:"quality_floor"`                 // Default: 4.0 (1-5 scale).
	QualityRaisePct     float64 `json:"quality_raise_pct" yaml:"quality_raise_pct"`         // Default: 0.15.
	CostTrimPct         float64 `json:"cost_trim_pct" yaml:"cost_trim_pct"`                 // Default: 0.05.
	CanaryFraction      float64 `json:"canary_fraction" yaml:"canary_fraction"`             // Default: 0.10.
	CanaryDurationHours int     `json:"canary_duration_hours" yaml:"canary_duration_hours"` // Default: 24.
}

// Floor returns the mean-rating floor with a default of 4.0.
func (s SelfImproveConfig) Floor() float64 {
	if s.QualityFloor > 0 {
		return s.QualityFloor
	}
	return 4.0
}

// QualityRaise returns the quality weight raise with a default of 0.15.
func (s SelfImproveConfig) QualityRaise() float64 {
	if s.QualityRaisePct > 0 {
		return s.QualityRaisePct
	}
	return 0.15
}

// CostTrim returns the cost weight trim with a default of 0.05.
func (s SelfImproveConfig) CostTrim() float64 {
	if s.CostTrimPct > 0 {
		return s.CostTrimPct
	}
	return 0.05
}

// Fraction returns the canary cohort fraction with a default of 0.10.
func (s SelfImproveConfig) Fraction() float64 {
	if s.CanaryFraction > 0 {
		return s.CanaryFraction
	}
	return 0.10
}

// Duration returns the canary rollout window with a default of 24h.
func (s SelfImproveConfig) Duration() int {
	if s.CanaryDurationHours > 0 {
		return s.CanaryDurationHours
	}
	return 24
}

// BudgetConfig configures the spending guard.
type BudgetConfig struct {
	DefaultDailyLimitCents int `json:"default_daily_limit_cents" yaml:"default_daily_limit_cents"` // Default: 1000 ($10/day).
	LowWaterCents          int `json:"low_water_cents" yaml:"low_water_cents"`                     // Default: 50. Below this, the router downgrades.
}

// DailyLimit returns the default daily allowance with a default of 1000 cents.
func (b BudgetConfig) DailyLimit() int {
	if b.DefaultDailyLimitCents > 0 {
		return b.DefaultDailyLimitCents
	}
	return 1000
}

// LowWater returns the router downgrade threshold with a default of 50 cents.
func (b BudgetConfig) LowWater() int {
	if b.LowWaterCents > 0 {
		return b.LowWaterCents
	}
	return 50
}

// LedgerConfig configures the action ledger.
type LedgerConfig struct {
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"` // Optional JSONL mirror. Empty = store only.
}

// NotificationConfig configures incident escalation delivery.
type NotificationConfig struct {
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 10.
}

// Timeout returns the webhook delivery deadline with a default of 10s.
func (n *NotificationConfig) Timeout() time.Duration {
	if n != nil && n.TimeoutSeconds > 0 {
		return time.Duration(n.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// ObservabilityConfig configures metrics, tracing, and anomaly detection.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig enables the Prometheus registry and /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"` // Default: "/metrics".
}

// AnomalyConfig configures sliding-window anomaly detection over handler
// failures and ledger spend.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	WindowSeconds      int     `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"`             // Default: 300.
	ErrorRateThreshold float64 `json:"error_rate_threshold,omitempty" yaml:"error_rate_threshold,omitempty"` // Default: 0.5.
	MinSamples         int     `json:"min_samples,omitempty" yaml:"min_samples,omitempty"`                   // Default: 10.
	SpendSpikeCents    float64 `json:"spend_spike_cents,omitempty" yaml:"spend_spike_cents,omitempty"`       // Default: 500 per window.
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"service_name,omitempty" yaml:"service_name,omitempty"` // Default: "steward".
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`                             // OTLP collector endpoint.
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"`         // "grpc" (default) or "http".
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"` // Default: 1.0.
}

// DefaultConfigPath returns ~/.steward/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".steward", "config.yaml")
}

// Load reads and parses a config file (YAML or JSON by extension), applying
// environment variable overrides on top.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a runnable configuration without a config file:
// SQLite storage, scheduler and dispatcher enabled.
func Default() *Config {
	cfg := &Config{
		Scheduler: &SchedulerConfig{Enabled: true},
		Queue:     &QueueConfig{Enabled: true},
	}
	applyEnvOverrides(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if envDD := os.Getenv("STEWARD_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envDSN := os.Getenv("STEWARD_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = envDSN
	}
	if envKey := os.Getenv("STEWARD_API_KEY"); envKey != "" {
		if cfg.Gateway.APIKeys == nil {
			cfg.Gateway.APIKeys = map[string]string{}
		}
		cfg.Gateway.APIKeys[envKey] = "env-user"
	}
	if envURL := os.Getenv("STEWARD_ESCALATION_WEBHOOK"); envURL != "" {
		if cfg.Notification == nil {
			cfg.Notification = &NotificationConfig{}
		}
		cfg.Notification.WebhookURL = envURL
	}
}

// Validate checks for configuration that would fail at runtime.
func (c *Config) Validate() error {
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage driver is postgres but no DSN is configured")
		}
	}
	if c.Orchestrator.AgentCap < 0 {
		return fmt.Errorf("orchestrator agent_cap must not be negative")
	}
	if f := c.SelfImprove.CanaryFraction; f < 0 || f > 1 {
		return fmt.Errorf("self_improve canary_fraction must be within [0,1], got %v", f)
	}
	return nil
}

// ResolveDataDir returns the data directory, defaulting to ~/.steward/data.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return resolvePath(c.DataDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".steward", "data"), nil
}

// SQLitePath returns the SQLite database path, derived from the data dir
// when not configured explicitly.
func (c *Config) SQLitePath() (string, error) {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return resolvePath(c.Storage.SQLite.Path)
	}
	dir, err := c.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "steward.db"), nil
}

// resolvePath expands a leading ~ to the user home directory.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
