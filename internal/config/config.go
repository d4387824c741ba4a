// Package config provides configuration for the Verity analysis pipeline.
// Configuration is loaded from ~/.verity/config.yaml and can be overridden by
// VERITY_* environment variables. Every threshold the pipeline branches on is
// configuration, not a hard-coded constant.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration.
type Config struct {
	Routing    RoutingConfig    `mapstructure:"routing" yaml:"routing"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch" yaml:"dispatch"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Protect    ProtectConfig    `mapstructure:"protect" yaml:"protect"`
	Backends   []BackendConfig  `mapstructure:"backends" yaml:"backends"`
	Escalation EscalationConfig `mapstructure:"escalation" yaml:"escalation"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Audit      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// RoutingConfig controls classification and track selection.
type RoutingConfig struct {
	// LowThreshold is the complexity score below which non-material tasks
	// take the fast track.
	LowThreshold float64 `mapstructure:"low_threshold" yaml:"low_threshold"`
	// HighThreshold is the complexity score at or above which tasks take the
	// deep track. Scores in between land on the hybrid track.
	HighThreshold float64 `mapstructure:"high_threshold" yaml:"high_threshold"`
	// CacheTTL bounds how long a routing decision is reused for an identical
	// feature digest (e.g., "10m").
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// CacheSize is the maximum number of cached routing decisions.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size"`
	// ClassifierTimeout bounds the classifier backend call. Kept sub-second;
	// classification failure falls back to the most expensive track, never
	// to a cheaper one.
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout" yaml:"classifier_timeout"`
}

// DispatchConfig controls track execution.
type DispatchConfig struct {
	// FastTimeout bounds a fast-executor call.
	FastTimeout time.Duration `mapstructure:"fast_timeout" yaml:"fast_timeout"`
	// DeepTimeout bounds a deep-executor call.
	DeepTimeout time.Duration `mapstructure:"deep_timeout" yaml:"deep_timeout"`
	// EnsembleTimeout bounds the whole ensemble fan-out.
	EnsembleTimeout time.Duration `mapstructure:"ensemble_timeout" yaml:"ensemble_timeout"`
	// EnsembleSize is the number of ensemble members invoked (N).
	EnsembleSize int `mapstructure:"ensemble_size" yaml:"ensemble_size"`
	// Quorum is the minimum number of ensemble responses required before
	// proceeding (K of N).
	Quorum int `mapstructure:"quorum" yaml:"quorum"`
	// Tolerance is the numeric agreement tolerance epsilon used during
	// reconciliation: responses within epsilon of the median agree.
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"`
}

// ValidationConfig controls the FACT validation layers.
type ValidationConfig struct {
	// Tolerance is the numeric tolerance for the mathematical layer's
	// recomputation checks.
	Tolerance float64 `mapstructure:"tolerance" yaml:"tolerance"`
	// EscalationThreshold: signals with raw confidence below this reach the
	// critical layer even when math/logic passed.
	EscalationThreshold float64 `mapstructure:"escalation_threshold" yaml:"escalation_threshold"`
	// InconclusivePenalty is the confidence multiplier for inconclusive
	// verdicts, in (0,1].
	InconclusivePenalty float64 `mapstructure:"inconclusive_penalty" yaml:"inconclusive_penalty"`
	// FailPenalty is the confidence multiplier for fail-but-retained
	// verdicts, in (0,1]. Steeper than the inconclusive penalty.
	FailPenalty float64 `mapstructure:"fail_penalty" yaml:"fail_penalty"`
	// LogicTimeout bounds a logic-validator backend call.
	LogicTimeout time.Duration `mapstructure:"logic_timeout" yaml:"logic_timeout"`
	// CriticalTimeout bounds a critical-validator backend call.
	CriticalTimeout time.Duration `mapstructure:"critical_timeout" yaml:"critical_timeout"`
}

// ProtectConfig controls the GOALIE protection stage.
type ProtectConfig struct {
	// Shrinkage maps severity names to the fraction a flagged numeric value
	// is scaled toward the neutral baseline.
	Shrinkage map[string]float64 `mapstructure:"shrinkage" yaml:"shrinkage"`
	// NeutralBaseline is the value flagged signals shrink toward.
	NeutralBaseline float64 `mapstructure:"neutral_baseline" yaml:"neutral_baseline"`
	// LegalTerms trigger legal-regulatory risk assessments when present in a
	// signal's text.
	LegalTerms []string `mapstructure:"legal_terms" yaml:"legal_terms"`
}

// BackendConfig declares one registry entry. Which entries are local versus
// remote is a deployment concern; the pipeline only sees roles.
type BackendConfig struct {
	ID       string  `mapstructure:"id" yaml:"id"`
	Role     string  `mapstructure:"role" yaml:"role"`
	Endpoint string  `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string  `mapstructure:"model" yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key. Keys are
	// never stored in the config file itself.
	APIKeyEnv string        `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// CostPerCall is the estimated USD cost per invocation.
	CostPerCall float64 `mapstructure:"cost_per_call" yaml:"cost_per_call"`
	// Local marks backends running on local hardware.
	Local bool `mapstructure:"local" yaml:"local"`
}

// EscalationConfig controls the human-review escalation queue.
type EscalationConfig struct {
	// QueueSize bounds the in-memory escalation queue. Overflow drops the
	// oldest entry.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// MetricsConfig controls the SQLite metrics store.
type MetricsConfig struct {
	// Enabled turns outcome recording on or off.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DBPath is the path to the SQLite metrics database.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// AuditConfig controls the JSONL decision log.
type AuditConfig struct {
	// Path is the audit trail file. Empty disables file output.
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is the optional log file path.
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns the default configuration. The numeric defaults here are
// product-tunable, not load-bearing for correctness.
func Default() *Config {
	return &Config{
		Routing: RoutingConfig{
			LowThreshold:      0.35,
			HighThreshold:     0.75,
			CacheTTL:          10 * time.Minute,
			CacheSize:         4096,
			ClassifierTimeout: 800 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			FastTimeout:     15 * time.Second,
			DeepTimeout:     90 * time.Second,
			EnsembleTimeout: 120 * time.Second,
			EnsembleSize:    5,
			Quorum:          3,
			Tolerance:       0.01,
		},
		Validation: ValidationConfig{
			Tolerance:           0.01,
			EscalationThreshold: 0.5,
			InconclusivePenalty: 0.85,
			FailPenalty:         0.60,
			LogicTimeout:        30 * time.Second,
			CriticalTimeout:     120 * time.Second,
		},
		Protect: ProtectConfig{
			Shrinkage: map[string]float64{
				"medium":   0.15,
				"high":     0.35,
				"critical": 0.60,
			},
			NeutralBaseline: 0,
			LegalTerms: []string{
				"litigation", "subpoena", "consent decree",
				"sec investigation", "material weakness",
			},
		},
		Backends: []BackendConfig{
			{ID: "local-classifier", Role: "classifier", Endpoint: "http://127.0.0.1:11434", Model: "phi3:mini", Timeout: 800 * time.Millisecond, Local: true},
			{ID: "local-fast", Role: "fast-executor", Endpoint: "http://127.0.0.1:11434", Model: "llama3:8b", Timeout: 15 * time.Second, Local: true},
			{ID: "local-deep", Role: "deep-executor", Endpoint: "http://127.0.0.1:11434", Model: "qwen2.5:32b", Timeout: 90 * time.Second, Local: true},
			{ID: "ensemble-a", Role: "ensemble-member", Endpoint: "http://127.0.0.1:11434", Model: "llama3:8b", Timeout: 60 * time.Second, Local: true},
			{ID: "ensemble-b", Role: "ensemble-member", Endpoint: "http://127.0.0.1:11434", Model: "mistral:7b", Timeout: 60 * time.Second, Local: true},
			{ID: "ensemble-c", Role: "ensemble-member", Endpoint: "http://127.0.0.1:11434", Model: "qwen2.5:14b", Timeout: 60 * time.Second, Local: true},
			{ID: "ensemble-d", Role: "ensemble-member", Endpoint: "http://127.0.0.1:11434", Model: "gemma2:9b", Timeout: 60 * time.Second, Local: true},
			{ID: "ensemble-e", Role: "ensemble-member", Endpoint: "https://api.openai.com", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY", Timeout: 60 * time.Second, CostPerCall: 0.002},
			{ID: "math-check", Role: "math-validator", Endpoint: "http://127.0.0.1:11434", Model: "phi3:mini", Timeout: 10 * time.Second, Local: true},
			{ID: "logic-check", Role: "logic-validator", Endpoint: "http://127.0.0.1:11434", Model: "llama3:8b", Timeout: 30 * time.Second, Local: true},
			{ID: "arbiter", Role: "critical-validator", Endpoint: "https://api.anthropic.com", Model: "claude-sonnet-4-20250514", APIKeyEnv: "ANTHROPIC_API_KEY", Timeout: 120 * time.Second, CostPerCall: 0.02},
		},
		Escalation: EscalationConfig{
			QueueSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			DBPath:  "~/.verity/metrics.db",
		},
		Audit: AuditConfig{
			Path: "~/.verity/audit.jsonl",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "~/.verity/verity.log",
		},
	}
}

// Load reads configuration from ~/.verity/config.yaml, creating a default
// file on first run.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".verity", "config.yaml"))
}

// LoadFromPath reads configuration from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment overrides, e.g. VERITY_DISPATCH_QUORUM=4
	v.SetEnvPrefix("VERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Metrics.DBPath = expandPath(cfg.Metrics.DBPath)
	cfg.Audit.Path = expandPath(cfg.Audit.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	if c.Routing.LowThreshold < 0 || c.Routing.LowThreshold > 1 {
		return fmt.Errorf("routing.low_threshold must be in [0,1], got %v", c.Routing.LowThreshold)
	}
	if c.Routing.HighThreshold < 0 || c.Routing.HighThreshold > 1 {
		return fmt.Errorf("routing.high_threshold must be in [0,1], got %v", c.Routing.HighThreshold)
	}
	if c.Routing.LowThreshold >= c.Routing.HighThreshold {
		return fmt.Errorf("routing.low_threshold (%v) must be below routing.high_threshold (%v)",
			c.Routing.LowThreshold, c.Routing.HighThreshold)
	}
	if c.Dispatch.Quorum < 1 || c.Dispatch.Quorum > c.Dispatch.EnsembleSize {
		return fmt.Errorf("dispatch.quorum must be in [1,%d], got %d", c.Dispatch.EnsembleSize, c.Dispatch.Quorum)
	}
	if c.Validation.InconclusivePenalty <= 0 || c.Validation.InconclusivePenalty > 1 {
		return fmt.Errorf("validation.inconclusive_penalty must be in (0,1], got %v", c.Validation.InconclusivePenalty)
	}
	if c.Validation.FailPenalty <= 0 || c.Validation.FailPenalty > 1 {
		return fmt.Errorf("validation.fail_penalty must be in (0,1], got %v", c.Validation.FailPenalty)
	}
	if c.Validation.FailPenalty > c.Validation.InconclusivePenalty {
		return fmt.Errorf("validation.fail_penalty (%v) must not exceed inconclusive_penalty (%v)",
			c.Validation.FailPenalty, c.Validation.InconclusivePenalty)
	}
	for sev, frac := range c.Protect.Shrinkage {
		if frac < 0 || frac > 1 {
			return fmt.Errorf("protect.shrinkage[%s] must be in [0,1], got %v", sev, frac)
		}
	}
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backends[%d]: id is required", i)
		}
		if b.Role == "" {
			return fmt.Errorf("backends[%d] (%s): role is required", i, b.ID)
		}
	}
	return nil
}

// Save writes the configuration back to the default path.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home directory: %w", err)
	}
	return writeConfigFile(filepath.Join(homeDir, ".verity", "config.yaml"), c)
}

// writeConfigFile marshals the config to YAML and writes it atomically.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// expandPath expands a leading tilde to the user home directory.
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~/"))
}
