// Package config provides configuration management for the signal pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrMissingSourcesPath        = errors.New("paths.sources is required")
	ErrMissingCorpusPath         = errors.New("paths.corpus is required")
	ErrMissingOutputRoot         = errors.New("paths.output_root is required")
	ErrInvalidBatchSize          = errors.New("rotation.batch_size must be at least 1")
	ErrInvalidRateLimit          = errors.New("collector.rate_limit_seconds must be non-negative")
	ErrInvalidTimeout            = errors.New("collector.timeout_seconds must be at least 1")
	ErrInvalidMinTextLength      = errors.New("collector.min_text_length must be non-negative")
	ErrInvalidMaxTextLength      = errors.New("collector.max_text_length must be at least 1")
	ErrInvalidFeedDiscovery      = errors.New("collector.max_feed_discovery must be non-negative")
	ErrInvalidMaxAttempts        = errors.New("collector.retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay       = errors.New("collector.retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier  = errors.New("collector.retry.backoff_multiplier must be >= 1.0")
	ErrInvalidDuplicateThreshold = errors.New("scoring.duplicate_similarity must be in (0, 1]")
	ErrInvalidPriorityThresholds = errors.New("scoring.review_min_priority cannot exceed scoring.accept_priority")
	ErrInvalidCandidateCap       = errors.New("pipeline.max_candidates_per_doc must be at least 1")
	ErrInvalidLogLevel           = errors.New("logging.level must be one of: debug, info, warn, error")
	ErrMissingAPIKey             = errors.New("capability API key not set (HORIZON_OPENAI_API_KEY or OPENAI_API_KEY)")
)

// Config represents the complete pipeline configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Rotation   RotationConfig   `yaml:"rotation"`
	Collector  CollectorConfig  `yaml:"collector"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Capability CapabilityConfig `yaml:"capability"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig locates the external catalogs and the output tree.
type PathsConfig struct {
	Sources    string `yaml:"sources"`
	Corpus     string `yaml:"corpus"`
	OutputRoot string `yaml:"output_root"`
	LogDir     string `yaml:"log_dir"`
}

// LedgerPath returns the signals ledger file path.
func (p *PathsConfig) LedgerPath() string {
	return p.OutputRoot + "/signals_master.csv"
}

// ForcesLedgerPath returns the forces ledger file path.
func (p *PathsConfig) ForcesLedgerPath() string {
	return p.OutputRoot + "/forces_master.csv"
}

// RotationStatePath returns the rotation state file path.
func (p *PathsConfig) RotationStatePath() string {
	return p.OutputRoot + "/rotation_state.json"
}

// RunOutputDir returns the per-date export directory.
func (p *PathsConfig) RunOutputDir(date string) string {
	return p.OutputRoot + "/" + date
}

// RotationConfig governs the daily source rotation.
type RotationConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// RetryPolicy defines fetch retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// Delay calculates the exponential backoff delay for an attempt number.
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	if rp.MaxDelayMs > 0 && int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// CollectorConfig contains document collection settings.
type CollectorConfig struct {
	RateLimitSeconds float64     `yaml:"rate_limit_seconds"`
	TimeoutSeconds   int         `yaml:"timeout_seconds"`
	MinTextLength    int         `yaml:"min_text_length"`
	MaxTextLength    int         `yaml:"max_text_length"`
	MaxFeedDiscovery int         `yaml:"max_feed_discovery"`
	MaxBodyKb        int         `yaml:"max_body_kb"`
	UserAgent        string      `yaml:"user_agent"`
	RespectRobots    bool        `yaml:"respect_robots"`
	Retry            RetryPolicy `yaml:"retry"`
}

// RateLimit returns the minimum inter-request interval per domain.
func (c *CollectorConfig) RateLimit() time.Duration {
	return time.Duration(c.RateLimitSeconds * float64(time.Second))
}

// Timeout returns the per-request timeout.
func (c *CollectorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ScoringConfig contains decision thresholds.
type ScoringConfig struct {
	DuplicateSimilarity  float64 `yaml:"duplicate_similarity"`
	AcceptPriority       float64 `yaml:"accept_priority"`
	ReviewMinPriority    float64 `yaml:"review_min_priority"`
	MinCredibilityAccept float64 `yaml:"min_credibility_accept"`
	MinCredibilityReview float64 `yaml:"min_credibility_review"`
}

// CapabilityConfig configures the structured-inference service client.
type CapabilityConfig struct {
	Model             string `yaml:"model"`
	SynthesizerModel  string `yaml:"synthesizer_model"`
	BaseURL           string `yaml:"base_url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MaxRetries        int    `yaml:"max_retries"`
	MaxRepairAttempts int    `yaml:"max_repair_attempts"`
	Disabled          bool   `yaml:"disabled"`
}

// APIKey resolves the capability credential from the environment.
func (c *CapabilityConfig) APIKey() string {
	if key := os.Getenv("HORIZON_OPENAI_API_KEY"); key != "" {
		return key
	}

	return os.Getenv("OPENAI_API_KEY")
}

// PipelineConfig contains run-level limits.
type PipelineConfig struct {
	MaxCandidatesPerDoc int `yaml:"max_candidates_per_doc"`
	MaxDocsPerSource    int `yaml:"max_docs_per_source"`
	MaxDocsTotal        int `yaml:"max_docs_total"`
	MaxRuntimeSeconds   int `yaml:"max_runtime_seconds"`
	NeighborTopK        int `yaml:"neighbor_top_k"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration with built-in defaults applied.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Sources:    "inputs/sources.csv",
			Corpus:     "inputs/corpus.csv",
			OutputRoot: "out",
			LogDir:     "logs",
		},
		Rotation: RotationConfig{BatchSize: 50},
		Collector: CollectorConfig{
			RateLimitSeconds: 2.0,
			TimeoutSeconds:   12,
			MinTextLength:    400,
			MaxTextLength:    8000,
			MaxFeedDiscovery: 5,
			MaxBodyKb:        2048,
			UserAgent:        "Horizon-Scanner/1.0",
			RespectRobots:    true,
			Retry: RetryPolicy{
				MaxAttempts:       2,
				InitialDelayMs:    500,
				MaxDelayMs:        5000,
				BackoffMultiplier: 2.0,
			},
		},
		Scoring: ScoringConfig{
			DuplicateSimilarity:  0.92,
			AcceptPriority:       60,
			ReviewMinPriority:    45,
			MinCredibilityAccept: 45,
			MinCredibilityReview: 25,
		},
		Capability: CapabilityConfig{
			Model:             "gpt-4o-mini",
			SynthesizerModel:  "gpt-4o",
			TimeoutSeconds:    30,
			MaxRetries:        2,
			MaxRepairAttempts: 1,
		},
		Pipeline: PipelineConfig{
			MaxCandidatesPerDoc: 5,
			MaxDocsPerSource:    2,
			MaxDocsTotal:        50,
			MaxRuntimeSeconds:   0,
			NeighborTopK:        5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from a YAML file over the defaults.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration. A capability credential is checked
// only when the remote capability is enabled: a missing key is a fatal
// configuration error, not something to discover mid-run.
func (c *Config) Validate() error {
	if c.Paths.Sources == "" {
		return ErrMissingSourcesPath
	}

	if c.Paths.Corpus == "" {
		return ErrMissingCorpusPath
	}

	if c.Paths.OutputRoot == "" {
		return ErrMissingOutputRoot
	}

	if c.Rotation.BatchSize < 1 {
		return ErrInvalidBatchSize
	}

	if c.Collector.RateLimitSeconds < 0 {
		return ErrInvalidRateLimit
	}

	if c.Collector.TimeoutSeconds < 1 {
		return ErrInvalidTimeout
	}

	if c.Collector.MinTextLength < 0 {
		return ErrInvalidMinTextLength
	}

	if c.Collector.MaxTextLength < 1 {
		return ErrInvalidMaxTextLength
	}

	if c.Collector.MaxFeedDiscovery < 0 {
		return ErrInvalidFeedDiscovery
	}

	if c.Collector.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Collector.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Collector.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Scoring.DuplicateSimilarity <= 0 || c.Scoring.DuplicateSimilarity > 1 {
		return ErrInvalidDuplicateThreshold
	}

	if c.Scoring.ReviewMinPriority > c.Scoring.AcceptPriority {
		return ErrInvalidPriorityThresholds
	}

	if c.Pipeline.MaxCandidatesPerDoc < 1 {
		return ErrInvalidCandidateCap
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	if !c.Capability.Disabled && c.Capability.APIKey() == "" {
		return ErrMissingAPIKey
	}

	return nil
}
