// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load() layers defaults, an optional YAML file, and environment vars.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory detection queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of matching workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the detection deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// ShardCount configures the number of shards in the association store.
	ShardCount int `koanf:"shard_count"`

	// ProbThreshold is the credible level candidates are matched at.
	ProbThreshold float64 `koanf:"prob_threshold"`

	// WindowDays is how long after an event a detection counts as follow-up.
	WindowDays float64 `koanf:"window_days"`

	// CredibleLevels are the confidence levels reported in localization
	// area summaries.
	CredibleLevels []float64 `koanf:"credible_levels"`

	// FetchRetries and FetchBackoffMS tune remote skymap downloads.
	FetchRetries   int `koanf:"fetch_retries"`
	FetchBackoffMS int `koanf:"fetch_backoff_ms"`

	// CutoutBaseURL is the external thumbnail store; empty disables
	// cutout URL composition.
	CutoutBaseURL string `koanf:"cutout_base_url"`

	// MaxQueryLimit caps the limit parameter on candidate queries.
	MaxQueryLimit int `koanf:"max_query_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		Addr:           ":9080",
		QueueSize:      100_000,
		WorkerCount:    runtime.NumCPU() * 4,
		DedupeSize:     500_000,
		ShardCount:     8,
		ProbThreshold:  0.95,
		WindowDays:     3.0,
		CredibleLevels: []float64{0.25, 0.5, 0.9, 0.95},
		FetchRetries:   4,
		FetchBackoffMS: 500,
		CutoutBaseURL:  "",
		MaxQueryLimit:  1000,
	}
}
