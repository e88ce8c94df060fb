package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SAGUARO_CONFIG is set
//  3. env (prefix SAGUARO_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("SAGUARO_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: SAGUARO_ADDR, SAGUARO_QUEUE_SIZE, ...
	// Underscores are preserved to match the koanf tags on the struct.
	envProvider := env.Provider("SAGUARO_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "saguaro_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch {
	case cfg.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case cfg.ProbThreshold <= 0 || cfg.ProbThreshold > 1:
		return fmt.Errorf("%w: prob_threshold must be in (0, 1]", ErrInvalidConfig)
	case cfg.WindowDays <= 0:
		return fmt.Errorf("%w: window_days must be positive", ErrInvalidConfig)
	}
	for _, level := range cfg.CredibleLevels {
		if level <= 0 || level > 1 {
			return fmt.Errorf("%w: credible level %v must be in (0, 1]", ErrInvalidConfig, level)
		}
	}
	return nil
}
