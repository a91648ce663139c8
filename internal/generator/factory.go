package generator

import (
	"fmt"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/logging"
)

// New builds the configured backend, rate limited. dir is the working
// directory of the claude-cli backend.
func New(cfg config.GeneratorConfig, dir string, logger *logging.Logger) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch cfg.Backend {
	case config.BackendClaudeCLI:
		g = NewClaudeCLI(cfg.ClaudePath, dir, logger)
	case config.BackendAnthropic:
		g, err = NewAnthropic(cfg)
	case config.BackendOpenAI:
		g, err = NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown generator backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithRateLimit(g, cfg.RatePerMinute, cfg.Burst), nil
}

// OptionsFrom returns the per-call options in cfg.
func OptionsFrom(cfg config.GeneratorConfig) Options {
	return Options{
		Model:        cfg.Model,
		AllowedTools: cfg.AllowedTools,
		Timeout:      cfg.Timeout.Duration(),
	}
}
