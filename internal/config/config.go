// Package config loads loopd configuration.
//
// Values come from three layers, highest precedence first: LOOPD_*
// environment variables, a YAML file (loopd.yaml in the project by default)
// and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the complete loopd configuration.
type Config struct {
	Loop       LoopConfig       `koanf:"loop"`
	Generator  GeneratorConfig  `koanf:"generator"`
	Gates      []GateConfig     `koanf:"gates"`
	Memory     MemoryConfig     `koanf:"memory"`
	Secrets    SecretsConfig    `koanf:"secrets"`
	Server     ServerConfig     `koanf:"server"`
	Events     EventsConfig     `koanf:"events"`
	Escalation EscalationConfig `koanf:"escalation"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// LoopConfig controls the iteration loop and the files it owns.
type LoopConfig struct {
	Manifest      string `koanf:"manifest"`
	Knowledge     string `koanf:"knowledge"`
	StateDir      string `koanf:"state_dir"`
	RepoDir       string `koanf:"repo_dir"`
	MaxIterations int    `koanf:"max_iterations"`

	// CommitWindow is how many recent commits go into each prompt.
	CommitWindow int `koanf:"commit_window"`

	// ContextBudget caps the memory context in characters.
	ContextBudget int `koanf:"context_budget"`
}

// GeneratorConfig selects and tunes the text-generation backend.
type GeneratorConfig struct {
	Backend      string   `koanf:"backend"`
	Model        string   `koanf:"model"`
	AllowedTools []string `koanf:"allowed_tools"`
	Timeout      Duration `koanf:"timeout"`

	// ClaudePath is the claude binary used by the claude-cli backend.
	ClaudePath string `koanf:"claude_path"`

	APIKey    Secret `koanf:"api_key"`
	BaseURL   string `koanf:"base_url"`
	MaxTokens int    `koanf:"max_tokens"`

	// RatePerMinute limits generation calls; Burst is the bucket size.
	RatePerMinute float64 `koanf:"rate_per_minute"`
	Burst         int     `koanf:"burst"`
}

// GateConfig is one quality gate, run through the shell.
type GateConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Timeout Duration `koanf:"timeout"`
}

// MemoryConfig controls the knowledge document and lesson index.
type MemoryConfig struct {
	MaxLearnings int `koanf:"max_learnings"`

	IndexEnabled bool   `koanf:"index_enabled"`
	IndexDir     string `koanf:"index_dir"`
	IndexResults int    `koanf:"index_results"`
}

// SecretsConfig controls redaction of generated output before it is stored.
type SecretsConfig struct {
	Redact    bool   `koanf:"redact"`
	Allowlist string `koanf:"allowlist"`
}

// ServerConfig controls the status server that runs alongside `loopd run`.
type ServerConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EventsConfig controls publishing of loop events to NATS. Publishing is
// off while URL is empty.
type EventsConfig struct {
	URL     string   `koanf:"url"`
	Subject string   `koanf:"subject"`
	Timeout Duration `koanf:"timeout"`
}

// Enabled reports whether events are published.
func (e EventsConfig) Enabled() bool {
	return e.URL != ""
}

// EscalationConfig controls filing GitHub issues for abandoned items.
// Escalation is off while Repo is empty.
type EscalationConfig struct {
	// Repo is "owner/name".
	Repo    string   `koanf:"repo"`
	Token   Secret   `koanf:"token"`
	Labels  []string `koanf:"labels"`
	BaseURL string   `koanf:"base_url"`
	Timeout Duration `koanf:"timeout"`
}

// Enabled reports whether abandoned items are escalated.
func (e EscalationConfig) Enabled() bool {
	return e.Repo != ""
}

// Owner and Name split Repo.
func (e EscalationConfig) Owner() string {
	owner, _, _ := strings.Cut(e.Repo, "/")
	return owner
}

func (e EscalationConfig) Name() string {
	_, name, _ := strings.Cut(e.Repo, "/")
	return name
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Memory:  MemoryConfig{IndexEnabled: true},
		Secrets: SecretsConfig{Redact: true},
		Telemetry: TelemetryConfig{
			Insecure:   true,
			SampleRate: 1.0,
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values. Booleans are defaulted in Load before
// the file is read, since false is a meaningful setting.
func applyDefaults(cfg *Config) {
	if cfg.Loop.Manifest == "" {
		cfg.Loop.Manifest = "TASKS.md"
	}
	if cfg.Loop.Knowledge == "" {
		cfg.Loop.Knowledge = "KNOWLEDGE.md"
	}
	if cfg.Loop.StateDir == "" {
		cfg.Loop.StateDir = ".loopd"
	}
	if cfg.Loop.RepoDir == "" {
		cfg.Loop.RepoDir = "."
	}
	if cfg.Loop.MaxIterations == 0 {
		cfg.Loop.MaxIterations = 50
	}
	if cfg.Loop.CommitWindow == 0 {
		cfg.Loop.CommitWindow = 10
	}
	if cfg.Loop.ContextBudget == 0 {
		cfg.Loop.ContextBudget = 12000
	}

	if cfg.Generator.Backend == "" {
		cfg.Generator.Backend = BackendClaudeCLI
	}
	if cfg.Generator.Timeout == 0 {
		cfg.Generator.Timeout = Duration(20 * time.Minute)
	}
	if cfg.Generator.ClaudePath == "" {
		cfg.Generator.ClaudePath = "claude"
	}
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 8192
	}
	if cfg.Generator.RatePerMinute == 0 {
		cfg.Generator.RatePerMinute = 10
	}
	if cfg.Generator.Burst == 0 {
		cfg.Generator.Burst = 1
	}

	for i := range cfg.Gates {
		if cfg.Gates[i].Timeout == 0 {
			cfg.Gates[i].Timeout = Duration(5 * time.Minute)
		}
	}

	if cfg.Memory.MaxLearnings == 0 {
		cfg.Memory.MaxLearnings = 20
	}
	if cfg.Memory.IndexResults == 0 {
		cfg.Memory.IndexResults = 5
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(5 * time.Second)
	}

	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "loopd"
	}
	if cfg.Events.Timeout == 0 {
		cfg.Events.Timeout = Duration(5 * time.Second)
	}

	if cfg.Escalation.Enabled() && len(cfg.Escalation.Labels) == 0 {
		cfg.Escalation.Labels = []string{"loopd"}
	}
	if cfg.Escalation.Timeout == 0 {
		cfg.Escalation.Timeout = Duration(30 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Loop.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("loop.max_iterations must be positive, got %d", c.Loop.MaxIterations))
	}
	if c.Loop.CommitWindow < 0 {
		errs = append(errs, fmt.Errorf("loop.commit_window must not be negative, got %d", c.Loop.CommitWindow))
	}
	if c.Loop.ContextBudget < 0 {
		errs = append(errs, fmt.Errorf("loop.context_budget must not be negative, got %d", c.Loop.ContextBudget))
	}

	switch backend := c.Generator.Backend; {
	case backend == BackendClaudeCLI:
		if c.Generator.ClaudePath == "" {
			errs = append(errs, errors.New("generator.claude_path is required for the claude-cli backend"))
		}
	case hostedBackend(backend):
		if !c.Generator.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("generator.api_key is required for the %s backend", backend))
		}
		if backend != BackendOpenAI && c.Generator.BaseURL != "" {
			errs = append(errs, errors.New("generator.base_url is only supported by the openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("generator.backend must be one of %s, %s, %s, got %q",
			BackendClaudeCLI, BackendAnthropic, BackendOpenAI, c.Generator.Backend))
	}
	if c.Generator.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("generator.timeout must be positive"))
	}
	if c.Generator.RatePerMinute < 0 {
		errs = append(errs, errors.New("generator.rate_per_minute must not be negative"))
	}

	seen := make(map[string]bool)
	for i, g := range c.Gates {
		name := strings.TrimSpace(g.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("gates[%d].name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("gates[%d].name %q is duplicated", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(g.Command) == "" {
			errs = append(errs, fmt.Errorf("gates[%d].command is required", i))
		}
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}

	if c.Events.Enabled() {
		if !strings.HasPrefix(c.Events.URL, "nats://") && !strings.HasPrefix(c.Events.URL, "tls://") {
			errs = append(errs, fmt.Errorf("events.url must start with nats:// or tls://, got %q", c.Events.URL))
		}
		if strings.ContainsAny(c.Events.Subject, " *>") {
			errs = append(errs, fmt.Errorf("events.subject must not contain spaces or wildcards, got %q", c.Events.Subject))
		}
	}

	if c.Escalation.Enabled() {
		if owner, name := c.Escalation.Owner(), c.Escalation.Name(); owner == "" || name == "" || strings.Contains(name, "/") {
			errs = append(errs, fmt.Errorf("escalation.repo must be owner/name, got %q", c.Escalation.Repo))
		}
		if !c.Escalation.Token.IsSet() {
			errs = append(errs, errors.New("escalation.token is required when escalation.repo is set"))
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		errs = append(errs, fmt.Errorf("telemetry.protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}
