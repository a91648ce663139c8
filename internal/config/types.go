package config

import (
	"fmt"
	"time"
)

// Generator backends.
const (
	BackendClaudeCLI = "claude-cli"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

// hostedBackend reports whether backend calls a model API over HTTP and so
// needs generator.api_key.
func hostedBackend(backend string) bool {
	return backend == BackendAnthropic || backend == BackendOpenAI
}

// Duration is a timeout or interval written as "90s" or "20m" in loopd.yaml
// and LOOPD_* variables. Negative values are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret is an API key or token. Every text form of it, including JSON
// and YAML output, is [REDACTED]; only Value returns the credential.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return "Secret(" + redacted + ")"
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the credential.
func (s Secret) Value() string {
	return string(s)
}

func (s Secret) IsSet() bool {
	return s != ""
}
