// Package secrets finds and masks credentials in text before loopd stores
// it. Detection uses the Gitleaks rule set; allowlists come from the
// repository's .gitleaks.toml and an optional user file.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
