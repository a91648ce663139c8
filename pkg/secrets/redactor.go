package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
)

// previewLen is how much of a secret a marker keeps.
const previewLen = 4

// FailedMarker replaces the whole text when detection itself fails.
const FailedMarker = "[REDACTED:detection-failed]"

// RedactResult is masked content plus what was masked.
type RedactResult struct {
	Content string
	Audit   AuditLog
}

// Redact replaces every detected secret in content with a
// [REDACTED:rule-id:preview] marker.
func Redact(content string, allowlist *Allowlist) (RedactResult, error) {
	start := time.Now()

	findings, err := Detect(content, allowlist)
	if err != nil {
		return RedactResult{}, fmt.Errorf("detecting secrets: %w", err)
	}

	audit := buildAuditLog(findings, time.Since(start))
	if len(findings) == 0 {
		return RedactResult{Content: content, Audit: audit}, nil
	}
	return RedactResult{Content: replaceFindings(content, findings), Audit: audit}, nil
}

// replaceFindings works from the end of content backwards so earlier
// offsets stay valid.
func replaceFindings(content string, findings []Finding) string {
	sorted := append([]Finding(nil), findings...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range sorted {
		if f.Line < 1 || f.Line > len(lines) {
			continue
		}
		line := lines[f.Line-1]
		if f.StartCol < 0 || f.EndCol > len(line) || f.StartCol > f.EndCol {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match))
		lines[f.Line-1] = line[:f.StartCol] + marker + line[f.EndCol:]
	}
	return strings.Join(lines, "\n")
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen]
}

// Redactor masks secrets in text loopd is about to store: attempt
// records, learnings and lessons.
type Redactor struct {
	allowlist *Allowlist
	logger    *logging.Logger
}

// NewRedactor loads the allowlists for repoDir and userAllowlist.
func NewRedactor(repoDir, userAllowlist string, logger *logging.Logger) (*Redactor, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	allowlist, err := LoadAllowlists(repoDir, userAllowlist)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}
	return &Redactor{allowlist: allowlist, logger: logger.Named("secrets")}, nil
}

// Redact returns text with secrets masked. If detection fails the whole
// text is replaced with FailedMarker.
func (r *Redactor) Redact(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	ctx := context.Background()

	res, err := Redact(text, r.allowlist)
	if err != nil {
		r.logger.Error(ctx, "secret detection failed, dropping text", zap.Error(err))
		return FailedMarker
	}
	if res.Audit.HasRedactions() {
		r.logger.Warn(ctx, "redacted secrets",
			zap.Int("count", res.Audit.Summary.TotalSecrets),
			zap.Strings("rules", res.Audit.RuleIDs()))
	}
	return res.Content
}
