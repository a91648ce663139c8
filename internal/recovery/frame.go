// Package recovery turns a stuck trajectory into a reframed task: the
// constraints learned from each failure, a root-cause classification, a
// suggested new direction and a prompt that asks for a different approach.
//
// Everything here is a pure function of a trajectory snapshot. Sending the
// prompt is the orchestrator's job.
package recovery

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

// Constraint is a negative rule learned from a failed attempt.
type Constraint struct {
	Description string `json:"description" yaml:"description"`

	// SourceAttempt is the Seq of the attempt that revealed it.
	SourceAttempt int `json:"source_attempt" yaml:"source_attempt"`
}

// Frame is a reframed problem statement.
type Frame struct {
	Problem     string       `json:"problem"`
	Context     string       `json:"context"`
	RootCause   string       `json:"root_cause"`
	Constraints []Constraint `json:"constraints"`
	Suggestion  string       `json:"suggestion,omitempty"`
}

// ExtractConstraints emits one constraint per failed attempt with a failure
// reason. Descriptions are unique ignoring case; the first occurrence wins.
func ExtractConstraints(t *trajectory.Trajectory) []Constraint {
	if t == nil {
		return nil
	}

	var out []Constraint
	seen := make(map[string]bool)
	for _, a := range t.Attempts {
		if a.Success {
			continue
		}
		reason := strings.TrimSpace(a.FailureReason)
		if reason == "" {
			continue
		}
		desc := constraintDescription(reason)
		key := strings.ToLower(desc)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Constraint{Description: desc, SourceAttempt: a.Seq})
	}
	return out
}

func constraintDescription(reason string) string {
	lower := strings.ToLower(reason)
	for _, neg := range []string{"cannot ", "can't ", "must not ", "do not ", "don't "} {
		if strings.HasPrefix(lower, neg) {
			return reason
		}
	}
	return "cannot " + reason
}

// BuildFrame composes a recovery frame from t.
func BuildFrame(t *trajectory.Trajectory) Frame {
	if t == nil {
		return Frame{RootCause: noFailures}
	}
	return Frame{
		Problem:     t.Problem,
		Context:     describeAttempts(t.Attempts),
		RootCause:   RootCause(t),
		Constraints: ExtractConstraints(t),
		Suggestion:  suggest(t),
	}
}

func describeAttempts(attempts []trajectory.Attempt) string {
	if len(attempts) == 0 {
		return "No previous attempts."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d previous attempt(s):", len(attempts))
	for _, a := range attempts {
		fmt.Fprintf(&b, "\n%d. %s", a.Seq, oneLine(a.Approach))
		switch {
		case a.Success:
			b.WriteString(" (succeeded)")
		case a.FailureReason != "":
			fmt.Fprintf(&b, " (failed: %s)", oneLine(a.FailureReason))
		default:
			b.WriteString(" (failed)")
		}
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatPrompt renders frame as a single instruction block ending with a
// request for a new approach.
func FormatPrompt(frame Frame) string {
	var b strings.Builder

	b.WriteString("## Recovery: reframed task\n\n")
	b.WriteString("Previous attempts at this task did not converge. Start from a clean slate.\n\n")

	fmt.Fprintf(&b, "### Problem\n%s\n\n", strings.TrimSpace(frame.Problem))

	if frame.Context != "" {
		fmt.Fprintf(&b, "### What was tried\n%s\n\n", frame.Context)
	}

	fmt.Fprintf(&b, "### Root cause\n%s\n\n", frame.RootCause)

	if len(frame.Constraints) > 0 {
		b.WriteString("### Constraints (do not violate)\n")
		for i, c := range frame.Constraints {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c.Description)
		}
		b.WriteString("\n")
	}

	if frame.Suggestion != "" {
		fmt.Fprintf(&b, "### Suggested direction\n%s\n\n", frame.Suggestion)
	}

	b.WriteString("Propose a new approach that is different from every approach above and respects every constraint, then carry it out.\n")
	return b.String()
}
