package recovery

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

func attempt(approach, reason string, tokens int) trajectory.Attempt {
	return trajectory.Attempt{
		Approach:      approach,
		FailureReason: reason,
		Cost:          trajectory.Cost{Tokens: tokens, Elapsed: 2 * time.Minute},
	}
}

func newTrajectory(t *testing.T, attempts ...trajectory.Attempt) *trajectory.Trajectory {
	t.Helper()
	tr := trajectory.New("oauth", "Keep OAuth tokens fresh for service accounts")
	for _, a := range attempts {
		require.NoError(t, tr.Append(a))
	}
	return tr
}

func TestExtractConstraints(t *testing.T) {
	tr := newTrajectory(t,
		attempt("a", "refresh endpoint not supported", 10),
		attempt("b", "", 10),
		attempt("c", "Refresh Endpoint Not Supported", 10),
		attempt("d", "cannot write to /etc", 10),
		attempt("e", "token type mismatch", 10),
	)

	got := ExtractConstraints(tr)

	assert.Equal(t, []Constraint{
		{Description: "cannot refresh endpoint not supported", SourceAttempt: 1},
		{Description: "cannot write to /etc", SourceAttempt: 4},
		{Description: "cannot token type mismatch", SourceAttempt: 5},
	}, got)
}

func TestExtractConstraints_NeverDuplicates(t *testing.T) {
	reasons := []string{"Boom", "boom", "BOOM", "bang", "Bang", "cannot boom", "Cannot Boom"}
	var attempts []trajectory.Attempt
	for _, r := range reasons {
		attempts = append(attempts, attempt("x", r, 1))
	}

	seen := make(map[string]bool)
	for _, c := range ExtractConstraints(newTrajectory(t, attempts...)) {
		key := strings.ToLower(c.Description)
		assert.False(t, seen[key], "duplicate constraint %q", c.Description)
		seen[key] = true
	}
	assert.Len(t, seen, 2)
}

func TestExtractConstraints_SkipsSuccess(t *testing.T) {
	tr := newTrajectory(t, trajectory.Attempt{Approach: "ok", Success: true, FailureReason: "ignored"})
	assert.Empty(t, ExtractConstraints(tr))
	assert.Empty(t, ExtractConstraints(nil))
}

func TestRootCause(t *testing.T) {
	tests := []struct {
		name    string
		reasons []string
		want    string
	}{
		{"no failures", nil, "no failures to analyze"},
		{"api", []string{"the refresh endpoint rejects service accounts"}, "interface/API limitation"},
		{"unsupported", []string{"operation unsupported by driver"}, "interface/API limitation"},
		{"type", []string{"cannot convert string to int"}, "type/structural mismatch"},
		{"permission", []string{"403 forbidden"}, "permission/authorization"},
		{"api wins over permission", []string{"access denied", "endpoint missing"}, "interface/API limitation"},
		{"multiple", []string{"disk full", "Disk Full", "network down", "oom"}, "multiple causes: disk full; network down"},
		{"single unclassified", []string{"disk full"}, "unclassified: disk full"},
		{"no reasons", []string{""}, "unclassified: no failure reason recorded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts []trajectory.Attempt
			for _, r := range tt.reasons {
				attempts = append(attempts, attempt("x", r, 1))
			}
			assert.Equal(t, tt.want, RootCause(newTrajectory(t, attempts...)))
		})
	}

	assert.Equal(t, "no failures to analyze", RootCause(newTrajectory(t, trajectory.Attempt{Approach: "x", Success: true})))
}

func TestBuildFrame(t *testing.T) {
	tr := newTrajectory(t,
		attempt("Refresh the token via the refresh endpoint", "refresh endpoint not supported", 1000),
		attempt("Renew the token before expiry", "refresh endpoint not supported", 1000),
		attempt("Reload credentials and refresh again", "token expired", 1000),
	)

	frame := BuildFrame(tr)

	assert.Equal(t, "Keep OAuth tokens fresh for service accounts", frame.Problem)
	assert.Equal(t, "interface/API limitation", frame.RootCause)
	assert.Len(t, frame.Constraints, 2)
	assert.Contains(t, frame.Context, "3 previous attempt(s):")
	assert.Contains(t, frame.Context, "1. Refresh the token via the refresh endpoint (failed: refresh endpoint not supported)")
	assert.Contains(t, frame.Suggestion, "Every attempt relied on refresh.")
}

func TestBuildFrame_SuggestionFallsBackToRootCause(t *testing.T) {
	tr := newTrajectory(t,
		attempt("Change the column", "schema mismatch", 10),
		attempt("Add a migration", "schema mismatch again", 10),
	)

	frame := BuildFrame(tr)

	assert.Equal(t, "type/structural mismatch", frame.RootCause)
	assert.Contains(t, frame.Suggestion, "explicit conversion")
}

func TestBuildFrame_NoSuggestion(t *testing.T) {
	tr := newTrajectory(t,
		attempt("Change the column", "disk full", 10),
		attempt("Add a migration", "network down", 10),
	)

	assert.Empty(t, BuildFrame(tr).Suggestion)
}

func TestFormatPrompt(t *testing.T) {
	frame := Frame{
		Problem:   "Keep tokens fresh",
		Context:   "1 previous attempt(s):\n1. refresh (failed: unsupported)",
		RootCause: "interface/API limitation",
		Constraints: []Constraint{
			{Description: "cannot use the refresh endpoint", SourceAttempt: 1},
			{Description: "cannot store secrets on disk", SourceAttempt: 2},
		},
		Suggestion: "Use the token exchange flow.",
	}

	prompt := FormatPrompt(frame)

	for _, want := range []string{
		"### Problem\nKeep tokens fresh",
		"### What was tried\n1 previous attempt(s):",
		"### Root cause\ninterface/API limitation",
		"### Constraints (do not violate)\n1. cannot use the refresh endpoint\n2. cannot store secrets on disk\n",
		"### Suggested direction\nUse the token exchange flow.",
	} {
		assert.Contains(t, prompt, want)
	}
	assert.True(t, strings.HasSuffix(prompt, "then carry it out.\n"))

	bare := FormatPrompt(Frame{Problem: "p", RootCause: "no failures to analyze"})
	assert.NotContains(t, bare, "Constraints")
	assert.NotContains(t, bare, "Suggested direction")
}

func TestCompareCosts(t *testing.T) {
	tests := []struct {
		name     string
		attempts []trajectory.Attempt
		want     Recommendation
	}{
		{
			name: "no failures never restarts",
			attempts: []trajectory.Attempt{
				{Approach: "x", Success: true, Cost: trajectory.Cost{Tokens: 1_000_000}},
			},
			want: RecommendContinue,
		},
		{
			name:     "one cheap failure continues",
			attempts: []trajectory.Attempt{attempt("x", "boom", 100)},
			want:     RecommendContinue,
		},
		{
			name:     "one expensive failure restarts on savings",
			attempts: []trajectory.Attempt{attempt("x", "boom", 5000)},
			want:     RecommendCleanSlate,
		},
		{
			name: "three cheap failures restart on probability",
			attempts: []trajectory.Attempt{
				attempt("x", "a", 10), attempt("y", "b", 10), attempt("z", "c", 10),
			},
			want: RecommendCleanSlate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := CompareCosts(newTrajectory(t, tt.attempts...))
			assert.Equal(t, tt.want, cmp.Recommendation, cmp.Reason)
			assert.NotEmpty(t, cmp.Reason)
		})
	}
}

func TestCompareCosts_Projection(t *testing.T) {
	tr := newTrajectory(t,
		attempt("x", "a", 100), attempt("y", "b", 100), attempt("z", "c", 100),
	)

	cmp := CompareCosts(tr)

	assert.Equal(t, 3, cmp.Continue.Attempts)
	assert.InDelta(t, 0.2, cmp.Continue.SuccessProbability, 1e-9)
	assert.InDelta(t, 1500, cmp.Continue.ExpectedTokens, 1e-6)
	assert.Equal(t, 30*time.Minute, cmp.Continue.ExpectedElapsed)

	assert.Equal(t, 2, cmp.Restart.Attempts)
	assert.InDelta(t, 0.65, cmp.Restart.SuccessProbability, 1e-9)
	assert.InDelta(t, 45.0, cmp.ProbabilityGain, 1e-9)
	assert.Greater(t, cmp.Savings, 0.0)
}

func TestCompareCosts_Bounds(t *testing.T) {
	var attempts []trajectory.Attempt
	for i := 0; i < 12; i++ {
		attempts = append(attempts, attempt("x", strings.Repeat("r", i+1), 10))
	}

	cmp := CompareCosts(newTrajectory(t, attempts...))

	assert.InDelta(t, 0.05, cmp.Continue.SuccessProbability, 1e-9)
	assert.InDelta(t, 0.7, cmp.Restart.SuccessProbability, 1e-9)
	assert.Equal(t, RecommendContinue, CompareCosts(nil).Recommendation)
}

func TestAssess(t *testing.T) {
	traj := trajectory.New("wire-loop", "Wire the loop")
	for i := 0; i < 3; i++ {
		require.NoError(t, traj.Append(attempt("same approach", "tests failed: nil map", 5000)))
	}

	a := Assess(traj)
	assert.Equal(t, "wire-loop", a.ItemID)
	assert.Equal(t, 3, a.Attempts)
	assert.Equal(t, 3, a.Failed)
	assert.Equal(t, 15000, a.Totals.Tokens)
	assert.True(t, a.Symptoms.RepeatedApproaches)
	assert.True(t, a.Decision.Trigger)
	assert.Equal(t, RootCause(traj), a.RootCause)
	assert.Equal(t, CompareCosts(traj), a.Comparison)
}
