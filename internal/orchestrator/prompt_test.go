package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/recovery"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

func TestBuildPrompt(t *testing.T) {
	item := registry.Item{
		ID:                 "wire",
		Title:              "Wire the loop",
		Section:            "High Priority",
		Priority:           registry.PriorityHigh,
		AcceptanceCriteria: []string{"halts on persistence errors"},
	}

	failed := trajectory.New("wire", "Wire the loop")
	require.NoError(t, failed.Append(trajectory.Attempt{
		Approach:      "Edited loop.go",
		Outcome:       "gate test failed: exit status 1\n--- FAIL: TestLoop",
		FailureReason: "gates failed: test (exit status 1)",
	}))

	frame := recovery.BuildFrame(failed)

	tests := []struct {
		name    string
		memory  string
		traj    *trajectory.Trajectory
		frame   *recovery.Frame
		want    []string
		wantNot []string
	}{
		{
			name: "first attempt",
			traj: trajectory.New("wire", "Wire the loop"),
			want: []string{
				"# Task: Wire the loop\n",
				"ID: wire\n",
				"Section: High Priority\n",
				"Priority: high\n",
				"Acceptance criteria:\n- halts on persistence errors\n",
				"## Learnings",
			},
			wantNot: []string{"## Previous attempt", "## Recovery"},
		},
		{
			name:   "with memory",
			memory: "## Knowledge\n- prefer table tests",
			want:   []string{"## Knowledge\n- prefer table tests\n\n## Instructions"},
		},
		{
			name: "retry",
			traj: failed,
			want: []string{
				"## Previous attempt\n\nAttempt 1 failed: gates failed: test (exit status 1)\n",
				"--- FAIL: TestLoop",
			},
			wantNot: []string{"## Recovery"},
		},
		{
			name:    "recovery frame replaces the previous attempt",
			traj:    failed,
			frame:   &frame,
			want:    []string{"## Recovery: reframed task", "cannot gates failed: test (exit status 1)"},
			wantNot: []string{"## Previous attempt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildPrompt(item, tt.memory, tt.traj, tt.frame)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, w := range tt.wantNot {
				assert.NotContains(t, got, w)
			}
			assert.True(t, strings.HasPrefix(got, "# Task: "))
		})
	}
}

func TestApproachOf(t *testing.T) {
	long := strings.Repeat("é", maxApproachLen+10)

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"first prose line", "\n\nRefactored the parser.\nThen more.", "Refactored the parser."},
		{"markdown heading", "## Plan\nstep", "Plan"},
		{"bullet", "  - Added retries", "Added retries"},
		{"empty", "  \n\n", "(no output)"},
		{"truncated by runes", long, strings.Repeat("é", maxApproachLen-3) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, approachOf(tt.output))
		})
	}
}
