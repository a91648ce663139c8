package registry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `# Build plan

Some prose that is not a work item.

## High Priority

- [x] Parse config {#config} (Completed: 2025-01-01)
- [ ] Wire the loop (depends: config)
  - loop halts on persistence errors
  - stop is checked before selection

- [~] Status server
- [!] Lesson index (depends: wire-the-loop, config)

## Low Priority

- [ ] Polish output
- [ ] Polish output
* [X] Release notes (Completed: 2025-02-03T10:30:00Z)
- [?] not an item
- [ ]
`

func TestParse(t *testing.T) {
	state := Parse(sampleManifest)

	require.Len(t, state.Items, 7)

	ids := make([]string, len(state.Items))
	for i, it := range state.Items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{
		"config", "wire-the-loop", "status-server", "lesson-index",
		"polish-output", "polish-output-2", "release-notes",
	}, ids)

	cfg := state.Items[0]
	assert.Equal(t, "Parse config", cfg.Title)
	assert.Equal(t, StatusComplete, cfg.Status)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), cfg.CompletedAt)
	assert.Equal(t, "High Priority", cfg.Section)
	assert.Equal(t, PriorityHigh, cfg.Priority)

	loop := state.Items[1]
	assert.Equal(t, StatusPending, loop.Status)
	assert.Equal(t, []string{"config"}, loop.DependsOn)
	assert.Equal(t, []string{
		"loop halts on persistence errors",
		"stop is checked before selection",
	}, loop.AcceptanceCriteria)

	assert.Equal(t, StatusInProgress, state.Items[2].Status)
	assert.Empty(t, state.Items[2].AcceptanceCriteria)

	assert.Equal(t, StatusBlocked, state.Items[3].Status)
	assert.Equal(t, []string{"wire-the-loop", "config"}, state.Items[3].DependsOn)

	assert.Equal(t, PriorityLow, state.Items[4].Priority)
	assert.Equal(t, time.Date(2025, 2, 3, 10, 30, 0, 0, time.UTC), state.Items[6].CompletedAt)

	assert.Equal(t, Counts{Pending: 3, InProgress: 1, Complete: 2, Blocked: 1, Total: 7}, state.Counts)
}

func TestParse_Tolerant(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     int
	}{
		{"empty", "", 0},
		{"prose only", "hello\nworld\n", 0},
		{"crlf", "- [ ] A\r\n- [x] B\r\n", 2},
		{"unknown mark", "- [?] A\n", 0},
		{"missing title", "- [ ] \n", 0},
		{"bad date kept complete", "- [x] A (Completed: someday)\n", 1},
		{"star and plus bullets", "* [ ] A\n+ [ ] B\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := Parse(tt.manifest)
			assert.Len(t, state.Items, tt.want)
			assert.Equal(t, tt.want, state.Counts.Total)
		})
	}
}

func TestParse_BlockedWithoutUnresolvedDepsIsPending(t *testing.T) {
	state := Parse("- [x] A (Completed: 2025-01-01)\n- [!] B (depends: a)\n- [!] C\n")

	assert.Equal(t, StatusPending, state.Items[1].Status)
	assert.Equal(t, StatusPending, state.Items[2].Status)
	assert.Equal(t, 0, state.Counts.Blocked)
}

func TestParse_CriteriaAttachOnlyToPrecedingItem(t *testing.T) {
	state := Parse("  - orphan\n- [ ] A\n\n  - first\nprose\n  - dropped\n")

	require.Len(t, state.Items, 1)
	assert.Equal(t, []string{"first"}, state.Items[0].AcceptanceCriteria)
}

func TestParse_InvalidExplicitIDFallsBackToSlug(t *testing.T) {
	state := Parse("- [ ] Do it {#../etc}\n")

	require.Len(t, state.Items, 1)
	assert.Equal(t, "do-it", state.Items[0].ID)
	assert.Equal(t, "Do it", state.Items[0].Title)
}

func TestRoundTrip(t *testing.T) {
	manifests := map[string]string{
		"sample":         sampleManifest,
		"scenario":       "- [x] A (Completed: 2025-01-01)\n- [ ] B",
		"explicit clash": "- [ ] a {#b}\n- [ ] b\n- [ ] b\n",
		"clash reversed": "- [ ] b\n- [ ] a {#b}\n",
		"nanos":          "- [x] A (Completed: 2025-01-01T08:00:00.123456789+02:00)\n",
		"undated":        "- [x] A\n",
		"multi depends":  "- [ ] A\n- [ ] B\n- [ ] C (depends: a) (after: b)\n",
		"headings":       "# C#\n- [ ] A\n### medium ###\n- [ ] B\n",
		"empty heading":  "## A\n- [ ] x\n## \n- [ ] y\n",
		"open paren":     "- [ ] b\n- [x] x (depends: a (Completed: z) (depends: b) (Completed: 2025-01-01)\n",
		"long id clash":  "- [ ] a {#" + strings.Repeat("i", 128) + "}\n- [ ] b {#" + strings.Repeat("i", 128) + "}\n",
	}

	for name, m := range manifests {
		t.Run(name, func(t *testing.T) {
			first := Parse(m)
			second := Parse(Serialize(first))
			assert.Equal(t, first, second)
			assert.Equal(t, Serialize(first), Serialize(second))
		})
	}
}

func FuzzRoundTrip(f *testing.F) {
	f.Add(sampleManifest)
	f.Add("## \n- [ ] y\n")
	f.Add("# #\n- [ ] A\n  - criterion\n")
	f.Add("- [x] A (depends: b (Completed: 2025-01-01)\n")
	f.Add("- [ ] a {#a}\n- [ ] a\n- [ ] a-2\n")

	f.Fuzz(func(t *testing.T, manifest string) {
		first := Parse(manifest)
		second := Parse(Serialize(first))
		require.Equal(t, first, second)
	})
}

func TestParse_EmptyHeadingKeepsSection(t *testing.T) {
	state := Parse("## High\n- [ ] x\n## \n- [ ] y\n#\n- [ ] z\n")

	require.Len(t, state.Items, 3)
	for _, it := range state.Items {
		assert.Equal(t, "High", it.Section, it.ID)
		assert.Equal(t, PriorityHigh, it.Priority, it.ID)
	}
}

func TestSerialize(t *testing.T) {
	state := Parse("## Next\n- [ ] Write docs (depends: api)\n  - covers setup\n- [x] API {#api} (Completed: 2025-03-04)\n")

	want := "## Next\n\n" +
		"- [ ] Write docs (depends: api)\n" +
		"  - covers setup\n" +
		"- [x] API (Completed: 2025-03-04)\n"
	assert.Equal(t, want, Serialize(state))
}

func TestSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Wire the loop", "wire-the-loop"},
		{"  Trim -- me!  ", "trim-me"},
		{"!!!", "item"},
		{"Ünïcode", "n-code"},
		{"a very long title that goes on and on and on and on forever", "a-very-long-title-that-goes-on-and-on-and-on-and"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.title))
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid alphanumeric", "task1", false},
		{"valid with hyphen", "task-1", false},
		{"valid with underscore", "task_1", false},
		{"valid with dot", "task.v2", false},
		{"empty", "", true},
		{"starts with hyphen", "-task", true},
		{"starts with dot", ".task", true},
		{"path traversal", "..", true},
		{"contains slash", "a/b", true},
		{"contains space", "a b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidID)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
