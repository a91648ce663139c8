package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/pkg/git"
)

func TestMineLearnings(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{
			name:   "markdown heading",
			output: "Done.\n\n## Learnings\n- use atomic writes\n- gates need timeouts\n\n## Next\n- not a learning",
			want:   []string{"use atomic writes", "gates need timeouts"},
		},
		{
			name:   "bold label and numbered list",
			output: "**Learnings:**\n1. keep prompts small\n2) check exit codes\n**Summary:**\n- ignored",
			want:   []string{"keep prompts small", "check exit codes"},
		},
		{
			name:   "lessons learned with continuation",
			output: "### Lessons learned\n* parse before validating\n  because errors read better\n* Parse before validating",
			want:   []string{"parse before validating"},
		},
		{
			name:   "several sections merge",
			output: "# Learnings\n- a1\n# Other\ntext\n# Key learnings\n- b2",
			want:   []string{"a1", "b2"},
		},
		{
			name:   "paragraphs",
			output: "## Learnings\nThe fake clock makes retry\ntests deterministic.\n\nGates run from the repo root.\n- bullets still count\n\n## Next\nnot a learning",
			want:   []string{"The fake clock makes retry tests deterministic.", "Gates run from the repo root.", "bullets still count"},
		},
		{
			name:   "prose after a list",
			output: "Lessons learned:\n- close the file\n  before renaming it\nRename is atomic on one filesystem.",
			want:   []string{"close the file", "Rename is atomic on one filesystem."},
		},
		{
			name:   "no heading",
			output: "- looks like a learning\n- but is not",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MineLearnings(tt.output))
		})
	}
}

func contextState() registry.State {
	return registry.Parse(`## Tasks
- [x] Set up repo (Completed: 2025-01-01)
- [~] Add parser
- [ ] Add serializer (depends: add-parser)
- [ ] Write docs
`)
}

func TestBuildContext(t *testing.T) {
	k := NewKnowledge()
	k.TechStack = []string{"Go"}
	k.RecordMistake("skipping tests")
	k.AddLearnings("set-up-repo", []string{"commit early"}, 10)

	out := BuildContext(Layers{
		State:     contextState(),
		Knowledge: k,
		Commits: []git.Commit{
			{Hash: "0123456789abcdef", Subject: "Set up repo", Lessons: []string{"pin the toolchain"}},
		},
		Lessons: []Lesson{{Kind: KindConstraint, Text: "cannot call the refresh endpoint"}},
	}, 0)

	assert.Contains(t, out, "1/4 complete, 1 in progress, 2 pending, 0 blocked\n")
	assert.Contains(t, out, "Up next:\n- Write docs\n")
	assert.NotContains(t, out, "- Add serializer\n")
	assert.Contains(t, out, "### Tech Stack\n- Go\n")
	assert.Contains(t, out, "### Common Mistakes\n- skipping tests\n")
	assert.Contains(t, out, "### Recent Learnings\n- commit early\n")
	assert.Contains(t, out, "## Relevant lessons\n\n- (constraint) cannot call the refresh endpoint\n")
	assert.Contains(t, out, "- 0123456 Set up repo\n  - Lesson: pin the toolchain\n")

	progress := strings.Index(out, "## Progress")
	knowledge := strings.Index(out, "## Project knowledge")
	lessons := strings.Index(out, "## Relevant lessons")
	commits := strings.Index(out, "## Recent commits")
	assert.True(t, progress < knowledge && knowledge < lessons && lessons < commits, out)
}

func TestBuildContext_Empty(t *testing.T) {
	assert.Empty(t, BuildContext(Layers{}, 100))
	assert.Empty(t, BuildContext(Layers{Knowledge: NewKnowledge()}, 0))
}

func TestBuildContext_Budget(t *testing.T) {
	commits := make([]git.Commit, 50)
	for i := range commits {
		commits[i] = git.Commit{Hash: "abcdef0123456789", Subject: strings.Repeat("x", 40)}
	}
	layers := Layers{State: contextState(), Commits: commits}

	full := BuildContext(layers, 0)
	for _, budget := range []int{60, 200, 500, 1000} {
		out := BuildContext(layers, budget)
		assert.LessOrEqual(t, len(out), budget)
		assert.Contains(t, out, "## Progress")
		if len(full) > budget {
			assert.True(t, strings.HasSuffix(out, truncatedMarker+"\n") || !strings.Contains(out, "## Recent commits"), out)
		}
	}

	assert.Equal(t, full, BuildContext(layers, len(full)))
}

func TestTruncateLines(t *testing.T) {
	s := "line one\nline two\nline three\n"
	assert.Equal(t, "line one\n"+truncatedMarker+"\n", truncateLines(s, 30))
	assert.Empty(t, truncateLines(s, 10))
}
