package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/pkg/git"
)

type fakeCommitLog struct {
	commits []git.Commit
	err     error
	asked   int
}

func (f *fakeCommitLog) RecentCommits(_ context.Context, n int) ([]git.Commit, error) {
	f.asked = n
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.commits) {
		return f.commits[:n], nil
	}
	return f.commits, nil
}

type passwordRedactor struct{}

func (passwordRedactor) Redact(s string) string {
	return strings.ReplaceAll(s, "hunter2", "REDACTED")
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.KnowledgePath == "" {
		opts.KnowledgePath = filepath.Join(t.TempDir(), "KNOWLEDGE.md")
	}
	s, err := NewStore(opts)
	require.NoError(t, err)
	return s
}

func TestStore_Gather(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLessonIndex("", nil)
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []Lesson{{ItemID: "x", Kind: KindConstraint, Text: "cannot mock the parser"}}))

	log := &fakeCommitLog{commits: []git.Commit{{Hash: "aaaaaaaa", Subject: "one"}, {Hash: "bbbbbbbb", Subject: "two"}}}
	s := newTestStore(t, Options{CommitLog: log, Index: idx, CommitWindow: 1, IndexResults: 3})

	state := contextState()
	item, err := registry.Find(state, "add-parser")
	require.NoError(t, err)

	layers := s.Gather(ctx, state, item)
	assert.Equal(t, 1, log.asked)
	assert.Len(t, layers.Commits, 1)
	require.Len(t, layers.Lessons, 1)
	assert.Equal(t, "cannot mock the parser", layers.Lessons[0].Text)
	assert.Same(t, s.Knowledge(), layers.Knowledge)

	out := s.Context(ctx, state, item)
	assert.Contains(t, out, "cannot mock the parser")
	assert.Contains(t, out, "aaaaaaa one")
}

func TestStore_GatherDegrades(t *testing.T) {
	tl := logging.NewTestLogger()
	log := &fakeCommitLog{err: errors.New("object not found")}
	s := newTestStore(t, Options{CommitLog: log, CommitWindow: 5, Logger: tl.Logger})

	layers := s.Gather(context.Background(), registry.State{}, registry.Item{Title: "x"})
	assert.Empty(t, layers.Commits)
	tl.AssertLogged(t, zapcore.WarnLevel, "reading commit log failed")
}

func TestStore_RecordSuccess(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLessonIndex("", nil)
	require.NoError(t, err)
	s := newTestStore(t, Options{Index: idx, Redactor: passwordRedactor{}, MaxLearnings: 2})

	output := "Implemented.\n\n## Learnings\n- the password hunter2 was hardcoded\n- use atomic writes\n- keep gates fast\n"
	added := s.RecordSuccess(ctx, "add-parser", output)

	require.Len(t, added, 3)
	assert.Equal(t, "the password REDACTED was hardcoded", added[0].Text)
	assert.Equal(t, []Learning{
		{ItemID: "add-parser", Text: "use atomic writes"},
		{ItemID: "add-parser", Text: "keep gates fast"},
	}, s.Knowledge().Learnings, "capped to the newest entries")
	assert.Equal(t, 3, idx.Count())

	assert.Empty(t, s.RecordSuccess(ctx, "add-parser", "no learnings here"))
}

func TestStore_RecordFailure(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLessonIndex("", nil)
	require.NoError(t, err)
	s := newTestStore(t, Options{Index: idx})

	s.RecordFailure(ctx, "sync-api", []string{"sync-api: 3 failed attempts"}, []string{"cannot use the refresh endpoint"})
	s.RecordFailure(ctx, "sync-api", []string{"sync-api: 3 failed attempts"}, nil)

	assert.Equal(t, []Mistake{{Text: "sync-api: 3 failed attempts", Count: 2}}, s.Knowledge().Mistakes)
	assert.Equal(t, 2, idx.Count())
}

func TestStore_Save(t *testing.T) {
	path := filepath.Join(t.TempDir(), "KNOWLEDGE.md")
	s := newTestStore(t, Options{KnowledgePath: path})
	s.AddDecision("2025-06-01: reframed sync-api")
	require.NoError(t, s.Save())

	reloaded := newTestStore(t, Options{KnowledgePath: path})
	assert.Equal(t, []string{"2025-06-01: reframed sync-api"}, reloaded.Knowledge().Decisions)
}

func TestStore_SaveError(t *testing.T) {
	s := newTestStore(t, Options{})

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	s.opts.KnowledgePath = filepath.Join(blocker, "KNOWLEDGE.md")

	assert.Error(t, s.Save())
}
