package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/recovery"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/telemetry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

const testManifest = `# Tasks

## High Priority

- [x] Parse config {#parse-config}
- [ ] Load manifest {#load-manifest}
  - reads TASKS.md
- [ ] Wire the loop {#wire-loop} (depends: load-manifest)
`

type fixture struct {
	dir     string
	store   *trajectory.Store
	index   *memory.LessonIndex
	tel     *telemetry.TestTelemetry
	session *mcp.ClientSession
}

func newFixture(t *testing.T, withIndex bool) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		dir: t.TempDir(),
		tel: telemetry.NewTestTelemetry(),
	}
	manifest := filepath.Join(f.dir, "TASKS.md")
	require.NoError(t, os.WriteFile(manifest, []byte(testManifest), 0o600))
	f.store = trajectory.NewStore(filepath.Join(f.dir, ".loopd"))

	var lessons LessonSearcher
	if withIndex {
		idx, err := memory.OpenLessonIndex("", nil)
		require.NoError(t, err)
		f.index = idx
		lessons = idx
	}

	srv, err := NewServer(Config{
		ManifestPath: manifest,
		Version:      "test",
		Meter:        f.tel.Meter(instrumentationName),
	}, f.store, lessons)
	require.NoError(t, err)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err = srv.Connect(ctx, serverTransport)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	f.session, err = client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.session.Close() })
	return f
}

// call invokes a tool and decodes its structured result into out. It
// returns the tool error, if any.
func (f *fixture) call(t *testing.T, name string, args map[string]any, out any) error {
	t.Helper()
	res, err := f.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err
	}
	if res.IsError {
		msg := "tool error"
		if len(res.Content) > 0 {
			if text, ok := res.Content[0].(*mcp.TextContent); ok {
				msg = text.Text
			}
		}
		return errors.New(msg)
	}
	if out != nil {
		data, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return nil
}

func (f *fixture) saveFailures(t *testing.T, itemID string, n int) {
	t.Helper()
	traj := trajectory.New(itemID, "Load manifest")
	for i := 0; i < n; i++ {
		require.NoError(t, traj.Append(trajectory.Attempt{
			Approach:      "parse with regexp",
			FailureReason: "gates failed: test (exit status 1)",
			Cost:          trajectory.Cost{Tokens: 1000},
		}))
	}
	require.NoError(t, f.store.Save(traj))
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{}, trajectory.NewStore(t.TempDir()), nil)
	assert.ErrorContains(t, err, "manifest path is required")

	_, err = NewServer(Config{ManifestPath: "TASKS.md"}, nil, nil)
	assert.ErrorContains(t, err, "trajectory reader is required")
}

func TestServer_ListTools(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"analyze_trajectory", "get_item", "loop_status", "recovery_frame", "search_lessons"}, names)
}

func TestServer_LoopStatus(t *testing.T) {
	f := newFixture(t, false)
	f.saveFailures(t, "load-manifest", 1)

	var out loopStatusOutput
	require.NoError(t, f.call(t, "loop_status", map[string]any{}, &out))

	assert.Equal(t, 1, out.Pending)
	assert.Equal(t, 1, out.Complete)
	assert.Equal(t, 1, out.Blocked)
	assert.Equal(t, 3, out.Total)
	require.NotNil(t, out.Next)
	assert.Equal(t, "load-manifest", out.Next.ID)
	assert.Equal(t, []string{"reads TASKS.md"}, out.Next.AcceptanceCriteria)
	assert.Equal(t, []string{"load-manifest"}, out.Trajectories)

	assert.Equal(t, int64(1), f.tel.CounterValue(t, "loopd.mcp.tool.invocations_total"))
}

func TestServer_GetItem(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    itemOutput
		wantErr string
	}{
		{
			name: "blocked item lists unresolved dependencies",
			id:   "wire-loop",
			want: itemOutput{
				ID:         "wire-loop",
				Title:      "Wire the loop",
				Status:     string(registry.StatusBlocked),
				Section:    "High Priority",
				Priority:   string(registry.PriorityHigh),
				DependsOn:  []string{"load-manifest"},
				Unresolved: []string{"load-manifest"},
			},
		},
		{name: "unknown id", id: "missing", wantErr: "not found"},
		{name: "unsafe id", id: "../etc", wantErr: "invalid item id"},
	}

	f := newFixture(t, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out itemOutput
			err := f.call(t, "get_item", map[string]any{"id": tt.id}, &out)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	assert.Equal(t, int64(2), f.tel.CounterValue(t, "loopd.mcp.tool.errors_total"))
}

func TestServer_AnalyzeTrajectory(t *testing.T) {
	f := newFixture(t, false)
	f.saveFailures(t, "load-manifest", 3)

	var out recovery.Assessment
	require.NoError(t, f.call(t, "analyze_trajectory", map[string]any{"item_id": "load-manifest"}, &out))
	assert.Equal(t, "load-manifest", out.ItemID)
	assert.Equal(t, 3, out.Failed)
	assert.Equal(t, 3000, out.Totals.Tokens)
	assert.True(t, out.Decision.Trigger)
	assert.NotEmpty(t, out.RootCause)

	err := f.call(t, "analyze_trajectory", map[string]any{"item_id": "wire-loop"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no trajectory stored")
}

func TestServer_RecoveryFrame(t *testing.T) {
	f := newFixture(t, false)
	f.saveFailures(t, "load-manifest", 3)

	var out frameOutput
	require.NoError(t, f.call(t, "recovery_frame", map[string]any{"item_id": "load-manifest"}, &out))
	assert.Equal(t, "load-manifest", out.ItemID)
	assert.NotEmpty(t, out.RootCause)
	assert.Contains(t, out.Prompt, "## Recovery: reframed task")
	for _, c := range out.Constraints {
		assert.Contains(t, out.Prompt, c)
	}
}

func TestServer_SearchLessons(t *testing.T) {
	t.Run("disabled index", func(t *testing.T) {
		f := newFixture(t, false)
		err := f.call(t, "search_lessons", map[string]any{"query": "token"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lesson index is disabled")
	})

	t.Run("finds lessons", func(t *testing.T) {
		f := newFixture(t, true)
		require.NoError(t, f.index.Add(context.Background(), []memory.Lesson{
			{ItemID: "sync-api", Kind: memory.KindConstraint, Text: "cannot call the token refresh endpoint directly"},
			{ItemID: "migrate-db", Kind: memory.KindLearning, Text: "database migrations need a down step"},
		}))

		var out searchLessonsOutput
		require.NoError(t, f.call(t, "search_lessons", map[string]any{"query": "refresh the token", "limit": 1}, &out))
		require.Len(t, out.Lessons, 1)
		assert.Equal(t, "sync-api", out.Lessons[0].ItemID)
		assert.Equal(t, memory.KindConstraint, out.Lessons[0].Kind)
	})

	t.Run("bad arguments", func(t *testing.T) {
		f := newFixture(t, true)
		assert.Error(t, f.call(t, "search_lessons", map[string]any{"query": "x", "limit": 50}, nil))
		assert.Error(t, f.call(t, "search_lessons", map[string]any{"query": "  "}, nil))
	})
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{registry.ErrInvalidID, "validation_error"},
		{memory.ErrEmptyQuery, "validation_error"},
		{&registry.NotFoundError{ID: "x"}, "not_found"},
		{errNoTrajectory, "not_found"},
		{errIndexDisabled, "unavailable"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("disk on fire"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err))
	}
}
