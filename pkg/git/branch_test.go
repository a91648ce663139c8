package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *gogit.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func commitFile(t *testing.T, dir string, repo *gogit.Repository, name, msg string, when time.Time) plumbing.Hash {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(msg), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)

	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Loop Bot", Email: "loop@example.com", When: when},
	})
	require.NoError(t, err)
	return hash
}

func TestDetectBranch(t *testing.T) {
	t.Run("not a repo", func(t *testing.T) {
		_, err := DetectBranch(t.TempDir())
		assert.ErrorIs(t, err, ErrNotGitRepo)
	})

	t.Run("unborn branch", func(t *testing.T) {
		dir, _ := initRepo(t)
		branch, err := DetectBranch(dir)
		require.NoError(t, err)
		assert.Equal(t, "master", branch)
	})

	t.Run("feature branch", func(t *testing.T) {
		dir, repo := initRepo(t)
		commitFile(t, dir, repo, "a.txt", "first", time.Now())

		wt, err := repo.Worktree()
		require.NoError(t, err)
		require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{
			Branch: plumbing.NewBranchReferenceName("feature/v3-rebuild"),
			Create: true,
		}))

		branch, err := DetectBranch(dir)
		require.NoError(t, err)
		assert.Equal(t, "feature/v3-rebuild", branch)
	})

	t.Run("detached", func(t *testing.T) {
		dir, repo := initRepo(t)
		hash := commitFile(t, dir, repo, "a.txt", "first", time.Now())

		wt, err := repo.Worktree()
		require.NoError(t, err)
		require.NoError(t, wt.Checkout(&gogit.CheckoutOptions{Hash: hash}))

		branch, err := DetectBranch(dir)
		require.NoError(t, err)
		assert.Equal(t, Detached, branch)
	})

	t.Run("subdirectory", func(t *testing.T) {
		dir, _ := initRepo(t)
		sub := filepath.Join(dir, "nested", "deeper")
		require.NoError(t, os.MkdirAll(sub, 0o755))

		branch, err := DetectBranch(sub)
		require.NoError(t, err)
		assert.Equal(t, "master", branch)
	})
}

func TestIsMainBranch(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		want   bool
	}{
		{"main", "main", true},
		{"master", "master", true},
		{"develop", "develop", false},
		{"feature branch", "feature/auth", false},
		{"detached", Detached, false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMainBranch(tt.branch))
		})
	}
}

func TestRecentCommits(t *testing.T) {
	dir, repo := initRepo(t)
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	commitFile(t, dir, repo, "a.txt", "Add parser", base)
	commitFile(t, dir, repo, "b.txt", "Fix loop halt\n\nPersist before selecting.\nLesson: write state before the next selection\n- learned: gates need timeouts", base.Add(time.Hour))
	commitFile(t, dir, repo, "c.txt", "Add status server", base.Add(2*time.Hour))

	r, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, r.Path())

	commits, err := r.RecentCommits(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "Add status server", commits[0].Subject)
	assert.Empty(t, commits[0].Body)
	assert.Equal(t, "Loop Bot", commits[0].Author)
	assert.Len(t, commits[0].ShortHash(), 7)

	fix := commits[1]
	assert.Equal(t, "Fix loop halt", fix.Subject)
	assert.Contains(t, fix.Body, "Persist before selecting.")
	assert.Equal(t, []string{"write state before the next selection", "gates need timeouts"}, fix.Lessons)
	assert.True(t, fix.Date.Equal(base.Add(time.Hour)))

	all, err := r.RecentCommits(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := r.RecentCommits(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecentCommits_EmptyRepo(t *testing.T) {
	dir, _ := initRepo(t)

	r, err := Open(dir)
	require.NoError(t, err)

	commits, err := r.RecentCommits(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestRecentCommits_Canceled(t *testing.T) {
	dir, repo := initRepo(t)
	commitFile(t, dir, repo, "a.txt", "first", time.Now())

	r, err := Open(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.RecentCommits(ctx, 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseLessons(t *testing.T) {
	body := "Some text\nLESSON: keep it small\n  * Learned :  use atomic writes  \nnot a lesson: nope"
	assert.Equal(t, []string{"keep it small", "use atomic writes"}, ParseLessons(body))
	assert.Empty(t, ParseLessons(""))
}
