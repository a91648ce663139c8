// Package git reads the version-control history loopd uses as its
// long-term memory: the current branch and a window of recent commits,
// including any lesson annotations written into commit bodies.
//
// Access is read-only and goes through go-git, so no git binary is needed.
package git

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var (
	// ErrNotGitRepo indicates the directory is not inside a Git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrNoCommits indicates HEAD does not resolve because nothing has been
	// committed yet.
	ErrNoCommits = errors.New("repository has no commits")
)

// Detached is returned by Branch when HEAD does not point at a branch.
const Detached = "detached"

// Repo is a read-only handle on a repository.
type Repo struct {
	path string
	repo *gogit.Repository
}

// Open opens the repository containing path, searching parent directories
// for the .git directory.
func Open(path string) (*Repo, error) {
	r, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, path)
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repo{path: path, repo: r}, nil
}

// Path returns the path the repository was opened from.
func (r *Repo) Path() string {
	return r.path
}

// Branch returns the short name of the checked-out branch, or Detached.
func (r *Repo) Branch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return r.unbornBranch()
		}
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return Detached, nil
}

// unbornBranch resolves the branch HEAD points at before the first commit.
func (r *Repo) unbornBranch() (string, error) {
	ref, err := r.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if ref.Type() == plumbing.SymbolicReference && ref.Target().IsBranch() {
		return ref.Target().Short(), nil
	}
	return Detached, nil
}

// DetectBranch opens the repository at projectPath and returns its branch.
func DetectBranch(projectPath string) (string, error) {
	r, err := Open(projectPath)
	if err != nil {
		return "", err
	}
	return r.Branch()
}

// IsMainBranch reports whether branch is "main" or "master".
func IsMainBranch(branch string) bool {
	return branch == "main" || branch == "master"
}
