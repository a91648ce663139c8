package git

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Commit is the metadata of one commit.
type Commit struct {
	Hash    string    `json:"hash"`
	Subject string    `json:"subject"`
	Body    string    `json:"body,omitempty"`
	Author  string    `json:"author,omitempty"`
	Date    time.Time `json:"date"`

	// Lessons are the "Lesson:" and "Learned:" annotations in the body.
	Lessons []string `json:"lessons,omitempty"`
}

// ShortHash returns the first seven characters of the hash.
func (c Commit) ShortHash() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

var lessonLine = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(?:lesson|learned)\s*:\s*(.+?)\s*$`)

// RecentCommits returns up to n commits reachable from HEAD, newest first.
// A repository without commits yields an empty list.
func (r *Repo) RecentCommits(ctx context.Context, n int) ([]Commit, error) {
	if n <= 0 {
		return nil, nil
	}

	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}

	iter, err := r.repo.Log(&gogit.LogOptions{From: head.Hash(), Order: gogit.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	commits := make([]Commit, 0, n)
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, fromObject(c))
		if len(commits) >= n {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking log: %w", err)
	}
	return commits, nil
}

func fromObject(c *object.Commit) Commit {
	subject, body, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	body = strings.TrimSpace(body)
	return Commit{
		Hash:    c.Hash.String(),
		Subject: strings.TrimSpace(subject),
		Body:    body,
		Author:  c.Author.Name,
		Date:    c.Author.When,
		Lessons: ParseLessons(body),
	}
}

// ParseLessons extracts lesson annotations from a commit body.
func ParseLessons(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if m := lessonLine.FindStringSubmatch(line); m != nil {
			out = append(out, m[1])
		}
	}
	return out
}
