// Package memory holds what the loop remembers between iterations.
//
// Memory is layered. Layer 1 is the commit log, read through CommitLog with
// "Lesson:" annotations mined from commit bodies. Layer 2 is the knowledge
// document (KNOWLEDGE.md), a markdown file of tech stack, patterns, common
// mistakes with occurrence counts, a decision log and a capped list of
// recent learnings. Layer 3 is the task registry itself. A local vector
// index of lessons sits beside the layers and is queried with the title of
// the item in flight.
//
// BuildContext renders all of it into a bounded prompt section.
package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/pkg/git"
)

// CommitLog is read-only access to recent commits. *git.Repo satisfies it.
type CommitLog interface {
	RecentCommits(ctx context.Context, n int) ([]git.Commit, error)
}

// Redactor masks secrets in text before it is written to memory.
type Redactor interface {
	Redact(text string) string
}

// Options configures a Store.
type Options struct {
	KnowledgePath string
	CommitLog     CommitLog    // nil disables layer 1
	Index         *LessonIndex // nil disables lesson recall
	Redactor      Redactor     // nil stores text as is
	CommitWindow  int
	MaxLearnings  int
	IndexResults  int
	Budget        int
	Logger        *logging.Logger
}

// Store owns the knowledge document for a run and reads the other layers.
// It is used from the loop goroutine only.
type Store struct {
	opts      Options
	knowledge *Knowledge
	logger    *logging.Logger
}

// NewStore loads the knowledge document named in opts.
func NewStore(opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	k, err := LoadKnowledge(opts.KnowledgePath)
	if err != nil {
		return nil, err
	}
	return &Store{opts: opts, knowledge: k, logger: opts.Logger}, nil
}

// Knowledge returns the live document.
func (s *Store) Knowledge() *Knowledge {
	return s.knowledge
}

// Gather reads every layer for item. Failures of the commit log or the
// index are logged and leave that layer empty; memory is advisory.
func (s *Store) Gather(ctx context.Context, state registry.State, item registry.Item) Layers {
	layers := Layers{State: state, Knowledge: s.knowledge}

	if s.opts.CommitLog != nil && s.opts.CommitWindow > 0 {
		commits, err := s.opts.CommitLog.RecentCommits(ctx, s.opts.CommitWindow)
		if err != nil {
			s.logger.Warn(ctx, "reading commit log failed", zap.Error(err))
		}
		layers.Commits = commits
	}

	if s.opts.Index != nil && s.opts.IndexResults > 0 {
		query := item.Title
		if len(item.AcceptanceCriteria) > 0 {
			query += "\n" + strings.Join(item.AcceptanceCriteria, "\n")
		}
		lessons, err := s.opts.Index.Query(ctx, query, s.opts.IndexResults)
		if err != nil {
			s.logger.Warn(ctx, "querying lesson index failed", zap.Error(err))
		}
		layers.Lessons = lessons
	}
	return layers
}

// Context gathers the layers for item and renders them within the
// configured budget.
func (s *Store) Context(ctx context.Context, state registry.State, item registry.Item) string {
	return BuildContext(s.Gather(ctx, state, item), s.opts.Budget)
}

// RecordSuccess mines learnings from a successful output, redacts them,
// adds them to the document and indexes them. It returns the learnings
// added to the document.
func (s *Store) RecordSuccess(ctx context.Context, itemID, output string) []Learning {
	mined := MineLearnings(output)
	for i, m := range mined {
		mined[i] = s.redact(m)
	}

	added := s.knowledge.AddLearnings(itemID, mined, s.opts.MaxLearnings)
	lessons := make([]Lesson, len(added))
	for i, l := range added {
		lessons[i] = Lesson{ItemID: itemID, Kind: KindLearning, Text: l.Text}
	}
	s.index(ctx, lessons)
	return added
}

// RecordFailure records an abandoned item: each mistake is counted in the
// document, and mistakes and constraints are indexed so later attempts on
// similar items recall them.
func (s *Store) RecordFailure(ctx context.Context, itemID string, mistakes, constraints []string) {
	var lessons []Lesson
	for _, m := range mistakes {
		m = s.redact(m)
		if s.knowledge.RecordMistake(m) > 0 {
			lessons = append(lessons, Lesson{ItemID: itemID, Kind: KindMistake, Text: m})
		}
	}
	for _, c := range constraints {
		lessons = append(lessons, Lesson{ItemID: itemID, Kind: KindConstraint, Text: s.redact(c)})
	}
	s.index(ctx, lessons)
}

// AddDecision appends a decision log entry.
func (s *Store) AddDecision(entry string) {
	s.knowledge.AddDecision(s.redact(entry))
}

// Save writes the knowledge document.
func (s *Store) Save() error {
	if err := SaveKnowledge(s.opts.KnowledgePath, s.knowledge); err != nil {
		return fmt.Errorf("saving %s: %w", s.opts.KnowledgePath, err)
	}
	return nil
}

func (s *Store) index(ctx context.Context, lessons []Lesson) {
	if s.opts.Index == nil || len(lessons) == 0 {
		return
	}
	if err := s.opts.Index.Add(ctx, lessons); err != nil {
		s.logger.Warn(ctx, "indexing lessons failed", zap.Error(err), zap.Int("count", len(lessons)))
	}
}

func (s *Store) redact(text string) string {
	if s.opts.Redactor == nil {
		return text
	}
	return s.opts.Redactor.Redact(text)
}
