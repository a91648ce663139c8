package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/logging"
)

// Lesson kinds stored in the index.
const (
	KindLearning   = "learning"
	KindConstraint = "constraint"
	KindMistake    = "mistake"
)

const lessonCollection = "lessons"

// lessonNamespace seeds deterministic lesson ids, so re-adding the same
// lesson overwrites instead of duplicating.
var lessonNamespace = uuid.MustParse("9f4c7a52-3a0e-4f43-9a57-0c1b6a2f5d11")

// ErrEmptyQuery is returned by Query for blank query text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Lesson is one indexed piece of memory.
type Lesson struct {
	ID         string
	ItemID     string
	Kind       string
	Text       string
	Similarity float32
}

// LessonIndex is a local vector index of learnings, constraints and
// mistakes, queried by work-item title.
type LessonIndex struct {
	db     *chromem.DB
	col    *chromem.Collection
	logger *logging.Logger
}

// OpenLessonIndex opens the index persisted under dir, or an in-memory
// index when dir is empty.
func OpenLessonIndex(dir string, logger *logging.Logger) (*LessonIndex, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else if db, err = chromem.NewPersistentDB(dir, false); err != nil {
		return nil, fmt.Errorf("opening lesson index at %s: %w", dir, err)
	}

	col, err := db.GetOrCreateCollection(lessonCollection, nil, HashEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting lesson collection: %w", err)
	}
	return &LessonIndex{db: db, col: col, logger: logger}, nil
}

// LessonID returns the deterministic id of a lesson.
func LessonID(kind, itemID, text string) string {
	return uuid.NewSHA1(lessonNamespace, []byte(kind+"\x00"+itemID+"\x00"+normalize(text))).String()
}

// Add indexes lessons. Blank lessons are skipped.
func (x *LessonIndex) Add(ctx context.Context, lessons []Lesson) error {
	docs := make([]chromem.Document, 0, len(lessons))
	for _, l := range lessons {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		id := l.ID
		if id == "" {
			id = LessonID(l.Kind, l.ItemID, text)
		}
		docs = append(docs, chromem.Document{
			ID:      id,
			Content: text,
			Metadata: map[string]string{
				"item_id":  l.ItemID,
				"kind":     l.Kind,
				"added_at": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}

	if err := x.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding lessons: %w", err)
	}
	x.logger.Debug(ctx, "indexed lessons", zap.Int("count", len(docs)))
	return nil
}

// Query returns up to k lessons most similar to text, best first.
func (x *LessonIndex) Query(ctx context.Context, text string, k int) ([]Lesson, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// chromem requires nResults <= document count.
	n := x.col.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := x.col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying lessons: %w", err)
	}

	lessons := make([]Lesson, len(results))
	for i, r := range results {
		lessons[i] = Lesson{
			ID:         r.ID,
			ItemID:     r.Metadata["item_id"],
			Kind:       r.Metadata["kind"],
			Text:       r.Content,
			Similarity: r.Similarity,
		}
	}
	return lessons, nil
}

// Count returns the number of indexed lessons.
func (x *LessonIndex) Count() int {
	return x.col.Count()
}
