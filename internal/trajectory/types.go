// Package trajectory records the attempts made against a single work item
// and classifies whether that line of attempts is still making progress.
//
// A Trajectory is append-only. Analyze and ShouldTriggerRecovery are pure
// functions over a snapshot; they never mutate it.
package trajectory

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfSequence indicates an attempt whose sequence number does not
	// directly follow the last recorded attempt.
	ErrOutOfSequence = errors.New("attempt out of sequence")

	// ErrResolved indicates an append to a trajectory that already ended in
	// success.
	ErrResolved = errors.New("trajectory already resolved")
)

// Cost is the resource cost of one attempt or of a whole trajectory.
type Cost struct {
	Elapsed time.Duration `yaml:"elapsed" json:"elapsed"`
	Tokens  int           `yaml:"tokens" json:"tokens"`
	CostUSD float64       `yaml:"cost_usd,omitempty" json:"cost_usd,omitempty"`
}

// Add returns the sum of two costs.
func (c Cost) Add(o Cost) Cost {
	return Cost{
		Elapsed: c.Elapsed + o.Elapsed,
		Tokens:  c.Tokens + o.Tokens,
		CostUSD: c.CostUSD + o.CostUSD,
	}
}

// Attempt is one execution against the trajectory's problem.
type Attempt struct {
	// Seq is 1-based and strictly increasing within a trajectory.
	Seq int `yaml:"seq" json:"seq"`

	Approach string `yaml:"approach" json:"approach"`
	Outcome  string `yaml:"outcome,omitempty" json:"outcome,omitempty"`
	Success  bool   `yaml:"success" json:"success"`
	Cost     Cost   `yaml:"cost" json:"cost"`

	FailureReason string `yaml:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	// Recovery is set when the attempt ran from a recovery frame.
	Recovery  bool      `yaml:"recovery,omitempty" json:"recovery,omitempty"`
	StartedAt time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
}

// Failed reports whether the attempt did not succeed.
func (a Attempt) Failed() bool {
	return !a.Success
}

// Trajectory is the ordered history of attempts made against one problem.
type Trajectory struct {
	Problem  string    `yaml:"problem" json:"problem"`
	ItemID   string    `yaml:"item_id" json:"item_id"`
	Attempts []Attempt `yaml:"attempts" json:"attempts"`

	// Resolved implies the last attempt succeeded.
	Resolved bool `yaml:"resolved" json:"resolved"`
	Totals   Cost `yaml:"totals" json:"totals"`

	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
}

// New starts an empty trajectory for a work item.
func New(itemID, problem string) *Trajectory {
	return &Trajectory{
		Problem:   problem,
		ItemID:    itemID,
		CreatedAt: time.Now().UTC(),
	}
}

// Append records an attempt. A zero Seq is assigned the next number; any
// other value must be exactly the next number. A successful attempt
// resolves the trajectory, after which no more attempts are accepted.
func (t *Trajectory) Append(a Attempt) error {
	if t.Resolved {
		return ErrResolved
	}

	next := len(t.Attempts) + 1
	if a.Seq == 0 {
		a.Seq = next
	}
	if a.Seq != next {
		return fmt.Errorf("%w: got %d, want %d", ErrOutOfSequence, a.Seq, next)
	}

	t.Attempts = append(t.Attempts, a)
	t.Totals = t.Totals.Add(a.Cost)
	if a.Success {
		t.Resolved = true
	}
	return nil
}

// FailedCount returns the number of failed attempts.
func (t *Trajectory) FailedCount() int {
	n := 0
	for _, a := range t.Attempts {
		if a.Failed() {
			n++
		}
	}
	return n
}

// LastAttempt returns the most recent attempt.
func (t *Trajectory) LastAttempt() (Attempt, bool) {
	if len(t.Attempts) == 0 {
		return Attempt{}, false
	}
	return t.Attempts[len(t.Attempts)-1], true
}

// Clone returns a deep copy.
func (t *Trajectory) Clone() *Trajectory {
	out := *t
	if t.Attempts != nil {
		out.Attempts = append([]Attempt(nil), t.Attempts...)
	}
	return &out
}
