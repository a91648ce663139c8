package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

// Phase is a state of the loop.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSelect  Phase = "select"
	PhaseExecute Phase = "execute"
	PhaseSucceed Phase = "succeed"
	PhaseFail    Phase = "fail"
	PhaseRecover Phase = "recover"
	PhasePersist Phase = "persist"
	PhaseDone    Phase = "done"
)

// DoneReason says why a run ended.
type DoneReason string

const (
	DoneNoReadyItems DoneReason = "no ready items"
	DoneIterationCap DoneReason = "iteration cap reached"
	DoneStopped      DoneReason = "stop requested"
	DonePersistence  DoneReason = "persistence failed"
	DoneError        DoneReason = "internal error"
)

// IterationReport describes one finished iteration.
type IterationReport struct {
	Iteration int    `json:"iteration"`
	ItemID    string `json:"item_id"`
	Title     string `json:"title"`
	Success   bool   `json:"success"`

	// FailureReason is the reason of the last failed attempt.
	FailureReason string   `json:"failure_reason,omitempty"`
	FailedGates   []string `json:"failed_gates,omitempty"`

	// Recovered is set when the iteration ran a recovery attempt,
	// whether or not it succeeded.
	Recovered bool `json:"recovered"`

	// Abandoned is set when the item was given up for the rest of the run.
	Abandoned bool `json:"abandoned"`

	// Aborted is set when the context was canceled during the attempt. The
	// attempt is not recorded and the item stays pending.
	Aborted bool `json:"aborted,omitempty"`

	// RootCause and Constraints summarize the trajectory of an abandoned item.
	RootCause   string   `json:"root_cause,omitempty"`
	Constraints []string `json:"constraints,omitempty"`

	Attempts  int             `json:"attempts"`
	Learnings int             `json:"learnings"`
	Cost      trajectory.Cost `json:"cost"`
	Duration  time.Duration   `json:"duration"`

	// Err is the error behind a failed attempt, such as a TransportError or
	// GateFailure. Error is its message.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Reporter receives a report after every iteration.
type Reporter func(IterationReport)

// Summary is the result of Run.
type Summary struct {
	RunID      string          `json:"run_id"`
	Iterations int             `json:"iterations"`
	Completed  []string        `json:"completed,omitempty"`
	Abandoned  []string        `json:"abandoned,omitempty"`
	Reason     DoneReason      `json:"reason"`
	Counts     registry.Counts `json:"counts"`
	Duration   time.Duration   `json:"duration"`
}

// Memory is the layered memory the loop reads prompts from and writes
// lessons to. *memory.Store satisfies it.
type Memory interface {
	Context(ctx context.Context, state registry.State, item registry.Item) string
	RecordSuccess(ctx context.Context, itemID, output string) []memory.Learning
	RecordFailure(ctx context.Context, itemID string, mistakes, constraints []string)
	AddDecision(entry string)
	Save() error
}

// TrajectoryStore persists trajectories between iterations and runs.
// *trajectory.Store satisfies it.
type TrajectoryStore interface {
	Load(itemID string) (*trajectory.Trajectory, bool, error)
	Save(t *trajectory.Trajectory) error
	Delete(itemID string) error
}

// Redactor masks secrets in text the loop stores.
type Redactor interface {
	Redact(text string) string
}
