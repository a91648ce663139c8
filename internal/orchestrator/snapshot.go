package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/loopd/internal/registry"
)

// Snapshot is a point-in-time view of a run, safe to read from other
// goroutines.
type Snapshot struct {
	RunID       string           `json:"run_id"`
	StartedAt   time.Time        `json:"started_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Phase       Phase            `json:"phase"`
	Iteration   int              `json:"iteration"`
	CurrentItem string           `json:"current_item,omitempty"`
	Counts      registry.Counts  `json:"counts"`
	Items       []registry.Item  `json:"items,omitempty"`
	LastReport  *IterationReport `json:"last_report,omitempty"`
	Done        bool             `json:"done"`
	Reason      DoneReason       `json:"reason,omitempty"`
}

// Snapshot returns the current state of the run.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := o.snap
	out.Items = append([]registry.Item(nil), o.snap.Items...)
	if o.snap.LastReport != nil {
		r := *o.snap.LastReport
		out.LastReport = &r
	}
	return out
}

// publish applies f to the snapshot and refreshes its manifest view.
func (o *Orchestrator) publish(f func(*Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f(&o.snap)
	o.snap.Counts = o.state.Counts
	o.snap.Items = append(o.snap.Items[:0:0], o.state.Items...)
	o.snap.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) setPhase(p Phase) {
	o.publish(func(s *Snapshot) { s.Phase = p })
}

func (o *Orchestrator) finish(reason DoneReason) {
	o.publish(func(s *Snapshot) {
		s.Phase = PhaseDone
		s.Done = true
		s.Reason = reason
		s.CurrentItem = ""
	})
}
