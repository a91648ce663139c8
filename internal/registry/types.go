package registry

import "time"

// Status is the lifecycle state of a work item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusBlocked    Status = "blocked"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusComplete, StatusBlocked:
		return true
	default:
		return false
	}
}

// Priority is derived from the manifest heading an item sits under.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Item is a single schedulable unit of work.
type Item struct {
	// ID is unique within a manifest. Defaults to the slug of Title.
	ID string `json:"id"`

	Title  string `json:"title"`
	Status Status `json:"status"`

	// AcceptanceCriteria are the indented bullets listed under the item.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`

	// DependsOn lists item IDs that must be complete before this item is ready.
	DependsOn []string `json:"depends_on,omitempty"`

	// CompletedAt is set when Status is complete. Manifests written by hand
	// may mark an item done without a date, in which case it stays zero.
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Section  string   `json:"section,omitempty"`
	Priority Priority `json:"priority,omitempty"`
}

// clone returns a deep copy of the item.
func (it Item) clone() Item {
	out := it
	if it.AcceptanceCriteria != nil {
		out.AcceptanceCriteria = append([]string(nil), it.AcceptanceCriteria...)
	}
	if it.DependsOn != nil {
		out.DependsOn = append([]string(nil), it.DependsOn...)
	}
	return out
}

// Counts summarizes items by status.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Complete   int `json:"complete"`
	Blocked    int `json:"blocked"`
	Total      int `json:"total"`
}

// State is the parsed work manifest. Operations on State never mutate the
// receiver's items; they return a new State.
type State struct {
	Items  []Item `json:"items"`
	Counts Counts `json:"counts"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{Counts: s.Counts}
	if s.Items != nil {
		out.Items = make([]Item, len(s.Items))
		for i, it := range s.Items {
			out.Items[i] = it.clone()
		}
	}
	return out
}

// recount recomputes Counts from Items.
func (s *State) recount() {
	c := Counts{Total: len(s.Items)}
	for _, it := range s.Items {
		switch it.Status {
		case StatusPending:
			c.Pending++
		case StatusInProgress:
			c.InProgress++
		case StatusComplete:
			c.Complete++
		case StatusBlocked:
			c.Blocked++
		}
	}
	s.Counts = c
}

// index returns the position of id in Items, or -1.
func (s State) index(id string) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}
