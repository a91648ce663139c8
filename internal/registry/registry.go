// Package registry holds the work manifest: the list of work items with
// status, dependencies and priority, and the selection, transition and
// persistence operations the iteration loop drives.
//
// The manifest is plain, human-editable text. Each work item is a checkbox
// line:
//
//	## High Priority
//
//	- [x] Parse config {#config} (Completed: 2025-01-01)
//	- [ ] Wire the loop (depends: config)
//	  - loop halts on persistence errors
//	- [~] Item currently being worked on
//	- [!] Item waiting on an unresolved dependency (depends: other)
//
// Operations are value-oriented: they take a State and return a new State,
// leaving persistence to the caller.
package registry

import (
	"time"
)

// timeNow is swapped in tests.
var timeNow = time.Now

// NextReady returns the first pending item whose dependencies are all
// complete. The boolean is false when no such item exists.
func NextReady(state State) (Item, bool) {
	for _, it := range state.Items {
		if it.Status == StatusPending && dependenciesMet(state, it) {
			return it.clone(), true
		}
	}
	return Item{}, false
}

// Find returns the item with the given id.
func Find(state State, id string) (Item, error) {
	i := state.index(id)
	if i < 0 {
		return Item{}, &NotFoundError{ID: id}
	}
	return state.Items[i].clone(), nil
}

// Complete marks id complete, stamps the current time, unblocks dependents
// whose dependencies are now resolved, and recomputes counts.
func Complete(state State, id string) (State, error) {
	return CompleteAt(state, id, timeNow())
}

// CompleteAt is Complete with an explicit completion time.
func CompleteAt(state State, id string, at time.Time) (State, error) {
	i := state.index(id)
	if i < 0 {
		return state, &NotFoundError{ID: id}
	}

	next := state.Clone()
	it := &next.Items[i]
	switch it.Status {
	case StatusComplete:
		return next, nil
	case StatusBlocked:
		return state, &TransitionError{ID: id, From: it.Status, To: StatusComplete}
	}

	it.Status = StatusComplete
	it.CompletedAt = at.UTC().Truncate(time.Second)
	normalizeBlocked(&next)
	next.recount()
	return next, nil
}

// Start moves a ready item from pending to in_progress.
func Start(state State, id string) (State, error) {
	i := state.index(id)
	if i < 0 {
		return state, &NotFoundError{ID: id}
	}
	it := state.Items[i]
	if it.Status != StatusPending || !dependenciesMet(state, it) {
		return state, &TransitionError{ID: id, From: it.Status, To: StatusInProgress}
	}

	next := state.Clone()
	next.Items[i].Status = StatusInProgress
	next.recount()
	return next, nil
}

// Abandon returns an in-progress item to pending so a later cycle can pick
// it up again.
func Abandon(state State, id string) (State, error) {
	i := state.index(id)
	if i < 0 {
		return state, &NotFoundError{ID: id}
	}
	if state.Items[i].Status != StatusInProgress {
		return state, &TransitionError{ID: id, From: state.Items[i].Status, To: StatusPending}
	}

	next := state.Clone()
	next.Items[i].Status = StatusPending
	next.recount()
	return next, nil
}

// Block marks an item blocked. The item must have at least one unresolved
// dependency.
func Block(state State, id string) (State, error) {
	i := state.index(id)
	if i < 0 {
		return state, &NotFoundError{ID: id}
	}
	it := state.Items[i]
	if it.Status == StatusComplete || dependenciesMet(state, it) {
		return state, &TransitionError{ID: id, From: it.Status, To: StatusBlocked}
	}

	next := state.Clone()
	next.Items[i].Status = StatusBlocked
	next.recount()
	return next, nil
}

// Refresh reconciles pending and blocked items with their dependencies:
// pending items with unresolved dependencies become blocked and blocked items
// whose dependencies resolved become pending.
func Refresh(state State) State {
	next := state.Clone()
	for i := range next.Items {
		it := &next.Items[i]
		if it.Status == StatusPending && !dependenciesMet(next, *it) {
			it.Status = StatusBlocked
		}
	}
	normalizeBlocked(&next)
	next.recount()
	return next
}

// Unresolved returns the dependency ids of it that are missing or not
// complete.
func Unresolved(state State, it Item) []string {
	var out []string
	for _, dep := range it.DependsOn {
		j := state.index(dep)
		if j < 0 || state.Items[j].Status != StatusComplete {
			out = append(out, dep)
		}
	}
	return out
}

func dependenciesMet(state State, it Item) bool {
	return len(Unresolved(state, it)) == 0
}

// normalizeBlocked returns blocked items with no unresolved dependency to
// pending.
func normalizeBlocked(state *State) {
	for i := range state.Items {
		it := &state.Items[i]
		if it.Status == StatusBlocked && dependenciesMet(*state, *it) {
			it.Status = StatusPending
		}
	}
}
