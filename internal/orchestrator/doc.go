// Package orchestrator drives the iteration loop.
//
// # Overview
//
// The Orchestrator repeatedly picks the next ready item from the task
// manifest, asks the generator to implement it with a fresh context, checks
// the result with quality gates and persists everything before moving on.
// One item is in flight at a time.
//
// # Loop
//
//	Idle → Select → Execute → {Succeed | Fail} → [Recover] → Persist → Select → … → Done
//
// Select is the only place the loop looks at the stop signal (an OS signal
// or a STOP file in the state directory). An item that is executing always
// finishes, fails or times out before the loop stops, so the manifest never
// holds a half-applied transition.
//
// # Failure and recovery
//
// A failed attempt is appended to the item's trajectory and the trajectory
// is analyzed. When recovery triggers, the loop logs
// "stuck trajectory detected, reframing", builds a recovery frame, records
// the cost comparison in the decision log and executes the item once more
// with the reframed prompt. If that attempt fails too, the mistakes and
// constraints go into memory and the item is abandoned for the rest of the
// run. Failures that do not trigger recovery return the item to pending
// with its trajectory kept, so the next selection continues it.
//
// # Persistence
//
// Persist runs after every iteration and writes the manifest, the
// knowledge document and the trajectory file. A failed write is a
// PersistenceError and stops the run before the next selection.
//
// # Observability
//
// Every iteration produces an IterationReport, passed to the Reporter and
// logged. Spans and counters go through internal/telemetry, and a Snapshot
// of the run is published for the status server.
package orchestrator
