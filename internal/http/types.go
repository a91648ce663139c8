package http

import (
	"time"

	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
	"github.com/fyrsmithlabs/loopd/internal/registry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	RunID       string                        `json:"run_id"`
	Phase       orchestrator.Phase            `json:"phase"`
	Iteration   int                           `json:"iteration"`
	CurrentItem string                        `json:"current_item,omitempty"`
	Counts      registry.Counts               `json:"counts"`
	StartedAt   time.Time                     `json:"started_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
	Reason      orchestrator.DoneReason       `json:"reason,omitempty"`
	LastReport  *orchestrator.IterationReport `json:"last_report,omitempty"`
}

// ItemsResponse is the response body for GET /api/v1/items.
type ItemsResponse struct {
	Items []registry.Item `json:"items"`
}

// Run states reported in StatusResponse.Status.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusFinished = "finished"
)

func statusFrom(snap orchestrator.Snapshot, version string) StatusResponse {
	status := StatusRunning
	switch {
	case snap.Done:
		status = StatusFinished
	case snap.StartedAt.IsZero():
		status = StatusStarting
	}
	return StatusResponse{
		Status:      status,
		Version:     version,
		RunID:       snap.RunID,
		Phase:       snap.Phase,
		Iteration:   snap.Iteration,
		CurrentItem: snap.CurrentItem,
		Counts:      snap.Counts,
		StartedAt:   snap.StartedAt,
		UpdatedAt:   snap.UpdatedAt,
		Reason:      snap.Reason,
		LastReport:  snap.LastReport,
	}
}
