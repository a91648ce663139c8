package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	loophttp "github.com/fyrsmithlabs/loopd/internal/http"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

func newTestModel() Model {
	return NewModel(NewStatusClient("http://127.0.0.1:9191"), 2*time.Second)
}

func status(runID string, iteration int, report *orchestrator.IterationReport) statusMsg {
	return statusMsg(loophttp.StatusResponse{
		Status:      loophttp.StatusRunning,
		RunID:       runID,
		Phase:       orchestrator.PhaseExecute,
		Iteration:   iteration,
		CurrentItem: "wire-loop",
		Counts:      registry.Counts{Pending: 2, Complete: 1, Total: 3},
		StartedAt:   time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC),
		LastReport:  report,
	})
}

func report(iteration int, itemID string, success bool, tokens int) *orchestrator.IterationReport {
	r := &orchestrator.IterationReport{
		Iteration: iteration,
		ItemID:    itemID,
		Success:   success,
		Cost:      trajectory.Cost{Tokens: tokens},
	}
	if !success {
		r.FailureReason = "gates failed: test (exit status 1)"
	}
	return r
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModel_Init(t *testing.T) {
	assert.NotNil(t, newTestModel().Init())
}

func TestModel_Update_Keys(t *testing.T) {
	m := newTestModel()

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	assert.False(t, next.(Model).quitting)
	assert.NotNil(t, cmd)

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, next.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, next.(Model).View())
}

func TestModel_Update_Tick(t *testing.T) {
	_, cmd := newTestModel().Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestModel_Update_Status(t *testing.T) {
	m := newTestModel()

	m = update(t, m, status("run-1", 1, report(1, "load-manifest", true, 1200)))
	m = update(t, m, status("run-1", 1, report(1, "load-manifest", true, 1200)))
	assert.Equal(t, []float64{1200}, m.tokenHistory, "the same report is counted once")

	m = update(t, m, status("run-1", 2, report(2, "wire-loop", false, 3400)))
	assert.Equal(t, []float64{1200, 3400}, m.tokenHistory)
	require.Len(t, m.recent, 2)
	assert.Equal(t, "wire-loop", m.recent[1].ItemID)
	assert.True(t, m.haveStatus)
	assert.False(t, m.lastUpdate.IsZero())

	view := m.View()
	assert.Contains(t, view, "run-1")
	assert.Contains(t, view, "RUNNING")
	assert.Contains(t, view, "1/3")
	assert.Contains(t, view, "wire-loop")
	assert.Contains(t, view, "gates failed")
	assert.Contains(t, view, "3.4K")

	t.Run("new run resets history", func(t *testing.T) {
		m := update(t, m, status("run-2", 1, report(1, "other", true, 10)))
		assert.Equal(t, []float64{10}, m.tokenHistory)
		require.Len(t, m.recent, 1)
		assert.Equal(t, "other", m.recent[0].ItemID)
	})
}

func TestModel_RecentIsBounded(t *testing.T) {
	m := newTestModel()
	for i := 1; i <= recentSize+3; i++ {
		m = update(t, m, status("run-1", i, report(i, "item", true, i)))
	}
	assert.Len(t, m.recent, recentSize)
	assert.Equal(t, recentSize+3, m.recent[recentSize-1].Iteration)
}

func TestModel_Update_Error(t *testing.T) {
	m := update(t, newTestModel(), errMsg(errors.New("connection refused")))
	view := m.View()
	assert.Contains(t, view, "Cannot reach the status server")
	assert.Contains(t, view, "connection refused")

	m = update(t, m, status("run-1", 0, nil))
	assert.Nil(t, m.err)
	assert.NotContains(t, m.View(), "Cannot reach")
}

func TestModel_View_Connecting(t *testing.T) {
	assert.Contains(t, newTestModel().View(), "connecting to http://127.0.0.1:9191")
}

func TestStatusBadge(t *testing.T) {
	tests := []struct {
		status loophttp.StatusResponse
		want   string
	}{
		{loophttp.StatusResponse{Status: loophttp.StatusStarting}, "STARTING"},
		{loophttp.StatusResponse{Status: loophttp.StatusRunning}, "RUNNING"},
		{loophttp.StatusResponse{Status: loophttp.StatusFinished, Reason: orchestrator.DoneNoReadyItems}, "FINISHED"},
		{loophttp.StatusResponse{Status: loophttp.StatusFinished, Reason: orchestrator.DonePersistence}, "HALTED"},
		{loophttp.StatusResponse{Status: loophttp.StatusFinished, Reason: orchestrator.DoneError}, "HALTED"},
		{loophttp.StatusResponse{Status: loophttp.StatusFinished, Reason: orchestrator.DoneStopped}, "FINISHED"},
	}
	for _, tt := range tests {
		assert.Contains(t, statusBadge(tt.status), tt.want)
	}
}

func TestAppendToHistory(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}
