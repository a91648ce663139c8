package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/telemetry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

type staticSource struct {
	snap orchestrator.Snapshot
}

func (s staticSource) Snapshot() orchestrator.Snapshot {
	return s.snap
}

func testSnapshot() orchestrator.Snapshot {
	return orchestrator.Snapshot{
		RunID:       "run-1",
		StartedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC),
		Phase:       orchestrator.PhaseExecute,
		Iteration:   3,
		CurrentItem: "wire",
		Counts:      registry.Counts{Pending: 1, InProgress: 1, Complete: 2, Total: 4},
		Items: []registry.Item{
			{ID: "config", Title: "Parse config", Status: registry.StatusComplete},
			{ID: "docs", Title: "Docs", Status: registry.StatusComplete},
			{ID: "wire", Title: "Wire the loop", Status: registry.StatusInProgress},
			{ID: "polish", Title: "Polish", Status: registry.StatusPending},
		},
		LastReport: &orchestrator.IterationReport{
			Iteration: 2, ItemID: "docs", Success: true, Attempts: 1,
			Cost: trajectory.Cost{Tokens: 1200},
		},
	}
}

func newTestServer(t *testing.T, snap orchestrator.Snapshot, cfg Config) *Server {
	t.Helper()
	s, err := NewServer(staticSource{snap: snap}, nil, cfg)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(nil, nil, Config{})
	require.Error(t, err)

	s := newTestServer(t, orchestrator.Snapshot{}, Config{})
	assert.Equal(t, "127.0.0.1:9191", s.Addr())

	s = newTestServer(t, orchestrator.Snapshot{}, Config{Host: "0.0.0.0", Port: 8080})
	assert.Equal(t, "0.0.0.0:8080", s.Addr())
}

func TestHandleHealth(t *testing.T) {
	rec := get(t, newTestServer(t, testSnapshot(), Config{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleStatus(t *testing.T) {
	finished := testSnapshot()
	finished.Done = true
	finished.Phase = orchestrator.PhaseDone
	finished.Reason = orchestrator.DoneNoReadyItems

	tests := []struct {
		name       string
		snap       orchestrator.Snapshot
		wantStatus string
	}{
		{"starting", orchestrator.Snapshot{RunID: "run-1", Phase: orchestrator.PhaseIdle}, StatusStarting},
		{"running", testSnapshot(), StatusRunning},
		{"finished", finished, StatusFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestServer(t, tt.snap, Config{Version: "1.2.3"}), "/api/v1/status")
			require.Equal(t, http.StatusOK, rec.Code)

			var resp StatusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "1.2.3", resp.Version)
			assert.Equal(t, "run-1", resp.RunID)
			assert.Equal(t, tt.snap.Phase, resp.Phase)
			assert.Equal(t, tt.snap.Counts, resp.Counts)
			assert.Equal(t, tt.snap.Reason, resp.Reason)
		})
	}

	rec := get(t, newTestServer(t, testSnapshot(), Config{}), "/api/v1/status")
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.LastReport)
	assert.Equal(t, "docs", resp.LastReport.ItemID)
	assert.Equal(t, "wire", resp.CurrentItem)
}

func TestHandleItems(t *testing.T) {
	s := newTestServer(t, testSnapshot(), Config{})

	tests := []struct {
		name    string
		target  string
		code    int
		wantIDs []string
	}{
		{"all", "/api/v1/items", http.StatusOK, []string{"config", "docs", "wire", "polish"}},
		{"complete", "/api/v1/items?status=complete", http.StatusOK, []string{"config", "docs"}},
		{"blocked", "/api/v1/items?status=blocked", http.StatusOK, []string{}},
		{"unknown status", "/api/v1/items?status=done", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, s, tt.target)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}

			var resp ItemsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			ids := make([]string, 0, len(resp.Items))
			for _, it := range resp.Items {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t, testSnapshot(), Config{}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `loopd_items{status="complete"} 2`)
	assert.Contains(t, body, `loopd_items{status="pending"} 1`)
	assert.Contains(t, body, `loopd_items{status="blocked"} 0`)
	assert.Contains(t, body, "loopd_iteration 3")
	assert.Contains(t, body, "loopd_run_done 0")
	assert.Contains(t, body, "loopd_last_iteration_tokens 1200")
	assert.Contains(t, body, "go_goroutines")
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	s := newTestServer(t, testSnapshot(), Config{Meter: tel.Meter(instrumentationName)})

	get(t, s, "/health")
	get(t, s, "/api/v1/status")
	rec := get(t, s, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, int64(3), tel.CounterValue(t, "loopd.http.requests_total"))
	assert.Equal(t, uint64(3), tel.HistogramCount(t, "loopd.http.request_duration_seconds"))
}

func TestStartShutdown(t *testing.T) {
	s := newTestServer(t, testSnapshot(), Config{Port: 0})
	s.config.Port = freePort(t)

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.Addr() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errc)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
