package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	loophttp "github.com/fyrsmithlabs/loopd/internal/http"
)

// StatusClient reads the status endpoint of a running loop.
type StatusClient struct {
	baseURL string
	client  *http.Client
}

// NewStatusClient creates a client for the status server at baseURL,
// such as http://127.0.0.1:9191.
func NewStatusClient(baseURL string) *StatusClient {
	return &StatusClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// BaseURL returns the status server URL.
func (c *StatusClient) BaseURL() string {
	return c.baseURL
}

// Status fetches GET /api/v1/status.
func (c *StatusClient) Status(ctx context.Context) (loophttp.StatusResponse, error) {
	u, err := url.JoinPath(c.baseURL, "/api/v1/status")
	if err != nil {
		return loophttp.StatusResponse{}, fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return loophttp.StatusResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return loophttp.StatusResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return loophttp.StatusResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var status loophttp.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return loophttp.StatusResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return status, nil
}
