// Package autotrader is a Go client for the autotrader control plane.
package autotrader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autotrader/internal/engine"
	"autotrader/internal/performance"
)

// ErrCycleInProgress is returned by RunCycle when the server is already
// running a cycle.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Client provides a Go SDK for interacting with the autotrader-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new autotrader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("autotrader api: %d %s", e.StatusCode, e.Message)
}

// Status returns the engine status.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var st engine.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RunCycle triggers one trading cycle and returns its result.
func (c *Client) RunCycle(ctx context.Context) (*engine.CycleResult, error) {
	var res engine.CycleResult
	err := c.do(ctx, http.MethodPost, "/api/v1/cycle", &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("%w: %s", ErrCycleInProgress, apiErr.Message)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// EmergencyStop halts trading and flattens positions. A partial failure
// returns the result together with an error.
func (c *Client) EmergencyStop(ctx context.Context) (*engine.StopResult, error) {
	var body struct {
		engine.StopResult
		Error string `json:"error"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/emergency-stop", &body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadGateway {
		return &body.StopResult, apiErr
	}
	if err != nil {
		return nil, err
	}
	return &body.StopResult, nil
}

// ResetRisk returns the circuit breaker to ACTIVE.
func (c *Client) ResetRisk(ctx context.Context) (*engine.RiskState, error) {
	var st engine.RiskState
	if err := c.do(ctx, http.MethodPost, "/api/v1/risk/reset", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Performance returns today's performance snapshot.
func (c *Client) Performance(ctx context.Context) (*performance.Snapshot, error) {
	var snap performance.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/performance", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do sends a bodiless request and decodes the JSON response into out. Error
// responses still decode into out so partial results are not lost.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
