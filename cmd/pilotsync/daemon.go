package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/user/pilotsync/internal/config"
	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/types"
)

// errDaemonDown is returned when the daemon's control API cannot be reached.
var errDaemonDown = errors.New("daemon not reachable")

// daemonClient calls the control API of a running `pilotsync serve`.
type daemonClient struct {
	baseURL    string
	httpClient *http.Client
}

func newDaemonClient(cfg *config.Config) *daemonClient {
	return &daemonClient{
		baseURL:    "http://" + cfg.HTTP.Listen,
		httpClient: &http.Client{Timeout: cfg.Timeout() + 5*time.Second},
	}
}

// daemonError is a non-2xx answer from the control API. View is set when
// the daemon attached the view state to the failure.
type daemonError struct {
	Status  int
	Message string
	View    *pilot.Snapshot
}

func (e *daemonError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

func (c *daemonClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errDaemonDown, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var payload struct {
			Error string          `json:"error"`
			View  *pilot.Snapshot `json:"view"`
		}
		_ = json.Unmarshal(data, &payload)
		msg := payload.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &daemonError{Status: resp.StatusCode, Message: msg, View: payload.View}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func viewPath(canvasID types.CanvasID, suffix string) string {
	return "/api/views/" + url.PathEscape(string(canvasID)) + suffix
}

func (c *daemonClient) Views(ctx context.Context) ([]pilot.Snapshot, error) {
	var snaps []pilot.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/views", nil, &snaps)
	return snaps, err
}

func (c *daemonClient) Refresh(ctx context.Context, canvasID types.CanvasID) (*pilot.Snapshot, error) {
	var snap pilot.Snapshot
	if err := c.do(ctx, http.MethodPost, viewPath(canvasID, "/refresh"), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *daemonClient) Watch(ctx context.Context, canvasID types.CanvasID, sessionID types.SessionID) error {
	body := map[string]types.SessionID{"session_id": sessionID}
	return c.do(ctx, http.MethodPut, viewPath(canvasID, ""), body, nil)
}

func (c *daemonClient) Unwatch(ctx context.Context, canvasID types.CanvasID) error {
	return c.do(ctx, http.MethodDelete, viewPath(canvasID, ""), nil, nil)
}

func (c *daemonClient) SelectStep(ctx context.Context, canvasID types.CanvasID, stepID types.StepID) error {
	return c.do(ctx, http.MethodPost, viewPath(canvasID, "/steps/"+url.PathEscape(string(stepID))+"/select"), nil, nil)
}
