package pilotapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/pilotsync/internal/types"
)

// DefaultListLimit is the number of sessions listed when no limit is given.
const DefaultListLimit = 10

// Config holds connection settings for the pilot API.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Retry applies to idempotent reads only. Nil disables retries.
	Retry *RetryPolicy
}

var (
	_ types.SessionFetcher = (*Client)(nil)
	_ types.ActionInvoker  = (*Client)(nil)
)

// Client talks to the pilot session service and the action service. It
// implements types.SessionFetcher and types.ActionInvoker.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// New creates a new pilot API client with the given configuration.
func New(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a failed call, either a non-2xx status or an envelope with
// success=false.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pilot API error (status %d, code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("pilot API error (status %d): %s", e.Status, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// envelope is the common response wrapper of the pilot API.
type envelope struct {
	Success bool            `json:"success"`
	ErrCode string          `json:"errCode,omitempty"`
	ErrMsg  string          `json:"errMsg,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// invokeRequest is the action invocation request body.
type invokeRequest struct {
	Input         types.ActionInput `json:"input"`
	ResultID      types.ResultID    `json:"resultId"`
	ActionMeta    *types.ActionMeta `json:"actionMeta,omitempty"`
	ModelInfo     json.RawMessage   `json:"modelInfo,omitempty"`
	TplConfig     json.RawMessage   `json:"tplConfig,omitempty"`
	RuntimeConfig json.RawMessage   `json:"runtimeConfig,omitempty"`
	Target        types.Target      `json:"target"`
}

// FetchSession loads the session detail. A null data payload means the
// session does not exist yet and is returned as (nil, nil).
func (c *Client) FetchSession(ctx context.Context, id types.SessionID) (*types.Session, error) {
	q := url.Values{}
	q.Set("sessionId", string(id))

	var session *types.Session
	err := c.retry(ctx, func() error {
		data, err := c.do(ctx, http.MethodGet, "/pilot/session/detail", q, nil)
		if err != nil {
			return err
		}
		session, err = decodeData[types.Session](data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns the most recent sessions attached to a target, newest
// first as ordered by the service.
func (c *Client) ListSessions(ctx context.Context, targetID, targetType string, limit int) ([]*types.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	q := url.Values{}
	q.Set("targetId", targetID)
	q.Set("targetType", targetType)
	q.Set("page", "1")
	q.Set("pageSize", strconv.Itoa(limit))

	var sessions []*types.SessionSummary
	err := c.retry(ctx, func() error {
		data, err := c.do(ctx, http.MethodGet, "/pilot/session/list", q, nil)
		if err != nil {
			return err
		}
		list, err := decodeData[[]*types.SessionSummary](data)
		if err != nil {
			return err
		}
		sessions = nil
		if list != nil {
			sessions = *list
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*types.SessionSummary{}
	}
	return sessions, nil
}

// InvokeAction starts the action for a result. It is never retried: the
// action service is not idempotent.
func (c *Client) InvokeAction(ctx context.Context, req *types.InvokeRequest) error {
	body := invokeRequest{
		Input:         types.ActionInput{Query: req.Query},
		ResultID:      req.ResultID,
		ActionMeta:    req.SelectedSkill,
		ModelInfo:     req.ModelInfo,
		TplConfig:     req.TplConfig,
		RuntimeConfig: req.RuntimeConfig,
		Target:        req.Target,
	}
	_, err := c.do(ctx, http.MethodPost, "/action/invoke", nil, body)
	return err
}

func (c *Client) retry(ctx context.Context, fn func() error) error {
	if c.config.Retry == nil {
		return fn()
	}
	return c.config.Retry.Execute(ctx, fn)
}

// do sends one request and returns the envelope data on success.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if !env.Success {
		return nil, &APIError{Status: resp.StatusCode, Code: env.ErrCode, Message: env.ErrMsg}
	}
	return env.Data, nil
}

// decodeData unmarshals envelope data, mapping absent or null data to nil.
func decodeData[T any](data json.RawMessage) (*T, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing data: %w", err)
	}
	return &v, nil
}
