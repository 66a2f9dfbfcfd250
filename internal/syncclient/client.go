package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/classcomm/classcomm/internal/sync"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the classcomm-sync server. It implements
// sync.Transport.
type Client struct {
	BaseURL  string
	APIKey   string
	ClientID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, clientID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		ClientID: clientID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Wire types (mirrors internal/api/sync.go, independently defined) ---

// PushRequest is the body for POST /v1/sync/push.
type PushRequest struct {
	ClientID   string           `json:"client_id"`
	Operations []sync.Operation `json:"operations"`
}

// PushResponse is the response from a push request.
type PushResponse struct {
	Results []sync.OpResult `json:"results"`
}

// PullResponse is the response from a pull request.
type PullResponse struct {
	Changes []sync.ChangeEntry `json:"changes"`
	Cursor  int64              `json:"cursor"`
	HasMore bool               `json:"has_more"`
}

// SyncStatusResponse is the response from GET /v1/sync/status.
type SyncStatusResponse struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	ChangeEntries int64  `json:"change_entries"`
	LastSeq       int64  `json:"last_seq"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Push sends pending operations to the server and returns one result
// per operation, in order.
func (c *Client) Push(ctx context.Context, ops []sync.Operation) ([]sync.OpResult, error) {
	req := PushRequest{ClientID: c.ClientID, Operations: ops}
	var resp PushResponse
	if err := c.do(ctx, "POST", "/v1/sync/push", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(ops) {
		return nil, fmt.Errorf("push: got %d results for %d operations", len(resp.Results), len(ops))
	}
	return resp.Results, nil
}

// Pull fetches change-log entries after the given cursor.
func (c *Client) Pull(ctx context.Context, after int64, clientID string, limit int) (*sync.PullResult, error) {
	params := url.Values{}
	params.Set("after", strconv.FormatInt(after, 10))
	params.Set("limit", strconv.Itoa(limit))
	if clientID != "" {
		params.Set("client_id", clientID)
	}

	var resp PullResponse
	if err := c.do(ctx, "GET", "/v1/sync/pull?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &sync.PullResult{
		Changes: resp.Changes,
		Cursor:  resp.Cursor,
		HasMore: resp.HasMore,
	}, nil
}

// SyncStatus gets the server-side sync status for the authenticated user.
func (c *Client) SyncStatus(ctx context.Context) (*SyncStatusResponse, error) {
	var resp SyncStatusResponse
	if err := c.do(ctx, "GET", "/v1/sync/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// errorEnvelope matches the server's error wrapper.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Code != "" {
			apiErr := env.Error
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
			default:
				return &apiErr
			}
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
