// Package transport provides the HTTP client for the remote sync endpoint.
// Response status classes are surfaced as typed errors the sync engine's
// state machine switches on.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusError carries a non-2xx response status and body.
type StatusError struct {
	Code int
	Body []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("sync endpoint returned %d", e.Code)
}

// IsAuth reports a 401/403 response.
func (e *StatusError) IsAuth() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// IsConflict reports a 409 response.
func (e *StatusError) IsConflict() bool {
	return e.Code == http.StatusConflict
}

// IsRetryable reports a server-side (5xx) failure.
func (e *StatusError) IsRetryable() bool {
	return e.Code >= 500
}

// PushOp is the wire shape of one outbox operation.
type PushOp struct {
	OpID      string          `json:"opId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
}

// TokenFunc supplies the bearer token for each request.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote sync endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   TokenFunc
}

// NewClient creates a Client. A nil httpClient gets a 30s-timeout default;
// that transport timeout is the only cancellation mechanism for stuck calls.
func NewClient(baseURL string, token TokenFunc, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    httpClient,
		Token:   token,
	}
}

// Push sends one outbox operation to POST /api/sync.
func (c *Client) Push(ctx context.Context, op PushOp) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode push op: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, c.BaseURL+"/api/sync", body)
	return err
}

// Pull fetches the remote collection for one resource via
// GET /api/sync/{resource}. The response body is a JSON array of records.
func (c *Client) Pull(ctx context.Context, resource string) ([]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, c.BaseURL+"/api/sync/"+resource, nil)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s records: %w", resource, err)
	}
	return records, nil
}

// PushResource uploads one record via PUT /api/sync/{resource}, used when
// reconciliation pushes merge results back to the server.
func (c *Client) PushResource(ctx context.Context, resource string, record interface{}) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", resource, err)
	}
	_, err = c.do(ctx, http.MethodPut, c.BaseURL+"/api/sync/"+resource, body)
	return err
}

// do performs one request, attaching credentials and classifying the
// response status.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}
