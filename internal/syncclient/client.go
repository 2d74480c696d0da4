package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the stockly reconciliation endpoint.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Wire types (mirrors internal/api/sync.go, independently defined) ---

// ChangeRequest is the body for POST /v1/sync/{table}.
type ChangeRequest struct {
	Operation       string          `json:"operation"`
	ID              int64           `json:"id"`
	Data            json.RawMessage `json:"data"`
	BaseVersion     int64           `json:"base_version"`
	ClientTimestamp string          `json:"client_timestamp"`
	IdempotencyKey  string          `json:"idempotency_key"`
	DeviceID        string          `json:"device_id,omitempty"`
}

// ChangeResponse is the server's acknowledgement of an applied change.
type ChangeResponse struct {
	Success      bool            `json:"success"`
	ID           int64           `json:"id"`
	Version      int64           `json:"version"`
	LastModified string          `json:"last_modified"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// EntityVersion is the server's current copy of one entity.
type EntityVersion struct {
	ID           int64           `json:"id"`
	Version      int64           `json:"version"`
	LastModified string          `json:"last_modified"`
	Data         json.RawMessage `json:"data"`
}

// Modified parses LastModified; the zero time when absent or malformed.
func (e *EntityVersion) Modified() time.Time {
	return parseTime(e.LastModified)
}

// BatchChange is one change inside a batch request.
type BatchChange struct {
	Table           string          `json:"table"`
	Operation       string          `json:"operation"`
	RecordID        int64           `json:"record_id"`
	Data            json.RawMessage `json:"data"`
	BaseVersion     int64           `json:"base_version"`
	ClientTimestamp string          `json:"client_timestamp"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

// BatchRequest is the body for POST /v1/sync/batch.
type BatchRequest struct {
	DeviceID string        `json:"device_id,omitempty"`
	Changes  []BatchChange `json:"changes"`
}

// BatchResult is the outcome of one change in a batch, in request order.
type BatchResult struct {
	Table        string          `json:"table"`
	Operation    string          `json:"operation"`
	RecordID     int64           `json:"record_id"`
	Success      bool            `json:"success"`
	ID           int64           `json:"id,omitempty"`
	Version      int64           `json:"version,omitempty"`
	LastModified string          `json:"last_modified,omitempty"`
	Code         string          `json:"code,omitempty"`
	Error        string          `json:"error,omitempty"`
	Server       *EntityVersion  `json:"server,omitempty"`
	Exists       bool            `json:"exists,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Batch result codes for failed items.
const (
	CodeConflict = "conflict"
	CodeRejected = "rejected"
	CodeInternal = "internal"
)

// BatchResponse is the response from POST /v1/sync/batch.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// TableResponse is the response from GET /v1/sync/{table}.
type TableResponse struct {
	Table      string          `json:"table"`
	Rows       []EntityVersion `json:"rows"`
	ServerTime string          `json:"server_time"`
}

// StatusResponse is the response from GET /v1/sync/status.
type StatusResponse struct {
	Status     string         `json:"status"`
	Tenant     string         `json:"tenant"`
	ServerTime string         `json:"server_time"`
	Tables     map[string]int `json:"tables"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, "GET", "/healthz", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status probes the sync endpoint with the configured credentials.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, "GET", "/v1/sync/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Push sends a single change. A 409 comes back as *ConflictError.
func (c *Client) Push(ctx context.Context, table string, req *ChangeRequest) (*ChangeResponse, error) {
	if req.DeviceID == "" {
		req.DeviceID = c.DeviceID
	}
	var resp ChangeResponse
	if err := c.do(ctx, "POST", "/v1/sync/"+table, req, &resp); err != nil {
		return nil, withTable(err, table, req.ID)
	}
	return &resp, nil
}

// PushBatch sends several changes at once. Per-item failures are reported in
// the results; only a failure of the whole request returns an error.
func (c *Client) PushBatch(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	if req.DeviceID == "" {
		req.DeviceID = c.DeviceID
	}
	var resp BatchResponse
	if err := c.do(ctx, "POST", "/v1/sync/batch", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(req.Changes) {
		return nil, fmt.Errorf("batch: got %d results for %d changes", len(resp.Results), len(req.Changes))
	}
	return &resp, nil
}

// PullTable fetches every current row of table.
func (c *Client) PullTable(ctx context.Context, table string) (*TableResponse, error) {
	var resp TableResponse
	if err := c.do(ctx, "GET", "/v1/sync/"+table, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchEntity returns the server's copy of one entity, or ErrNotFound.
func (c *Client) FetchEntity(ctx context.Context, table string, id int64) (*EntityVersion, error) {
	var resp EntityVersion
	if err := c.do(ctx, "GET", fmt.Sprintf("/v1/sync/%s/%d", table, id), nil, &resp); err != nil {
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

type errorBody struct {
	Error  apiError       `json:"error"`
	Server *EntityVersion `json:"server,omitempty"`
	Exists bool           `json:"exists"`
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
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
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Op: method + " " + path, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return classify(method+" "+path, resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// classify maps an error response onto the client's error taxonomy.
func classify(op string, status int, body []byte) error {
	var eb errorBody
	parsed := json.Unmarshal(body, &eb) == nil && eb.Error.Code != ""
	msg := strings.TrimSpace(string(body))
	if parsed {
		msg = eb.Error.Message
	}

	switch {
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return &TransientError{Op: op, Status: status, Err: fmt.Errorf("HTTP %d: %s", status, msg)}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case status == http.StatusConflict:
		return &ConflictError{Server: eb.Server, Exists: eb.Exists && eb.Server != nil, Message: msg}
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	code := ""
	if parsed {
		code = eb.Error.Code
	}
	return &RejectedError{Status: status, Code: code, Message: msg}
}

func withTable(err error, table string, id int64) error {
	var ce *ConflictError
	if errors.As(err, &ce) {
		ce.Table = table
		ce.ID = id
	}
	return err
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
