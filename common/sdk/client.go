package sdk

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

	"github.com/gorilla/websocket"

	"github.com/dipeo/dipeo/common/events"
	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// Client talks to the execution server API. Used by the CLI and usable as a
// Go SDK by external tools.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// ClientOpts configures a Client.
type ClientOpts struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates an API client for the given base URL, e.g.
// "http://localhost:8080".
func NewClient(opts ClientOpts) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: opts.Timeout},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Execute starts an execution and returns its ID.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (ids.ExecutionID, error) {
	var resp ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/executions", req, &resp); err != nil {
		return "", err
	}
	return ids.ExecutionID(resp.ExecutionID), nil
}

// Control applies a control action to an execution.
func (c *Client) Control(ctx context.Context, execID ids.ExecutionID, action, nodeID string) error {
	path := fmt.Sprintf("/api/v1/executions/%s/control", execID)
	return c.do(ctx, http.MethodPost, path, &ControlRequest{Action: action, NodeID: nodeID}, nil)
}

// GetExecution fetches the current state of an execution.
func (c *Client) GetExecution(ctx context.Context, execID ids.ExecutionID) (*execution.State, error) {
	var st execution.State
	path := fmt.Sprintf("/api/v1/executions/%s", execID)
	if err := c.do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListExecutions fetches execution summaries, optionally filtered by status.
func (c *Client) ListExecutions(ctx context.Context, status string, limit, offset int) ([]*execution.State, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []*execution.State
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadDiagram stores a diagram on the server.
func (c *Client) UploadDiagram(ctx context.Context, req *UploadDiagramRequest) (*UploadDiagramResponse, error) {
	var resp UploadDiagramResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/diagrams", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Watch subscribes to an execution's event stream over a websocket and
// invokes handler for every frame. lastSeq > 0 requests cold replay of
// retained events after that sequence. Watch returns nil once a terminal
// execution event arrives, or ctx.Err() on cancellation.
func (c *Client) Watch(ctx context.Context, execID ids.ExecutionID, lastSeq int64, handler func(EventFrame) error) error {
	wsURL, err := c.wsURL(execID, lastSeq)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("sdk: dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sdk: read event stream: %w", err)
		}

		var frame EventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("sdk: decode event frame: %w", err)
		}
		if handler != nil {
			if err := handler(frame); err != nil {
				return err
			}
		}
		if events.Type(frame.EventType).ExecutionTerminal() {
			return nil
		}
	}
}

func (c *Client) wsURL(execID ids.ExecutionID, lastSeq int64) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("sdk: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("/ws/executions/%s", execID)
	if lastSeq > 0 {
		u.RawQuery = "last_seq=" + strconv.FormatInt(lastSeq, 10)
	}
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("sdk: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("sdk: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sdk: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Message != "" {
				return fmt.Errorf("sdk: %s %s: %s: %s", method, path, apiErr.Error, apiErr.Message)
			}
			return fmt.Errorf("sdk: %s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("sdk: %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sdk: decode response: %w", err)
	}
	return nil
}
