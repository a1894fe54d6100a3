package ports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dipeo/dipeo/common/logger"
)

const (
	defaultInvokeTimeout = 30 * time.Second
	maxResponseBytes     = 10 << 20 // 10 MiB
)

// HTTPInvoker is the net/http-backed APIInvoker.
type HTTPInvoker struct {
	client *http.Client
	log    *logger.Logger
}

// NewHTTPInvoker wraps an http.Client; a nil client gets a default with the
// standard invoke timeout.
func NewHTTPInvoker(client *http.Client, log *logger.Logger) *HTTPInvoker {
	if client == nil {
		client = &http.Client{Timeout: defaultInvokeTimeout}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &HTTPInvoker{client: client, log: log}
}

// Invoke performs the request. Per-request timeouts layer on top of the
// client's own via context.
func (i *HTTPInvoker) Invoke(ctx context.Context, req APIRequest) (APIResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return APIResponse{}, fmt.Errorf("ports: build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := i.client.Do(httpReq)
	if err != nil {
		return APIResponse{}, fmt.Errorf("ports: %s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return APIResponse{}, fmt.Errorf("ports: read response: %w", err)
	}

	i.log.Debug("api call completed",
		"method", method,
		"url", req.URL,
		"status", resp.StatusCode,
		"duration", time.Since(started))

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return APIResponse{Status: resp.StatusCode, Headers: headers, Body: data}, nil
}
