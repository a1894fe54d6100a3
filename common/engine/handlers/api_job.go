package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/registry"
)

// APIJob performs one outbound HTTP call. URL, headers and body values are
// interpolated against the node's inputs and variables before dispatch.
type APIJob struct {
	engine.Base
}

func (APIJob) NodeType() string { return diagram.NodeTypeAPIJob }

func (APIJob) Requires() []string {
	return []string{registry.APIInvoker.Name}
}

type apiJobResult struct {
	Status  int         `json:"status"`
	Headers interface{} `json:"headers,omitempty"`
	Body    interface{} `json:"body"`
}

func (APIJob) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.APIJobConfig)
	invoker, err := registry.Get(req.Services, registry.APIInvoker)
	if err != nil {
		return nil, err
	}

	scope := mergeScopes(req.Variables, inputs)
	target := interpolate(cfg.URL, scope)
	if len(cfg.Params) > 0 {
		parsed, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse url %q: %w", target, err)
		}
		q := parsed.Query()
		for k, v := range cfg.Params {
			q.Set(k, interpolate(asString(v), scope))
		}
		parsed.RawQuery = q.Encode()
		target = parsed.String()
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = interpolate(v, scope)
	}

	var body []byte
	if cfg.Body != nil {
		rendered := make(map[string]interface{}, len(cfg.Body))
		for k, v := range cfg.Body {
			if s, ok := v.(string); ok {
				rendered[k] = interpolate(s, scope)
			} else {
				rendered[k] = v
			}
		}
		body, err = json.Marshal(rendered)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	res, err := invoker.Invoke(ctx, ports.APIRequest{
		URL:     target,
		Method:  cfg.Method,
		Headers: headers,
		Body:    body,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if res.Status >= 400 {
		return nil, fmt.Errorf("%s %s returned %d: %s", cfg.Method, target, res.Status, truncate(string(res.Body), 200))
	}

	return apiJobResult{
		Status:  res.Status,
		Headers: res.Headers,
		Body:    decodeBody(res),
	}, nil
}

func (APIJob) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}

// decodeBody parses JSON responses and falls back to the raw text.
func decodeBody(res ports.APIResponse) interface{} {
	ct := res.Headers["Content-Type"]
	if strings.Contains(ct, "json") || looksLikeJSON(res.Body) {
		var v interface{}
		if err := json.Unmarshal(res.Body, &v); err == nil {
			return v
		}
	}
	return string(res.Body)
}

func looksLikeJSON(b []byte) bool {
	s := strings.TrimSpace(string(b))
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
