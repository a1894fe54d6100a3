package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/registry"
)

const defaultHookTimeout = 30 * time.Second

// Hook fires a side effect: a shell command fed the inputs as JSON on stdin,
// or an HTTP POST carrying them as the body.
type Hook struct {
	engine.Base
}

func (Hook) NodeType() string { return diagram.NodeTypeHook }

func (Hook) Validate(req *engine.Request) error {
	cfg, ok := req.Node.Config.(*compile.HookConfig)
	if !ok {
		return fmt.Errorf("node %s has no hook config", req.Node.ID)
	}
	switch cfg.HookType {
	case "shell":
		if cfg.Command == "" {
			return fmt.Errorf("shell hook %s has no command", req.Node.ID)
		}
	case "http":
		if cfg.URL == "" {
			return fmt.Errorf("http hook %s has no url", req.Node.ID)
		}
	}
	return nil
}

func (Hook) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.HookConfig)

	timeout := defaultHookTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encode hook payload: %w", err)
	}

	switch cfg.HookType {
	case "shell":
		return runShellHook(ctx, cfg, payload, timeout, req)
	case "http":
		return runHTTPHook(ctx, cfg, payload, timeout, req)
	default:
		return nil, fmt.Errorf("unknown hook_type %q", cfg.HookType)
	}
}

func runShellHook(ctx context.Context, cfg *compile.HookConfig, payload []byte, timeout time.Duration, req *engine.Request) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := interpolate(cfg.Command, mergeScopes(req.Variables))
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("hook command failed: %w: %s", err, truncate(stderr.String(), 200))
	}

	out := strings.TrimSpace(stdout.String())
	if looksLikeJSON([]byte(out)) {
		var v interface{}
		if err := json.Unmarshal([]byte(out), &v); err == nil {
			return v, nil
		}
	}
	return out, nil
}

func runHTTPHook(ctx context.Context, cfg *compile.HookConfig, payload []byte, timeout time.Duration, req *engine.Request) (interface{}, error) {
	invoker, err := registry.Get(req.Services, registry.APIInvoker)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"

	res, err := invoker.Invoke(ctx, ports.APIRequest{
		URL:     cfg.URL,
		Method:  "POST",
		Headers: headers,
		Body:    payload,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if res.Status >= 400 {
		return nil, fmt.Errorf("hook POST %s returned %d", cfg.URL, res.Status)
	}
	return decodeBody(res), nil
}

func (Hook) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	if s, ok := result.(string); ok {
		return envelope.Text(s, req.Node.ID, req.ExecutionID), nil
	}
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}
