package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/registry"
)

const defaultResponseTimeout = 5 * time.Minute

// UserResponse suspends the path until the attached surface (CLI stdin or an
// interactive websocket client) answers the prompt.
type UserResponse struct {
	engine.Base
}

func (UserResponse) NodeType() string { return diagram.NodeTypeUserResponse }

func (UserResponse) Requires() []string {
	return []string{registry.UserResponder.Name}
}

func (UserResponse) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.UserResponseConfig)
	responder, err := registry.Get(req.Services, registry.UserResponder)
	if err != nil {
		return nil, err
	}

	timeout := defaultResponseTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	prompt := interpolate(cfg.Prompt, mergeScopes(req.Variables, inputs))
	answer, err := responder.Ask(ctx, req.ExecutionID, req.Node.ID, prompt, timeout)
	if err != nil {
		return nil, fmt.Errorf("collect user response: %w", err)
	}
	return answer, nil
}

func (UserResponse) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.Text(result.(string), req.Node.ID, req.ExecutionID), nil
}
