package handlers

import (
	"context"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
)

// Start seeds the execution: it merges the node's custom data over the
// execution variables and emits the result as the first envelope.
type Start struct {
	engine.Base
}

func (Start) NodeType() string { return diagram.NodeTypeStart }

func (Start) Run(_ context.Context, _ map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg, _ := req.Node.Config.(*compile.StartConfig)
	seed := mergeScopes(req.Variables)
	if cfg != nil {
		seed = mergeScopes(req.Variables, cfg.CustomData)
	}
	return seed, nil
}

func (Start) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}
