package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/registry"
)

// CodeJob evaluates an inline expression against the node's inputs and the
// execution variables. Expressions are CEL; a file_path loads the source from
// the workspace instead of the inline code field.
type CodeJob struct {
	engine.Base
	eval *Evaluator
}

// NewCodeJob shares the expression cache with the condition handler.
func NewCodeJob(eval *Evaluator) *CodeJob {
	if eval == nil {
		eval = NewEvaluator()
	}
	return &CodeJob{eval: eval}
}

func (*CodeJob) NodeType() string { return diagram.NodeTypeCodeJob }

func (*CodeJob) Validate(req *engine.Request) error {
	cfg, ok := req.Node.Config.(*compile.CodeJobConfig)
	if !ok {
		return fmt.Errorf("node %s has no code_job config", req.Node.ID)
	}
	if cfg.Code == "" && cfg.FilePath == "" {
		return fmt.Errorf("code_job %s has neither code nor file_path", req.Node.ID)
	}
	return nil
}

func (c *CodeJob) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.CodeJobConfig)

	source := cfg.Code
	if source == "" {
		fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
		if err != nil {
			return nil, err
		}
		data, err := fs.ReadFile(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("load code from %q: %w", cfg.FilePath, err)
		}
		source = string(data)
	}

	result, err := c.eval.Eval(source, inputs, req.Variables)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return result, nil
}

func (*CodeJob) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	if s, ok := result.(string); ok {
		return envelope.Text(s, req.Node.ID, req.ExecutionID), nil
	}
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}
