package handlers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
)

// IRBuilder normalizes its input into a uniform intermediate-representation
// document used by downstream codegen diagrams: a typed header plus the
// source payload with deterministic key ordering metadata.
type IRBuilder struct {
	engine.Base
}

func (IRBuilder) NodeType() string { return diagram.NodeTypeIRBuilder }

func (IRBuilder) Run(_ context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.IRBuilderConfig)

	value, ok := inputs["default"]
	if !ok {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("ir_builder %s needs exactly one input, got %d", req.Node.ID, len(inputs))
		}
		for _, v := range inputs {
			value = v
		}
	}

	doc := map[string]interface{}{
		"ir_version":   1,
		"builder_type": orDefault(cfg.BuilderType, "generic"),
		"source_type":  orDefault(cfg.SourceType, "json"),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"body":         value,
	}
	if m, ok := value.(map[string]interface{}); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc["keys"] = keys
	}
	return doc, nil
}

func (IRBuilder) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
