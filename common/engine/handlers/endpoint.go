package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/ports"
	"github.com/dipeo/dipeo/common/registry"
)

// Endpoint terminates a path: it forwards its input unchanged and optionally
// writes the value to a file.
type Endpoint struct {
	engine.Base
}

func (Endpoint) NodeType() string { return diagram.NodeTypeEndpoint }

// PreExecute forwards the single input envelope untouched; the save-to-file
// side effect happens here so the original envelope survives verbatim.
func (Endpoint) PreExecute(_ context.Context, req *engine.Request) (*envelope.Envelope, error) {
	cfg, _ := req.Node.Config.(*compile.EndpointConfig)

	var out *envelope.Envelope
	switch len(req.Inputs) {
	case 0:
		out = envelope.Text("", req.Node.ID, req.ExecutionID)
	case 1:
		for _, env := range req.Inputs {
			out = env
		}
	default:
		merged := make(map[string]interface{}, len(req.Inputs))
		for label, env := range req.Inputs {
			value, err := env.Value()
			if err != nil {
				return nil, fmt.Errorf("decode input %q: %w", label, err)
			}
			merged[label] = value
		}
		env, err := envelope.JSON(merged, req.Node.ID, req.ExecutionID)
		if err != nil {
			return nil, err
		}
		out = env
	}

	if cfg != nil && cfg.SaveToFile && cfg.FilePath != "" {
		fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
		if err != nil {
			return nil, err
		}
		if err := saveEnvelope(fs, cfg.FilePath, out); err != nil {
			return nil, fmt.Errorf("save result to %q: %w", cfg.FilePath, err)
		}
	}
	return out, nil
}

// Run satisfies engine.Handler; it is unreachable because PreExecute always
// returns a non-nil envelope, which short-circuits the remaining phases.
func (Endpoint) Run(context.Context, map[string]interface{}, *engine.Request) (interface{}, error) {
	return nil, nil
}

// SerializeOutput satisfies engine.Handler; unreachable for the same reason
// as Run.
func (Endpoint) SerializeOutput(interface{}, *engine.Request) (*envelope.Envelope, error) {
	return nil, nil
}

func saveEnvelope(fs ports.FileSystem, path string, env *envelope.Envelope) error {
	if env.ContentType == envelope.ContentText {
		text, err := env.AsText()
		if err != nil {
			return err
		}
		return fs.WriteFile(path, []byte(text))
	}
	value, err := env.Value()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFile(path, data)
}
