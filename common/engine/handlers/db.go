package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/registry"
)

// DB reads, writes or appends workspace files in json or text format. The
// node name is historical; the backing store is the filesystem adapter.
type DB struct {
	engine.Base
}

func (DB) NodeType() string { return diagram.NodeTypeDB }

func (DB) Requires() []string {
	return []string{registry.FileSystemAdapter.Name}
}

func (DB) Validate(req *engine.Request) error {
	cfg, ok := req.Node.Config.(*compile.DBConfig)
	if !ok {
		return fmt.Errorf("node %s has no db config", req.Node.ID)
	}
	if cfg.File == "" {
		return fmt.Errorf("db %s has no file", req.Node.ID)
	}
	return nil
}

func (DB) Run(_ context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.DBConfig)
	fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
	if err != nil {
		return nil, err
	}

	path := interpolate(cfg.File, mergeScopes(req.Variables, inputs))

	switch cfg.Operation {
	case "read":
		data, err := fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", path, err)
		}
		if cfg.Format == "json" {
			var v interface{}
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("decode %q: %w", path, err)
			}
			return v, nil
		}
		return string(data), nil

	case "write", "append":
		value, ok := inputs["default"]
		if !ok && len(inputs) == 1 {
			for _, v := range inputs {
				value = v
			}
		}
		data, err := encodeDBValue(value, cfg.Format)
		if err != nil {
			return nil, err
		}
		if cfg.Operation == "append" {
			err = fs.AppendFile(path, data)
		} else {
			err = fs.WriteFile(path, data)
		}
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", cfg.Operation, path, err)
		}
		return map[string]interface{}{"file": path, "bytes": len(data)}, nil

	default:
		return nil, fmt.Errorf("unknown db operation %q", cfg.Operation)
	}
}

func (DB) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	if s, ok := result.(string); ok {
		return envelope.Text(s, req.Node.ID, req.ExecutionID), nil
	}
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}

func encodeDBValue(value interface{}, format string) ([]byte, error) {
	if format == "json" {
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		return data, nil
	}
	return []byte(asString(value) + "\n"), nil
}
