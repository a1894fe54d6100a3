package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/registry"
)

// DiffPatch applies an RFC 6902 json patch or an RFC 7386 merge patch to a
// target document. The target comes from the default input or a workspace
// file; the patch arrives on the patch input.
type DiffPatch struct {
	engine.Base
}

func (DiffPatch) NodeType() string { return diagram.NodeTypeDiffPatch }

func (DiffPatch) Run(_ context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.DiffPatchConfig)

	target, err := diffPatchTarget(cfg, inputs, req)
	if err != nil {
		return nil, err
	}
	patchValue, ok := inputs["patch"]
	if !ok {
		return nil, fmt.Errorf("diff_patch %s received no patch input", req.Node.ID)
	}
	patchRaw, err := json.Marshal(patchValue)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	var patched []byte
	switch cfg.Format {
	case "jsonpatch":
		patch, err := jsonpatch.DecodePatch(patchRaw)
		if err != nil {
			return nil, fmt.Errorf("decode json patch: %w", err)
		}
		patched, err = patch.Apply(target)
		if err != nil {
			return nil, fmt.Errorf("apply json patch: %w", err)
		}
	case "merge":
		patched, err = jsonpatch.MergePatch(target, patchRaw)
		if err != nil {
			return nil, fmt.Errorf("apply merge patch: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown patch format %q", cfg.Format)
	}

	if cfg.TargetPath != "" {
		fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
		if err != nil {
			return nil, err
		}
		if err := fs.WriteFile(cfg.TargetPath, patched); err != nil {
			return nil, fmt.Errorf("write patched %q: %w", cfg.TargetPath, err)
		}
	}

	var result interface{}
	if err := json.Unmarshal(patched, &result); err != nil {
		return nil, fmt.Errorf("decode patched document: %w", err)
	}
	return result, nil
}

func (DiffPatch) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}

// diffPatchTarget loads the document being patched: default input first,
// target_path file second.
func diffPatchTarget(cfg *compile.DiffPatchConfig, inputs map[string]interface{}, req *engine.Request) ([]byte, error) {
	if value, ok := inputs["default"]; ok {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode target: %w", err)
		}
		return raw, nil
	}
	if cfg.TargetPath == "" {
		return nil, fmt.Errorf("diff_patch %s has no target input and no target_path", req.Node.ID)
	}
	fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(cfg.TargetPath)
	if err != nil {
		return nil, fmt.Errorf("read target %q: %w", cfg.TargetPath, err)
	}
	return data, nil
}
