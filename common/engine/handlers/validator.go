package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/registry"
)

// JSONSchemaValidator checks its input against a JSON Schema. Valid input
// passes through unchanged; invalid input fails the node (strict mode) or
// passes through annotated with the validation errors.
type JSONSchemaValidator struct {
	engine.Base
}

func (JSONSchemaValidator) NodeType() string { return diagram.NodeTypeJSONSchemaValidator }

type validatorResult struct {
	value interface{}
	errs  []string
}

func (JSONSchemaValidator) Run(_ context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.JSONSchemaValidatorConfig)

	schemaDoc, err := loadSchema(cfg, req)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaDoc)); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	value, ok := inputs["default"]
	if !ok && len(inputs) == 1 {
		for _, v := range inputs {
			value = v
		}
	}
	if cfg.DataPath != "" {
		scoped, ok := resolvePath(mergeScopes(req.Variables, inputs), cfg.DataPath)
		if !ok {
			return nil, fmt.Errorf("data_path %q not found in inputs", cfg.DataPath)
		}
		value = scoped
	}

	// Round-trip so numbers and nested maps take their canonical JSON form.
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var canonical interface{}
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}

	if err := schema.Validate(canonical); err != nil {
		if cfg.StrictMode {
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
		return validatorResult{value: canonical, errs: []string{err.Error()}}, nil
	}
	return validatorResult{value: canonical}, nil
}

func (JSONSchemaValidator) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	r, ok := result.(validatorResult)
	if !ok {
		return nil, fmt.Errorf("validator produced %T", result)
	}
	env, err := envelope.JSON(r.value, req.Node.ID, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	if len(r.errs) > 0 {
		env = env.WithMeta("validation_errors", r.errs)
	}
	return env, nil
}

func loadSchema(cfg *compile.JSONSchemaValidatorConfig, req *engine.Request) ([]byte, error) {
	if cfg.Schema != nil {
		return json.Marshal(cfg.Schema)
	}
	fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
	if err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("read schema %q: %w", cfg.SchemaPath, err)
	}
	return data, nil
}
