package handlers

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
	"github.com/dipeo/dipeo/common/registry"
)

// TemplateJob renders text/template content against the node's inputs,
// variables and configured extras, optionally writing the rendering to a
// workspace file.
type TemplateJob struct {
	engine.Base
}

func (TemplateJob) NodeType() string { return diagram.NodeTypeTemplateJob }

func (TemplateJob) Validate(req *engine.Request) error {
	cfg, ok := req.Node.Config.(*compile.TemplateJobConfig)
	if !ok {
		return fmt.Errorf("node %s has no template_job config", req.Node.ID)
	}
	if cfg.TemplateContent == "" && cfg.TemplatePath == "" {
		return fmt.Errorf("template_job %s has neither template_content nor template_path", req.Node.ID)
	}
	return nil
}

func (TemplateJob) Run(_ context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.TemplateJobConfig)

	content := cfg.TemplateContent
	if content == "" {
		fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
		if err != nil {
			return nil, err
		}
		data, err := fs.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("load template %q: %w", cfg.TemplatePath, err)
		}
		content = string(data)
	}

	tmpl, err := template.New(string(req.Node.ID)).Option("missingkey=zero").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	scope := mergeScopes(req.Variables, inputs, cfg.Variables)
	var buf strings.Builder
	if err := tmpl.Execute(&buf, scope); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	rendered := buf.String()

	if cfg.OutputPath != "" {
		fs, err := registry.Get(req.Services, registry.FileSystemAdapter)
		if err != nil {
			return nil, err
		}
		if err := fs.WriteFile(cfg.OutputPath, []byte(rendered)); err != nil {
			return nil, fmt.Errorf("write rendering to %q: %w", cfg.OutputPath, err)
		}
	}
	return rendered, nil
}

func (TemplateJob) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.Text(result.(string), req.Node.ID, req.ExecutionID), nil
}
