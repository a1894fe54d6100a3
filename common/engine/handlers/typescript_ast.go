package handlers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/dipeo/dipeo/common/compile"
	"github.com/dipeo/dipeo/common/diagram"
	"github.com/dipeo/dipeo/common/engine"
	"github.com/dipeo/dipeo/common/envelope"
)

// Declaration patterns for the extraction kinds the node supports. A full
// TypeScript parse is out of scope; top-level declaration headers are enough
// for catalog generation.
var tsDeclRes = map[string]*regexp.Regexp{
	"interface": regexp.MustCompile(`(?m)^\s*(?:export\s+)?interface\s+([A-Za-z_$][\w$]*)`),
	"enum":      regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:const\s+)?enum\s+([A-Za-z_$][\w$]*)`),
	"type":      regexp.MustCompile(`(?m)^\s*(?:export\s+)?type\s+([A-Za-z_$][\w$]*)`),
	"const":     regexp.MustCompile(`(?m)^\s*(?:export\s+)?const\s+([A-Za-z_$][\w$]*)\s*[:=]`),
	"function":  regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_$][\w$]*)`),
	"class":     regexp.MustCompile(`(?m)^\s*(?:export\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`),
}

// TypescriptAST extracts top-level declaration names from TypeScript source,
// grouped by declaration kind.
type TypescriptAST struct {
	engine.Base
}

func (TypescriptAST) NodeType() string { return diagram.NodeTypeTypescriptAST }

func (TypescriptAST) Run(_ context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.TypescriptASTConfig)

	source := cfg.Source
	if source == "" {
		if s, ok := inputs["default"].(string); ok {
			source = s
		}
	}
	if source == "" {
		return nil, fmt.Errorf("typescript_ast %s has no source", req.Node.ID)
	}

	patterns := cfg.ExtractPatterns
	if len(patterns) == 0 {
		patterns = []string{"interface", "enum", "type"}
	}

	extracted := make(map[string][]string, len(patterns))
	for _, kind := range patterns {
		re, ok := tsDeclRes[kind]
		if !ok {
			return nil, fmt.Errorf("unknown extract pattern %q", kind)
		}
		var names []string
		for _, m := range re.FindAllStringSubmatch(source, -1) {
			names = append(names, m[1])
		}
		extracted[kind] = names
	}
	return extracted, nil
}

func (TypescriptAST) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	return envelope.JSON(result, req.Node.ID, req.ExecutionID)
}
