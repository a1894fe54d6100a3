package handlers

import (
	"github.com/dipeo/dipeo/common/engine"
)

// Opts parameterizes the default handler set.
type Opts struct {
	// Evaluator is shared by the condition and code_job handlers; one is
	// created when nil.
	Evaluator *Evaluator

	// Providers is the integrated_api catalog; empty means every
	// integrated_api node fails validation.
	Providers map[string]Provider
}

// RegisterAll binds the full node-type catalog into a handler registry.
func RegisterAll(reg *engine.HandlerRegistry, opts Opts) {
	if opts.Evaluator == nil {
		opts.Evaluator = NewEvaluator()
	}

	reg.Register(Start{})
	reg.Register(Endpoint{})
	reg.Register(PersonJob{})
	reg.Register(NewCondition(opts.Evaluator))
	reg.Register(NewCodeJob(opts.Evaluator))
	reg.Register(APIJob{})
	reg.Register(DB{})
	reg.Register(SubDiagram{})
	reg.Register(TemplateJob{})
	reg.Register(JSONSchemaValidator{})
	reg.Register(Hook{})
	reg.Register(UserResponse{})
	reg.Register(TypescriptAST{})
	reg.Register(NewIntegratedAPI(opts.Providers))
	reg.Register(IRBuilder{})
	reg.Register(DiffPatch{})
}
