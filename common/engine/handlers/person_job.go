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

// PersonJob runs one LLM turn for the node's person. The first iteration may
// use a dedicated first-only prompt; conversation-state inputs are replayed
// as message history.
type PersonJob struct {
	engine.Base
}

func (PersonJob) NodeType() string { return diagram.NodeTypePersonJob }

func (PersonJob) Requires() []string {
	return []string{registry.LLMService.Name}
}

func (PersonJob) Validate(req *engine.Request) error {
	cfg, ok := req.Node.Config.(*compile.PersonJobConfig)
	if !ok {
		return fmt.Errorf("node %s has no person_job config", req.Node.ID)
	}
	if cfg.Person == "" {
		return fmt.Errorf("person_job %s references no person", req.Node.ID)
	}
	return nil
}

// PrepareInputs keeps conversation-state envelopes intact as history and
// decodes the rest for prompt interpolation.
func (PersonJob) PrepareInputs(_ context.Context, req *engine.Request) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(req.Inputs))
	for label, env := range req.Inputs {
		if env.ContentType == envelope.ContentConversation {
			var history []ports.Message
			if err := json.Unmarshal(env.Body, &history); err != nil {
				return nil, fmt.Errorf("decode conversation input %q: %w", label, err)
			}
			out["_conversation"] = history
			continue
		}
		value, err := env.Value()
		if err != nil {
			return nil, fmt.Errorf("decode input %q: %w", label, err)
		}
		out[label] = value
	}
	return out, nil
}

type personJobResult struct {
	res      ports.CompletionResult
	messages []ports.Message
}

func (h PersonJob) Run(ctx context.Context, inputs map[string]interface{}, req *engine.Request) (interface{}, error) {
	cfg := req.Node.Config.(*compile.PersonJobConfig)
	person, ok := req.Diagram.Persons[cfg.Person]
	if !ok {
		return nil, fmt.Errorf("unknown person %q", cfg.Person)
	}
	llm, err := registry.Get(req.Services, registry.LLMService)
	if err != nil {
		return nil, err
	}

	prompt := h.selectPrompt(cfg, req.Iteration)
	scope := mergeScopes(req.Variables, inputs)
	scope["iteration"] = req.Iteration
	prompt = interpolate(prompt, scope)

	var messages []ports.Message
	if person.LLMConfig.SystemPrompt != "" {
		messages = append(messages, ports.Message{Role: "system", Content: person.LLMConfig.SystemPrompt})
	}
	if history, ok := inputs["_conversation"].([]ports.Message); ok {
		messages = append(messages, history...)
	}
	if prompt == "" {
		// No prompt configured: forward the default input as the user turn.
		prompt = asString(inputs["default"])
	}
	messages = append(messages, ports.Message{Role: "user", Content: prompt})

	res, err := llm.Complete(ctx, ports.CompletionRequest{
		Model:    person.LLMConfig.Model,
		APIKeyID: person.LLMConfig.APIKeyID,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}

	messages = append(messages, ports.Message{Role: "assistant", Content: res.Text})
	return &personJobResult{res: res, messages: messages}, nil
}

// selectPrompt prefers the precompiled prompt file contents, and on the first
// iteration the first-only prompt when one exists.
func (PersonJob) selectPrompt(cfg *compile.PersonJobConfig, iteration int) string {
	if iteration <= 1 {
		if cfg.ResolvedFirstPrompt != "" {
			return cfg.ResolvedFirstPrompt
		}
		if cfg.FirstPrompt != "" {
			return cfg.FirstPrompt
		}
	}
	if cfg.ResolvedPrompt != "" {
		return cfg.ResolvedPrompt
	}
	return cfg.Prompt
}

// SerializeOutput emits the assistant text by default; edges that want the
// whole conversation read the conversation output handle, which the engine
// routes by the edge's content type at compile time.
func (PersonJob) SerializeOutput(result interface{}, req *engine.Request) (*envelope.Envelope, error) {
	r, ok := result.(*personJobResult)
	if !ok {
		return nil, fmt.Errorf("person_job produced %T", result)
	}

	wantsConversation := false
	for _, e := range req.Diagram.OutgoingEdges(req.Node.ID) {
		if e.ContentType == diagram.ContentConversationState {
			wantsConversation = true
			break
		}
	}

	var env *envelope.Envelope
	if wantsConversation {
		msgs := make([]map[string]interface{}, 0, len(r.messages))
		for _, m := range r.messages {
			msgs = append(msgs, map[string]interface{}{"role": m.Role, "content": m.Content})
		}
		conv, err := envelope.Conversation(msgs, req.Node.ID, req.ExecutionID)
		if err != nil {
			return nil, err
		}
		env = conv
	} else {
		env = envelope.Text(r.res.Text, req.Node.ID, req.ExecutionID)
	}

	env = env.WithMeta(envelope.MetaModel, r.res.Model)
	if r.res.TokenUsage.Total > 0 {
		env = env.WithMeta(envelope.MetaTokensIn, r.res.TokenUsage.Input).
			WithMeta(envelope.MetaTokensOut, r.res.TokenUsage.Output)
	}
	return env, nil
}
