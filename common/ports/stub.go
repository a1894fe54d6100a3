package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// ErrNoResponder is returned when a user_response node runs without an
// interactive surface attached.
var ErrNoResponder = errors.New("ports: no user responder attached")

// StaticLLM answers every completion with a fixed response. Used by tests
// and offline runs.
type StaticLLM struct {
	Response string
	Usage    execution.TokenUsage
	// Calls records every request, newest last.
	Calls []CompletionRequest
}

func (s *StaticLLM) Complete(_ context.Context, req CompletionRequest) (CompletionResult, error) {
	s.Calls = append(s.Calls, req)
	return CompletionResult{Text: s.Response, Model: req.Model, TokenUsage: s.Usage}, nil
}

// ScriptedLLM answers from a queue, failing when it runs dry. Lets tests
// drive multi-iteration loops deterministically.
type ScriptedLLM struct {
	Responses []CompletionResult
	next      int
}

func (s *ScriptedLLM) Complete(_ context.Context, _ CompletionRequest) (CompletionResult, error) {
	if s.next >= len(s.Responses) {
		return CompletionResult{}, fmt.Errorf("ports: scripted llm exhausted after %d calls", s.next)
	}
	res := s.Responses[s.next]
	s.next++
	return res, nil
}

// NoResponder rejects every interactive prompt.
type NoResponder struct{}

func (NoResponder) Ask(context.Context, ids.ExecutionID, ids.NodeID, string, time.Duration) (string, error) {
	return "", ErrNoResponder
}

// StaticResponder answers every prompt with a fixed string.
type StaticResponder struct {
	Answer string
}

func (r StaticResponder) Ask(context.Context, ids.ExecutionID, ids.NodeID, string, time.Duration) (string, error) {
	return r.Answer, nil
}
