package ports

import (
	"context"
	"time"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// CompletionRequest asks an LLM service for one completion.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	APIKeyID    ids.ApiKeyID
	Temperature float64
	MaxTokens   int
}

// CompletionResult is the LLM's answer plus accounting.
type CompletionResult struct {
	Text       string
	Model      string
	TokenUsage execution.TokenUsage
}

// LLMService is the boundary to language-model providers. person_job and
// llm_decision conditions talk to it; everything else never sees it.
type LLMService interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// APIRequest is one outbound HTTP call made on behalf of an api_job node.
type APIRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// APIResponse is the outcome of an APIRequest.
type APIResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// APIInvoker performs outbound HTTP for api_job and integrated_api nodes.
type APIInvoker interface {
	Invoke(ctx context.Context, req APIRequest) (APIResponse, error)
}

// FileSystem is the boundary for db-node file operations and prompt loading.
// Paths are interpreted by the adapter; the OS adapter roots them under a
// base directory.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	AppendFile(path string, data []byte) error
	Exists(path string) bool
}

// UserResponder collects an answer for a user_response node. The CLI wires
// stdin; the server wires the interactive websocket round-trip.
type UserResponder interface {
	Ask(ctx context.Context, execID ids.ExecutionID, nodeID ids.NodeID, prompt string, timeout time.Duration) (string, error)
}
