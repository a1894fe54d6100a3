package ports

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/logger"
)

// OpenAILLM talks to an OpenAI-compatible chat completions API. A non-empty
// base URL points it at compatible providers (Azure, local gateways).
type OpenAILLM struct {
	client openai.Client
	log    *logger.Logger
}

// OpenAIOpts configures the adapter. APIKey falls back to OPENAI_API_KEY.
type OpenAIOpts struct {
	APIKey  string
	BaseURL string
	Logger  *logger.Logger
}

// NewOpenAILLM creates the adapter.
func NewOpenAILLM(opts OpenAIOpts) *OpenAILLM {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	clientOpts := []option.RequestOption{}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAILLM{
		client: openai.NewClient(clientOpts...),
		log:    opts.Logger,
	}
}

// Complete performs one chat completion. An api_key_id on the request names
// an environment variable holding a per-person key override.
func (o *OpenAILLM) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	var reqOpts []option.RequestOption
	if req.APIKeyID != "" {
		if key := os.Getenv(string(req.APIKeyID)); key != "" {
			reqOpts = append(reqOpts, option.WithAPIKey(key))
		}
	}

	completion, err := o.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("ports: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("ports: chat completion returned no choices")
	}

	result := CompletionResult{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		TokenUsage: execution.TokenUsage{
			Input:  int(completion.Usage.PromptTokens),
			Output: int(completion.Usage.CompletionTokens),
			Cached: int(completion.Usage.PromptTokensDetails.CachedTokens),
			Total:  int(completion.Usage.TotalTokens),
		},
	}

	o.log.Debug("chat completion",
		"model", result.Model,
		"tokens_input", result.TokenUsage.Input,
		"tokens_output", result.TokenUsage.Output,
	)
	return result, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
