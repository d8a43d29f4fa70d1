package providers

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hostctl/hostctl/internal/errs"
)

// OpenAIProvider wraps an OpenAI-compatible chat completion client
// (OpenAI itself, or any Azure/OpenRouter-style mirror of the same wire
// format) behind the Provider contract.
type OpenAIProvider struct {
	client *openai.Client
	models []Model
}

// NewOpenAIProvider builds a provider bound to apiKey, seeded with the
// given catalog of known models (the OpenAI models-list endpoint is not
// authoritative for context-window sizes, so callers supply it).
func NewOpenAIProvider(apiKey string, models []Model) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		models: models,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) ListModels() []Model { return p.models }

func (p *OpenAIProvider) SearchModels(query string, limit int) []Model {
	return defaultSearchModels(p.models, query, limit)
}

func (p *OpenAIProvider) GetModel(id string) (Model, bool) {
	for _, m := range p.models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

func (p *OpenAIProvider) IsModelAvailable(id string) bool {
	_, ok := p.GetModel(id)
	return ok
}

func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []ChatMessage) (ChatResponse, error) {
	return p.ChatWithRequest(ctx, ChatRequest{Model: model, Messages: messages})
}

func (p *OpenAIProvider) ChatWithRequest(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}

	request := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}

	if len(req.Tools) > 0 {
		request.Tools = make([]openai.Tool, 0, len(req.Tools))
		for _, d := range req.Tools {
			t := openAIToolDefinition(d)
			request.Tools = append(request.Tools, openai.Tool{
				Type: openai.ToolType(t.Type),
				Function: &openai.FunctionDefinition{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.Parameters,
				},
			})
		}
		request.ToolChoice = openAIToolChoice(req.ToolChoice)
	}

	resp, err := p.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return ChatResponse{}, errs.Newf(errs.KindProviderError, "openai chat completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, errs.New(errs.KindProviderError, "openai returned no choices")
	}

	choice := resp.Choices[0]
	out := ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCallInfo{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func toOpenAIMessage(m ChatMessage) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return out
}
