package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/orchestrator/tools"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider wraps the Anthropic Messages API behind the Provider
// contract. Unlike the forced-choice OpenAI dialect, Anthropic's
// tool_choice has no "none" value; ToolChoiceNone requests are served by
// omitting tools from the call rather than mapping to a wire value.
type AnthropicProvider struct {
	client anthropic.Client
	models []Model
}

// NewAnthropicProvider builds a provider bound to apiKey, seeded with a
// catalog of known models.
func NewAnthropicProvider(apiKey string, models []Model) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		models: models,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) ListModels() []Model { return p.models }

func (p *AnthropicProvider) SearchModels(query string, limit int) []Model {
	return defaultSearchModels(p.models, query, limit)
}

func (p *AnthropicProvider) GetModel(id string) (Model, bool) {
	for _, m := range p.models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

func (p *AnthropicProvider) IsModelAvailable(id string) bool {
	_, ok := p.GetModel(id)
	return ok
}

func (p *AnthropicProvider) Chat(ctx context.Context, model string, messages []ChatMessage) (ChatResponse, error) {
	return p.ChatWithRequest(ctx, ChatRequest{Model: model, Messages: messages})
}

func (p *AnthropicProvider) ChatWithRequest(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	messages, err := convertToAnthropicMessages(req.Messages)
	if err != nil {
		return ChatResponse{}, errs.Newf(errs.KindValidation, "anthropic: convert messages: %v", err)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		if req.ToolChoice.Mode == ToolChoiceNone {
			// Anthropic has no "none" tool_choice; the forced-tool pipeline
			// never exercises this branch, but callers using this provider
			// for freeform chat expect tools to be actually withheld.
		} else {
			toolParams, err := convertToAnthropicTools(req.Tools)
			if err != nil {
				return ChatResponse{}, errs.Newf(errs.KindValidation, "anthropic: convert tools: %v", err)
			}
			params.Tools = toolParams
			params.ToolChoice = convertToAnthropicToolChoice(req.ToolChoice)
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, errs.Newf(errs.KindProviderError, "anthropic messages.new: %v", err)
	}

	out := ChatResponse{
		FinishReason: string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			input, err := json.Marshal(toolUse.Input)
			if err != nil {
				return ChatResponse{}, errs.Newf(errs.KindProviderError, "anthropic: re-encode tool_use input: %v", err)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCallInfo{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: input,
			})
		}
	}
	return out, nil
}

// convertToAnthropicMessages maps the vendor-neutral ChatMessage sequence
// into Anthropic's content-block message shape. System messages are
// dropped here; callers must route system text through ChatRequest.System.
func convertToAnthropicMessages(messages []ChatMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == "tool" {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if m.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertToAnthropicTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", d.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", d.Name)
		}
		toolParam.OfTool.Description = anthropic.String(d.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func convertToAnthropicToolChoice(c ToolChoice) anthropic.ToolChoiceUnionParam {
	switch c.Mode {
	case ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case ToolChoiceNamed:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: c.Name}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}
