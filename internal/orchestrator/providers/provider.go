// Package providers hides LLM vendor differences behind one
// chat_with_request contract, including tool serialization and tool_choice
// mapping for both OpenAI- and Anthropic-style APIs.
package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/orchestrator/tools"
)

// ToolChoiceMode is the tagged variant controlling how strongly the
// provider is directed to call a tool.
type ToolChoiceMode int

const (
	ToolChoiceAuto ToolChoiceMode = iota
	ToolChoiceRequired
	ToolChoiceNone
	ToolChoiceNamed
)

// ToolChoice selects Auto, Required, None, or a specific named tool.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string // set only when Mode == ToolChoiceNamed
}

// Required is the forced-tool pipeline's pinned choice for every turn.
var Required = ToolChoice{Mode: ToolChoiceRequired}

// ChatMessage is one message in a conversation, matching spec.md §3's
// Chat Message invariants (role=tool requires ToolCallID; role=assistant
// with ToolCalls must be followed by matching tool messages).
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ToolCallInfo is a parsed tool call from a provider response.
type ToolCallInfo struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatRequest carries every parameter for one completion call.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	Tools       []tools.Definition
	ToolChoice  ToolChoice
	Temperature float64
	MaxTokens   int
}

// ChatResponse is a parsed, vendor-neutral completion result.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCallInfo
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Model describes an available model.
type Model struct {
	ID             string
	Name           string
	ContextSize    int
	SupportsVision bool
}

// Provider hides vendor differences behind one contract.
type Provider interface {
	Name() string
	ListModels() []Model
	SearchModels(query string, limit int) []Model
	GetModel(id string) (Model, bool)
	IsModelAvailable(id string) bool
	Chat(ctx context.Context, model string, messages []ChatMessage) (ChatResponse, error)
	ChatWithRequest(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ErrUnsupportedCapability is returned by ChatWithRequest when a provider
// cannot serve the requested tool-calling contract; implementations MUST
// NOT silently drop req.Tools.
func ErrUnsupportedCapability(provider, capability string) error {
	return errs.Newf(errs.KindProviderError, "provider %s does not support %s", provider, capability)
}

func defaultSearchModels(models []Model, query string, limit int) []Model {
	if limit <= 0 {
		limit = len(models)
	}
	q := strings.ToLower(query)
	out := make([]Model, 0, limit)
	for _, m := range models {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(m.ID), q) || strings.Contains(strings.ToLower(m.Name), q) {
			out = append(out, m)
		}
	}
	return out
}
