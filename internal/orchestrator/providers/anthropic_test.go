package providers

import (
	"encoding/json"
	"testing"

	"github.com/hostctl/hostctl/internal/orchestrator/tools"
)

func TestConvertToAnthropicMessages(t *testing.T) {
	messages := []ChatMessage{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "list the bridges"},
		{
			Role: "assistant",
			ToolCalls: []ToolCallInfo{
				{ID: "call_1", Name: "ovs_list_bridges", Arguments: json.RawMessage(`{}`)},
			},
		},
		{Role: "tool", ToolCallID: "call_1", Content: `{"bridges":["br0"]}`},
	}

	got, err := convertToAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convertToAnthropicMessages: %v", err)
	}
	// system message is dropped; three remain.
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
}

func TestConvertToAnthropicMessages_InvalidToolArguments(t *testing.T) {
	messages := []ChatMessage{
		{
			Role: "assistant",
			ToolCalls: []ToolCallInfo{
				{ID: "call_1", Name: "broken", Arguments: json.RawMessage(`not json`)},
			},
		},
	}
	if _, err := convertToAnthropicMessages(messages); err == nil {
		t.Fatalf("expected error for malformed tool call arguments")
	}
}

func TestConvertToAnthropicTools(t *testing.T) {
	defs := []tools.Definition{
		{
			Name:        "ovs_create_bridge",
			Description: "Create an OVS bridge",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`),
		},
	}
	got, err := convertToAnthropicTools(defs)
	if err != nil {
		t.Fatalf("convertToAnthropicTools: %v", err)
	}
	if len(got) != 1 || got[0].OfTool == nil {
		t.Fatalf("unexpected tools result: %+v", got)
	}
	if got[0].OfTool.Name != "ovs_create_bridge" {
		t.Errorf("Name = %q", got[0].OfTool.Name)
	}
}

func TestConvertToAnthropicToolChoice(t *testing.T) {
	required := convertToAnthropicToolChoice(ToolChoice{Mode: ToolChoiceRequired})
	if required.OfAny == nil {
		t.Errorf("expected OfAny for Required choice")
	}

	named := convertToAnthropicToolChoice(ToolChoice{Mode: ToolChoiceNamed, Name: "respond_to_user"})
	if named.OfTool == nil || named.OfTool.Name != "respond_to_user" {
		t.Errorf("expected OfTool with Name=respond_to_user, got %+v", named)
	}

	auto := convertToAnthropicToolChoice(ToolChoice{Mode: ToolChoiceAuto})
	if auto.OfAuto == nil {
		t.Errorf("expected OfAuto for Auto choice")
	}
}
