package providers

import (
	"encoding/json"

	"github.com/hostctl/hostctl/internal/orchestrator/tools"
)

// openAIFunctionTool is the OpenAI-style {type:"function", function:{...}}
// wire shape for one tool definition.
type openAIFunctionTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// openAIToolDefinition serializes a Definition into the OpenAI dialect.
func openAIToolDefinition(d tools.Definition) openAIFunctionTool {
	t := openAIFunctionTool{Type: "function"}
	t.Function.Name = d.Name
	t.Function.Description = d.Description
	t.Function.Parameters = d.InputSchema
	return t
}

// openAIToolChoice maps a ToolChoice to the OpenAI wire representation:
// "auto" | "required" | "none" | {"type":"function","function":{"name":n}}.
func openAIToolChoice(c ToolChoice) any {
	switch c.Mode {
	case ToolChoiceRequired:
		return "required"
	case ToolChoiceNone:
		return "none"
	case ToolChoiceNamed:
		named := struct {
			Type     string `json:"type"`
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		}{Type: "function"}
		named.Function.Name = c.Name
		return named
	default:
		return "auto"
	}
}
