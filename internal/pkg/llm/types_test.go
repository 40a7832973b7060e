package llm

import (
	"encoding/json"
	"testing"
)

func TestGenerateRecipeTool(t *testing.T) {
	tool := GenerateRecipeTool()

	if tool.Type != "function" {
		t.Errorf("expected type 'function', got %s", tool.Type)
	}
	if tool.Function.Name != GenerateRecipeToolName {
		t.Errorf("expected name generate_recipe, got %s", tool.Function.Name)
	}
	if _, ok := tool.Function.Parameters.Properties["ingredients"]; !ok {
		t.Error("expected 'ingredients' property")
	}
	if len(tool.Function.Parameters.Required) != 1 || tool.Function.Parameters.Required[0] != "ingredients" {
		t.Errorf("unexpected required: %v", tool.Function.Parameters.Required)
	}
}

func TestChatResponseToolCallsJSON(t *testing.T) {
	raw := `{
		"id": "chatcmpl-1",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "generate_recipe", "arguments": "{\"ingredients\":\"eggs\"}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12}
	}`

	var resp ChatResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("unexpected choices: %+v", resp.Choices)
	}
	call := resp.Choices[0].Message.ToolCalls[0]
	if call.Function.Name != "generate_recipe" || call.Function.Arguments != `{"ingredients":"eggs"}` {
		t.Errorf("unexpected tool call: %+v", call)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("expected 12 total tokens, got %d", resp.Usage.TotalTokens)
	}
}
