package providers

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
)

func TestBuildOllamaMessages_ToolCallsAndResults(t *testing.T) {
	req := &llm.CompletionRequest{
		System: "sys",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "lookup", Input: json.RawMessage(`{"q":"test"}`)},
				},
			},
			{
				Role: models.RoleTool,
				ToolResults: []models.ToolResult{
					{ToolCallID: "call-1", Status: models.ToolResultOK, Output: json.RawMessage(`"ok"`)},
				},
			},
		},
	}

	msgs := buildOllamaMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "sys" {
		t.Fatalf("system message mismatch: %+v", msgs[0])
	}
	if msgs[2].Role != "assistant" || len(msgs[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("tool name = %q, want %q", msgs[2].ToolCalls[0].Function.Name, "lookup")
	}
	if string(msgs[2].ToolCalls[0].Function.Arguments) != `{"q":"test"}` {
		t.Errorf("tool args = %s, want %s", string(msgs[2].ToolCalls[0].Function.Arguments), `{"q":"test"}`)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolName != "lookup" || msgs[3].Content != `"ok"` {
		t.Errorf("tool result message mismatch: %+v", msgs[3])
	}
}

func TestOllamaToolCallKey(t *testing.T) {
	tc := ollamaToolCall{Function: ollamaToolFunction{Name: "lookup", Arguments: json.RawMessage(`{"q":1}`)}}
	if key := ollamaToolCallKey(tc); key != `lookup:{"q":1}` {
		t.Fatalf("unexpected key: %q", key)
	}
	if key := ollamaToolCallKey(ollamaToolCall{ID: "abc"}); key != "abc" {
		t.Fatalf("expected explicit ID to win, got %q", key)
	}
}
