package context

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentrun/pkg/models"
)

func TestPack_AlwaysIncludesSystem(t *testing.T) {
	p := NewPacker(PackOptions{Budget: 1000, ReserveForResponse: 0})
	result := p.Pack("be helpful", nil)
	if len(result) != 1 || result[0].Role != models.RoleSystem || result[0].Content != "be helpful" {
		t.Fatalf("expected lone system message, got %+v", result)
	}
}

func TestPack_ChronologicalOrderPreservedUnderTruncation(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "aaaaaaaaaaaaaaaaaaaa"},
		{Role: models.RoleAssistant, Content: "bbbbbbbbbbbbbbbbbbbb"},
		{Role: models.RoleUser, Content: "c"},
	}
	p := NewPacker(PackOptions{Budget: 20, ReserveForResponse: 0})
	result := p.Pack("", history)

	if len(result) == 0 {
		t.Fatal("expected at least the most recent message")
	}
	for i := 1; i < len(result); i++ {
		if result[i-1].Content == "bbbbbbbbbbbbbbbbbbbb" && result[i].Content == "aaaaaaaaaaaaaaaaaaaa" {
			t.Fatal("chronological order violated")
		}
	}
	if result[len(result)-1].Content != "c" {
		t.Fatalf("most recent message should always be last, got %+v", result)
	}
}

func TestPack_DropsAssistantToolCallWhenResultExcluded(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "t", Input: json.RawMessage(`{}`)}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Status: models.ToolResultOK}}},
		{Role: models.RoleUser, Content: "final question padded out to force truncation of the earlier pair"},
	}
	// Budget tight enough to admit only the last message.
	p := NewPacker(PackOptions{Budget: 17, ReserveForResponse: 0})
	result := p.Pack("", history)

	for _, m := range result {
		if len(m.ToolCalls) > 0 {
			t.Fatalf("assistant tool-call message should have been dropped, got %+v", result)
		}
		if len(m.ToolResults) > 0 {
			t.Fatalf("orphaned tool result should have been dropped, got %+v", result)
		}
	}
}

func TestPack_KeepsCompletePair(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "t", Input: json.RawMessage(`{}`)}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Status: models.ToolResultOK}}},
	}
	p := NewPacker(PackOptions{Budget: 10000, ReserveForResponse: 0})
	result := p.Pack("", history)

	if len(result) != 2 {
		t.Fatalf("expected both paired messages kept, got %+v", result)
	}
}
