package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
)

func TestOpenAIProvider_NameAndDefaults(t *testing.T) {
	p := NewOpenAIProvider("")
	if p.Name() != "openai" {
		t.Fatalf("unexpected name: %s", p.Name())
	}
	if p.getModel("") != "gpt-4o" {
		t.Fatalf("unexpected default model: %s", p.getModel(""))
	}
	if p.getModel("gpt-4-turbo") != "gpt-4-turbo" {
		t.Fatal("explicit model should be preserved")
	}
}

func TestOpenAIProvider_StreamWithoutAPIKeyErrors(t *testing.T) {
	p := NewOpenAIProvider("")
	_, err := p.Stream(context.Background(), &llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected error when API key is not configured")
	}
}

func TestOpenAIProvider_ConvertMessages(t *testing.T) {
	p := NewOpenAIProvider("sk-test")
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Input: json.RawMessage(`{}`)}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Status: models.ToolResultOK, Output: json.RawMessage(`"ok"`)}}},
	}

	converted := p.convertMessages(messages, "be concise")
	if len(converted) != 4 {
		t.Fatalf("expected system + 3 messages, got %d", len(converted))
	}
	if converted[0].Role != "system" || converted[0].Content != "be concise" {
		t.Fatalf("expected leading system message, got %+v", converted[0])
	}
	if len(converted[2].ToolCalls) != 1 || converted[2].ToolCalls[0].ID != "c1" {
		t.Fatalf("expected assistant tool call preserved, got %+v", converted[2])
	}
	if converted[3].Role != "tool" || converted[3].ToolCallID != "c1" {
		t.Fatalf("expected tool result message, got %+v", converted[3])
	}
}

func TestOpenAIProvider_ConvertToolsFallsBackOnInvalidSchema(t *testing.T) {
	p := NewOpenAIProvider("sk-test")
	tools := p.convertTools([]models.Tool{{Name: "bad", Description: "d", Schema: json.RawMessage(`not json`)}})
	if len(tools) != 1 || tools[0].Function.Name != "bad" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	if _, ok := tools[0].Function.Parameters.(map[string]any)["type"]; !ok {
		t.Fatal("expected fallback schema with a type key")
	}
}

func TestOpenAIProvider_IsRetryableError(t *testing.T) {
	p := NewOpenAIProvider("sk-test")
	if !p.isRetryableError(errors.New("429 rate limit exceeded")) {
		t.Fatal("expected rate limit error to be retryable")
	}
	if p.isRetryableError(errors.New("invalid api key")) {
		t.Fatal("expected auth error to not be retryable")
	}
}

func TestOpenAIProvider_CountTokens(t *testing.T) {
	p := NewOpenAIProvider("sk-test")
	n := p.CountTokens([]models.Message{{Role: models.RoleUser, Content: "twelve characters"}})
	if n <= 0 {
		t.Fatalf("expected positive estimate, got %d", n)
	}
}
