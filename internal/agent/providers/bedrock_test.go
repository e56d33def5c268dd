package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/agentrun/pkg/models"
)

func TestBedrockProvider_GetModel(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
	if got := p.getModel(""); got != "anthropic.claude-3-sonnet-20240229-v1:0" {
		t.Fatalf("unexpected default model: %s", got)
	}
	if got := p.getModel("amazon.titan-text-express-v1"); got != "amazon.titan-text-express-v1" {
		t.Fatal("explicit model should be preserved")
	}
}

func TestBedrockProvider_ConvertMessages(t *testing.T) {
	p := &BedrockProvider{}
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "ignored"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "lookup", Input: json.RawMessage(`{"q":"test"}`)},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "call_1", Status: models.ToolResultOK, Output: json.RawMessage(`"ok"`)},
		}},
	}

	converted, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("expected system message dropped, got %d messages", len(converted))
	}
}

func TestBedrockProvider_ConvertToolsFallsBackOnEmptySchema(t *testing.T) {
	p := &BedrockProvider{}
	config, err := p.convertTools([]models.Tool{{Name: "lookup", Description: "d"}})
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(config.Tools) != 1 {
		t.Fatalf("expected one tool spec, got %d", len(config.Tools))
	}
}

func TestBedrockProvider_IsRetryableError(t *testing.T) {
	p := &BedrockProvider{}
	if !p.isRetryableError(errors.New("ThrottlingException: rate exceeded")) {
		t.Fatal("expected throttling error to be retryable")
	}
	if p.isRetryableError(errors.New("ValidationException: bad input")) {
		t.Fatal("expected validation error to not be retryable")
	}
}

func TestBedrockProvider_CountTokens(t *testing.T) {
	p := &BedrockProvider{}
	n := p.CountTokens([]models.Message{{Role: models.RoleUser, Content: "twelve characters"}})
	if n <= 0 {
		t.Fatalf("expected positive estimate, got %d", n)
	}
}
