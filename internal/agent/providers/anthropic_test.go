package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
)

func TestNewAnthropicProvider_RequiresAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewAnthropicProvider_DefaultsModel(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.defaultModel != "claude-sonnet-4-20250514" {
		t.Fatalf("unexpected default model: %s", p.defaultModel)
	}
	if p.Name() != "anthropic" {
		t.Fatalf("unexpected name: %s", p.Name())
	}
}

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" {
			t.Error("missing x-api-key header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("expected http.Flusher")
		}
		for _, e := range events {
			fmt.Fprintln(w, e)
			flusher.Flush()
		}
	}))
}

func TestAnthropicProvider_StreamEmitsTextDeltas(t *testing.T) {
	server := sseServer(t, []string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer server.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	chunks, err := p.Stream(context.Background(), &llm.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var done *llm.DoneReason
	for c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected chunk error: %v", c.Err)
		}
		if c.ContentDelta != nil {
			text += *c.ContentDelta
		}
		if c.Done != nil {
			done = c.Done
		}
	}
	if text != "hello world" {
		t.Fatalf("expected assembled text %q, got %q", "hello world", text)
	}
	if done == nil || *done != llm.DoneStop {
		t.Fatalf("expected DoneStop, got %v", done)
	}
}

func TestAnthropicProvider_StreamEmitsToolCallDeltas(t *testing.T) {
	server := sseServer(t, []string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"get_weather","input":{}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"London\"}"}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer server.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	chunks, err := p.Stream(context.Background(), &llm.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "weather?"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var id, name, args string
	var done *llm.DoneReason
	for c := range chunks {
		if c.ToolCallDelta != nil {
			d := c.ToolCallDelta
			if d.ID != nil {
				id = *d.ID
			}
			if d.Name != nil {
				name = *d.Name
			}
			if d.ArgsChunk != nil {
				args += *d.ArgsChunk
			}
		}
		if c.Done != nil {
			done = c.Done
		}
	}
	if id != "call_1" || name != "get_weather" {
		t.Fatalf("unexpected tool call identity: id=%q name=%q", id, name)
	}
	if args != `{"city":"London"}` {
		t.Fatalf("unexpected assembled args: %q", args)
	}
	if done == nil || *done != llm.DoneToolCalls {
		t.Fatalf("expected DoneToolCalls, got %v", done)
	}
}

func TestAnthropicProvider_ConvertMessagesRoundTrip(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}

	messages := []models.Message{
		{Role: models.RoleSystem, Content: "ignored"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)}}},
		{Role: models.RoleUser, ToolResults: []models.ToolResult{{ToolCallID: "c1", Status: models.ToolResultOK, Output: json.RawMessage(`"hi"`)}}},
	}

	converted, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("expected system message dropped, got %d messages", len(converted))
	}
}

func TestAnthropicProvider_ConvertToolsRejectsInvalidSchema(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	_, err = p.convertTools([]models.Tool{{Name: "bad", Schema: json.RawMessage(`not json`)}})
	if err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestAnthropicProvider_CountTokens(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	n := p.CountTokens([]models.Message{{Role: models.RoleUser, Content: "twelve characters"}})
	if n <= 0 {
		t.Fatalf("expected positive token estimate, got %d", n)
	}
}
