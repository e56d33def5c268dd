// Package providers implements the streaming LLM provider adapters the
// orchestrator consumes through the llm.Provider interface.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/agentrun/internal/backoff"
	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// AnthropicProvider implements llm.Provider against the Claude Messages API.
// Grounded on the teacher's AnthropicProvider: the SSE event-to-chunk switch
// and retry-with-backoff shape survive, generalized to emit the assembler's
// ToolCallDelta vocabulary (one delta per tool-call slot) instead of
// assembling a complete models.ToolCall itself.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryPolicy  backoff.BackoffPolicy
	DefaultModel string
}

// NewAnthropicProvider constructs a provider against the Claude API.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", config.MaxRetries, config.RetryPolicy),
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream sends req to Claude and emits ProviderChunks as the SSE stream
// arrives. Transient failures (rate limits, 5xx, timeouts) are retried with
// exponential backoff before stream processing ever begins; once the stream
// is open, errors surface on the channel rather than retrying mid-stream.
func (p *AnthropicProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.ProviderChunk, error) {
	chunks := make(chan *llm.ProviderChunk)

	go func() {
		defer close(chunks)

		model := p.getModel(req.Model)
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]

		err := p.Retry(ctx, func(err error) bool {
			return p.isRetryableError(p.wrapError(err, model))
		}, func() error {
			s, createErr := p.createStream(ctx, req)
			if createErr != nil {
				return createErr
			}
			stream = s
			return nil
		})
		if err != nil {
			chunks <- &llm.ProviderChunk{Err: p.wrapError(err, model)}
			return
		}

		p.processStream(stream, chunks, model)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *llm.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: 4096,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// maxEmptyStreamEvents bounds how many consecutive events may produce no
// chunk before the stream is treated as malformed and aborted.
const maxEmptyStreamEvents = 300

// processStream consumes the SSE stream and converts Anthropic's
// content-block event sequence into llm.ProviderChunks. A tool_use block
// opens a ToolCallDelta carrying ID/Name; each input_json_delta that follows
// emits another ToolCallDelta for the same Index carrying only ArgsChunk —
// the assembler concatenates these, it does not see Anthropic's framing.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *llm.ProviderChunk, model string) {
	toolIndex := -1
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		handled := false

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolIndex++
				toolUse := block.AsToolUse()
				id, name := toolUse.ID, toolUse.Name
				chunks <- &llm.ProviderChunk{ToolCallDelta: &llm.ToolCallDelta{Index: toolIndex, ID: &id, Name: &name}}
				handled = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text := delta.Text
					chunks <- &llm.ProviderChunk{ContentDelta: &text}
					handled = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					chunk := delta.PartialJSON
					chunks <- &llm.ProviderChunk{ToolCallDelta: &llm.ToolCallDelta{Index: toolIndex, ArgsChunk: &chunk}}
					handled = true
				}
			}

		case "message_stop":
			done := llm.DoneStop
			if toolIndex >= 0 {
				done = llm.DoneToolCalls
			}
			chunks <- &llm.ProviderChunk{Done: &done}
			return

		case "error":
			chunks <- &llm.ProviderChunk{Err: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		}

		if handled {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &llm.ProviderChunk{Err: p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents), model)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &llm.ProviderChunk{Err: p.wrapError(err, model)}
	}
}

func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, string(tr.Output), tr.Status == models.ToolResultError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		var message anthropic.MessageParam
		if msg.Role == models.RoleAssistant {
			message = anthropic.NewAssistantMessage(content...)
		} else {
			message = anthropic.NewUserMessage(content...)
		}
		result = append(result, message)
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []models.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) isRetryableError(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return false
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := (&ProviderError{Provider: "anthropic", Model: model, Cause: err, Reason: FailoverUnknown}).WithStatus(apiErr.StatusCode)

		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					providerErr = providerErr.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					providerErr = providerErr.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					providerErr = providerErr.WithRequestID(payload.RequestID)
				}
			}
		}
		if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}

// CountTokens estimates token usage at ~4 characters per token — a rough
// approximation used for context-budget checks, not billing.
func (p *AnthropicProvider) CountTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name)/4 + len(tc.Input)/4
		}
		for _, tr := range msg.ToolResults {
			total += len(tr.Output) / 4
		}
	}
	return total
}
