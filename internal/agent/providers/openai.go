package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/haasonsaas/agentrun/internal/backoff"
	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements llm.Provider against the Chat Completions
// streaming API. Grounded on the teacher's OpenAIProvider: the per-index
// tool-call accumulation map survives, narrowed to emit ToolCallDelta per
// chunk instead of assembling a complete models.ToolCall before sending.
//
// Azure OpenAI, OpenRouter, and the Copilot Proxy all speak the same
// Chat Completions wire format through go-openai, so they reuse this type
// under a different name and a differently-configured *openai.Client rather
// than duplicating the streaming/conversion logic per vendor.
type OpenAIProvider struct {
	BaseProvider
	name         string
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider creates a provider against the OpenAI API.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
	}
	return newOpenAIProviderWithClient("openai", client, "gpt-4o")
}

// newOpenAIProviderWithClient builds an OpenAIProvider around a client already
// configured for a specific OpenAI-compatible endpoint (Azure, OpenRouter,
// Copilot Proxy, ...), identified by name for error messages and logging.
func newOpenAIProviderWithClient(name string, client *openai.Client, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(name, 3, backoff.DefaultPolicy()),
		name:         name,
		client:       client,
		defaultModel: defaultModel,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.ProviderChunk, error) {
	if p.client == nil {
		return nil, fmt.Errorf("%s: client not configured", p.name)
	}

	messages := p.convertMessages(req.Messages, req.System)
	chatReq := openai.ChatCompletionRequest{
		Model:    p.getModel(req.Model),
		Messages: messages,
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.Retry(ctx, p.isRetryableError, func() error {
		s, createErr := p.client.CreateChatCompletionStream(ctx, chatReq)
		if createErr != nil {
			return createErr
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	chunks := make(chan *llm.ProviderChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *llm.ProviderChunk) {
	defer close(chunks)
	defer stream.Close()

	seenIndex := make(map[int]bool)

	for {
		select {
		case <-ctx.Done():
			chunks <- &llm.ProviderChunk{Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				done := llm.DoneStop
				chunks <- &llm.ProviderChunk{Done: &done}
				return
			}
			chunks <- &llm.ProviderChunk{Err: err}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			text := delta.Content
			chunks <- &llm.ProviderChunk{ContentDelta: &text}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			d := &llm.ToolCallDelta{Index: index}
			if !seenIndex[index] {
				seenIndex[index] = true
				if tc.ID != "" {
					id := tc.ID
					d.ID = &id
				}
				if tc.Function.Name != "" {
					name := tc.Function.Name
					d.Name = &name
				}
			}
			if tc.Function.Arguments != "" {
				args := tc.Function.Arguments
				d.ArgsChunk = &args
			}
			chunks <- &llm.ProviderChunk{ToolCallDelta: d}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			done := llm.DoneToolCalls
			chunks <- &llm.ProviderChunk{Done: &done}
			return
		}
		if choice.FinishReason == openai.FinishReasonLength {
			done := llm.DoneLength
			chunks <- &llm.ProviderChunk{Done: &done}
			return
		}
	}
}

func (p *OpenAIProvider) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    string(tr.Output),
					ToolCallID: tr.ToolCallID,
				})
			}
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return result
}

func (p *OpenAIProvider) convertTools(tools []models.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func (p *OpenAIProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) isRetryableError(err error) bool {
	return IsRetryable(err)
}

// CountTokens estimates token usage at ~4 characters per token.
func (p *OpenAIProvider) CountTokens(messages []models.Message) int {
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
