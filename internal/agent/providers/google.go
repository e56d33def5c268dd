// Package providers implements the streaming LLM provider adapters the
// orchestrator consumes through the llm.Provider interface.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentrun/internal/backoff"
	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider implements llm.Provider against the Gemini API. Grounded on
// the teacher's GoogleProvider: the Go 1.23 iterator-based stream consumption
// and retry shape survive, narrowed to emit ToolCallDelta instead of
// assembling a complete models.ToolCall — Gemini returns each function call
// whole rather than incrementally, so its delta simply carries ID/Name/Args
// together in one chunk.
type GoogleProvider struct {
	BaseProvider
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

// NewGoogleProvider creates a provider against the Gemini API.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		BaseProvider: NewBaseProvider("google", 3, backoff.DefaultPolicy()),
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

// Stream sends req to Gemini and emits ProviderChunks as the response stream
// arrives.
func (p *GoogleProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.ProviderChunk, error) {
	model := p.getModel(req.Model)
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("google: failed to convert messages: %w", err)
	}
	config := p.buildConfig(req)

	chunks := make(chan *llm.ProviderChunk)

	go func() {
		defer close(chunks)

		err := p.Retry(ctx, p.isRetryableError, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			return p.processStream(ctx, streamIter, chunks)
		})
		if err != nil {
			chunks <- &llm.ProviderChunk{Err: p.wrapError(err, model)}
		}
	}()

	return chunks, nil
}

func (p *GoogleProvider) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *llm.ProviderChunk) error {
	toolIndex := -1

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					text := part.Text
					chunks <- &llm.ProviderChunk{ContentDelta: &text}
				}
				if part.FunctionCall != nil {
					toolIndex++
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					id := uuid.NewString()
					name := part.FunctionCall.Name
					args := string(argsJSON)
					chunks <- &llm.ProviderChunk{ToolCallDelta: &llm.ToolCallDelta{Index: toolIndex, ID: &id, Name: &name, ArgsChunk: &args}}
				}
			}
		}
	}

	done := llm.DoneStop
	if toolIndex >= 0 {
		done = llm.DoneToolCalls
	}
	chunks <- &llm.ProviderChunk{Done: &done}
	return nil
}

func (p *GoogleProvider) convertMessages(messages []models.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal(tr.Output, &response); err != nil {
				response = map[string]any{"result": string(tr.Output), "error": tr.Status == models.ToolResultError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: toolNameForCall(tr.ToolCallID, messages), Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

func (p *GoogleProvider) convertTools(tools []models.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		var schema *genai.Schema
		if len(tool.Schema) > 0 {
			schema = &genai.Schema{}
			if err := json.Unmarshal(tool.Schema, schema); err != nil {
				schema = nil
			}
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func (p *GoogleProvider) buildConfig(req *llm.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		config.Tools = p.convertTools(req.Tools)
	}
	return config
}

func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *GoogleProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable() || strings.Contains(strings.ToLower(err.Error()), "resource exhausted")
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("google", model, err)
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}
	return providerErr
}

// toolNameForCall looks up the tool name a result belongs to by scanning
// prior assistant messages for the matching call ID. Gemini's function
// response part is keyed by name, not call ID, so this bridges the two.
func toolNameForCall(toolCallID string, messages []models.Message) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return ""
}

// CountTokens estimates token usage at ~4 characters per token.
func (p *GoogleProvider) CountTokens(messages []models.Message) int {
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
