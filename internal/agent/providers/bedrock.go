package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/agentrun/internal/backoff"
	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// BedrockProvider implements llm.Provider against AWS Bedrock's Converse API,
// giving access to foundation models hosted on AWS including Anthropic
// Claude, Amazon Titan, Meta Llama, Mistral, and Cohere. Grounded on the
// teacher's BedrockProvider: the ConverseStream event switch and AWS
// credential-chain setup survive, narrowed to emit the assembler's
// ToolCallDelta vocabulary instead of assembling a complete models.ToolCall
// itself. Attachment/vision handling from the teacher is dropped — no
// component needs it, since models.Message carries no attachment field.
type BedrockProvider struct {
	BaseProvider
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	// Region is the AWS region (default: us-east-1).
	Region string

	// AccessKeyID for explicit credentials (optional, uses default chain if empty).
	AccessKeyID string

	// SecretAccessKey for explicit credentials (optional).
	SecretAccessKey string

	// SessionToken for temporary credentials (optional).
	SessionToken string

	// DefaultModel is used when a request omits one.
	DefaultModel string

	// MaxRetries for transient failures (default: 3).
	MaxRetries int

	// RetryPolicy overrides the default exponential backoff policy.
	RetryPolicy backoff.BackoffPolicy
}

// NewBedrockProvider creates a provider against AWS Bedrock.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(), config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		BaseProvider: NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryPolicy),
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

// Stream sends req to Bedrock's Converse API and emits ProviderChunks as the
// response stream arrives.
func (p *BedrockProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.ProviderChunk, error) {
	if p.client == nil {
		return nil, NewProviderError("bedrock", req.Model, errors.New("client not initialized"))
	}

	model := p.getModel(req.Model)
	converseReq, err := p.buildRequest(model, req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to build request: %w", err)
	}

	chunks := make(chan *llm.ProviderChunk)

	go func() {
		defer close(chunks)

		var stream *bedrockruntime.ConverseStreamOutput
		err := p.Retry(ctx, p.isRetryableError, func() error {
			out, streamErr := p.client.ConverseStream(ctx, converseReq)
			if streamErr != nil {
				return p.wrapError(streamErr, model)
			}
			stream = out
			return nil
		})
		if err != nil {
			chunks <- &llm.ProviderChunk{Err: p.wrapError(err, model)}
			return
		}

		p.processStream(ctx, stream, chunks, model)
	}()

	return chunks, nil
}

func (p *BedrockProvider) buildRequest(model string, req *llm.CompletionRequest) (*bedrockruntime.ConverseStreamInput, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}

	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	if len(req.Tools) > 0 {
		toolConfig, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		converseReq.ToolConfig = toolConfig
	}

	return converseReq, nil
}

// processStream consumes the Converse event stream and converts it into
// llm.ProviderChunks. A content-block-start carrying a tool-use opens a
// ToolCallDelta with ID/Name; each tool-use delta that follows emits another
// ToolCallDelta for the same Index carrying only ArgsChunk.
func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- *llm.ProviderChunk, model string) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	toolIndex := -1
	eventChan := eventStream.Events()

	for {
		select {
		case <-ctx.Done():
			chunks <- &llm.ProviderChunk{Err: ctx.Err()}
			return
		case event, ok := <-eventChan:
			if !ok {
				if err := eventStream.Err(); err != nil {
					chunks <- &llm.ProviderChunk{Err: p.wrapError(err, model)}
					return
				}
				done := llm.DoneStop
				if toolIndex >= 0 {
					done = llm.DoneToolCalls
				}
				chunks <- &llm.ProviderChunk{Done: &done}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					toolIndex++
					id := aws.ToString(toolUse.Value.ToolUseId)
					name := aws.ToString(toolUse.Value.Name)
					chunks <- &llm.ProviderChunk{ToolCallDelta: &llm.ToolCallDelta{Index: toolIndex, ID: &id, Name: &name}}
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						text := delta.Value
						chunks <- &llm.ProviderChunk{ContentDelta: &text}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil && *delta.Value.Input != "" {
						chunk := *delta.Value.Input
						chunks <- &llm.ProviderChunk{ToolCallDelta: &llm.ToolCallDelta{Index: toolIndex, ArgsChunk: &chunk}}
					}
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				done := llm.DoneStop
				if toolIndex >= 0 {
					done = llm.DoneToolCalls
				}
				chunks <- &llm.ProviderChunk{Done: &done}
				return
			}
		}
	}
}

func (p *BedrockProvider) convertMessages(messages []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock

		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}

		for _, tr := range msg.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: string(tr.Output)},
					},
				},
			})
		}

		for _, tc := range msg.ToolCalls {
			var input any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
			} else {
				input = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}

		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}

	return result, nil
}

func (p *BedrockProvider) convertTools(tools []models.Tool) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, len(tools))
	for i, tool := range tools {
		var schemaDoc any
		if len(tool.Schema) > 0 {
			if err := json.Unmarshal(tool.Schema, &schemaDoc); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
			}
		} else {
			schemaDoc = map[string]any{"type": "object"}
		}
		specs[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func (p *BedrockProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "TooManyRequestsException") ||
		strings.Contains(errMsg, "ServiceUnavailableException") {
		return true
	}
	return ClassifyError(err).IsRetryable()
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}

// CountTokens estimates token usage at ~4 characters per token.
func (p *BedrockProvider) CountTokens(messages []models.Message) int {
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
