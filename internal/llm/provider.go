// Package llm defines the streaming chat-completion capability the
// orchestrator consumes, and the typed chunk vocabulary a provider adapter
// emits. It has no dependency on the orchestrator itself so that both the
// orchestrator and the provider adapters can depend on it without a cycle.
package llm

import (
	"context"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// ToolChoice selects whether the model may invoke tools on a given request.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// CompletionRequest is what the orchestrator hands to a provider for one
// streaming call.
type CompletionRequest struct {
	Model      string
	System     string
	Messages   []models.Message
	Tools      []models.Tool
	ToolChoice ToolChoice
	Timeout    time.Duration
}

// ToolCallDelta is one incremental update to a tool-call slot, identified by
// its Index within the stream. Id and Name arrive at most once per slot;
// ArgsChunk may arrive any number of times and is concatenated in order.
type ToolCallDelta struct {
	Index     int
	ID        *string
	Name      *string
	ArgsChunk *string
}

// DoneReason is why the provider stream ended.
type DoneReason string

const (
	DoneStop      DoneReason = "stop"
	DoneToolCalls DoneReason = "tool_calls"
	DoneLength    DoneReason = "length"
)

// ProviderChunk is a tagged variant of the provider's streaming output.
// Exactly one field is non-nil.
type ProviderChunk struct {
	ContentDelta  *string
	ToolCallDelta *ToolCallDelta
	Done          *DoneReason
	Err           error
}

// Provider is the consumed streaming chat-completion capability.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *ProviderChunk, error)
	CountTokens(messages []models.Message) int
}
