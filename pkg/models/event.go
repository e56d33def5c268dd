package models

import (
	"encoding/json"
	"time"
)

// EventType is the closed tag set for the session log's sum-type events.
type EventType string

const (
	EventUserPrompt        EventType = "user_prompt"
	EventAssistantText     EventType = "assistant_text"
	EventAssistantToolCall EventType = "assistant_tool_call"
	EventToolResult        EventType = "tool_result"
	EventPolicyDecision    EventType = "policy_decision"
	EventError             EventType = "error"
	EventSessionMeta       EventType = "session_meta"
)

// Event is the atomic, immutable unit appended to a session log. Exactly one
// of the payload fields is non-nil, selected by Type.
type Event struct {
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"created_at"`

	UserPrompt        *UserPromptPayload        `json:"user_prompt,omitempty"`
	AssistantText     *AssistantTextPayload     `json:"assistant_text,omitempty"`
	AssistantToolCall *AssistantToolCallPayload `json:"assistant_tool_call,omitempty"`
	ToolResultEvent   *ToolResultPayload        `json:"tool_result_event,omitempty"`
	PolicyDecision    *PolicyDecisionPayload    `json:"policy_decision,omitempty"`
	Error             *ErrorPayload             `json:"error,omitempty"`
	SessionMeta       *SessionMetaPayload       `json:"session_meta,omitempty"`
}

// UserPromptPayload carries the user's input text for a turn.
type UserPromptPayload struct {
	Text string `json:"text"`
}

// AssistantTextPayload carries a terminal assistant message.
type AssistantTextPayload struct {
	Text string `json:"text"`
}

// AssistantToolCallPayload carries every tool call emitted in one turn.
type AssistantToolCallPayload struct {
	Calls []ToolCall `json:"calls"`
}

// ToolResultPayload carries a single tool result linked by call id.
type ToolResultPayload struct {
	ToolCallID   string           `json:"tool_call_id"`
	ToolName     string           `json:"tool_name"`
	Status       ToolResultStatus `json:"status"`
	Output       json.RawMessage  `json:"output,omitempty"`
	ArtifactRefs []string         `json:"artifact_refs,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// PolicyDecisionPayload is the audit-visible record of a gating decision.
type PolicyDecisionPayload struct {
	ToolCallID   string          `json:"tool_call_id"`
	ToolName     string          `json:"tool_name"`
	Risk         RiskLevel       `json:"risk"`
	Decision     Decision        `json:"decision"`
	Reason       string          `json:"reason"`
	ArgsRedacted json.RawMessage `json:"args_redacted,omitempty"`
}

// ErrorPayload carries a fatal, turn-terminating error.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionMetaPayload carries free-form session metadata markers, such as
// the provider-switch marker described in the design notes.
type SessionMetaPayload struct {
	Kind   string         `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}
