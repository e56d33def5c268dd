// Package sessions implements the event-sourced session store: one
// append-only events table keyed by (session_id, seq), a sessions table,
// and artifact-metadata storage. It also owns session-level
// serialization, since store.append assigns seq inside the same
// transaction as the insert and no two goroutines may interleave appends
// for one session.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// ErrSessionNotFound is returned by Append and DeleteSession for an unknown
// session id.
var ErrSessionNotFound = errors.New("session not found")

// Store is the session persistence interface the orchestrator depends on.
// Implementations must assign Seq atomically with the insert: two
// concurrent Append calls for the same session must never observe the
// same Seq, and Seq must be gapless from 1.
type Store interface {
	// CreateSession allocates a new session and returns it.
	CreateSession(ctx context.Context) (models.Session, error)

	// Append assigns the next seq for sessionID, stamps it onto event,
	// and persists it durably before returning. Returns the assigned seq.
	Append(ctx context.Context, sessionID string, event models.Event) (int64, error)

	// ReadEvents returns events for sessionID in append order. fromSeq is
	// inclusive; 0 means from the beginning. limit <= 0 means no limit.
	ReadEvents(ctx context.Context, sessionID string, fromSeq int64, limit int) ([]models.Event, error)

	// ListSessions returns every known session, most recently created first.
	ListSessions(ctx context.Context) ([]models.Session, error)

	// DeleteSession removes a session and its events.
	DeleteSession(ctx context.Context, sessionID string) error
}

// Messages reconstructs the models.Message history implied by a session's
// event log, for handing to the context packer. Each assistant_tool_call
// event becomes an assistant Message carrying its calls, and each
// tool_result event becomes its own tool-role Message, preserving
// chronological order.
func Messages(events []models.Event) []models.Message {
	messages := make([]models.Message, 0, len(events))
	for _, e := range events {
		switch e.Type {
		case models.EventUserPrompt:
			if e.UserPrompt != nil {
				messages = append(messages, models.Message{Role: models.RoleUser, Content: e.UserPrompt.Text})
			}
		case models.EventAssistantText:
			if e.AssistantText != nil {
				messages = append(messages, models.Message{Role: models.RoleAssistant, Content: e.AssistantText.Text})
			}
		case models.EventAssistantToolCall:
			if e.AssistantToolCall != nil {
				messages = append(messages, models.Message{Role: models.RoleAssistant, ToolCalls: e.AssistantToolCall.Calls})
			}
		case models.EventToolResult:
			if e.ToolResultEvent != nil {
				messages = append(messages, models.Message{
					Role: models.RoleTool,
					ToolResults: []models.ToolResult{{
						ToolCallID:   e.ToolResultEvent.ToolCallID,
						Status:       e.ToolResultEvent.Status,
						Output:       e.ToolResultEvent.Output,
						ArtifactRefs: e.ToolResultEvent.ArtifactRefs,
						Error:        e.ToolResultEvent.Error,
					}},
				})
			}
		}
	}
	return messages
}
