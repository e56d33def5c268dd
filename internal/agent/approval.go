package agent

import (
	"context"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// ConfirmRequest is what the orchestrator hands to a ConfirmFunc when the
// policy engine returns a confirm decision for a tool call.
type ConfirmRequest struct {
	SessionID string
	ToolCall  models.ToolCall
	Decision  models.PolicyDecision
}

// ConfirmFunc synchronously resolves a confirm decision into a yes/no. It
// is called inline within the turn — confirm is not a persisted, queryable
// request, it is a suspension point the caller blocks on (spec.md models
// provider reads, tool executions, and confirmation as the only suspension
// points within a turn).
//
// A nil ConfirmFunc is treated as a conservative deny: without an operator
// to ask, a confirm decision cannot be escalated to an allow.
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) (bool, error)

// resolveConfirm applies fn to a confirm decision, defaulting to deny when
// fn is nil or returns an error.
func resolveConfirm(ctx context.Context, fn ConfirmFunc, req ConfirmRequest) bool {
	if fn == nil {
		return false
	}
	ok, err := fn(ctx, req)
	if err != nil {
		return false
	}
	return ok
}
