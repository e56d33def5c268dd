// Package context selects which messages from a session's history are
// handed to the LLM provider on each turn, within a token budget.
package context

import (
	"github.com/haasonsaas/agentrun/pkg/models"
)

// TokenCounter estimates the token cost of one message. A nil TokenCounter
// falls back to a chars/4 estimate.
type TokenCounter func(m models.Message) int

// PackOptions configures the packer's token budget.
type PackOptions struct {
	// Budget is the total token budget for the packed context, including
	// the system prompt and every selected message.
	Budget int

	// ReserveForResponse is subtracted from Budget up front, leaving room
	// for the model's own completion.
	ReserveForResponse int

	// TokenCounter estimates a message's token cost. Nil uses chars/4.
	TokenCounter TokenCounter
}

// DefaultPackOptions returns sensible defaults: an 8k token budget with
// 1k reserved for the response.
func DefaultPackOptions() PackOptions {
	return PackOptions{Budget: 8000, ReserveForResponse: 1000}
}

// Packer selects messages from history to fit within a token budget.
type Packer struct {
	opts PackOptions
}

// NewPacker creates a context packer with the given options. A non-positive
// Budget is replaced by the default 8000; a negative ReserveForResponse is
// treated as zero, and a zero ReserveForResponse is kept as zero.
func NewPacker(opts PackOptions) *Packer {
	if opts.Budget <= 0 {
		opts.Budget = 8000
	}
	if opts.ReserveForResponse < 0 {
		opts.ReserveForResponse = 0
	}
	return &Packer{opts: opts}
}

// Pack always includes the system prompt, then walks history from most
// recent backward, adding messages while the running token estimate
// stays within budget-reserve_for_response. The result is chronological:
// system prompt first, then selected history in original order.
//
// Invariant: an assistant message with tool calls is included only if
// every tool_result matching one of its call IDs is also included;
// otherwise the assistant message is dropped too, since a tool_result
// referencing a missing assistant_tool_call would violate the session's
// reference invariant. Symmetrically, a tool_result whose assistant
// message was cut by the budget is dropped on its own.
func (p *Packer) Pack(system string, history []models.Message) []models.Message {
	counter := p.opts.TokenCounter
	if counter == nil {
		counter = estimateTokens
	}

	available := p.opts.Budget - p.opts.ReserveForResponse
	if system != "" {
		available -= counter(models.Message{Role: models.RoleSystem, Content: system})
	}

	selectedReverse := make([]models.Message, 0, len(history))
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := counter(history[i])
		if used+cost > available {
			break
		}
		selectedReverse = append(selectedReverse, history[i])
		used += cost
	}

	selected := make([]models.Message, len(selectedReverse))
	for i, m := range selectedReverse {
		selected[len(selectedReverse)-1-i] = m
	}

	selected = enforceToolPairing(selected)

	result := make([]models.Message, 0, len(selected)+1)
	if system != "" {
		result = append(result, models.Message{Role: models.RoleSystem, Content: system})
	}
	result = append(result, selected...)
	return result
}

// enforceToolPairing drops any assistant tool-call message whose matching
// tool result was excluded by the budget, and drops any tool result whose
// assistant message was excluded.
func enforceToolPairing(messages []models.Message) []models.Message {
	present := make(map[string]bool)
	for _, m := range messages {
		for _, tr := range m.ToolResults {
			present[tr.ToolCallID] = true
		}
	}

	assistantHasCall := make(map[string]bool)
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			assistantHasCall[tc.ID] = true
		}
	}

	result := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if len(m.ToolCalls) > 0 {
			complete := true
			for _, tc := range m.ToolCalls {
				if !present[tc.ID] {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
		}

		if len(m.ToolResults) > 0 {
			kept := make([]models.ToolResult, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				if assistantHasCall[tr.ToolCallID] {
					kept = append(kept, tr)
				}
			}
			if len(kept) == 0 && len(m.ToolCalls) == 0 {
				continue
			}
			m.ToolResults = kept
		}

		result = append(result, m)
	}
	return result
}

// estimateTokens is the chars/4 fallback used when no exact token counter
// is available from the provider.
func estimateTokens(m models.Message) int {
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range m.ToolResults {
		chars += len(tr.Output) + len(tr.Error)
	}
	return chars/4 + 1
}
