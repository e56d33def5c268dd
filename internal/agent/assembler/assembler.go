// Package assembler reconstructs complete, well-typed tool calls from a
// sequence of partial deltas emitted by a streaming chat-completion
// provider. It is provider-agnostic: it consumes the orchestrator's
// ToolCallDelta shape, not any vendor's wire format.
//
// There is no silent recovery. A malformed delta sequence produces a typed
// ProtocolError rather than a best-effort partial call — the model's
// control channel must be verifiable.
package assembler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// ErrorKind is the closed set of protocol failures the assembler can report.
type ErrorKind string

const (
	MissingIdentity   ErrorKind = "missing_identity"
	MalformedArguments ErrorKind = "malformed_arguments"
	DuplicateID        ErrorKind = "duplicate_id"
)

// ProtocolError is returned from Finalize when the delta stream could not
// be reconstructed into well-typed tool calls.
type ProtocolError struct {
	Kind  ErrorKind
	Index int
	ID    string
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case MissingIdentity:
		return fmt.Sprintf("protocol_error: missing_identity (slot %d)", e.Index)
	case MalformedArguments:
		return fmt.Sprintf("protocol_error: malformed_arguments (slot %d, id=%s)", e.Index, e.ID)
	case DuplicateID:
		return fmt.Sprintf("protocol_error: duplicate_id (id=%s)", e.ID)
	default:
		return fmt.Sprintf("protocol_error: %s", e.Kind)
	}
}

type slot struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// Assembler accumulates per-index tool-call slots across one stream.
type Assembler struct {
	order []int
	slots map[int]*slot
}

// New returns an empty Assembler ready to consume one provider stream.
func New() *Assembler {
	return &Assembler{slots: make(map[int]*slot)}
}

// Feed applies one delta to its slot, creating the slot on first sight.
func (a *Assembler) Feed(d llm.ToolCallDelta) {
	s, ok := a.slots[d.Index]
	if !ok {
		s = &slot{index: d.Index}
		a.slots[d.Index] = s
		a.order = append(a.order, d.Index)
	}
	if d.ID != nil {
		s.id = *d.ID
	}
	if d.Name != nil {
		s.name = *d.Name
	}
	if d.ArgsChunk != nil {
		s.args.WriteString(*d.ArgsChunk)
	}
}

// Finalize validates every accumulated slot and returns the completed tool
// calls in the order their slots were first observed. On the first
// validation failure it returns a *ProtocolError and no calls.
func (a *Assembler) Finalize() ([]models.ToolCall, error) {
	if len(a.order) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(a.order))
	calls := make([]models.ToolCall, 0, len(a.order))

	for _, idx := range a.order {
		s := a.slots[idx]

		if s.id == "" || s.name == "" {
			return nil, &ProtocolError{Kind: MissingIdentity, Index: s.index}
		}
		if seen[s.id] {
			return nil, &ProtocolError{Kind: DuplicateID, Index: s.index, ID: s.id}
		}
		seen[s.id] = true

		raw := strings.TrimSpace(s.args.String())
		if raw == "" {
			raw = "{}"
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &probe); err != nil {
			return nil, &ProtocolError{Kind: MalformedArguments, Index: s.index, ID: s.id}
		}

		calls = append(calls, models.ToolCall{
			ID:    s.id,
			Name:  s.name,
			Input: json.RawMessage(raw),
		})
	}

	return calls, nil
}
