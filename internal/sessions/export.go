package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// ExportFormat is the closed set of formats store.export accepts.
type ExportFormat string

const (
	// ExportEventsJSONL is the round-trip format: one JSON-encoded Event
	// per line, in append order. Re-importing it (replaying Append calls
	// in order) reproduces the same logical message list.
	ExportEventsJSONL ExportFormat = "events_jsonl"

	// ExportRunbookMarkdown renders the session as an operator-readable
	// Markdown runbook: not round-trippable, meant to be read.
	ExportRunbookMarkdown ExportFormat = "runbook_markdown"
)

// IsValidExportFormat reports whether format is one of the two closed
// export formats.
func IsValidExportFormat(format ExportFormat) bool {
	switch format {
	case ExportEventsJSONL, ExportRunbookMarkdown:
		return true
	default:
		return false
	}
}

// Export reads every event for sessionID from store and writes it to w in
// the requested format. It reads the full event log into memory; sessions
// are bounded by TokenBudget/MaxTurns so this is not expected to be large.
func Export(ctx context.Context, store Store, sessionID string, format ExportFormat, w io.Writer) error {
	events, err := store.ReadEvents(ctx, sessionID, 0, 0)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	switch format {
	case ExportEventsJSONL:
		return writeEventsJSONL(w, events)
	case ExportRunbookMarkdown:
		return writeRunbookMarkdown(w, sessionID, events)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeEventsJSONL(w io.Writer, events []models.Event) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("encode event seq %d: %w", event.Seq, err)
		}
	}
	return bw.Flush()
}

// writeRunbookMarkdown renders one heading per event, in the order an
// operator would want to read a transcript: what was asked, what the
// model said and did, what the tools returned, and what policy gated.
func writeRunbookMarkdown(w io.Writer, sessionID string, events []models.Event) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Session %s\n\n", sessionID)
	if len(events) == 0 {
		fmt.Fprintln(bw, "_No events recorded._")
		return bw.Flush()
	}
	toolNames := make(map[string]string, len(events))
	for _, event := range events {
		if event.Type == models.EventAssistantToolCall && event.AssistantToolCall != nil {
			for _, call := range event.AssistantToolCall.Calls {
				toolNames[call.ID] = call.Name
			}
		}
	}
	for _, event := range events {
		writeRunbookEvent(bw, event, toolNames)
	}
	return bw.Flush()
}

func writeRunbookEvent(bw *bufio.Writer, event models.Event, toolNames map[string]string) {
	stamp := event.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")
	switch event.Type {
	case models.EventUserPrompt:
		if event.UserPrompt != nil {
			fmt.Fprintf(bw, "## [%d] %s — user\n\n%s\n\n", event.Seq, stamp, event.UserPrompt.Text)
		}
	case models.EventAssistantText:
		if event.AssistantText != nil {
			fmt.Fprintf(bw, "## [%d] %s — assistant\n\n%s\n\n", event.Seq, stamp, event.AssistantText.Text)
		}
	case models.EventAssistantToolCall:
		if event.AssistantToolCall != nil {
			fmt.Fprintf(bw, "## [%d] %s — assistant tool call\n\n", event.Seq, stamp)
			for _, call := range event.AssistantToolCall.Calls {
				fmt.Fprintf(bw, "- `%s` (%s)\n\n  ```json\n  %s\n  ```\n\n", call.Name, call.ID, indentJSON(call.Input))
			}
		}
	case models.EventToolResult:
		if p := event.ToolResultEvent; p != nil {
			name := p.ToolName
			if name == "" {
				name = toolNames[p.ToolCallID]
			}
			fmt.Fprintf(bw, "## [%d] %s — tool result: `%s` (%s)\n\n", event.Seq, stamp, name, p.Status)
			if p.Error != "" {
				fmt.Fprintf(bw, "Error: %s\n\n", p.Error)
			}
			if len(p.Output) > 0 {
				fmt.Fprintf(bw, "```json\n%s\n```\n\n", indentJSON(p.Output))
			}
			for _, ref := range p.ArtifactRefs {
				fmt.Fprintf(bw, "- artifact: `%s`\n", ref)
			}
			if len(p.ArtifactRefs) > 0 {
				fmt.Fprintln(bw)
			}
		}
	case models.EventPolicyDecision:
		if p := event.PolicyDecision; p != nil {
			fmt.Fprintf(bw, "## [%d] %s — policy decision: `%s` → **%s**\n\n%s (risk: %s)\n\n",
				event.Seq, stamp, p.ToolName, p.Decision, p.Reason, p.Risk)
		}
	case models.EventError:
		if p := event.Error; p != nil {
			fmt.Fprintf(bw, "## [%d] %s — error: %s\n\n%s\n\n", event.Seq, stamp, p.Kind, p.Message)
		}
	case models.EventSessionMeta:
		if p := event.SessionMeta; p != nil {
			fmt.Fprintf(bw, "## [%d] %s — session meta: %s\n\n", event.Seq, stamp, p.Kind)
			for k, v := range p.Fields {
				fmt.Fprintf(bw, "- %s: %v\n", k, v)
			}
			fmt.Fprintln(bw)
		}
	}
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var pretty strings.Builder
	if err := json.Indent(&pretty, raw, "  ", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
