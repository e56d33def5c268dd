package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentrun/internal/agent/assembler"
	agentcontext "github.com/haasonsaas/agentrun/internal/agent/context"
	"github.com/haasonsaas/agentrun/internal/audit"
	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/internal/sessions"
	"github.com/haasonsaas/agentrun/internal/tools/policy"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// LoopConfig configures the orchestrator's bounded iteration.
type LoopConfig struct {
	// MaxTurns bounds the number of model round-trips within one call to
	// Run. Default: 10.
	MaxTurns int

	// TokenBudget is the total token budget handed to the context packer,
	// including the system prompt. Default: 8000.
	TokenBudget int

	// System is the static system prompt prepended to every packed context.
	System string

	// Model is the model name passed to the provider on every request.
	Model string
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{MaxTurns: 10, TokenBudget: 8000}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaults.TokenBudget
	}
	return &cfg
}

// StreamChunkKind is the closed tag set for one unit of the turn's lazy
// output sequence.
type StreamChunkKind string

const (
	ChunkTextDelta              StreamChunkKind = "text_delta"
	ChunkToolCallStarted        StreamChunkKind = "tool_call_started"
	ChunkToolCallArgumentsDelta StreamChunkKind = "tool_call_arguments_delta"
	ChunkToolCallCompleted      StreamChunkKind = "tool_call_completed"
	ChunkToolResult             StreamChunkKind = "tool_result"
	ChunkPolicyDecision         StreamChunkKind = "policy_decision"
	ChunkTurnComplete           StreamChunkKind = "turn_complete"
	ChunkError                  StreamChunkKind = "error"
)

// StreamChunk is one element of the turn's output sequence. Only the fields
// relevant to Kind are populated.
type StreamChunk struct {
	Kind StreamChunkKind

	TextDelta string

	ToolCallID string
	ToolName   string
	ArgsDelta  string

	ToolCall       *models.ToolCall
	ToolResult     *models.ToolResultPayload
	PolicyDecision *models.PolicyDecisionPayload

	Err *TurnError
}

// AgenticLoop drives one session's conversational turn to quiescence.
//
// The loop is a bounded state machine:
//
//	Idle -> AwaitingModel -> StreamingAssistant -> (DispatchingTools | Done)
//	                              ^                        |
//	                              └────────────────────────┘
//
// It re-enters AwaitingModel after every completed DispatchingTools phase
// and stops at Done (no tool calls in the last assistant message) or on a
// fatal TurnError.
type AgenticLoop struct {
	provider llm.Provider
	registry *ToolRegistry
	store    sessions.Store
	policy   *policy.Engine
	executor *Executor
	packer   *agentcontext.Packer
	confirm  ConfirmFunc
	tracer   *observability.Tracer
	metrics  *observability.Metrics
	audit    *audit.Logger
	config   *LoopConfig
}

// NewAgenticLoop constructs a loop from its required collaborators. config
// may be nil to accept defaults.
func NewAgenticLoop(provider llm.Provider, registry *ToolRegistry, store sessions.Store, policyEngine *policy.Engine, config *LoopConfig) *AgenticLoop {
	cfg := sanitizeLoopConfig(config)
	if registry == nil {
		registry = NewToolRegistry()
	}
	return &AgenticLoop{
		provider: provider,
		registry: registry,
		store:    store,
		policy:   policyEngine,
		executor: NewExecutor(registry, DefaultExecutorConfig()),
		packer:   agentcontext.NewPacker(agentcontext.PackOptions{Budget: cfg.TokenBudget}),
		config:   cfg,
	}
}

// SetConfirmFunc installs the callback used to resolve confirm decisions.
func (l *AgenticLoop) SetConfirmFunc(fn ConfirmFunc) { l.confirm = fn }

// SetTracer installs an OpenTelemetry tracer for per-turn/per-tool spans.
func (l *AgenticLoop) SetTracer(t *observability.Tracer) { l.tracer = t }

// SetMetrics installs a Prometheus metrics sink.
func (l *AgenticLoop) SetMetrics(m *observability.Metrics) { l.metrics = m }

// SetAuditLogger installs the rotating JSON-lines writer that records
// every policy decision. Optional — nil means no audit trail is written.
func (l *AgenticLoop) SetAuditLogger(a *audit.Logger) { l.audit = a }

// SetExecutorConfig replaces the tool executor's timeout configuration.
func (l *AgenticLoop) SetExecutorConfig(cfg *ExecutorConfig) {
	l.executor = NewExecutor(l.registry, cfg)
}

// Run appends userText as a user_prompt event and drives the turn — and any
// tool-induced sub-turns — to quiescence, streaming StreamChunks on the
// returned channel. The channel is closed once the sequence terminates,
// either with turn_complete or an error chunk.
func (l *AgenticLoop) Run(ctx context.Context, sessionID string, userText string) <-chan *StreamChunk {
	out := make(chan *StreamChunk, 16)
	go l.run(ctx, sessionID, userText, out)
	return out
}

func (l *AgenticLoop) run(ctx context.Context, sessionID, userText string, out chan<- *StreamChunk) {
	defer close(out)
	start := time.Now()

	if l.tracer != nil {
		var span trace.Span
		ctx, span = l.tracer.TraceTurn(ctx, sessionID)
		defer span.End()
	}

	if _, err := l.store.Append(ctx, sessionID, models.Event{
		Type:       models.EventUserPrompt,
		UserPrompt: &models.UserPromptPayload{Text: userText},
	}); err != nil {
		l.terminate(out, start, &TurnError{Kind: TurnErrorStore, Cause: err})
		return
	}

	seenCallIDs := make(map[string]bool)

	for turn := 1; ; turn++ {
		if ctx.Err() != nil {
			l.terminate(out, start, &TurnError{Kind: TurnErrorCancelled, Turn: turn, Cause: ctx.Err()})
			return
		}

		events, err := l.store.ReadEvents(ctx, sessionID, 0, 0)
		if err != nil {
			l.terminate(out, start, &TurnError{Kind: TurnErrorStore, Turn: turn, Cause: err})
			return
		}

		packed := l.packer.Pack(l.config.System, sessions.Messages(events))
		if l.metrics != nil && l.provider != nil {
			l.metrics.RecordContextWindow(l.providerName(), l.config.Model, l.provider.CountTokens(packed))
		}

		tools := l.registry.List()
		toolChoice := llm.ToolChoiceNone
		if len(tools) > 0 {
			toolChoice = llm.ToolChoiceAuto
		}

		calls, text, turnErr := l.streamAssistant(ctx, packed, tools, toolChoice, turn)
		if turnErr != nil {
			l.terminate(out, start, turnErr)
			return
		}

		if text != "" {
			if _, err := l.store.Append(ctx, sessionID, models.Event{
				Type:          models.EventAssistantText,
				AssistantText: &models.AssistantTextPayload{Text: text},
			}); err != nil {
				l.terminate(out, start, &TurnError{Kind: TurnErrorStore, Turn: turn, Cause: err})
				return
			}
		}

		if len(calls) == 0 {
			out <- &StreamChunk{Kind: ChunkTurnComplete}
			l.recordOutcome("turn_complete", start)
			return
		}

		for _, call := range calls {
			if seenCallIDs[call.ID] {
				l.terminate(out, start, &TurnError{
					Kind:  TurnErrorDuplicateCallID,
					Turn:  turn,
					Cause: fmt.Errorf("call_id %q already used in this session", call.ID),
				})
				return
			}
		}
		for _, call := range calls {
			seenCallIDs[call.ID] = true
		}

		if _, err := l.store.Append(ctx, sessionID, models.Event{
			Type:              models.EventAssistantToolCall,
			AssistantToolCall: &models.AssistantToolCallPayload{Calls: calls},
		}); err != nil {
			l.terminate(out, start, &TurnError{Kind: TurnErrorStore, Turn: turn, Cause: err})
			return
		}
		for i := range calls {
			call := calls[i]
			out <- &StreamChunk{Kind: ChunkToolCallCompleted, ToolCallID: call.ID, ToolName: call.Name, ToolCall: &call}
		}

		dispatched, turnErr := l.dispatchTools(ctx, sessionID, calls, out)
		if turnErr != nil {
			l.appendAbortedResults(ctx, sessionID, calls[dispatched:])
			l.terminate(out, start, turnErr)
			return
		}

		if turn >= l.config.MaxTurns {
			l.terminate(out, start, &TurnError{Kind: TurnErrorMaxTurns, Turn: turn})
			return
		}
	}
}

// streamAssistant opens one provider stream, feeds every chunk into the
// assembler, and finalizes the assembler once the stream ends.
func (l *AgenticLoop) streamAssistant(ctx context.Context, packed []models.Message, tools []models.Tool, toolChoice llm.ToolChoice, turn int) ([]models.ToolCall, string, *TurnError) {
	reqStart := time.Now()
	if l.tracer != nil {
		var span trace.Span
		ctx, span = l.tracer.TraceLLMRequest(ctx, l.providerName(), l.config.Model)
		defer span.End()
	}
	stream, err := l.provider.Stream(ctx, &llm.CompletionRequest{
		Model:      l.config.Model,
		System:     l.config.System,
		Messages:   packed,
		Tools:      tools,
		ToolChoice: toolChoice,
	})
	if err != nil {
		l.recordLLM("error", reqStart)
		return nil, "", &TurnError{Kind: TurnErrorProvider, Turn: turn, Cause: err}
	}

	asm := assembler.New()
	var text strings.Builder
	var streamErr error

	for chunk := range stream {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		if chunk.ContentDelta != nil {
			text.WriteString(*chunk.ContentDelta)
		}
		if chunk.ToolCallDelta != nil {
			asm.Feed(*chunk.ToolCallDelta)
		}
	}

	if streamErr != nil {
		l.recordLLM("error", reqStart)
		return nil, "", &TurnError{Kind: TurnErrorProvider, Turn: turn, Cause: streamErr}
	}
	l.recordLLM("success", reqStart)

	calls, err := asm.Finalize()
	if err != nil {
		return nil, "", &TurnError{Kind: TurnErrorProtocol, Turn: turn, Cause: err}
	}
	return calls, text.String(), nil
}

// dispatchTools runs step 7 of the turn algorithm for each call in
// assembler order, sequentially, stopping early on cancellation or a store
// failure. It returns the number of calls fully dispatched before it stopped
// so the caller can synthesize aborted results for whatever remains.
func (l *AgenticLoop) dispatchTools(ctx context.Context, sessionID string, calls []models.ToolCall, out chan<- *StreamChunk) (int, *TurnError) {
	for i, call := range calls {
		if ctx.Err() != nil {
			return i, &TurnError{Kind: TurnErrorCancelled, Cause: ctx.Err()}
		}
		result, err := l.dispatchOne(ctx, sessionID, call, out)
		if err != nil {
			return i, &TurnError{Kind: TurnErrorStore, Cause: err}
		}
		out <- &StreamChunk{Kind: ChunkToolResult, ToolCallID: call.ID, ToolName: call.Name, ToolResult: result}
	}
	return len(calls), nil
}

// dispatchOne runs one call through lookup, validation, and policy gating,
// executing it only on allow (or confirm resolved to yes), and appends the
// policy_decision and tool_result events as it goes.
func (l *AgenticLoop) dispatchOne(ctx context.Context, sessionID string, call models.ToolCall, out chan<- *StreamChunk) (*models.ToolResultPayload, error) {
	if l.tracer != nil {
		var span trace.Span
		ctx, span = l.tracer.TraceToolExecution(ctx, call.Name)
		l.tracer.SetAttributes(span, "tool.call_id", call.ID)
		defer span.End()
	}
	execStart := time.Now()

	tool, ok := l.registry.Get(call.Name)
	if !ok {
		result := &models.ToolResultPayload{ToolCallID: call.ID, ToolName: call.Name, Status: models.ToolResultError, Error: "unknown_tool"}
		l.recordToolCall(call.Name, "deny", 0)
		return result, l.appendToolResult(ctx, sessionID, result)
	}

	if err := l.registry.Validate(call.Name, call.Input); err != nil {
		result := &models.ToolResultPayload{ToolCallID: call.ID, ToolName: call.Name, Status: models.ToolResultError, Error: "invalid_arguments"}
		l.recordToolCall(call.Name, "deny", 0)
		return result, l.appendToolResult(ctx, sessionID, result)
	}

	decision := l.policy.Decide(tool, call.Input)
	if err := l.appendPolicyDecision(ctx, sessionID, call, tool.Risk, decision); err != nil {
		return nil, err
	}
	out <- &StreamChunk{
		Kind:       ChunkPolicyDecision,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		PolicyDecision: &models.PolicyDecisionPayload{
			ToolCallID:   call.ID,
			ToolName:     call.Name,
			Risk:         tool.Risk,
			Decision:     decision.Decision,
			Reason:       decision.Reason,
			ArgsRedacted: decision.ArgsRedacted,
		},
	}

	switch decision.Decision {
	case models.DecisionDeny:
		result := &models.ToolResultPayload{ToolCallID: call.ID, ToolName: call.Name, Status: models.ToolResultDenied, Error: decision.Reason}
		l.recordToolCall(call.Name, "deny", time.Since(execStart).Seconds())
		return result, l.appendToolResult(ctx, sessionID, result)

	case models.DecisionConfirm:
		if !resolveConfirm(ctx, l.confirm, ConfirmRequest{SessionID: sessionID, ToolCall: call, Decision: decision}) {
			result := &models.ToolResultPayload{ToolCallID: call.ID, ToolName: call.Name, Status: models.ToolResultDenied, Error: "confirm_declined"}
			l.recordToolCall(call.Name, "deny", time.Since(execStart).Seconds())
			return result, l.appendToolResult(ctx, sessionID, result)
		}
		fallthrough

	case models.DecisionAllow:
		result := l.executor.Execute(ctx, call)
		status := "allow"
		if result.Status != models.ToolResultOK {
			status = "deny"
		}
		l.recordToolCall(call.Name, status, time.Since(execStart).Seconds())
		return result, l.appendToolResult(ctx, sessionID, result)
	}

	result := &models.ToolResultPayload{ToolCallID: call.ID, ToolName: call.Name, Status: models.ToolResultError, Error: "unrecognized_policy_decision"}
	return result, l.appendToolResult(ctx, sessionID, result)
}

func (l *AgenticLoop) appendPolicyDecision(ctx context.Context, sessionID string, call models.ToolCall, risk models.RiskLevel, decision models.PolicyDecision) error {
	_, err := l.store.Append(ctx, sessionID, models.Event{
		Type: models.EventPolicyDecision,
		PolicyDecision: &models.PolicyDecisionPayload{
			ToolCallID:   call.ID,
			ToolName:     call.Name,
			Risk:         risk,
			Decision:     decision.Decision,
			Reason:       decision.Reason,
			ArgsRedacted: decision.ArgsRedacted,
		},
	})
	if err != nil {
		return err
	}
	if l.audit != nil {
		if auditErr := l.audit.RecordDecision(sessionID, call.ID, call.Name, risk, decision.Decision, decision.Reason, decision.ArgsRedacted); auditErr != nil && l.metrics != nil {
			l.metrics.RecordError("audit", "write_failed")
		}
	}
	return nil
}

func (l *AgenticLoop) appendToolResult(ctx context.Context, sessionID string, result *models.ToolResultPayload) error {
	_, err := l.store.Append(ctx, sessionID, models.Event{
		Type:            models.EventToolResult,
		ToolResultEvent: result,
	})
	return err
}

// appendAbortedResults writes a synthetic tool_result(status=error,
// error=aborted) for every call that never received a result, so no
// assistant_tool_call is ever left with an outstanding call_id in the log.
func (l *AgenticLoop) appendAbortedResults(ctx context.Context, sessionID string, outstanding []models.ToolCall) {
	for _, call := range outstanding {
		_ = l.appendToolResult(ctx, sessionID, &models.ToolResultPayload{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Status:     models.ToolResultError,
			Error:      "aborted",
		})
	}
}

func (l *AgenticLoop) terminate(out chan<- *StreamChunk, start time.Time, err *TurnError) {
	if l.metrics != nil {
		l.metrics.RecordError("orchestrator", string(err.Kind))
	}
	out <- &StreamChunk{Kind: ChunkError, Err: err}
	l.recordOutcome(string(err.Kind), start)
}

func (l *AgenticLoop) recordOutcome(outcome string, start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}
}

func (l *AgenticLoop) recordToolCall(tool, decision string, durationSeconds float64) {
	if l.metrics != nil {
		l.metrics.RecordToolCall(tool, decision, durationSeconds)
	}
}

func (l *AgenticLoop) recordLLM(status string, start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordLLMRequest(l.providerName(), l.config.Model, status, time.Since(start).Seconds(), 0, 0)
	}
}

func (l *AgenticLoop) providerName() string {
	if l.provider == nil {
		return "unknown"
	}
	return l.provider.Name()
}
