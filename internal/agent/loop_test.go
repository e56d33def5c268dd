package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/agentrun/internal/llm"
	"github.com/haasonsaas/agentrun/internal/sessions"
	"github.com/haasonsaas/agentrun/internal/tools/policy"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// scriptedProvider replays one []*llm.ProviderChunk slice per Stream call, in
// order, so a test can script a multi-turn conversation deterministically.
type scriptedProvider struct {
	turns [][]*llm.ProviderChunk
	call  int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) CountTokens(messages []models.Message) int { return len(messages) }

func (p *scriptedProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.ProviderChunk, error) {
	if p.call >= len(p.turns) {
		return nil, errors.New("scriptedProvider: no more turns scripted")
	}
	turn := p.turns[p.call]
	p.call++

	ch := make(chan *llm.ProviderChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func textDelta(s string) *llm.ProviderChunk {
	return &llm.ProviderChunk{ContentDelta: &s}
}

func toolCallDelta(index int, id, name, args string) *llm.ProviderChunk {
	return &llm.ProviderChunk{ToolCallDelta: &llm.ToolCallDelta{Index: index, ID: &id, Name: &name, ArgsChunk: &args}}
}

func newTestRegistry(t *testing.T, exec func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error)) *ToolRegistry {
	t.Helper()
	reg := NewToolRegistry()
	if err := reg.Register(models.Tool{
		Name:   "echo",
		Risk:   models.ReadOnly,
		Schema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
		Execute: exec,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

func allowAllEngine(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.NewEngine(policy.EngineConfig{MaxRisk: models.Shell})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// TestAgenticLoop_NoToolCallsCompletesImmediately exercises the simplest
// path: one provider round-trip, no tool calls, turn_complete.
func TestAgenticLoop_NoToolCallsCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, err := store.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	provider := &scriptedProvider{turns: [][]*llm.ProviderChunk{
		{textDelta("hello "), textDelta("world")},
	}}
	registry := newTestRegistry(t, nil)
	loop := NewAgenticLoop(provider, registry, store, allowAllEngine(t), DefaultLoopConfig())

	var kinds []StreamChunkKind
	for chunk := range loop.Run(ctx, session.ID, "hi") {
		kinds = append(kinds, chunk.Kind)
	}
	if len(kinds) != 1 || kinds[0] != ChunkTurnComplete {
		t.Fatalf("expected [turn_complete], got %v", kinds)
	}

	events, err := store.ReadEvents(ctx, session.ID, 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 || events[0].Type != models.EventUserPrompt || events[1].Type != models.EventAssistantText {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[1].AssistantText.Text != "hello world" {
		t.Fatalf("expected assembled text, got %q", events[1].AssistantText.Text)
	}
}

// TestAgenticLoop_ToolCallThenCompletion exercises the two-turn path: a tool
// call is dispatched, executed, and the result is fed back for a second
// round-trip that completes.
func TestAgenticLoop_ToolCallThenCompletion(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.CreateSession(ctx)

	provider := &scriptedProvider{turns: [][]*llm.ProviderChunk{
		{toolCallDelta(0, "call_1", "echo", `{"text":"hi"}`)},
		{textDelta("done")},
	}}
	registry := newTestRegistry(t, func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		return &models.ToolExecResult{Output: json.RawMessage(`{"echoed":true}`)}, nil
	})
	loop := NewAgenticLoop(provider, registry, store, allowAllEngine(t), DefaultLoopConfig())

	var kinds []StreamChunkKind
	for chunk := range loop.Run(ctx, session.ID, "run echo") {
		kinds = append(kinds, chunk.Kind)
		if chunk.Kind == ChunkToolResult && chunk.ToolResult.Status != models.ToolResultOK {
			t.Fatalf("expected ok tool result, got %+v", chunk.ToolResult)
		}
	}

	want := []StreamChunkKind{ChunkToolCallCompleted, ChunkPolicyDecision, ChunkToolResult, ChunkTurnComplete}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

// TestAgenticLoop_PolicyDenyShortCircuitsExecution verifies a denied tool
// call never reaches Tool.Execute and is fed back as a denied result.
func TestAgenticLoop_PolicyDenyShortCircuitsExecution(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.CreateSession(ctx)

	executed := false
	provider := &scriptedProvider{turns: [][]*llm.ProviderChunk{
		{toolCallDelta(0, "call_1", "echo", `{"text":"hi"}`)},
		{textDelta("done")},
	}}
	registry := newTestRegistry(t, func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		executed = true
		return &models.ToolExecResult{}, nil
	})
	denyEngine, err := policy.NewEngine(policy.EngineConfig{MaxRisk: models.ReadOnly - 1})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	loop := NewAgenticLoop(provider, registry, store, denyEngine, DefaultLoopConfig())

	for chunk := range loop.Run(ctx, session.ID, "run echo") {
		if chunk.Kind == ChunkToolResult && chunk.ToolResult.Status != models.ToolResultDenied {
			t.Fatalf("expected denied result, got %+v", chunk.ToolResult)
		}
	}
	if executed {
		t.Fatal("expected tool.Execute to never run for a denied call")
	}
}

// TestAgenticLoop_ConfirmDeclinedDeniesExecution verifies a confirm decision
// resolved to false by ConfirmFunc never reaches Tool.Execute.
func TestAgenticLoop_ConfirmDeclinedDeniesExecution(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.CreateSession(ctx)

	executed := false
	provider := &scriptedProvider{turns: [][]*llm.ProviderChunk{
		{toolCallDelta(0, "call_1", "echo", `{"text":"hi"}`)},
		{textDelta("done")},
	}}

	// The echo tool is SHELL risk here so confirm_shell applies.
	registry := NewToolRegistry()
	if err := registry.Register(models.Tool{
		Name: "echo",
		Risk: models.Shell,
		Execute: func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
			executed = true
			return &models.ToolExecResult{}, nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	engine, err := policy.NewEngine(policy.EngineConfig{MaxRisk: models.Shell, ConfirmShell: true})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	loop := NewAgenticLoop(provider, registry, store, engine, DefaultLoopConfig())
	loop.SetConfirmFunc(func(ctx context.Context, req ConfirmRequest) (bool, error) {
		return false, nil
	})

	for chunk := range loop.Run(ctx, session.ID, "run echo") {
		if chunk.Kind == ChunkToolResult && chunk.ToolResult.Error != "confirm_declined" {
			t.Fatalf("expected confirm_declined, got %+v", chunk.ToolResult)
		}
	}
	if executed {
		t.Fatal("expected tool.Execute to never run when confirm is declined")
	}
}

// TestAgenticLoop_DuplicateCallIDTerminatesTurn verifies a call_id reused
// across turns within the same session is rejected rather than re-dispatched.
func TestAgenticLoop_DuplicateCallIDTerminatesTurn(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.CreateSession(ctx)

	provider := &scriptedProvider{turns: [][]*llm.ProviderChunk{
		{toolCallDelta(0, "call_1", "echo", `{}`)},
		{toolCallDelta(0, "call_1", "echo", `{}`)},
	}}
	registry := newTestRegistry(t, func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		return &models.ToolExecResult{}, nil
	})
	loop := NewAgenticLoop(provider, registry, store, allowAllEngine(t), DefaultLoopConfig())

	var lastErr *TurnError
	for chunk := range loop.Run(ctx, session.ID, "run echo twice") {
		if chunk.Kind == ChunkError {
			lastErr = chunk.Err
		}
	}
	if lastErr == nil || lastErr.Kind != TurnErrorDuplicateCallID {
		t.Fatalf("expected TurnErrorDuplicateCallID, got %+v", lastErr)
	}
}

// TestAgenticLoop_MaxTurnsExceeded verifies the loop stops with
// max_turns_exceeded once a tool-calling model never stops on its own.
func TestAgenticLoop_MaxTurnsExceeded(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.CreateSession(ctx)

	provider := &scriptedProvider{turns: [][]*llm.ProviderChunk{
		{toolCallDelta(0, "call_1", "echo", `{}`)},
		{toolCallDelta(0, "call_2", "echo", `{}`)},
	}}
	registry := newTestRegistry(t, func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		return &models.ToolExecResult{}, nil
	})
	cfg := DefaultLoopConfig()
	cfg.MaxTurns = 2
	loop := NewAgenticLoop(provider, registry, store, allowAllEngine(t), cfg)

	var lastErr *TurnError
	for chunk := range loop.Run(ctx, session.ID, "loop forever") {
		if chunk.Kind == ChunkError {
			lastErr = chunk.Err
		}
	}
	if lastErr == nil || lastErr.Kind != TurnErrorMaxTurns {
		t.Fatalf("expected TurnErrorMaxTurns, got %+v", lastErr)
	}
}

// TestAgenticLoop_ProviderFailureTerminatesTurn verifies a Stream error
// surfaces as TurnErrorProvider.
func TestAgenticLoop_ProviderFailureTerminatesTurn(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.CreateSession(ctx)

	provider := &scriptedProvider{turns: nil} // no turns scripted -> Stream errors immediately
	registry := newTestRegistry(t, nil)
	loop := NewAgenticLoop(provider, registry, store, allowAllEngine(t), DefaultLoopConfig())

	var lastErr *TurnError
	for chunk := range loop.Run(ctx, session.ID, "hi") {
		if chunk.Kind == ChunkError {
			lastErr = chunk.Err
		}
	}
	if lastErr == nil || lastErr.Kind != TurnErrorProvider {
		t.Fatalf("expected TurnErrorProvider, got %+v", lastErr)
	}
}

// TestAgenticLoop_UnknownToolDeniesWithoutPanic verifies a call naming a
// tool absent from the registry becomes an error tool_result, not a crash.
func TestAgenticLoop_UnknownToolDeniesWithoutPanic(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore()
	session, _ := store.CreateSession(ctx)

	provider := &scriptedProvider{turns: [][]*llm.ProviderChunk{
		{toolCallDelta(0, "call_1", "does_not_exist", `{}`)},
		{textDelta("done")},
	}}
	registry := NewToolRegistry()
	loop := NewAgenticLoop(provider, registry, store, allowAllEngine(t), DefaultLoopConfig())

	found := false
	for chunk := range loop.Run(ctx, session.ID, "call missing tool") {
		if chunk.Kind == ChunkToolResult {
			found = true
			if chunk.ToolResult.Error != "unknown_tool" {
				t.Fatalf("expected unknown_tool, got %+v", chunk.ToolResult)
			}
		}
	}
	if !found {
		t.Fatal("expected a tool_result chunk for the unknown tool call")
	}
}
