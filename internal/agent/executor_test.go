package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

func registerTool(t *testing.T, r *ToolRegistry, name string, fn func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error)) {
	t.Helper()
	err := r.Register(models.Tool{
		Name:    name,
		Schema:  json.RawMessage(`{"type":"object","additionalProperties":false}`),
		Execute: fn,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestExecutor_Execute_Success(t *testing.T) {
	reg := NewToolRegistry()
	registerTool(t, reg, "ping", func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		return &models.ToolExecResult{Output: json.RawMessage(`{"ok":true}`)}, nil
	})

	exec := NewExecutor(reg, nil)
	res := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "ping", Input: json.RawMessage(`{}`)})
	if res.Status != models.ToolResultOK {
		t.Fatalf("expected ok status, got %+v", res)
	}
}

func TestExecutor_Execute_ToolError(t *testing.T) {
	reg := NewToolRegistry()
	registerTool(t, reg, "fail", func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		return nil, errors.New("boom")
	})

	exec := NewExecutor(reg, nil)
	res := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "fail", Input: json.RawMessage(`{}`)})
	if res.Status != models.ToolResultError {
		t.Fatalf("expected error status, got %+v", res)
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	reg := NewToolRegistry()
	registerTool(t, reg, "slow", func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	exec := NewExecutor(reg, &ExecutorConfig{DefaultTimeout: 10 * time.Millisecond})
	res := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "slow", Input: json.RawMessage(`{}`)})
	if res.Status != models.ToolResultError {
		t.Fatalf("expected timeout error status, got %+v", res)
	}
}

func TestExecutor_Execute_Panic(t *testing.T) {
	reg := NewToolRegistry()
	registerTool(t, reg, "panicky", func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
		panic("kaboom")
	})

	exec := NewExecutor(reg, nil)
	res := exec.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "panicky", Input: json.RawMessage(`{}`)})
	if res.Status != models.ToolResultError {
		t.Fatalf("expected error status after panic recovery, got %+v", res)
	}
}

func TestExecutor_ExecuteAll_Sequential(t *testing.T) {
	reg := NewToolRegistry()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		n := name
		registerTool(t, reg, n, func(ctx context.Context, args json.RawMessage) (*models.ToolExecResult, error) {
			order = append(order, n)
			return &models.ToolExecResult{}, nil
		})
	}

	exec := NewExecutor(reg, nil)
	calls := []models.ToolCall{
		{ID: "1", Name: "a", Input: json.RawMessage(`{}`)},
		{ID: "2", Name: "b", Input: json.RawMessage(`{}`)},
		{ID: "3", Name: "c", Input: json.RawMessage(`{}`)},
	}
	results := exec.ExecuteAll(context.Background(), calls)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected sequential in-order execution, got %v", order)
	}
}
