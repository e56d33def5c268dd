package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLocalBackendResolveTarget(t *testing.T) {
	backend := NewLocalBackend(NewManager(t.TempDir()))
	tool := NewResolveTargetTool(backend)

	params, _ := json.Marshal(map[string]interface{}{"target": "localhost"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var info TargetInfo
	if err := json.Unmarshal(result.Output, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.OS == "" {
		t.Fatal("expected OS to be populated")
	}
}

func TestLocalBackendResolveRejectsUnknownTarget(t *testing.T) {
	backend := NewLocalBackend(NewManager(t.TempDir()))
	tool := NewResolveTargetTool(backend)

	params, _ := json.Marshal(map[string]interface{}{"target": "remote-host"})
	if _, err := tool.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestRunDiagnosticTool(t *testing.T) {
	backend := NewLocalBackend(NewManager(t.TempDir()))
	tool := NewRunDiagnosticTool(backend)

	params, _ := json.Marshal(map[string]interface{}{"target": "localhost", "action": "uptime"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(string(result.Output), "stdout") {
		t.Fatalf("expected stdout in result: %s", result.Output)
	}
}

func TestRunDiagnosticToolRejectsUnknownAction(t *testing.T) {
	backend := NewLocalBackend(NewManager(t.TempDir()))
	tool := NewRunDiagnosticTool(backend)

	params, _ := json.Marshal(map[string]interface{}{"target": "localhost", "action": "nonsense"})
	if _, err := tool.Execute(context.Background(), params); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestRunShellTool(t *testing.T) {
	backend := NewLocalBackend(NewManager(t.TempDir()))
	tool := NewRunShellTool(backend)

	params, _ := json.Marshal(map[string]interface{}{"target": "localhost", "command": "echo hi"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(string(result.Output), "hi") {
		t.Fatalf("expected stdout in result: %s", result.Output)
	}
}
