package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// ExecTool runs shell commands.
type ExecTool struct {
	name    string
	manager *Manager
}

// NewExecTool creates an exec tool with the given name.
func NewExecTool(name string, manager *Manager) *ExecTool {
	if strings.TrimSpace(name) == "" {
		name = "exec"
	}
	return &ExecTool{name: name, manager: manager}
}

func (t *ExecTool) Name() string { return t.name }

func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace (supports optional background execution)."
}

func (t *ExecTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (0 = no timeout).",
				"minimum":     0,
			},
			"background": map[string]interface{}{
				"type":        "boolean",
				"description": "Run in background and return a process id.",
			},
		},
		"required":             []string{"command"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","additionalProperties":false}`)
	}
	return payload
}

// ToModelsTool adapts the tool to the registry's tool descriptor. Shell risk:
// this tool runs arbitrary commands under /bin/sh -c.
func (t *ExecTool) ToModelsTool() models.Tool {
	return models.Tool{
		Name:         t.Name(),
		Description:  t.Description(),
		Risk:         models.Shell,
		PrivacyScope: models.PrivacySensitive,
		Schema:       t.Schema(),
		Execute:      t.Execute,
	}
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolExecResult, error) {
	if t.manager == nil {
		return nil, errors.New("exec manager unavailable")
	}
	var input struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return nil, errors.New("command is required")
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	if input.Background {
		proc, err := t.manager.startBackground(ctx, command, input.Cwd, input.Env, input.Input, timeout)
		if err != nil {
			return nil, err
		}
		payload, err := json.MarshalIndent(map[string]interface{}{
			"status":     "running",
			"process_id": proc.id,
		}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return &models.ToolExecResult{Output: payload}, nil
	}

	result, err := t.manager.runSync(ctx, command, input.Cwd, input.Env, input.Input, timeout)
	if err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &models.ToolExecResult{Output: payload}, nil
}

// ProcessTool inspects and manages background exec processes.
type ProcessTool struct {
	manager *Manager
}

// NewProcessTool creates a process tool.
func NewProcessTool(manager *Manager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

func (t *ProcessTool) Name() string { return "process" }

func (t *ProcessTool) Description() string {
	return "Manage background exec processes (list, status, log, write, kill, remove)."
}

func (t *ProcessTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: list, status, log, write, kill, remove.",
			},
			"process_id": map[string]interface{}{
				"type":        "string",
				"description": "Process id for actions that target a process.",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Input for write action.",
			},
		},
		"required":             []string{"action"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","additionalProperties":false}`)
	}
	return payload
}

// ToModelsTool adapts the tool to the registry's tool descriptor. Shell risk:
// kill/write act directly on a shell-launched process.
func (t *ProcessTool) ToModelsTool() models.Tool {
	return models.Tool{
		Name:         t.Name(),
		Description:  t.Description(),
		Risk:         models.Shell,
		PrivacyScope: models.PrivacySensitive,
		Schema:       t.Schema(),
		Execute:      t.Execute,
	}
}

func (t *ProcessTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolExecResult, error) {
	_ = ctx
	if t.manager == nil {
		return nil, errors.New("process manager unavailable")
	}
	var input struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
		Input     string `json:"input"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if action == "" {
		return nil, errors.New("action is required")
	}

	switch action {
	case "list":
		payload, err := json.MarshalIndent(map[string]interface{}{"processes": t.manager.list()}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return &models.ToolExecResult{Output: payload}, nil
	case "status", "log", "write", "kill", "remove":
		if strings.TrimSpace(input.ProcessID) == "" {
			return nil, errors.New("process_id is required")
		}
		proc, ok := t.manager.get(strings.TrimSpace(input.ProcessID))
		if !ok {
			return nil, errors.New("process not found")
		}
		switch action {
		case "status":
			payload, err := json.MarshalIndent(proc.info(), "", "  ")
			if err != nil {
				return nil, fmt.Errorf("encode result: %w", err)
			}
			return &models.ToolExecResult{Output: payload}, nil
		case "log":
			payload, err := json.MarshalIndent(map[string]interface{}{
				"stdout": proc.stdout.String(),
				"stderr": proc.stderr.String(),
				"status": proc.status(),
			}, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("encode result: %w", err)
			}
			return &models.ToolExecResult{Output: payload}, nil
		case "write":
			if proc.stdin == nil {
				return nil, errors.New("process stdin unavailable")
			}
			if input.Input == "" {
				return nil, errors.New("input is required")
			}
			if _, err := proc.stdin.Write([]byte(input.Input)); err != nil {
				return nil, fmt.Errorf("write stdin: %w", err)
			}
			payload, _ := json.Marshal(map[string]interface{}{"status": "written"})
			return &models.ToolExecResult{Output: payload}, nil
		case "kill":
			if proc.cmd.Process == nil {
				return nil, errors.New("process not running")
			}
			if err := proc.cmd.Process.Kill(); err != nil {
				return nil, fmt.Errorf("kill process: %w", err)
			}
			payload, _ := json.Marshal(map[string]interface{}{"status": "killed"})
			return &models.ToolExecResult{Output: payload}, nil
		case "remove":
			if proc.status() == "running" {
				return nil, errors.New("process still running")
			}
			if !t.manager.remove(proc.id) {
				return nil, errors.New("remove failed")
			}
			payload, _ := json.Marshal(map[string]interface{}{"status": "removed"})
			return &models.ToolExecResult{Output: payload}, nil
		}
	}
	return nil, errors.New("unsupported action")
}
