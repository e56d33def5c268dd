package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// TargetInfo describes a resolved execution target.
type TargetInfo struct {
	Target   string `json:"target"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
}

// Backend is the concrete execution substrate the resolve_target,
// run_diagnostic, and run_shell tools dispatch into. Concrete backends are
// replaceable glue around the orchestrator core; this is the local
// subprocess implementation wired in by default.
type Backend interface {
	Resolve(ctx context.Context, target string) (*TargetInfo, error)
	RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (ExecResult, error)
	RunShell(ctx context.Context, target, command string) (ExecResult, error)
}

// LocalBackend runs every operation against the local host. Only
// "localhost" (and the empty target, treated as localhost) resolves; there
// is no remote-device layer in this runtime.
type LocalBackend struct {
	manager *Manager
}

// NewLocalBackend creates a Backend bound to manager.
func NewLocalBackend(manager *Manager) *LocalBackend {
	return &LocalBackend{manager: manager}
}

func (b *LocalBackend) resolveLocal(target string) error {
	switch strings.TrimSpace(target) {
	case "", "localhost", "127.0.0.1":
		return nil
	default:
		return fmt.Errorf("unknown target %q", target)
	}
}

// Resolve reports basic host information for a recognized target.
func (b *LocalBackend) Resolve(ctx context.Context, target string) (*TargetInfo, error) {
	_ = ctx
	if err := b.resolveLocal(target); err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	return &TargetInfo{
		Target:   "localhost",
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Hostname: hostname,
	}, nil
}

var diagnosticActions = map[string]string{
	"uptime":     "uptime",
	"disk_usage": "df -h",
	"memory":     "free -m",
	"processes":  "ps aux",
}

// RunDiagnostic runs one of a fixed set of read-only diagnostic commands.
func (b *LocalBackend) RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (ExecResult, error) {
	_ = args
	if err := b.resolveLocal(target); err != nil {
		return ExecResult{}, err
	}
	command, ok := diagnosticActions[strings.TrimSpace(action)]
	if !ok {
		return ExecResult{}, fmt.Errorf("unknown diagnostic action %q", action)
	}
	if b.manager == nil {
		return ExecResult{}, errors.New("exec manager unavailable")
	}
	return b.manager.runSync(ctx, command, "", nil, "", 0)
}

// RunShell runs an arbitrary command against the resolved target.
func (b *LocalBackend) RunShell(ctx context.Context, target, command string) (ExecResult, error) {
	if err := b.resolveLocal(target); err != nil {
		return ExecResult{}, err
	}
	if b.manager == nil {
		return ExecResult{}, errors.New("exec manager unavailable")
	}
	return b.manager.runSync(ctx, command, "", nil, "", 0)
}

// ResolveTargetTool exposes Backend.Resolve.
type ResolveTargetTool struct {
	backend Backend
}

// NewResolveTargetTool creates the resolve_target tool.
func NewResolveTargetTool(backend Backend) *ResolveTargetTool {
	return &ResolveTargetTool{backend: backend}
}

func (t *ResolveTargetTool) Name() string { return "resolve_target" }

func (t *ResolveTargetTool) Description() string {
	return "Resolve a diagnostics target to basic host information."
}

func (t *ResolveTargetTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target": map[string]interface{}{
				"type":        "string",
				"description": "Target host (only \"localhost\" is supported).",
			},
		},
		"required":             []string{"target"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","additionalProperties":false}`)
	}
	return payload
}

// ToModelsTool adapts the tool to the registry's tool descriptor.
func (t *ResolveTargetTool) ToModelsTool() models.Tool {
	return models.Tool{
		Name:         t.Name(),
		Description:  t.Description(),
		Risk:         models.ReadOnly,
		PrivacyScope: models.PrivacySensitive,
		Schema:       t.Schema(),
		Execute:      t.Execute,
	}
}

func (t *ResolveTargetTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolExecResult, error) {
	var input struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	info, err := t.backend.Resolve(ctx, input.Target)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &models.ToolExecResult{Output: payload}, nil
}

// RunDiagnosticTool exposes Backend.RunDiagnostic.
type RunDiagnosticTool struct {
	backend Backend
}

// NewRunDiagnosticTool creates the run_diagnostic tool.
func NewRunDiagnosticTool(backend Backend) *RunDiagnosticTool {
	return &RunDiagnosticTool{backend: backend}
}

func (t *RunDiagnosticTool) Name() string { return "run_diagnostic" }

func (t *RunDiagnosticTool) Description() string {
	return "Run a read-only diagnostic (uptime, disk_usage, memory, processes) against a target."
}

func (t *RunDiagnosticTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target": map[string]interface{}{
				"type":        "string",
				"description": "Target host (only \"localhost\" is supported).",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Diagnostic action: uptime, disk_usage, memory, processes.",
			},
			"args": map[string]interface{}{
				"type":        "object",
				"description": "Reserved for action-specific parameters.",
			},
		},
		"required":             []string{"target", "action"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","additionalProperties":false}`)
	}
	return payload
}

// ToModelsTool adapts the tool to the registry's tool descriptor.
func (t *RunDiagnosticTool) ToModelsTool() models.Tool {
	return models.Tool{
		Name:         t.Name(),
		Description:  t.Description(),
		Risk:         models.ReadOnly,
		PrivacyScope: models.PrivacySensitive,
		Schema:       t.Schema(),
		Execute:      t.Execute,
	}
}

func (t *RunDiagnosticTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolExecResult, error) {
	var input struct {
		Target string         `json:"target"`
		Action string         `json:"action"`
		Args   map[string]any `json:"args"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Action) == "" {
		return nil, errors.New("action is required")
	}
	result, err := t.backend.RunDiagnostic(ctx, input.Target, input.Action, input.Args)
	if err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &models.ToolExecResult{Output: payload}, nil
}

// RunShellTool exposes Backend.RunShell.
type RunShellTool struct {
	backend Backend
}

// NewRunShellTool creates the run_shell tool.
func NewRunShellTool(backend Backend) *RunShellTool {
	return &RunShellTool{backend: backend}
}

func (t *RunShellTool) Name() string { return "run_shell" }

func (t *RunShellTool) Description() string {
	return "Run a shell command against a target."
}

func (t *RunShellTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target": map[string]interface{}{
				"type":        "string",
				"description": "Target host (only \"localhost\" is supported).",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
		},
		"required":             []string{"target", "command"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","additionalProperties":false}`)
	}
	return payload
}

// ToModelsTool adapts the tool to the registry's tool descriptor. Shell
// risk: this tool runs arbitrary commands against the target.
func (t *RunShellTool) ToModelsTool() models.Tool {
	return models.Tool{
		Name:         t.Name(),
		Description:  t.Description(),
		Risk:         models.Shell,
		PrivacyScope: models.PrivacySensitive,
		Schema:       t.Schema(),
		Execute:      t.Execute,
	}
}

func (t *RunShellTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolExecResult, error) {
	var input struct {
		Target  string `json:"target"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Command) == "" {
		return nil, errors.New("command is required")
	}
	result, err := t.backend.RunShell(ctx, input.Target, input.Command)
	if err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &models.ToolExecResult{Output: payload}, nil
}
