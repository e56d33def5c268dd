package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// ExecutorConfig configures per-call timeout behavior. There is no
// concurrency limit and no retry policy: spec.md mandates tool calls
// execute sequentially, in assembler order, within a turn, and retries are
// the provider adapter's concern, not the tool executor's.
type ExecutorConfig struct {
	// DefaultTimeout bounds a single tool execution. Default: 30s.
	DefaultTimeout time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{DefaultTimeout: 30 * time.Second}
}

// Executor runs one validated tool call at a time against the registry,
// enforcing a timeout and recovering from a tool panic so that one
// misbehaving tool cannot take down the orchestrator loop.
type Executor struct {
	registry   *ToolRegistry
	config     *ExecutorConfig
	toolTimeout map[string]time.Duration
}

// NewExecutor creates a new tool executor bound to registry. If config is
// nil, DefaultExecutorConfig is used.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry:    registry,
		config:      config,
		toolTimeout: make(map[string]time.Duration),
	}
}

// SetToolTimeout overrides the default timeout for one tool by name.
func (e *Executor) SetToolTimeout(name string, timeout time.Duration) {
	e.toolTimeout[name] = timeout
}

// Execute runs a single, already policy-approved tool call and returns the
// ToolResult event payload to append to the session log. A timeout or
// panic becomes a ToolResult with Status=error rather than a returned Go
// error: tool execution failures are data fed back to the model, not
// turn-terminating.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *models.ToolResultPayload {
	timeout := e.config.DefaultTimeout
	if t, ok := e.toolTimeout[call.Name]; ok {
		timeout = t
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *models.ToolExecResult
		err error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		res, err := e.registry.Execute(execCtx, call.Name, call.Input)
		resultCh <- outcome{res: res, err: err}
	}()

	select {
	case o := <-resultCh:
		if o.err != nil {
			return errorResult(call, o.err.Error())
		}
		return &models.ToolResultPayload{
			ToolCallID:   call.ID,
			ToolName:     call.Name,
			Status:       models.ToolResultOK,
			Output:       o.res.Output,
			ArtifactRefs: o.res.ArtifactRefs,
		}
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return errorResult(call, "cancelled")
		}
		return errorResult(call, fmt.Sprintf("timeout after %s", timeout))
	}
}

// ExecuteAll runs calls one at a time, in order, stopping early if ctx is
// cancelled. Results line up positionally with calls up to the point of
// cancellation; remaining calls are not attempted.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*models.ToolResultPayload {
	results := make([]*models.ToolResultPayload, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			break
		}
		results = append(results, e.Execute(ctx, call))
	}
	return results
}

func errorResult(call models.ToolCall, message string) *models.ToolResultPayload {
	return &models.ToolResultPayload{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Status:     models.ToolResultError,
		Error:      message,
	}
}
