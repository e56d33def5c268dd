package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	execpkg "github.com/haasonsaas/agentrun/internal/tools/exec"
	"github.com/haasonsaas/agentrun/internal/tools/sandbox/firecracker"
)

// FirecrackerBackend adapts firecracker.Backend to exec.Backend, boot one
// microVM per resolve_target/run_diagnostic/run_shell call. It offers
// stronger isolation than DockerBackend (a separate kernel, not a shared
// one) at the cost of needing kernel/rootfs images and /dev/kvm on the
// host, which NewFirecrackerBackend validates up front.
type FirecrackerBackend struct {
	backend *firecracker.Backend
	timeout time.Duration
}

// NewFirecrackerBackend validates the Firecracker prerequisites (binary,
// kernel image, rootfs image, KVM access on Linux) and returns a Backend.
func NewFirecrackerBackend(config *firecracker.BackendConfig, timeout time.Duration) (*FirecrackerBackend, error) {
	backend, err := firecracker.NewBackend(config)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FirecrackerBackend{backend: backend, timeout: timeout}, nil
}

// Resolve reports the guest's platform. Firecracker on this codebase only
// targets Linux guests.
func (b *FirecrackerBackend) Resolve(ctx context.Context, target string) (*execpkg.TargetInfo, error) {
	if err := resolveSandboxTarget(target); err != nil {
		return nil, err
	}
	return &execpkg.TargetInfo{Target: "localhost", OS: "linux", Arch: runtime.GOARCH, Hostname: "microvm"}, nil
}

// RunDiagnostic runs one of a fixed set of read-only diagnostics inside a
// fresh microVM.
func (b *FirecrackerBackend) RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (execpkg.ExecResult, error) {
	_ = args
	if err := resolveSandboxTarget(target); err != nil {
		return execpkg.ExecResult{}, err
	}
	command, ok := sandboxDiagnosticActions[strings.TrimSpace(action)]
	if !ok {
		return execpkg.ExecResult{}, fmt.Errorf("unknown diagnostic action %q", action)
	}
	return b.runShell(ctx, command)
}

// RunShell runs an arbitrary command inside a fresh microVM.
func (b *FirecrackerBackend) RunShell(ctx context.Context, target, command string) (execpkg.ExecResult, error) {
	if err := resolveSandboxTarget(target); err != nil {
		return execpkg.ExecResult{}, err
	}
	return b.runShell(ctx, command)
}

func (b *FirecrackerBackend) runShell(ctx context.Context, command string) (execpkg.ExecResult, error) {
	started := time.Now()
	result, err := b.backend.Run(ctx, command, b.timeout)
	if err != nil {
		return execpkg.ExecResult{}, err
	}
	return execpkg.ExecResult{
		Command:  command,
		Cwd:      "/workspace",
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Duration: time.Since(started),
		Finished: !result.Timeout,
		Error:    result.Error,
	}, nil
}

// Close tears down the Firecracker backend.
func (b *FirecrackerBackend) Close() error {
	return b.backend.Close()
}
