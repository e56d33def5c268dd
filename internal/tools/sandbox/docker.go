package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	execpkg "github.com/haasonsaas/agentrun/internal/tools/exec"
)

// DockerBackend runs resolve_target, run_diagnostic, and run_shell inside a
// throwaway Docker container instead of against the host. It shells out to
// the docker CLI rather than a client SDK, the same approach the isolated
// code-execution path it is grounded on used for its container runtime.
type DockerBackend struct {
	config Config
	image  string
}

// NewDockerBackend creates a Backend bound to a local docker daemon. It
// fails fast if the docker binary is not on PATH, since every call would
// otherwise fail one at a time.
func NewDockerBackend(image string, opts ...Option) (*DockerBackend, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	if strings.TrimSpace(image) == "" {
		image = "alpine:latest"
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, err := cfg.workspaceMode(); err != nil {
		return nil, err
	}
	return &DockerBackend{config: cfg, image: image}, nil
}

// Resolve reports the OS/arch of the sandbox image rather than the host,
// since that is what run_shell and run_diagnostic actually execute against.
func (b *DockerBackend) Resolve(ctx context.Context, target string) (*execpkg.TargetInfo, error) {
	if err := resolveSandboxTarget(target); err != nil {
		return nil, err
	}
	result, err := b.run(ctx, "uname -s; uname -m", b.config.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(strings.ReplaceAll(result.Stdout, "\n", " "))
	info := &execpkg.TargetInfo{Target: "localhost", Hostname: "sandbox"}
	if len(fields) > 0 {
		info.OS = strings.ToLower(fields[0])
	}
	if len(fields) > 1 {
		info.Arch = fields[1]
	}
	return info, nil
}

var sandboxDiagnosticActions = map[string]string{
	"uptime":     "uptime",
	"disk_usage": "df -h",
	"memory":     "free -m",
	"processes":  "ps aux",
}

// RunDiagnostic runs one of a fixed set of read-only diagnostics inside the
// container.
func (b *DockerBackend) RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (execpkg.ExecResult, error) {
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

// RunShell runs an arbitrary command inside the container.
func (b *DockerBackend) RunShell(ctx context.Context, target, command string) (execpkg.ExecResult, error) {
	if err := resolveSandboxTarget(target); err != nil {
		return execpkg.ExecResult{}, err
	}
	return b.runShell(ctx, command)
}

func (b *DockerBackend) runShell(ctx context.Context, command string) (execpkg.ExecResult, error) {
	started := time.Now()
	result, err := b.run(ctx, command, b.config.DefaultTimeout)
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

// run executes command inside a fresh, network-isolated, resource-limited
// container and returns its output. Grounded in the dockerExecutor backend
// of the code-execution sandbox this runtime split off from: same
// --network none / --cpus / --memory / --pids-limit argument set, applied
// to an arbitrary shell command instead of a language-specific entrypoint.
func (b *DockerBackend) run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = b.config.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"run", "--rm"}
	if !b.config.NetworkEnabled {
		args = append(args, "--network", "none")
	}
	cpuLimit := b.config.CPULimit
	if cpuLimit <= 0 {
		cpuLimit = 1000
	}
	memLimit := b.config.MemLimitMB
	if memLimit <= 0 {
		memLimit = 512
	}
	args = append(args,
		"--cpus", fmt.Sprintf("%.2f", float64(cpuLimit)/1000.0),
		"--memory", fmt.Sprintf("%dm", memLimit),
		"--memory-swap", fmt.Sprintf("%dm", memLimit),
		"--pids-limit", "100",
		"--ulimit", "nofile=1024:1024",
	)

	mode, err := b.config.workspaceMode()
	if err != nil {
		return Result{}, err
	}
	if mode != WorkspaceNone && b.config.WorkspaceRoot != "" {
		if _, statErr := os.Stat(b.config.WorkspaceRoot); statErr == nil {
			flag := "ro"
			if mode == WorkspaceReadWrite {
				flag = "rw"
			}
			args = append(args, "-v", fmt.Sprintf("%s:/workspace:%s", b.config.WorkspaceRoot, flag))
		}
	}
	args = append(args, "-w", "/workspace", b.image, "sh", "-c", command)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case runCtx.Err() == context.DeadlineExceeded:
			result.Timeout = true
			result.Error = "execution timeout"
		default:
			result.Error = runErr.Error()
		}
	}
	return result, nil
}

func resolveSandboxTarget(target string) error {
	switch strings.TrimSpace(target) {
	case "", "localhost", "127.0.0.1":
		return nil
	default:
		return fmt.Errorf("unknown target %q", target)
	}
}
