// Package sandbox provides isolated execution backends for run_shell and
// run_diagnostic. Where exec.LocalBackend execs directly against the host,
// backends in this package run the same command inside a container or
// microVM so an operator-supplied shell command cannot touch the host
// filesystem or network beyond what the backend explicitly allows.
package sandbox

import (
	"fmt"
	"time"
)

// WorkspaceAccessMode controls whether the operator workspace is visible
// inside the sandbox.
type WorkspaceAccessMode string

const (
	// WorkspaceNone means no workspace is mounted (most secure).
	WorkspaceNone WorkspaceAccessMode = "none"
	// WorkspaceReadOnly mounts the workspace read-only. Default.
	WorkspaceReadOnly WorkspaceAccessMode = "ro"
	// WorkspaceReadWrite mounts the workspace read-write.
	WorkspaceReadWrite WorkspaceAccessMode = "rw"
)

// Result is the outcome of running one command inside a sandbox.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Error    string
	Timeout  bool
}

// Config holds the shared resource limits applied by every backend in this
// package, independent of which isolation technology executes the command.
type Config struct {
	CPULimit        int // millicores, default 1000
	MemLimitMB      int // default 512
	NetworkEnabled  bool
	WorkspaceRoot   string
	WorkspaceAccess WorkspaceAccessMode
	DefaultTimeout  time.Duration
}

// Option configures a Config at backend construction time.
type Option func(*Config)

// WithCPULimit sets the CPU limit in millicores.
func WithCPULimit(millicores int) Option {
	return func(c *Config) { c.CPULimit = millicores }
}

// WithMemoryLimit sets the memory limit in MB.
func WithMemoryLimit(megabytes int) Option {
	return func(c *Config) { c.MemLimitMB = megabytes }
}

// WithNetworkEnabled enables network access inside the sandbox.
func WithNetworkEnabled(enabled bool) Option {
	return func(c *Config) { c.NetworkEnabled = enabled }
}

// WithWorkspaceRoot sets the host directory mounted into the sandbox.
func WithWorkspaceRoot(root string) Option {
	return func(c *Config) { c.WorkspaceRoot = root }
}

// WithWorkspaceAccess sets how the workspace is mounted.
func WithWorkspaceAccess(mode WorkspaceAccessMode) Option {
	return func(c *Config) { c.WorkspaceAccess = mode }
}

// WithDefaultTimeout sets the default command timeout.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.DefaultTimeout = timeout }
}

func defaultConfig() Config {
	return Config{
		CPULimit:        1000,
		MemLimitMB:      512,
		NetworkEnabled:  false,
		WorkspaceAccess: WorkspaceReadOnly,
		DefaultTimeout:  30 * time.Second,
	}
}

func (c Config) workspaceMode() (WorkspaceAccessMode, error) {
	switch c.WorkspaceAccess {
	case "", WorkspaceReadOnly, WorkspaceReadWrite, WorkspaceNone:
		if c.WorkspaceAccess == "" {
			return WorkspaceReadOnly, nil
		}
		return c.WorkspaceAccess, nil
	default:
		return "", fmt.Errorf("unknown workspace access mode %q", c.WorkspaceAccess)
	}
}
