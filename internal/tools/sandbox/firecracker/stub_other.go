//go:build !linux

// Package firecracker runs shell commands inside Firecracker microVMs.
// This stub is used on non-Linux platforms where Firecracker cannot run.
package firecracker

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/agentrun/internal/tools/sandbox"
)

// ErrNotSupported is returned by every operation on non-Linux platforms.
var ErrNotSupported = errors.New("firecracker sandbox is only supported on linux")

// BackendConfig configures the microVM booted for each call.
type BackendConfig struct {
	KernelPath     string
	RootFSPath     string
	OverlayDir     string
	VCPUs          int64
	MemSizeMB      int64
	NetworkEnabled bool
	BootTimeout    time.Duration
}

// DefaultBackendConfig returns a BackendConfig with sensible defaults.
func DefaultBackendConfig() *BackendConfig {
	return &BackendConfig{
		KernelPath:  "/var/lib/firecracker/vmlinux",
		RootFSPath:  "/var/lib/firecracker/rootfs-shell.ext4",
		OverlayDir:  "/var/lib/firecracker/overlays",
		VCPUs:       1,
		MemSizeMB:   512,
		BootTimeout: 10 * time.Second,
	}
}

// Backend implements sandboxed shell execution using Firecracker microVMs.
// On non-Linux platforms every call returns ErrNotSupported.
type Backend struct{}

// NewBackend always returns ErrNotSupported on non-Linux platforms.
func NewBackend(config *BackendConfig) (*Backend, error) {
	return nil, ErrNotSupported
}

// Run always returns ErrNotSupported on non-Linux platforms.
func (b *Backend) Run(ctx context.Context, command string, timeout time.Duration) (sandbox.Result, error) {
	return sandbox.Result{}, ErrNotSupported
}

// Close is a no-op on non-Linux platforms.
func (b *Backend) Close() error { return nil }

// IsAvailable always reports false on non-Linux platforms.
func IsAvailable() bool { return false }
