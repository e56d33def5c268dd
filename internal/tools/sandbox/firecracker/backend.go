//go:build linux

// Package firecracker runs one shell command per call inside a fresh
// Firecracker microVM: boot, execute over vsock, tear down. Unlike the
// code-execution sandbox this split off from, run_shell/run_diagnostic
// calls are infrequent operator actions rather than a high-throughput
// workload, so there is no VM pool to keep warm and no snapshot-based
// fast boot — every call pays a full boot, which is the right tradeoff
// at this call volume.
package firecracker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/haasonsaas/agentrun/internal/tools/sandbox"
)

// BackendConfig configures the microVM booted for each call.
type BackendConfig struct {
	// KernelPath is the path to the Linux kernel image.
	KernelPath string
	// RootFSPath is the path to the root filesystem image.
	RootFSPath string
	// OverlayDir holds per-call copy-on-write overlays of RootFSPath.
	OverlayDir string
	// VCPUs is the vCPU count per VM.
	VCPUs int64
	// MemSizeMB is the memory size per VM, in MB.
	MemSizeMB int64
	// NetworkEnabled determines if the VM has network access.
	NetworkEnabled bool
	// BootTimeout bounds how long Start waits for the guest agent to
	// become reachable over vsock.
	BootTimeout time.Duration
}

// DefaultBackendConfig returns a BackendConfig with sensible defaults. The
// kernel and rootfs paths match the operator-provided images the teacher's
// sandbox expects under /var/lib/firecracker.
func DefaultBackendConfig() *BackendConfig {
	return &BackendConfig{
		KernelPath:     "/var/lib/firecracker/vmlinux",
		RootFSPath:     "/var/lib/firecracker/rootfs-shell.ext4",
		OverlayDir:     "/var/lib/firecracker/overlays",
		VCPUs:          1,
		MemSizeMB:      512,
		NetworkEnabled: false,
		BootTimeout:    10 * time.Second,
	}
}

// Backend implements sandboxed shell execution using Firecracker microVMs.
type Backend struct {
	config *BackendConfig
	mu     sync.Mutex
	closed bool
}

// NewBackend validates the Firecracker prerequisites and returns a Backend.
func NewBackend(config *BackendConfig) (*Backend, error) {
	if config == nil {
		config = DefaultBackendConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(config.OverlayDir, 0o755); err != nil {
		return nil, fmt.Errorf("create overlay dir: %w", err)
	}
	return &Backend{config: config}, nil
}

func validateConfig(config *BackendConfig) error {
	if _, err := exec.LookPath("firecracker"); err != nil {
		return fmt.Errorf("firecracker binary not found: %w", err)
	}
	if _, err := os.Stat(config.KernelPath); os.IsNotExist(err) {
		return fmt.Errorf("kernel not found at %s", config.KernelPath)
	}
	if _, err := os.Stat(config.RootFSPath); os.IsNotExist(err) {
		return fmt.Errorf("rootfs not found at %s", config.RootFSPath)
	}
	if _, err := os.Stat("/dev/kvm"); err != nil {
		return fmt.Errorf("kvm not available: %w", err)
	}
	return nil
}

// Run boots a microVM, executes command inside it over vsock, and tears
// the VM down before returning.
func (b *Backend) Run(ctx context.Context, command string, timeout time.Duration) (sandbox.Result, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return sandbox.Result{}, fmt.Errorf("backend is closed")
	}
	b.mu.Unlock()

	vmConfig := DefaultVMConfig()
	vmConfig.KernelPath = b.config.KernelPath
	vmConfig.RootFSPath = b.config.RootFSPath
	vmConfig.VCPUs = b.config.VCPUs
	vmConfig.MemSizeMB = b.config.MemSizeMB
	vmConfig.NetworkEnabled = b.config.NetworkEnabled

	overlayPath, err := cloneOverlay(b.config.RootFSPath, b.config.OverlayDir, vmConfig.VMID)
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("prepare overlay: %w", err)
	}
	vmConfig.OverlayPath = overlayPath

	vm, err := NewMicroVM(ctx, vmConfig)
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("create vm: %w", err)
	}

	bootCtx, cancel := context.WithTimeout(ctx, b.config.BootTimeout)
	defer cancel()
	if err := vm.Start(bootCtx); err != nil {
		return sandbox.Result{}, fmt.Errorf("start vm: %w", err)
	}
	defer func() { _ = vm.Stop(context.Background()) }()

	vsock := vm.Vsock()
	if vsock == nil {
		return sandbox.Result{}, fmt.Errorf("vm has no vsock connection")
	}
	if err := vsock.Connect(bootCtx); err != nil {
		return sandbox.Result{}, fmt.Errorf("connect to guest agent: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, execCancel := context.WithTimeout(ctx, timeout)
	defer execCancel()

	resp, err := vsock.Execute(execCtx, command)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return sandbox.Result{Error: "execution timeout", Timeout: true}, nil
		}
		return sandbox.Result{}, fmt.Errorf("execution failed: %w", err)
	}

	return sandbox.Result{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
		Error:    resp.Error,
		Timeout:  resp.Timeout,
	}, nil
}

// Close marks the backend closed. Nothing persists between calls: every
// Run boots and tears down its own VM.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// IsAvailable reports whether Firecracker can run on this host.
func IsAvailable() bool {
	if _, err := exec.LookPath("firecracker"); err != nil {
		return false
	}
	_, err := os.Stat("/dev/kvm")
	return err == nil
}
