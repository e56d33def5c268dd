//go:build linux

package firecracker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
	"github.com/google/uuid"
)

// VMState is the lifecycle state of a microVM.
type VMState int

const (
	VMStateCreating VMState = iota
	VMStateRunning
	VMStateStopped
	VMStateFailed
)

func (s VMState) String() string {
	switch s {
	case VMStateRunning:
		return "running"
	case VMStateStopped:
		return "stopped"
	case VMStateFailed:
		return "failed"
	default:
		return "creating"
	}
}

// VMConfig configures a single microVM.
type VMConfig struct {
	VMID           string
	KernelPath     string
	RootFSPath     string
	OverlayPath    string
	VCPUs          int64
	MemSizeMB      int64
	NetworkEnabled bool
	VsockCID       uint32
	SocketPath     string
	LogPath        string
	BootArgs       string
}

// DefaultVMConfig returns a VMConfig with sensible defaults.
func DefaultVMConfig() *VMConfig {
	return &VMConfig{
		VMID:      uuid.New().String(),
		VCPUs:     1,
		MemSizeMB: 512,
		VsockCID:  3, // CID 0, 1, 2 are reserved
		BootArgs:  "console=ttyS0 reboot=k panic=1 pci=off",
	}
}

// MicroVM is a single Firecracker microVM instance, used for exactly one
// Backend.Run call and then torn down.
type MicroVM struct {
	config  *VMConfig
	machine *firecracker.Machine
	state   VMState
	mu      sync.RWMutex
	vsock   *VsockConnection
	workDir string
	cmd     *exec.Cmd
}

// NewMicroVM prepares (but does not start) a microVM.
func NewMicroVM(ctx context.Context, config *VMConfig) (*MicroVM, error) {
	_ = ctx
	if config.KernelPath == "" {
		return nil, fmt.Errorf("kernel path is required")
	}
	if config.RootFSPath == "" && config.OverlayPath == "" {
		return nil, fmt.Errorf("rootfs path is required")
	}
	if config.VMID == "" {
		config.VMID = uuid.New().String()
	}

	workDir := filepath.Join(os.TempDir(), "firecracker-vm", config.VMID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	if config.SocketPath == "" {
		config.SocketPath = filepath.Join(workDir, "api.sock")
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(workDir, "vm.log")
	}

	return &MicroVM{config: config, state: VMStateCreating, workDir: workDir}, nil
}

// Start boots the microVM and establishes the vsock connection.
func (vm *MicroVM) Start(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state == VMStateRunning {
		return nil
	}

	fcConfig := vm.buildFirecrackerConfig()

	firecrackerBin, err := exec.LookPath("firecracker")
	if err != nil {
		vm.state = VMStateFailed
		return fmt.Errorf("firecracker binary not found: %w", err)
	}

	cmd := firecracker.VMCommandBuilder{}.
		WithBin(firecrackerBin).
		WithSocketPath(vm.config.SocketPath).
		Build(ctx)
	vm.cmd = cmd

	machine, err := firecracker.NewMachine(ctx, fcConfig, firecracker.WithProcessRunner(cmd))
	if err != nil {
		vm.state = VMStateFailed
		return fmt.Errorf("create machine: %w", err)
	}
	vm.machine = machine

	if err := machine.Start(ctx); err != nil {
		vm.state = VMStateFailed
		return fmt.Errorf("start machine: %w", err)
	}

	vm.state = VMStateRunning
	vm.vsock, err = NewVsockConnection(vm.config.SocketPath, vm.config.VsockCID, GuestAgentPort)
	if err != nil {
		vm.state = VMStateFailed
		return fmt.Errorf("vsock setup: %w", err)
	}
	return nil
}

// Stop shuts down the microVM and removes its working directory and its
// rootfs overlay, if it has one.
func (vm *MicroVM) Stop(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.state == VMStateStopped {
		return nil
	}

	var errs []error
	if vm.vsock != nil {
		if err := vm.vsock.Close(); err != nil {
			errs = append(errs, err)
		}
		vm.vsock = nil
	}
	if vm.machine != nil {
		if err := vm.machine.StopVMM(); err != nil {
			errs = append(errs, err)
		}
		vm.machine = nil
	}
	if vm.cmd != nil && vm.cmd.Process != nil {
		if err := vm.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = vm.cmd.Process.Kill()
		}
	}
	if err := os.RemoveAll(vm.workDir); err != nil {
		errs = append(errs, err)
	}
	if vm.config.OverlayPath != "" {
		if err := os.Remove(vm.config.OverlayPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	vm.state = VMStateStopped
	if len(errs) > 0 {
		return fmt.Errorf("stop encountered errors: %v", errs)
	}
	return nil
}

// State returns the current VM state.
func (vm *MicroVM) State() VMState {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.state
}

// Vsock returns the vsock connection to the guest agent.
func (vm *MicroVM) Vsock() *VsockConnection {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.vsock
}

func (vm *MicroVM) buildFirecrackerConfig() firecracker.Config {
	rootfsPath := vm.config.RootFSPath
	if vm.config.OverlayPath != "" {
		rootfsPath = vm.config.OverlayPath
	}

	drives := []models.Drive{
		{
			DriveID:      firecracker.String("rootfs"),
			PathOnHost:   firecracker.String(rootfsPath),
			IsRootDevice: firecracker.Bool(true),
			IsReadOnly:   firecracker.Bool(false),
		},
	}

	machineConfig := models.MachineConfiguration{
		VcpuCount:  firecracker.Int64(vm.config.VCPUs),
		MemSizeMib: firecracker.Int64(vm.config.MemSizeMB),
		Smt:        firecracker.Bool(false),
	}

	vsockDevices := []firecracker.VsockDevice{
		{Path: filepath.Join(vm.workDir, "vsock.sock"), CID: vm.config.VsockCID},
	}

	var networkInterfaces firecracker.NetworkInterfaces
	if vm.config.NetworkEnabled {
		networkInterfaces = firecracker.NetworkInterfaces{
			firecracker.NetworkInterface{
				StaticConfiguration: &firecracker.StaticNetworkConfiguration{
					MacAddress:  "AA:FC:00:00:00:01",
					HostDevName: "tap0",
				},
			},
		}
	}

	return firecracker.Config{
		SocketPath:        vm.config.SocketPath,
		LogPath:           vm.config.LogPath,
		LogLevel:          "Warning",
		KernelImagePath:   vm.config.KernelPath,
		KernelArgs:        vm.config.BootArgs,
		Drives:            drives,
		MachineCfg:        machineConfig,
		VsockDevices:      vsockDevices,
		NetworkInterfaces: networkInterfaces,
	}
}

// cloneOverlay makes a private, truncated copy of rootfsPath under dir so
// concurrent calls never share (or corrupt) the same backing image. Each
// overlay is removed by MicroVM.Stop once the VM that used it exits.
func cloneOverlay(rootfsPath, dir, vmID string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	src, err := os.Open(rootfsPath)
	if err != nil {
		return "", fmt.Errorf("open source rootfs: %w", err)
	}
	defer src.Close()

	overlayPath := filepath.Join(dir, vmID+".ext4")
	dst, err := os.Create(overlayPath)
	if err != nil {
		return "", fmt.Errorf("create overlay file: %w", err)
	}
	defer dst.Close()

	buf := make([]byte, 1<<20)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return "", writeErr
			}
		}
		if readErr != nil {
			break
		}
	}
	return overlayPath, nil
}
