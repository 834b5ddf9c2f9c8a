// Package hypervisor spawns and controls Firecracker-compatible microVM
// processes. Each VM gets a generated JSON config file, an API unix
// socket for snapshot and lifecycle control, and a vsock unix socket for
// guest communication. No networking device is ever attached.
package hypervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/luminaguard/luminaguard/internal/config"
	"github.com/luminaguard/luminaguard/internal/rootfs"
	"github.com/luminaguard/luminaguard/internal/seccomp"
)

// guestCID is the vsock context ID assigned to every guest. CIDs 0-2 are
// reserved; per-VM unix socket paths keep guests apart on the host side.
const guestCID = 3

// BootSpec describes one VM boot.
type BootSpec struct {
	VMID     string
	MemoryMB int
	VCPUs    int

	// Rootfs produces the drive list and kernel overlay arguments.
	Rootfs rootfs.Config

	// VsockPath is the host-side unix socket the vsock device binds.
	VsockPath string

	// SeccompLevel selects the syscall filter tier for the guest workload
	// filter rendered alongside the config file.
	SeccompLevel seccomp.Level
}

// Launcher spawns microVM processes.
type Launcher struct {
	bin        string
	kernelPath string
	runDir     string
}

// NewLauncher resolves the hypervisor binary and validates the kernel
// image. runDir holds per-VM config files, sockets, and filter files.
func NewLauncher(cfg *config.Config) (*Launcher, error) {
	bin := cfg.HypervisorBin
	if bin == "" {
		resolved, err := exec.LookPath("firecracker")
		if err != nil {
			return nil, fmt.Errorf("hypervisor binary not found in PATH: %w", err)
		}
		bin = resolved
	}
	if _, err := os.Stat(cfg.KernelPath); err != nil {
		return nil, fmt.Errorf("kernel not found at %s: %w", cfg.KernelPath, err)
	}
	runDir := filepath.Join(cfg.DataDir, "run")
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Launcher{bin: bin, kernelPath: cfg.KernelPath, runDir: runDir}, nil
}

// buildMachineConfig renders the hypervisor JSON config for a boot.
// The base drive arrives read-only from rootfs.Prepare and nothing here
// can flip it. No network-interfaces key is ever emitted.
func buildMachineConfig(kernelPath string, spec BootSpec, drives *rootfs.DriveSet, vsockUDS string) map[string]any {
	return map[string]any{
		"boot-source": map[string]any{
			"kernel_image_path": kernelPath,
			"boot_args":         rootfs.BootArgs(spec.Rootfs),
		},
		"machine-config": map[string]any{
			"vcpu_count":   spec.VCPUs,
			"mem_size_mib": spec.MemoryMB,
			"smt":          false,
		},
		"drives": drives.Drives,
		"vsock": map[string]any{
			"guest_cid": guestCID,
			"uds_path":  vsockUDS,
		},
	}
}

// prepareBoot writes the config file and seccomp filter for a boot and
// returns their paths plus the per-VM API socket path.
func (l *Launcher) prepareBoot(spec BootSpec) (configPath, filterPath, apiSocket string, err error) {
	drives, err := rootfs.Prepare(spec.Rootfs)
	if err != nil {
		return "", "", "", err
	}

	vmDir := filepath.Join(l.runDir, spec.VMID)
	if err := os.MkdirAll(vmDir, 0700); err != nil {
		return "", "", "", fmt.Errorf("create vm dir: %w", err)
	}

	cfg := buildMachineConfig(l.kernelPath, spec, drives, spec.VsockPath)
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal machine config: %w", err)
	}
	configPath = filepath.Join(vmDir, "config.json")
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return "", "", "", fmt.Errorf("write machine config: %w", err)
	}

	filter, err := seccomp.ProfileFor(spec.SeccompLevel).Render()
	if err != nil {
		return "", "", "", fmt.Errorf("render seccomp filter: %w", err)
	}
	filterPath = filepath.Join(vmDir, "seccomp.json")
	if err := os.WriteFile(filterPath, filter, 0600); err != nil {
		return "", "", "", fmt.Errorf("write seccomp filter: %w", err)
	}

	apiSocket = filepath.Join(vmDir, "api.sock")
	return configPath, filterPath, apiSocket, nil
}

// ColdBoot prepares artifacts and starts a VM from scratch. The returned
// Process is running but the guest may still be booting; callers wait on
// the vsock channel for readiness.
func (l *Launcher) ColdBoot(ctx context.Context, spec BootSpec) (*Process, error) {
	configPath, filterPath, apiSocket, err := l.prepareBoot(spec)
	if err != nil {
		return nil, err
	}

	os.Remove(apiSocket)
	os.Remove(spec.VsockPath)

	cmd := exec.Command(l.bin,
		"--api-sock", apiSocket,
		"--config-file", configPath,
		"--seccomp-filter", filterPath,
	)
	p, err := startProcess(cmd, spec.VMID, apiSocket, spec.VsockPath, filepath.Join(l.runDir, spec.VMID))
	if err != nil {
		return nil, err
	}

	if err := waitForSocket(ctx, apiSocket, apiSocketTimeout); err != nil {
		p.Kill()
		return nil, fmt.Errorf("cold boot %s: %w", spec.VMID, err)
	}
	return p, nil
}
