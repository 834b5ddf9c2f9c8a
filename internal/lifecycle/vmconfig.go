package lifecycle

import (
	"errors"
	"fmt"

	"github.com/luminaguard/luminaguard/internal/rootfs"
	"github.com/luminaguard/luminaguard/internal/seccomp"
)

// ErrNetworkingRequested is returned when a VM configuration asks for
// guest networking. The sandbox never attaches a NIC; the only guest
// I/O path is the vsock control channel.
var ErrNetworkingRequested = errors.New("lifecycle: guest networking is not available")

// VMConfig describes one task VM.
type VMConfig struct {
	// TaskID identifies the agent task this VM runs.
	TaskID string

	// MemoryMB and VCPUs override the daemon defaults when non-zero.
	MemoryMB int
	VCPUs    int

	// SeccompLevel selects the syscall filter tier.
	SeccompLevel seccomp.Level

	// Overlay selects the writable layer. Nil means ephemeral tmpfs.
	Overlay rootfs.Overlay

	// RetainOverlay keeps a persistent overlay's backing file on destroy.
	// Ignored for tmpfs overlays, which die with the VM by construction.
	RetainOverlay bool

	// EnableNetworking exists so callers state their intent explicitly.
	// Any value but false fails validation.
	EnableNetworking bool
}

// Validate rejects configurations the sandbox cannot honor.
func (c VMConfig) Validate() error {
	if c.EnableNetworking {
		return ErrNetworkingRequested
	}
	if c.TaskID == "" {
		return errors.New("lifecycle: task id required")
	}
	if c.MemoryMB < 0 || c.VCPUs < 0 {
		return fmt.Errorf("lifecycle: negative resource request (mem=%d vcpus=%d)", c.MemoryMB, c.VCPUs)
	}
	return nil
}

func (c VMConfig) overlay() rootfs.Overlay {
	if c.Overlay == nil {
		return rootfs.TmpfsOverlay{}
	}
	return c.Overlay
}
