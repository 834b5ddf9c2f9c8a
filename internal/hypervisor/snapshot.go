package hypervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Snapshot is a pair of on-disk artifacts from a paused pristine VM:
// the serialized device state and the guest memory file.
type Snapshot struct {
	StatePath string
	MemPath   string
}

// SnapshotIn returns the artifact pair for a snapshot directory.
func SnapshotIn(dir string) *Snapshot {
	return &Snapshot{
		StatePath: filepath.Join(dir, "vmstate"),
		MemPath:   filepath.Join(dir, "memory"),
	}
}

// CreateSnapshot boots a pristine VM from spec, pauses it once the guest
// has settled, writes a full snapshot into dir, and kills the process.
// The resulting artifacts can seed any number of future resumes.
func (l *Launcher) CreateSnapshot(ctx context.Context, spec BootSpec, dir string) (*Snapshot, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	p, err := l.ColdBoot(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("snapshot boot: %w", err)
	}
	defer func() {
		p.Kill()
		<-p.Done()
		p.cleanup()
	}()

	// Give the guest init a moment to reach its idle state before pausing.
	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.Done():
		return nil, fmt.Errorf("snapshot boot: hypervisor exited during guest settle")
	}

	client := newAPIClient(p.APISocket)
	if err := client.patch("/vm", map[string]any{"state": "Paused"}); err != nil {
		return nil, fmt.Errorf("pause vm: %w", err)
	}

	snap := SnapshotIn(dir)
	err = client.put("/snapshot/create", map[string]any{
		"snapshot_type": "Full",
		"snapshot_path": snap.StatePath,
		"mem_file_path": snap.MemPath,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot create: %w", err)
	}

	log.Printf("hypervisor: snapshot written to %s", dir)
	return snap, nil
}

// settleDelay bounds how long a pristine guest gets to finish booting
// before it is paused for snapshotting.
var settleDelay = 3 * time.Second

// ResumeSnapshot starts a bare hypervisor process and restores it from a
// snapshot. The resumed VM picks up exactly where the pristine guest was
// paused, skipping kernel boot entirely.
func (l *Launcher) ResumeSnapshot(ctx context.Context, snap *Snapshot, spec BootSpec) (*Process, error) {
	if _, err := os.Stat(snap.StatePath); err != nil {
		return nil, fmt.Errorf("snapshot state missing: %w", err)
	}
	if _, err := os.Stat(snap.MemPath); err != nil {
		return nil, fmt.Errorf("snapshot memory missing: %w", err)
	}

	vmDir := filepath.Join(l.runDir, spec.VMID)
	if err := os.MkdirAll(vmDir, 0700); err != nil {
		return nil, fmt.Errorf("create vm dir: %w", err)
	}
	apiSocket := filepath.Join(vmDir, "api.sock")
	os.Remove(apiSocket)
	os.Remove(spec.VsockPath)

	cmd := exec.Command(l.bin, "--api-sock", apiSocket)
	p, err := startProcess(cmd, spec.VMID, apiSocket, spec.VsockPath, vmDir)
	if err != nil {
		return nil, err
	}

	if err := waitForSocket(ctx, apiSocket, apiSocketTimeout); err != nil {
		p.Kill()
		return nil, fmt.Errorf("resume %s: %w", spec.VMID, err)
	}

	client := newAPIClient(apiSocket)
	err = client.put("/snapshot/load", map[string]any{
		"snapshot_path": snap.StatePath,
		"mem_backend": map[string]any{
			"backend_type": "File",
			"backend_path": snap.MemPath,
		},
		"resume_vm": true,
	})
	if err != nil {
		p.Kill()
		<-p.Done()
		p.cleanup()
		return nil, fmt.Errorf("snapshot load: %w", err)
	}
	return p, nil
}
