package lifecycle

import (
	"context"

	"github.com/luminaguard/luminaguard/internal/hypervisor"
)

// launcherHypervisor adapts the concrete launcher to the Hypervisor
// interface.
type launcherHypervisor struct {
	l *hypervisor.Launcher
}

// WrapLauncher makes a hypervisor launcher usable by the manager.
func WrapLauncher(l *hypervisor.Launcher) Hypervisor {
	return launcherHypervisor{l: l}
}

func (a launcherHypervisor) ColdBoot(ctx context.Context, spec hypervisor.BootSpec) (Process, error) {
	p, err := a.l.ColdBoot(ctx, spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (a launcherHypervisor) ResumeSnapshot(ctx context.Context, snap *hypervisor.Snapshot, spec hypervisor.BootSpec) (Process, error) {
	p, err := a.l.ResumeSnapshot(ctx, snap, spec)
	if err != nil {
		return nil, err
	}
	return p, nil
}
