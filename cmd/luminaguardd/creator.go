package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/luminaguard/luminaguard/internal/config"
	"github.com/luminaguard/luminaguard/internal/hypervisor"
	"github.com/luminaguard/luminaguard/internal/registry"
	"github.com/luminaguard/luminaguard/internal/rootfs"
	"github.com/luminaguard/luminaguard/internal/seccomp"
	"github.com/luminaguard/luminaguard/internal/snapshot"
)

// launcherCreator adapts the hypervisor launcher to the pool's Creator
// interface: every pool snapshot is a pristine tmpfs-overlay boot of the
// configured base image.
type launcherCreator struct {
	launcher *hypervisor.Launcher
	cfg      *config.Config
	level    seccomp.Level

	digestOnce sync.Once
	baseDigest digest.Digest
}

var _ snapshot.Creator = (*launcherCreator)(nil)

func (c *launcherCreator) CreateSnapshot(ctx context.Context, id, dir string) (*registry.Snapshot, error) {
	vmID := "pool-" + id
	spec := hypervisor.BootSpec{
		VMID:     vmID,
		MemoryMB: c.cfg.DefaultMemoryMB,
		VCPUs:    c.cfg.DefaultVCPUs,
		Rootfs: rootfs.Config{
			BaseImagePath: c.cfg.BaseImagePath,
			Overlay:       rootfs.TmpfsOverlay{},
		},
		VsockPath:    c.cfg.VsockPath(vmID),
		SeccompLevel: c.level,
	}

	if _, err := c.launcher.CreateSnapshot(ctx, spec, dir); err != nil {
		return nil, err
	}
	return &registry.Snapshot{
		ID:         id,
		Path:       dir,
		BaseDigest: c.imageDigest(),
		CreatedAt:  time.Now(),
	}, nil
}

// imageDigest fingerprints the base image once so snapshot rows record
// which image they were booted from.
func (c *launcherCreator) imageDigest() digest.Digest {
	c.digestOnce.Do(func() {
		f, err := os.Open(c.cfg.BaseImagePath)
		if err != nil {
			return
		}
		defer f.Close()
		d, err := digest.FromReader(f)
		if err != nil {
			return
		}
		c.baseDigest = d
	})
	return c.baseDigest
}
