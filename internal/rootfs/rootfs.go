// Package rootfs prepares the read-only base image and writable overlay
// for a microVM: drive descriptors for the hypervisor and the kernel
// command line that makes the guest assemble the overlay before init.
package rootfs

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// Overlay size bounds for persistent (ext4) overlays, in megabytes.
// Sizes above MaxOverlaySizeMB are accepted with a warning.
const (
	MinOverlaySizeMB = 64
	MaxOverlaySizeMB = 10 * 1024
)

// OverlayInitPath is the guest helper that mounts the overlay and pivots
// before handing off to normal init.
const OverlayInitPath = "/sbin/overlay-init"

var (
	ErrBaseImageMissing = errors.New("rootfs: base image not found")
	ErrOverlayTooSmall  = errors.New("rootfs: persistent overlay below minimum size")
)

// Overlay is the closed set of writable layer backends. The base image
// below it is always read-only; there is no overlay variant, field, or
// constructor that can change that.
type Overlay interface {
	// BootArg is the overlay_root= value the guest helper understands.
	BootArg() string
	validate() error
}

// TmpfsOverlay is the default: an ephemeral RAM-backed writable layer,
// discarded with the VM.
type TmpfsOverlay struct{}

func (TmpfsOverlay) BootArg() string { return "ram" }
func (TmpfsOverlay) validate() error { return nil }

// Ext4Overlay is a persistent writable layer backed by a block device
// image on the host. Opt-in only.
type Ext4Overlay struct {
	// Path is the backing file on the host. Created sparse at Prepare
	// time if absent.
	Path string
	// SizeMB is the backing file size. Must be at least 64 MB; sizes
	// above 10 GB warn but are accepted.
	SizeMB int
}

func (o Ext4Overlay) BootArg() string { return "/dev/vdb" }

func (o Ext4Overlay) validate() error {
	if o.Path == "" {
		return errors.New("rootfs: persistent overlay path is empty")
	}
	if o.SizeMB < MinOverlaySizeMB {
		return fmt.Errorf("%w: %d MB < %d MB", ErrOverlayTooSmall, o.SizeMB, MinOverlaySizeMB)
	}
	if o.SizeMB > MaxOverlaySizeMB {
		log.Printf("rootfs: overlay size %d MB exceeds %d MB, accepting anyway", o.SizeMB, MaxOverlaySizeMB)
	}
	return nil
}

// Config describes a VM's filesystem layout. The base image is mounted
// read-only in every configuration; ReadOnly exists for callers that
// want to assert the invariant, not to change it.
type Config struct {
	// BaseImagePath is the read-only system image (raw ext4/squashfs).
	BaseImagePath string
	// Overlay is the writable layer. Nil means TmpfsOverlay.
	Overlay Overlay
}

// ReadOnly reports whether the base image is mounted read-only.
// It is always true.
func (Config) ReadOnly() bool { return true }

// Validate checks the configuration without touching the filesystem.
func (c Config) Validate() error {
	if c.BaseImagePath == "" {
		return errors.New("rootfs: base image path is empty")
	}
	return c.overlay().validate()
}

func (c Config) overlay() Overlay {
	if c.Overlay == nil {
		return TmpfsOverlay{}
	}
	return c.Overlay
}

// Drive is one hypervisor block device attachment.
type Drive struct {
	ID           string `json:"drive_id"`
	PathOnHost   string `json:"path_on_host"`
	IsRootDevice bool   `json:"is_root_device"`
	IsReadOnly   bool   `json:"is_read_only"`
}

// DriveSet is the ordered drive list for one VM: the read-only root
// first, then the overlay backing device for persistent overlays.
type DriveSet struct {
	Drives []Drive
}

// Prepare resolves the base image (decompressing a stored .zst artifact
// when the raw image is absent) and, for persistent overlays, creates
// the sparse backing file if needed. The returned DriveSet always marks
// the base drive read-only.
func Prepare(cfg Config) (*DriveSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	basePath, err := resolveBaseImage(cfg.BaseImagePath)
	if err != nil {
		return nil, err
	}

	ds := &DriveSet{
		Drives: []Drive{
			{ID: "rootfs", PathOnHost: basePath, IsRootDevice: true, IsReadOnly: true},
		},
	}

	if ov, ok := cfg.overlay().(Ext4Overlay); ok {
		if err := ensureSparseFile(ov.Path, int64(ov.SizeMB)<<20); err != nil {
			return nil, fmt.Errorf("rootfs: create overlay backing file: %w", err)
		}
		ds.Drives = append(ds.Drives, Drive{
			ID:         "overlay",
			PathOnHost: ov.Path,
			IsReadOnly: false,
		})
	}

	return ds, nil
}

// BootArgs renders the kernel command line additions for a configuration.
// Deterministic: equal configs render equal strings.
func BootArgs(cfg Config) string {
	parts := []string{
		"console=ttyS0",
		"reboot=k",
		"panic=1",
		"overlay_root=" + cfg.overlay().BootArg(),
		"init=" + OverlayInitPath,
	}
	return strings.Join(parts, " ")
}

// resolveBaseImage returns the raw image path, decompressing a .zst
// sibling when only the compressed artifact is on disk.
func resolveBaseImage(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if _, err := os.Stat(path + zstSuffix); err == nil {
		if err := DecompressBase(path+zstSuffix, path); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBaseImageMissing, path)
}

// ensureSparseFile creates a sparse file of the given size if the path
// does not exist. An existing file is left untouched — persistent
// overlays carry state across tasks by design.
func ensureSparseFile(path string, size int64) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
