package rootfs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Attack-surface reduction for base images: strip tooling an escaped
// process could use to download, build, or pivot. Paths are relative to
// the image root. Run offline by the image-prep utility, never per spawn.
var unusedUtilities = []string{
	// package managers
	"usr/bin/apt",
	"usr/bin/apt-get",
	"usr/bin/dpkg",
	"usr/bin/apk",
	"usr/bin/yum",
	"usr/bin/dnf",
	"usr/bin/pip",
	"usr/bin/pip3",
	// compilers and interpreters
	"usr/bin/gcc",
	"usr/bin/g++",
	"usr/bin/cc",
	"usr/bin/make",
	"usr/bin/perl",
	"usr/bin/python",
	"usr/bin/python3",
	"usr/bin/ruby",
	"usr/bin/node",
	// network fetchers
	"usr/bin/curl",
	"usr/bin/wget",
	"usr/bin/nc",
	"usr/bin/ncat",
	"usr/bin/ssh",
	"usr/bin/scp",
	// extra shells (busybox sh stays)
	"bin/bash",
	"usr/bin/bash",
	"bin/zsh",
	"usr/bin/zsh",
	"usr/bin/fish",
}

// requiredUtilities must be present for the guest to boot and assemble
// its overlay.
var requiredUtilities = []string{
	"bin/sh",
	"sbin/init",
	"sbin/overlay-init",
}

// RemoveUnusedUtilities strips package managers, compilers, interpreters,
// and non-essential shells from an unpacked image tree rooted at root.
// Missing entries are skipped; the utility is idempotent.
func RemoveUnusedUtilities(root string) error {
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return fmt.Errorf("rootfs: image root %s is not a directory", root)
	}
	removed := 0
	for _, rel := range unusedUtilities {
		p := filepath.Join(root, rel)
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("rootfs: remove %s: %w", p, err)
		}
		removed++
	}
	log.Printf("rootfs: stripped %d utilities from %s", removed, root)
	return nil
}

// VerifyMinimal reports whether an image tree has been hardened: none of
// the stripped utilities present, all required ones present.
func VerifyMinimal(root string) bool {
	for _, rel := range unusedUtilities {
		if _, err := os.Lstat(filepath.Join(root, rel)); err == nil {
			return false
		}
	}
	for _, rel := range requiredUtilities {
		if _, err := os.Lstat(filepath.Join(root, rel)); err != nil {
			return false
		}
	}
	return true
}
