package rootfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeBaseImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "base.ext4")
	if err := os.WriteFile(path, []byte("fake-ext4-image"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigAlwaysReadOnly(t *testing.T) {
	configs := []Config{
		{BaseImagePath: "/img/base.ext4"},
		{BaseImagePath: "/img/base.ext4", Overlay: TmpfsOverlay{}},
		{BaseImagePath: "/img/base.ext4", Overlay: Ext4Overlay{Path: "/x", SizeMB: 128}},
	}
	for _, cfg := range configs {
		if !cfg.ReadOnly() {
			t.Errorf("ReadOnly() = false for %+v", cfg)
		}
	}
}

func TestValidateOverlaySizes(t *testing.T) {
	tests := []struct {
		sizeMB  int
		wantErr bool
	}{
		{63, true},
		{64, false},
		{512, false},
		{10 * 1024, false},
		{11 * 1024, false}, // above the warning threshold, still accepted
	}
	for _, tt := range tests {
		cfg := Config{
			BaseImagePath: "/img/base.ext4",
			Overlay:       Ext4Overlay{Path: "/data/overlay.ext4", SizeMB: tt.sizeMB},
		}
		err := cfg.Validate()
		if tt.wantErr && !errors.Is(err, ErrOverlayTooSmall) {
			t.Errorf("size %d MB: err = %v, want ErrOverlayTooSmall", tt.sizeMB, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("size %d MB: err = %v, want nil", tt.sizeMB, err)
		}
	}
}

func TestPrepareTmpfs(t *testing.T) {
	base := writeBaseImage(t)
	ds, err := Prepare(Config{BaseImagePath: base})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if len(ds.Drives) != 1 {
		t.Fatalf("drives = %d, want 1", len(ds.Drives))
	}
	root := ds.Drives[0]
	if !root.IsRootDevice || !root.IsReadOnly {
		t.Errorf("root drive = %+v, want root device, read-only", root)
	}
	if root.PathOnHost != base {
		t.Errorf("root path = %q, want %q", root.PathOnHost, base)
	}
}

func TestPrepareExt4CreatesSparseBacking(t *testing.T) {
	base := writeBaseImage(t)
	overlayPath := filepath.Join(t.TempDir(), "overlay.ext4")

	ds, err := Prepare(Config{
		BaseImagePath: base,
		Overlay:       Ext4Overlay{Path: overlayPath, SizeMB: 64},
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if len(ds.Drives) != 2 {
		t.Fatalf("drives = %d, want 2", len(ds.Drives))
	}
	if ds.Drives[0].IsReadOnly != true {
		t.Error("base drive not read-only")
	}
	if ds.Drives[1].IsReadOnly {
		t.Error("overlay drive read-only, want writable")
	}

	fi, err := os.Stat(overlayPath)
	if err != nil {
		t.Fatalf("overlay backing file: %v", err)
	}
	if fi.Size() != 64<<20 {
		t.Errorf("backing file size = %d, want %d", fi.Size(), 64<<20)
	}
}

func TestPrepareKeepsExistingBacking(t *testing.T) {
	base := writeBaseImage(t)
	overlayPath := filepath.Join(t.TempDir(), "overlay.ext4")
	if err := os.WriteFile(overlayPath, []byte("existing state"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Prepare(Config{
		BaseImagePath: base,
		Overlay:       Ext4Overlay{Path: overlayPath, SizeMB: 64},
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "existing state" {
		t.Error("existing overlay backing file was overwritten")
	}
}

func TestPrepareMissingBase(t *testing.T) {
	_, err := Prepare(Config{BaseImagePath: filepath.Join(t.TempDir(), "missing.ext4")})
	if !errors.Is(err, ErrBaseImageMissing) {
		t.Errorf("err = %v, want ErrBaseImageMissing", err)
	}
}

func TestBootArgsDeterministic(t *testing.T) {
	tmpfs := Config{BaseImagePath: "/img/base.ext4"}
	got := BootArgs(tmpfs)
	want := "console=ttyS0 reboot=k panic=1 overlay_root=ram init=/sbin/overlay-init"
	if got != want {
		t.Errorf("BootArgs(tmpfs) = %q, want %q", got, want)
	}
	if BootArgs(tmpfs) != got {
		t.Error("BootArgs not deterministic")
	}

	ext4 := Config{
		BaseImagePath: "/img/base.ext4",
		Overlay:       Ext4Overlay{Path: "/data/overlay.ext4", SizeMB: 128},
	}
	got = BootArgs(ext4)
	want = "console=ttyS0 reboot=k panic=1 overlay_root=/dev/vdb init=/sbin/overlay-init"
	if got != want {
		t.Errorf("BootArgs(ext4) = %q, want %q", got, want)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "base.ext4")
	content := make([]byte, 1<<16)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(raw, content, 0600); err != nil {
		t.Fatal(err)
	}

	zst, err := CompressBase(raw)
	if err != nil {
		t.Fatalf("CompressBase: %v", err)
	}

	// Delete the raw image; Prepare must recover it from the artifact.
	if err := os.Remove(raw); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(zst); err != nil {
		t.Fatalf("compressed artifact: %v", err)
	}

	ds, err := Prepare(Config{BaseImagePath: raw})
	if err != nil {
		t.Fatalf("Prepare after compression: %v", err)
	}
	got, err := os.ReadFile(ds.Drives[0].PathOnHost)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(content) {
		t.Fatalf("decompressed size = %d, want %d", len(got), len(content))
	}
	for i := range got {
		if got[i] != content[i] {
			t.Fatalf("decompressed content differs at byte %d", i)
		}
	}
}

func TestImagePrep(t *testing.T) {
	root := t.TempDir()
	mkfile := func(rel string) {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("#!"), 0755); err != nil {
			t.Fatal(err)
		}
	}

	for _, rel := range requiredUtilities {
		mkfile(rel)
	}
	mkfile("usr/bin/curl")
	mkfile("usr/bin/gcc")
	mkfile("bin/bash")

	if VerifyMinimal(root) {
		t.Error("VerifyMinimal = true with utilities still present")
	}

	if err := RemoveUnusedUtilities(root); err != nil {
		t.Fatalf("RemoveUnusedUtilities: %v", err)
	}
	if !VerifyMinimal(root) {
		t.Error("VerifyMinimal = false after stripping")
	}

	// Second run is a no-op.
	if err := RemoveUnusedUtilities(root); err != nil {
		t.Errorf("second RemoveUnusedUtilities: %v", err)
	}
}

func TestVerifyMinimalMissingRequired(t *testing.T) {
	root := t.TempDir()
	// Empty tree: nothing forbidden, but required files absent.
	if VerifyMinimal(root) {
		t.Error("VerifyMinimal = true without required utilities")
	}
}
