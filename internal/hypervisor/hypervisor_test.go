package hypervisor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/luminaguard/luminaguard/internal/rootfs"
	"github.com/luminaguard/luminaguard/internal/seccomp"
)

func testBootSpec(t *testing.T) BootSpec {
	t.Helper()
	dir := t.TempDir()
	base := filepath.Join(dir, "base.ext4")
	if err := os.WriteFile(base, []byte("image"), 0644); err != nil {
		t.Fatal(err)
	}
	return BootSpec{
		VMID:         "vm-test",
		MemoryMB:     512,
		VCPUs:        1,
		Rootfs:       rootfs.Config{BaseImagePath: base, Overlay: rootfs.TmpfsOverlay{}},
		VsockPath:    filepath.Join(dir, "vm-test.vsock"),
		SeccompLevel: seccomp.LevelBasic,
	}
}

func TestBuildMachineConfigShape(t *testing.T) {
	spec := testBootSpec(t)
	drives, err := rootfs.Prepare(spec.Rootfs)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	cfg := buildMachineConfig("/kernel/vmlinux", spec, drives, spec.VsockPath)
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got struct {
		BootSource struct {
			KernelImagePath string `json:"kernel_image_path"`
			BootArgs        string `json:"boot_args"`
		} `json:"boot-source"`
		MachineConfig struct {
			VCPUCount  int  `json:"vcpu_count"`
			MemSizeMib int  `json:"mem_size_mib"`
			SMT        bool `json:"smt"`
		} `json:"machine-config"`
		Drives []struct {
			DriveID      string `json:"drive_id"`
			IsRootDevice bool   `json:"is_root_device"`
			IsReadOnly   bool   `json:"is_read_only"`
		} `json:"drives"`
		Vsock struct {
			GuestCID int    `json:"guest_cid"`
			UDSPath  string `json:"uds_path"`
		} `json:"vsock"`
		NetworkInterfaces []any `json:"network-interfaces"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.BootSource.KernelImagePath != "/kernel/vmlinux" {
		t.Errorf("kernel_image_path = %q", got.BootSource.KernelImagePath)
	}
	if !strings.Contains(got.BootSource.BootArgs, "overlay_root=ram") {
		t.Errorf("boot_args = %q, want overlay_root=ram", got.BootSource.BootArgs)
	}
	if got.MachineConfig.VCPUCount != 1 || got.MachineConfig.MemSizeMib != 512 {
		t.Errorf("machine-config = %+v", got.MachineConfig)
	}
	if len(got.Drives) != 1 {
		t.Fatalf("drives = %d, want 1", len(got.Drives))
	}
	if !got.Drives[0].IsRootDevice || !got.Drives[0].IsReadOnly {
		t.Errorf("root drive = %+v, want root+read-only", got.Drives[0])
	}
	if got.Vsock.GuestCID != guestCID || got.Vsock.UDSPath != spec.VsockPath {
		t.Errorf("vsock = %+v", got.Vsock)
	}
	if got.NetworkInterfaces != nil {
		t.Errorf("network-interfaces present: %v", got.NetworkInterfaces)
	}
}

func TestBuildMachineConfigNoNetworkKey(t *testing.T) {
	spec := testBootSpec(t)
	drives, err := rootfs.Prepare(spec.Rootfs)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	cfg := buildMachineConfig("/kernel/vmlinux", spec, drives, spec.VsockPath)
	for key := range cfg {
		if strings.Contains(key, "net") {
			t.Errorf("machine config contains networking key %q", key)
		}
	}
}

func TestAPIClientStatusError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "api.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var gotPath, gotBody string
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		gotBody = string(body)
		if r.URL.Path == "/snapshot/create" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "fault", http.StatusBadRequest)
	})}
	go srv.Serve(ln)
	defer srv.Close()

	client := newAPIClient(socketPath)

	if err := client.put("/snapshot/create", map[string]any{"snapshot_type": "Full"}); err != nil {
		t.Errorf("put success path: %v", err)
	}
	if gotPath != "/snapshot/create" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotBody, `"snapshot_type":"Full"`) {
		t.Errorf("body = %q", gotBody)
	}

	err = client.patch("/vm", map[string]any{"state": "Paused"})
	if err == nil {
		t.Fatal("patch to erroring endpoint returned nil")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %v, want status 400 mentioned", err)
	}
}

func TestProcessShutdownGraceful(t *testing.T) {
	vmDir := t.TempDir()
	cmd := exec.Command("sleep", "60")
	p, err := startProcess(cmd, "vm-test", filepath.Join(vmDir, "api.sock"), filepath.Join(vmDir, "v.sock"), vmDir)
	if err != nil {
		t.Fatalf("startProcess: %v", err)
	}
	if !p.Alive() {
		t.Fatal("process not alive after start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if p.Alive() {
		t.Error("process still alive after Shutdown")
	}
	if _, err := os.Stat(vmDir); !os.IsNotExist(err) {
		t.Errorf("vm dir not removed: %v", err)
	}
}

func TestProcessShutdownEscalates(t *testing.T) {
	vmDir := t.TempDir()
	// Shell that ignores SIGTERM; only SIGKILL ends it.
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 60")
	p, err := startProcess(cmd, "vm-test", filepath.Join(vmDir, "api.sock"), filepath.Join(vmDir, "v.sock"), vmDir)
	if err != nil {
		t.Fatalf("startProcess: %v", err)
	}

	// Let the shell install its trap before signalling.
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if p.Alive() {
		t.Error("process survived SIGKILL escalation")
	}
}

func TestWaitForSocketAppears(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.sock")
	go func() {
		time.Sleep(150 * time.Millisecond)
		os.WriteFile(path, nil, 0600)
	}()
	if err := waitForSocket(context.Background(), path, 2*time.Second); err != nil {
		t.Errorf("waitForSocket: %v", err)
	}
}

func TestWaitForSocketTimeout(t *testing.T) {
	err := waitForSocket(context.Background(), filepath.Join(t.TempDir(), "never.sock"), 300*time.Millisecond)
	if err == nil {
		t.Error("waitForSocket returned nil for missing socket")
	}
}
