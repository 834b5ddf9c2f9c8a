// Package lifecycle composes firewall, snapshot pool, hypervisor, and
// vsock channel into the spawn/destroy state machine for task VMs.
//
// State transitions:
//
//	UNCONFIGURED → CONFIGURED → (POOL_ACQUIRED | COLD_BOOTED) → RUNNING → DESTROYING → DESTROYED
//
// Isolation is configured before any guest instruction executes, and a
// failure at any point after that unwinds everything already built —
// a VM either reaches RUNNING fully isolated or does not exist.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luminaguard/luminaguard/internal/config"
	"github.com/luminaguard/luminaguard/internal/firewall"
	"github.com/luminaguard/luminaguard/internal/hypervisor"
	"github.com/luminaguard/luminaguard/internal/metrics"
	"github.com/luminaguard/luminaguard/internal/registry"
	"github.com/luminaguard/luminaguard/internal/rootfs"
	"github.com/luminaguard/luminaguard/internal/seccomp"
	"github.com/luminaguard/luminaguard/internal/vsock"
)

// ErrVMNotFound is returned for operations on unknown VM ids.
var ErrVMNotFound = errors.New("lifecycle: vm not found")

// VM states
const (
	StateUnconfigured = "unconfigured"
	StateConfigured   = "configured"
	StatePoolAcquired = "pool_acquired"
	StateColdBooted   = "cold_booted"
	StateRunning      = "running"
	StateDestroying   = "destroying"
	StateDestroyed    = "destroyed"
)

// guestPort is the vsock port the guest agent dials out on. The host
// listener binds <vsock path>_<port>, which is where hypervisor vsock
// devices deliver guest-initiated connections.
const guestPort = 1024

// Handle is an opaque reference to a spawned VM.
type Handle struct {
	ID string
}

func (h Handle) String() string { return h.ID }

// Process is the running hypervisor process for one VM.
type Process interface {
	Shutdown(ctx context.Context) error
	Kill()
	Done() <-chan struct{}
	Alive() bool
}

// Hypervisor boots VMs. Implemented by the launcher adapter below and
// mocked in tests.
type Hypervisor interface {
	ColdBoot(ctx context.Context, spec hypervisor.BootSpec) (Process, error)
	ResumeSnapshot(ctx context.Context, snap *hypervisor.Snapshot, spec hypervisor.BootSpec) (Process, error)
}

// Firewaller is the per-VM isolation surface of the firewall manager.
type Firewaller interface {
	ConfigureIsolation(vmID string) error
	VerifyIsolation(vmID string) bool
	Teardown(vmID string) error
}

// Pool is the warm-snapshot surface the manager consumes.
type Pool interface {
	Acquire() (*registry.Snapshot, bool)
	Release(id string)
}

// VM is one managed task VM.
type VM struct {
	mu sync.Mutex

	ID     string
	TaskID string
	State  string

	// FromSnapshot is true when the VM was resumed from a pool entry.
	FromSnapshot bool

	// Degraded is true when the VM runs without iptables isolation
	// (unprivileged host, verified NIC-free).
	Degraded bool

	Audit *seccomp.AuditLog

	proc        Process
	server      *vsock.Server
	profile     *seccomp.Profile
	snapID      string // pool entry id, empty on cold boot
	overlayPath string // persistent overlay backing file, empty for tmpfs
	retain      bool

	CreatedAt time.Time
}

func (v *VM) setState(s string) {
	v.mu.Lock()
	v.State = s
	v.mu.Unlock()
}

// CurrentState returns the VM's state.
func (v *VM) CurrentState() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.State
}

// Server returns the VM's control channel server for handler registration.
func (v *VM) Server() *vsock.Server { return v.server }

// Manager owns task VMs and drives their lifecycle.
type Manager struct {
	mu  sync.Mutex
	vms map[string]*VM

	hv      Hypervisor
	fw      Firewaller
	pool    Pool
	cfg     *config.Config
	metrics *metrics.Metrics

	// AllowDegraded permits spawning without iptables isolation when the
	// host lacks privilege, provided no sandbox NICs exist. Off by default.
	AllowDegraded bool

	// verifyNoNIC is swappable for tests.
	verifyNoNIC func() (bool, error)
}

// NewManager creates a lifecycle manager. pool and m may be nil.
func NewManager(hv Hypervisor, fw Firewaller, pool Pool, cfg *config.Config, m *metrics.Metrics) *Manager {
	return &Manager{
		vms:         make(map[string]*VM),
		hv:          hv,
		fw:          fw,
		pool:        pool,
		cfg:         cfg,
		metrics:     m,
		verifyNoNIC: firewall.VerifyNoNIC,
	}
}

// Spawn creates an isolated VM for a task. On success the VM is RUNNING
// with its firewall chain verified and its control socket listening.
func (m *Manager) Spawn(ctx context.Context, vmCfg VMConfig) (Handle, error) {
	if err := vmCfg.Validate(); err != nil {
		return Handle{}, err
	}

	vmID := uuid.NewString()
	vm := &VM{
		ID:        vmID,
		TaskID:    vmCfg.TaskID,
		State:     StateUnconfigured,
		Audit:     seccomp.NewAuditLog(seccomp.DefaultAuditCapacity),
		profile:   seccomp.ProfileFor(vmCfg.SeccompLevel),
		retain:    vmCfg.RetainOverlay,
		CreatedAt: time.Now(),
	}

	// 1. Isolation first. Nothing guest-visible exists before this holds.
	if err := m.fw.ConfigureIsolation(vmID); err != nil {
		if m.metrics != nil {
			m.metrics.FirewallErrors.Inc()
		}
		if !m.degradedOK(err) {
			return Handle{}, fmt.Errorf("spawn %s: %w", vmCfg.TaskID, err)
		}
		log.Printf("lifecycle: vm %s running degraded (no iptables privilege, host NIC-free)", vmID)
		vm.Degraded = true
	}
	vm.setState(StateConfigured)

	// 2. Boot, preferring a warm snapshot.
	spec := m.bootSpec(vmID, vmCfg)
	if ov, ok := vmCfg.overlay().(rootfs.Ext4Overlay); ok {
		vm.overlayPath = ov.Path
	}

	proc, fromSnapshot, snapID, err := m.boot(ctx, spec)
	if err != nil {
		m.teardownFirewall(vm)
		return Handle{}, fmt.Errorf("spawn %s: %w", vmCfg.TaskID, err)
	}
	vm.proc = proc
	vm.FromSnapshot = fromSnapshot
	vm.snapID = snapID
	if fromSnapshot {
		vm.setState(StatePoolAcquired)
	} else {
		vm.setState(StateColdBooted)
		if m.metrics != nil {
			m.metrics.ColdBoots.Inc()
		}
	}

	// 3. Control channel.
	listenPath := fmt.Sprintf("%s_%d", spec.VsockPath, guestPort)
	server, err := vsock.Listen(listenPath)
	if err != nil {
		m.unwind(ctx, vm, spec)
		return Handle{}, fmt.Errorf("spawn %s: %w", vmCfg.TaskID, err)
	}
	vm.server = server
	m.wireChannel(vm)
	go func() {
		if err := server.Serve(ctx); err != nil {
			log.Printf("lifecycle: vm %s channel closed: %v", vmID, err)
		}
	}()

	// 4. Post-verify. A chain that was configured but does not hold now
	// is treated like any other spawn failure.
	if !vm.Degraded && !m.fw.VerifyIsolation(vmID) {
		if m.metrics != nil {
			m.metrics.FirewallErrors.Inc()
		}
		m.unwind(ctx, vm, spec)
		return Handle{}, fmt.Errorf("spawn %s: isolation verification failed", vmCfg.TaskID)
	}

	vm.setState(StateRunning)
	m.mu.Lock()
	m.vms[vmID] = vm
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveVMs.Inc()
	}

	log.Printf("lifecycle: vm %s running (task=%s snapshot=%v degraded=%v)",
		vmID, vmCfg.TaskID, vm.FromSnapshot, vm.Degraded)
	return Handle{ID: vmID}, nil
}

func (m *Manager) degradedOK(err error) bool {
	if !m.AllowDegraded || !errors.Is(err, firewall.ErrUnprivileged) {
		return false
	}
	clean, nicErr := m.verifyNoNIC()
	if nicErr != nil {
		log.Printf("lifecycle: NIC verification failed: %v", nicErr)
		return false
	}
	return clean
}

func (m *Manager) bootSpec(vmID string, vmCfg VMConfig) hypervisor.BootSpec {
	memoryMB := vmCfg.MemoryMB
	if memoryMB == 0 {
		memoryMB = m.cfg.DefaultMemoryMB
	}
	vcpus := vmCfg.VCPUs
	if vcpus == 0 {
		vcpus = m.cfg.DefaultVCPUs
	}
	return hypervisor.BootSpec{
		VMID:     vmID,
		MemoryMB: memoryMB,
		VCPUs:    vcpus,
		Rootfs: rootfs.Config{
			BaseImagePath: m.cfg.BaseImagePath,
			Overlay:       vmCfg.overlay(),
		},
		VsockPath:    m.cfg.VsockPath(vmID),
		SeccompLevel: vmCfg.SeccompLevel,
	}
}

// boot resumes from a pool snapshot when one is free, falling back to a
// cold boot when the pool is empty or the resume fails.
func (m *Manager) boot(ctx context.Context, spec hypervisor.BootSpec) (Process, bool, string, error) {
	if m.pool != nil {
		if snap, ok := m.pool.Acquire(); ok {
			proc, err := m.hv.ResumeSnapshot(ctx, hypervisor.SnapshotIn(snap.Path), spec)
			if err == nil {
				return proc, true, snap.ID, nil
			}
			log.Printf("lifecycle: resume from snapshot %s failed, cold booting: %v", snap.ID, err)
			m.pool.Release(snap.ID)
		}
	}

	proc, err := m.hv.ColdBoot(ctx, spec)
	if err != nil {
		return nil, false, "", err
	}
	return proc, false, "", nil
}

// wireChannel registers the built-in guest message handlers.
func (m *Manager) wireChannel(vm *VM) {
	vm.server.OnNotification(func(method string, params json.RawMessage) {
		if method != "seccomp.violation" {
			return
		}
		var ev struct {
			Syscall string `json:"syscall"`
			Blocked bool   `json:"blocked"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			log.Printf("lifecycle: vm %s bad audit event: %v", vm.ID, err)
			return
		}
		before := vm.Audit.Dropped()
		vm.Audit.Record(vm.profile, vm.ID, ev.Syscall, ev.Blocked)
		if m.metrics != nil && vm.Audit.Dropped() > before {
			m.metrics.AuditDropped.Inc()
		}
	})
	vm.server.Handle("status.ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"state": vm.CurrentState()}, nil
	})
}

// unwind tears down a partially spawned VM. The firewall chain goes
// last: it outlives the process it guards.
func (m *Manager) unwind(ctx context.Context, vm *VM, spec hypervisor.BootSpec) {
	if vm.server != nil {
		vm.server.Close()
	}
	if vm.proc != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		vm.proc.Shutdown(shutdownCtx)
		cancel()
	}
	os.Remove(spec.VsockPath)
	if vm.snapID != "" && m.pool != nil {
		m.pool.Release(vm.snapID)
	}
	m.teardownFirewall(vm)
}

func (m *Manager) teardownFirewall(vm *VM) {
	if vm.Degraded {
		return
	}
	if err := m.fw.Teardown(vm.ID); err != nil {
		log.Printf("lifecycle: firewall teardown %s: %v", vm.ID, err)
	}
}

// Destroy tears a VM down. Destroying an unknown or already destroyed
// VM is a no-op.
func (m *Manager) Destroy(ctx context.Context, h Handle) error {
	m.mu.Lock()
	vm, ok := m.vms[h.ID]
	if ok {
		delete(m.vms, h.ID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	vm.setState(StateDestroying)

	// Guest first: stop execution before removing anything it could race.
	if vm.proc != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		if err := vm.proc.Shutdown(shutdownCtx); err != nil {
			log.Printf("lifecycle: shutdown %s: %v", vm.ID, err)
		}
		cancel()
	}
	if vm.server != nil {
		if err := vm.server.Close(); err != nil {
			log.Printf("lifecycle: close channel %s: %v", vm.ID, err)
		}
	}
	os.Remove(m.cfg.VsockPath(vm.ID))

	if vm.snapID != "" && m.pool != nil {
		m.pool.Release(vm.snapID)
	}

	// Ephemeral overlays die with the VM. Persistent overlays are removed
	// too unless the caller asked to retain the backing file.
	if vm.overlayPath != "" && !vm.retain {
		if err := os.Remove(vm.overlayPath); err != nil && !os.IsNotExist(err) {
			log.Printf("lifecycle: remove overlay %s: %v", vm.overlayPath, err)
		}
	}

	m.teardownFirewall(vm)

	vm.setState(StateDestroyed)
	if m.metrics != nil {
		m.metrics.ActiveVMs.Dec()
	}
	log.Printf("lifecycle: vm %s destroyed (task=%s)", vm.ID, vm.TaskID)
	return nil
}

// VerifyIsolation re-checks a running VM's isolation against live state.
func (m *Manager) VerifyIsolation(h Handle) bool {
	m.mu.Lock()
	vm, ok := m.vms[h.ID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if vm.Degraded {
		clean, err := m.verifyNoNIC()
		return err == nil && clean
	}
	return m.fw.VerifyIsolation(vm.ID)
}

// Get returns a VM by handle.
func (m *Manager) Get(h Handle) (*VM, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vm, ok := m.vms[h.ID]
	if !ok {
		return nil, ErrVMNotFound
	}
	return vm, nil
}

// List returns all live VMs.
func (m *Manager) List() []*VM {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*VM, 0, len(m.vms))
	for _, vm := range m.vms {
		out = append(out, vm)
	}
	return out
}

// DestroyAll tears down every live VM, used at daemon shutdown.
func (m *Manager) DestroyAll(ctx context.Context) {
	for _, vm := range m.List() {
		if err := m.Destroy(ctx, Handle{ID: vm.ID}); err != nil {
			log.Printf("lifecycle: destroy %s: %v", vm.ID, err)
		}
	}
}
