package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/luminaguard/luminaguard/internal/registry"
)

// mockCreator writes a vmstate marker file per snapshot.
type mockCreator struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *mockCreator) CreateSnapshot(ctx context.Context, id, dir string) (*registry.Snapshot, error) {
	c.mu.Lock()
	c.calls++
	fail := c.fail
	c.mu.Unlock()
	if fail {
		return nil, errors.New("boot failed")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "vmstate"), []byte("state"), 0600); err != nil {
		return nil, err
	}
	return &registry.Snapshot{ID: id, Path: dir, CreatedAt: time.Now()}, nil
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*registry.Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*registry.Snapshot)}
}

func (s *fakeStore) SaveSnapshot(snap *registry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.ID] = snap
	return nil
}

func (s *fakeStore) DeleteSnapshot(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *fakeStore) ListSnapshots() ([]*registry.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*registry.Snapshot
	for _, snap := range s.rows {
		out = append(out, snap)
	}
	return out, nil
}

func newTestPool(t *testing.T) (*Pool, *mockCreator, *fakeStore) {
	t.Helper()
	creator := &mockCreator{}
	store := newFakeStore()
	p := New(creator, store, t.TempDir(), time.Hour, nil)
	return p, creator, store
}

func TestWarmupAndAcquire(t *testing.T) {
	p, creator, store := newTestPool(t)

	if err := p.Warmup(context.Background(), 3); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if p.Size() != 3 {
		t.Fatalf("Size = %d, want 3", p.Size())
	}
	if creator.calls != 3 {
		t.Errorf("creator calls = %d, want 3", creator.calls)
	}
	if len(store.rows) != 3 {
		t.Errorf("persisted rows = %d, want 3", len(store.rows))
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		snap, ok := p.Acquire()
		if !ok {
			t.Fatalf("Acquire %d returned empty with %d free", i, p.Free())
		}
		if seen[snap.ID] {
			t.Errorf("Acquire returned %s twice", snap.ID)
		}
		seen[snap.ID] = true
	}

	if snap, ok := p.Acquire(); ok {
		t.Errorf("Acquire on exhausted pool = %v, want empty", snap.ID)
	}
}

func TestAcquireEmptyPool(t *testing.T) {
	p, _, _ := newTestPool(t)
	if snap, ok := p.Acquire(); ok || snap != nil {
		t.Errorf("Acquire on empty pool = (%v, %v), want (nil, false)", snap, ok)
	}
}

func TestReleaseMakesEntryAvailable(t *testing.T) {
	p, _, _ := newTestPool(t)
	if err := p.Warmup(context.Background(), 1); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	snap, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire failed on warm pool")
	}
	if _, ok := p.Acquire(); ok {
		t.Error("single entry acquired twice")
	}

	p.Release(snap.ID)
	again, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire failed after Release")
	}
	if again.ID != snap.ID {
		t.Errorf("re-acquired %s, want %s", again.ID, snap.ID)
	}
}

func TestWarmupClampsSize(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, 1},
		{-5, 1},
		{50, 20},
	} {
		creator := &mockCreator{}
		p := New(creator, nil, t.TempDir(), time.Hour, nil)
		if err := p.Warmup(context.Background(), tc.in); err != nil {
			t.Fatalf("Warmup(%d): %v", tc.in, err)
		}
		if p.Size() != tc.want {
			t.Errorf("Warmup(%d): Size = %d, want %d", tc.in, p.Size(), tc.want)
		}
	}
}

func TestWarmupPartialFailure(t *testing.T) {
	creator := &mockCreator{fail: true}
	p := New(creator, nil, t.TempDir(), time.Hour, nil)
	if err := p.Warmup(context.Background(), 3); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if p.Size() != 0 {
		t.Errorf("Size = %d after all creations failed, want 0", p.Size())
	}
	// Cold-boot fallback contract: empty pool is a miss, not an error.
	if _, ok := p.Acquire(); ok {
		t.Error("Acquire succeeded on failed-warmup pool")
	}
}

func TestRefreshReplacesOldest(t *testing.T) {
	p, _, store := newTestPool(t)
	if err := p.Warmup(context.Background(), 2); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	var before []string
	for id := range store.rows {
		before = append(before, id)
	}

	p.refreshOldest(context.Background())

	if p.Size() != 2 {
		t.Fatalf("Size = %d after refresh, want 2", p.Size())
	}
	if len(store.rows) != 2 {
		t.Fatalf("persisted rows = %d after refresh, want 2", len(store.rows))
	}

	replaced := 0
	for _, id := range before {
		if _, ok := store.rows[id]; !ok {
			replaced++
		}
	}
	if replaced != 1 {
		t.Errorf("replaced %d entries, want exactly 1", replaced)
	}
}

func TestRefreshFailureKeepsEntry(t *testing.T) {
	p, creator, _ := newTestPool(t)
	if err := p.Warmup(context.Background(), 1); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	snap, _ := p.Acquire()
	p.Release(snap.ID)

	creator.mu.Lock()
	creator.fail = true
	creator.mu.Unlock()

	p.refreshOldest(context.Background())

	got, ok := p.Acquire()
	if !ok {
		t.Fatal("entry unavailable after failed refresh")
	}
	if got.ID != snap.ID {
		t.Errorf("entry = %s after failed refresh, want original %s", got.ID, snap.ID)
	}
}

func TestRefreshSkipsBusyEntries(t *testing.T) {
	p, creator, _ := newTestPool(t)
	if err := p.Warmup(context.Background(), 1); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if _, ok := p.Acquire(); !ok {
		t.Fatal("Acquire failed")
	}

	calls := creator.calls
	p.refreshOldest(context.Background())
	if creator.calls != calls {
		t.Errorf("refresh created a snapshot with all entries busy")
	}
}

func TestReconcilePrunesAndAdopts(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()

	// Valid row: artifacts on disk.
	validDir := filepath.Join(dir, "valid")
	os.MkdirAll(validDir, 0700)
	os.WriteFile(filepath.Join(validDir, "vmstate"), []byte("state"), 0600)
	store.SaveSnapshot(&registry.Snapshot{ID: "valid", Path: validDir, CreatedAt: time.Now()})

	// Stale row: nothing on disk.
	store.SaveSnapshot(&registry.Snapshot{ID: "stale", Path: filepath.Join(dir, "gone"), CreatedAt: time.Now()})

	p := New(&mockCreator{}, store, dir, time.Hour, nil)
	adopted, err := p.Reconcile()
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if adopted != 1 {
		t.Errorf("adopted = %d, want 1", adopted)
	}
	if _, ok := store.rows["stale"]; ok {
		t.Error("stale row not pruned")
	}
	if _, ok := store.rows["valid"]; !ok {
		t.Error("valid row removed")
	}

	snap, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire failed after Reconcile")
	}
	if snap.ID != "valid" {
		t.Errorf("acquired %s, want valid", snap.ID)
	}
}

func TestAcquireRoundRobin(t *testing.T) {
	p, _, _ := newTestPool(t)
	if err := p.Warmup(context.Background(), 3); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	a, _ := p.Acquire()
	p.Release(a.ID)
	b, _ := p.Acquire()
	if a.ID == b.ID {
		t.Errorf("round-robin re-acquired %s immediately after release", a.ID)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p, _, _ := newTestPool(t)
	if err := p.Warmup(context.Background(), 5); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	held := make(map[string]int)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap, ok := p.Acquire()
				if !ok {
					continue
				}
				mu.Lock()
				held[snap.ID]++
				if held[snap.ID] > 1 {
					mu.Unlock()
					panic(fmt.Sprintf("snapshot %s held twice", snap.ID))
				}
				mu.Unlock()

				mu.Lock()
				held[snap.ID]--
				mu.Unlock()
				p.Release(snap.ID)
			}
		}()
	}
	wg.Wait()
}
