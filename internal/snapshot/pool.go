// Package snapshot maintains a pool of pre-booted VM snapshots so task
// spawns can skip kernel boot. The pool is an optimization layer: it can
// be empty at any moment and callers must be able to cold boot instead.
package snapshot

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/luminaguard/luminaguard/internal/config"
	"github.com/luminaguard/luminaguard/internal/metrics"
	"github.com/luminaguard/luminaguard/internal/registry"
)

// Creator produces the on-disk snapshot artifacts for one pool entry.
// Implemented over the hypervisor launcher in the daemon; mocked in tests.
type Creator interface {
	CreateSnapshot(ctx context.Context, id, dir string) (*registry.Snapshot, error)
}

// Store persists snapshot metadata across daemon restarts.
type Store interface {
	SaveSnapshot(*registry.Snapshot) error
	DeleteSnapshot(id string) error
	ListSnapshots() ([]*registry.Snapshot, error)
}

type entry struct {
	snap          *registry.Snapshot
	inUse         bool
	lastRefreshed time.Time
}

// Pool holds warm snapshots and replaces them on a refresh interval.
type Pool struct {
	mu      sync.Mutex
	entries []*entry
	next    int

	creator  Creator
	store    Store // nil disables persistence
	dir      string
	interval time.Duration
	metrics  *metrics.Metrics
}

// New creates a pool. interval is clamped to the supported minimum; the
// store and metrics may be nil.
func New(creator Creator, store Store, dir string, interval time.Duration, m *metrics.Metrics) *Pool {
	if interval < config.MinRefreshInterval {
		interval = config.MinRefreshInterval
	}
	return &Pool{
		creator:  creator,
		store:    store,
		dir:      dir,
		interval: interval,
		metrics:  m,
	}
}

// Warmup creates n pool entries. n is clamped to [MinPoolSize, MaxPoolSize].
// Individual creation failures are logged and skipped; a partially warm
// pool is usable, and cold boot covers the rest.
func (p *Pool) Warmup(ctx context.Context, n int) error {
	if n < config.MinPoolSize {
		log.Printf("pool: warmup size %d below minimum, using %d", n, config.MinPoolSize)
		n = config.MinPoolSize
	}
	if n > config.MaxPoolSize {
		log.Printf("pool: warmup size %d above maximum, using %d", n, config.MaxPoolSize)
		n = config.MaxPoolSize
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.addEntry(ctx); err != nil {
			log.Printf("pool: warmup entry %d/%d failed: %v", i+1, n, err)
			if p.metrics != nil {
				p.metrics.SnapshotFailures.Inc()
			}
		}
	}
	log.Printf("pool: warmed up %d/%d snapshots", p.Size(), n)
	return nil
}

func (p *Pool) addEntry(ctx context.Context) error {
	id := uuid.NewString()
	snap, err := p.creator.CreateSnapshot(ctx, id, filepath.Join(p.dir, id))
	if err != nil {
		return err
	}
	if p.store != nil {
		if err := p.store.SaveSnapshot(snap); err != nil {
			log.Printf("pool: persist snapshot %s: %v", snap.ID, err)
		}
	}

	p.mu.Lock()
	p.entries = append(p.entries, &entry{snap: snap, lastRefreshed: time.Now()})
	p.mu.Unlock()
	return nil
}

// Acquire returns a free snapshot and marks it in use. Selection is
// round-robin so refreshes spread evenly across entries. An empty or
// fully busy pool returns (nil, false) — the caller cold boots.
func (p *Pool) Acquire() (*registry.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	for i := 0; i < n; i++ {
		e := p.entries[(p.next+i)%n]
		if e.inUse {
			continue
		}
		e.inUse = true
		p.next = (p.next + i + 1) % n
		if p.metrics != nil {
			p.metrics.PoolHits.Inc()
		}
		return e.snap, true
	}

	if p.metrics != nil {
		p.metrics.PoolMisses.Inc()
	}
	return nil, false
}

// Release marks a snapshot free again. Guest state from the VM that used
// it never flows back: the artifacts on disk are the paused pristine
// image, untouched by any resume.
func (p *Pool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.snap.ID == id {
			e.inUse = false
			return
		}
	}
}

// Discard removes an entry, its persisted row, and its artifacts.
func (p *Pool) Discard(id string) {
	p.mu.Lock()
	var removed *entry
	for i, e := range p.entries {
		if e.snap.ID == id {
			removed = e
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	if p.next >= len(p.entries) {
		p.next = 0
	}
	p.mu.Unlock()

	if removed == nil {
		return
	}
	p.dropArtifacts(removed.snap)
}

func (p *Pool) dropArtifacts(snap *registry.Snapshot) {
	if p.store != nil {
		if err := p.store.DeleteSnapshot(snap.ID); err != nil {
			log.Printf("pool: delete snapshot row %s: %v", snap.ID, err)
		}
	}
	if snap.Path != "" {
		os.RemoveAll(snap.Path)
	}
}

// Run refreshes the stalest free entry on each tick until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshOldest(ctx)
		}
	}
}

// refreshOldest replaces the least-recently-refreshed free entry with a
// fresh snapshot. On failure the old entry stays as-was.
func (p *Pool) refreshOldest(ctx context.Context) {
	p.mu.Lock()
	var oldest *entry
	for _, e := range p.entries {
		if e.inUse {
			continue
		}
		if oldest == nil || e.lastRefreshed.Before(oldest.lastRefreshed) {
			oldest = e
		}
	}
	if oldest == nil {
		p.mu.Unlock()
		return
	}
	// Hold the slot while creating the replacement outside the lock.
	oldest.inUse = true
	p.mu.Unlock()

	id := uuid.NewString()
	snap, err := p.creator.CreateSnapshot(ctx, id, filepath.Join(p.dir, id))
	if err != nil {
		log.Printf("pool: refresh failed, keeping stale snapshot %s: %v", oldest.snap.ID, err)
		if p.metrics != nil {
			p.metrics.SnapshotFailures.Inc()
		}
		p.mu.Lock()
		oldest.inUse = false
		p.mu.Unlock()
		return
	}
	if p.store != nil {
		if err := p.store.SaveSnapshot(snap); err != nil {
			log.Printf("pool: persist snapshot %s: %v", snap.ID, err)
		}
	}

	p.mu.Lock()
	old := oldest.snap
	oldest.snap = snap
	oldest.inUse = false
	oldest.lastRefreshed = time.Now()
	p.mu.Unlock()

	p.dropArtifacts(old)
	if p.metrics != nil {
		p.metrics.SnapshotRefresh.Inc()
	}
	log.Printf("pool: refreshed snapshot %s -> %s", old.ID, snap.ID)
}

// Reconcile loads persisted snapshot rows at daemon start, prunes rows
// whose artifacts are gone from disk, and adopts the valid ones as pool
// entries. Returns the number adopted.
func (p *Pool) Reconcile() (int, error) {
	if p.store == nil {
		return 0, nil
	}
	rows, err := p.store.ListSnapshots()
	if err != nil {
		return 0, err
	}

	adopted := 0
	for _, snap := range rows {
		if _, err := os.Stat(filepath.Join(snap.Path, "vmstate")); err != nil {
			log.Printf("pool: pruning stale snapshot row %s (artifacts missing)", snap.ID)
			if err := p.store.DeleteSnapshot(snap.ID); err != nil {
				log.Printf("pool: prune %s: %v", snap.ID, err)
			}
			os.RemoveAll(snap.Path)
			continue
		}
		p.mu.Lock()
		p.entries = append(p.entries, &entry{snap: snap, lastRefreshed: snap.CreatedAt})
		p.mu.Unlock()
		adopted++
	}
	return adopted, nil
}

// Size returns the number of entries, busy or free.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Free returns the number of entries available to Acquire.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for _, e := range p.entries {
		if !e.inUse {
			free++
		}
	}
	return free
}
