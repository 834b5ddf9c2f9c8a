package seccomp

import (
	"sync"
	"time"
)

// DefaultAuditCapacity bounds the in-memory audit log. A guest that spams
// filtered syscalls can only ever pin this many entries.
const DefaultAuditCapacity = 10000

// AuditEntry records one observed syscall invocation.
type AuditEntry struct {
	Time    time.Time
	VMID    string
	Syscall string
	Blocked bool
}

// AuditLog is a fixed-capacity ring buffer of audit entries. Once full,
// each append evicts the oldest entry (FIFO).
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	head    int
	count   int
	dropped uint64
}

// NewAuditLog creates an audit log with the given capacity. Non-positive
// capacities fall back to DefaultAuditCapacity.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{
		entries: make([]AuditEntry, capacity),
	}
}

// Append records an entry, evicting the oldest if at capacity.
func (l *AuditLog) Append(e AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count < len(l.entries) {
		l.entries[(l.head+l.count)%len(l.entries)] = e
		l.count++
		return
	}
	// Full: overwrite the oldest slot and advance head.
	l.entries[l.head] = e
	l.head = (l.head + 1) % len(l.entries)
	l.dropped++
}

// Len returns the number of retained entries.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Dropped returns how many entries have been evicted so far.
func (l *AuditLog) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Entries returns the retained entries, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AuditEntry, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.entries[(l.head+i)%len(l.entries)]
	}
	return out
}

// Record appends an audit entry if the profile's audit policy matches.
// Returns true if the entry was recorded.
func (l *AuditLog) Record(p *Profile, vmID, syscall string, blocked bool) bool {
	if !p.ShouldAudit(syscall, blocked) {
		return false
	}
	l.Append(AuditEntry{
		Time:    time.Now(),
		VMID:    vmID,
		Syscall: syscall,
		Blocked: blocked,
	})
	return true
}
