package registry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
)

// Snapshot is the persisted record of one on-disk snapshot artifact.
type Snapshot struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	BaseDigest digest.Digest `json:"base_digest,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SaveSnapshot inserts or replaces a snapshot record.
func (d *DB) SaveSnapshot(s *Snapshot) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO snapshots (id, path, base_digest, created_at)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.Path, string(s.BaseDigest), s.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.ID, err)
	}
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (d *DB) GetSnapshot(id string) (*Snapshot, error) {
	row := d.db.QueryRow(`
		SELECT id, path, base_digest, created_at FROM snapshots WHERE id = ?
	`, id)
	return scanSnapshot(row)
}

// ListSnapshots returns all snapshot records, oldest first.
func (d *DB) ListSnapshots() ([]*Snapshot, error) {
	rows, err := d.db.Query(`
		SELECT id, path, base_digest, created_at FROM snapshots ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes a snapshot record. Deleting a missing record is
// not an error.
func (d *DB) DeleteSnapshot(id string) error {
	_, err := d.db.Exec(`DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var s Snapshot
	var dgst, createdAt string
	if err := row.Scan(&s.ID, &s.Path, &dgst, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if dgst != "" {
		s.BaseDigest = digest.Digest(dgst)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	s.CreatedAt = t
	return &s, nil
}
