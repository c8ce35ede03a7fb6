// Package artifactcache is the client's durable local state: a
// content-addressed index of downloaded artifacts and a journal of
// completed work-queue leases. Both survive process restarts, which is
// what makes duplicate lease delivery cheap and repeated downloads of
// the same artifact free.
package artifactcache

import (
	"database/sql"
	"errors"
	"time"
)

// ErrArtifactNotFound is returned by Lookup when the hash has no cache
// entry.
var ErrArtifactNotFound = errors.New("artifact not found in cache")

// Store is backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type Store struct {
	db *sql.DB
}

// NewStore initializes the required schema in the given database and
// returns a new Store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			sha1sum TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS completed_leases (
			queue TEXT NOT NULL,
			task_id TEXT NOT NULL,
			finished_at INTEGER NOT NULL,
			PRIMARY KEY (queue, task_id)
		);`,
	)
	return err
}

// PutArtifact records a cached artifact. Re-putting the same hash is a
// no-op update; content addressing guarantees the bytes are identical.
func (s *Store) PutArtifact(sha1sum, path string, size int64) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (sha1sum, path, size, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sha1sum) DO UPDATE SET path = excluded.path, size = excluded.size`,
		sha1sum,
		path,
		size,
		time.Now().UnixNano(),
	)
	return err
}

// LookupArtifact returns the cached path for a hash, or
// ErrArtifactNotFound.
func (s *Store) LookupArtifact(sha1sum string) (string, error) {
	var path string
	err := s.db.QueryRow(`SELECT path FROM artifacts WHERE sha1sum = ?`, sha1sum).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrArtifactNotFound
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// DeleteArtifact drops a cache entry (for example after the cached file
// went missing on disk).
func (s *Store) DeleteArtifact(sha1sum string) error {
	_, err := s.db.Exec(`DELETE FROM artifacts WHERE sha1sum = ?`, sha1sum)
	return err
}

// PruneArtifacts removes index entries created before the cutoff and
// returns how many were dropped. Callers delete the files themselves.
func (s *Store) PruneArtifacts(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM artifacts WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkCompleted journals a finished lease. Idempotent.
func (s *Store) MarkCompleted(queue, taskID string) error {
	_, err := s.db.Exec(`
		INSERT INTO completed_leases (queue, task_id, finished_at)
		VALUES (?, ?, ?)
		ON CONFLICT(queue, task_id) DO NOTHING`,
		queue,
		taskID,
		time.Now().UnixNano(),
	)
	return err
}

// IsCompleted reports whether a lease was journaled as finished.
func (s *Store) IsCompleted(queue, taskID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM completed_leases WHERE queue = ? AND task_id = ?`,
		queue, taskID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
