package artifactcache

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func TestArtifactPutLookupDelete(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutArtifact("abc123", "/cache/abc123", 42); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	path, err := store.LookupArtifact("abc123")
	if err != nil {
		t.Fatalf("LookupArtifact failed: %v", err)
	}
	if path != "/cache/abc123" {
		t.Fatalf("expected path /cache/abc123, got %q", path)
	}

	if err := store.DeleteArtifact("abc123"); err != nil {
		t.Fatalf("DeleteArtifact failed: %v", err)
	}
	if _, err := store.LookupArtifact("abc123"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound after delete, got %v", err)
	}
}

func TestArtifactLookupMissing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.LookupArtifact("nope"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestArtifactPutIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutArtifact("abc123", "/cache/old", 1); err != nil {
		t.Fatalf("first PutArtifact failed: %v", err)
	}
	if err := store.PutArtifact("abc123", "/cache/new", 2); err != nil {
		t.Fatalf("second PutArtifact failed: %v", err)
	}

	path, err := store.LookupArtifact("abc123")
	if err != nil {
		t.Fatalf("LookupArtifact failed: %v", err)
	}
	if path != "/cache/new" {
		t.Fatalf("expected re-put to update the path, got %q", path)
	}
}

func TestPruneArtifacts(t *testing.T) {
	store := newTestStore(t)

	if err := store.PutArtifact("old", "/cache/old", 1); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	// Everything inserted so far predates a future cutoff.
	n, err := store.PruneArtifacts(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneArtifacts failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", n)
	}
	if _, err := store.LookupArtifact("old"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected pruned artifact to be gone, got %v", err)
	}

	// A cutoff in the past prunes nothing.
	if err := store.PutArtifact("fresh", "/cache/fresh", 1); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}
	n, err = store.PruneArtifacts(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneArtifacts failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no pruned entries, got %d", n)
	}
}

func TestCompletedLeaseJournal(t *testing.T) {
	store := newTestStore(t)

	done, err := store.IsCompleted("capture", "lease-1")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if done {
		t.Fatal("expected unknown lease to be incomplete")
	}

	if err := store.MarkCompleted("capture", "lease-1"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	// Marking again must be harmless.
	if err := store.MarkCompleted("capture", "lease-1"); err != nil {
		t.Fatalf("repeated MarkCompleted failed: %v", err)
	}

	done, err = store.IsCompleted("capture", "lease-1")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if !done {
		t.Fatal("expected lease to be journaled as completed")
	}

	// The journal is scoped per queue.
	done, err = store.IsCompleted("pdiff", "lease-1")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if done {
		t.Fatal("expected the same lease id on another queue to be incomplete")
	}
}
