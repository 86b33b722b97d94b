package storage

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func TestDB_AppendAndReadLedger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"), 30)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	entry := LedgerEntry{FromState: "Idle", ToState: "Mowing", Reason: "command_received"}
	if err := db.AppendLedger(entry); err != nil {
		t.Fatalf("AppendLedger: %v", err)
	}

	entries, err := db.ReadLedger()
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].FromState != "Idle" || entries[0].ToState != "Mowing" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestDB_PruneOldLedgerEntries_RemovesOnlyStaleEntries(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"), 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	old := LedgerEntry{Timestamp: time.Now().AddDate(0, 0, -10), FromState: "Idle", ToState: "Error"}
	fresh := LedgerEntry{FromState: "Idle", ToState: "Mowing"}

	if err := db.AppendLedger(old); err != nil {
		t.Fatalf("AppendLedger(old): %v", err)
	}
	if err := db.AppendLedger(fresh); err != nil {
		t.Fatalf("AppendLedger(fresh): %v", err)
	}

	deleted, err := db.PruneOldLedgerEntries()
	if err != nil {
		t.Fatalf("PruneOldLedgerEntries: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	entries, err := db.ReadLedger()
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if len(entries) != 1 || entries[0].ToState != "Mowing" {
		t.Fatalf("unexpected remaining entries: %+v", entries)
	}
}

func TestDB_Open_RejectsSchemaVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	db, err := Open(path, 30)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	// Reopening the same file with the same schema version succeeds.
	db2, err := Open(path, 30)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	// Overwriting the stored schema version makes the next Open fail.
	if err := db2.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte("schema_version"), []byte("0"))
	}); err != nil {
		t.Fatalf("overwrite schema_version: %v", err)
	}
	db2.Close()

	if db3, err := Open(path, 30); err == nil {
		db3.Close()
		t.Fatal("expected Open to reject a schema version mismatch")
	}
}
