// Package storage — bolt.go
//
// BoltDB-backed audit ledger for the mower coordination core.
//
// Schema (BoltDB bucket layout):
//
//	/ledger
//	    key:   fixed-width UTC timestamp (9 fractional digits) + "_" + sequence  [sortable]
//	    value: JSON-encoded LedgerEntry
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Ledger entries older than RetentionDays are pruned by
//     PruneOldLedgerEntries, which the supervisor calls once during
//     shutdown. There is no startup or periodic pruning.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The supervisor logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error. The supervisor's ledger
//     append discards the error and continues without persisting
//     (in-memory state preserved;
//     the bounded in-process ring buffer in internal/statemachine remains
//     the source of truth for the running process).
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/mowercore/mowercore.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default ledger retention period.
	DefaultRetentionDays = 30

	// bucketLedger is the BoltDB bucket name for audit ledger entries.
	bucketLedger = "ledger"

	// bucketMeta is the BoltDB bucket name for schema metadata.
	bucketMeta = "meta"
)

// LedgerEntry is a single audit-trail record mirroring a state transition
// or avoidance engagement to disk, supplementing the in-process bounded
// ring buffers in internal/statemachine and internal/avoidance so a
// post-mortem inspection survives a process restart.
type LedgerEntry struct {
	// Timestamp is the event time (nanosecond precision).
	Timestamp time.Time `json:"timestamp"`

	// FromState and ToState name the state-machine transition, or are
	// empty for a non-transition event (e.g. an avoidance engagement).
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`

	// Reason is a short human-readable cause, e.g. an error code or
	// avoidance trigger name.
	Reason string `json:"reason"`

	// Context carries arbitrary structured detail (sensor readings,
	// decision hash, pose) alongside the entry.
	Context map[string]any `json:"context,omitempty"`

	// sequence disambiguates entries sharing a timestamp; not persisted
	// as a field, folded into the BoltDB key instead.
	sequence uint64
}

// DB wraps a BoltDB instance with typed accessors for the mower core's
// audit ledger.
type DB struct {
	db            *bolt.DB
	retentionDays int
	seq           uint64
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketLedger, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

// checkSchemaVersion reads and validates the stored schema version.
func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, core requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ledgerKey constructs a sortable BoltDB key for a ledger entry.
// Format: UTC RFC3339 timestamp with exactly nine fractional digits + "_"
// + sequence (zero-padded to 20 digits). The fixed width makes
// lexicographic sort = chronological sort, even for entries sharing a
// timestamp.
func ledgerKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), seq))
}

// AppendLedger writes a new audit ledger entry.
// Uses a single ACID write transaction.
func (d *DB) AppendLedger(entry LedgerEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendLedger marshal: %w", err)
	}

	d.seq++
	key := ledgerKey(entry.Timestamp, d.seq)

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendLedger bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOldLedgerEntries deletes ledger entries older than retentionDays.
// The supervisor calls it once, during shutdown.
// Returns the number of entries deleted.
func (d *DB) PruneOldLedgerEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := ledgerKey(cutoff, 0)

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break // All remaining keys are newer than cutoff.
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldLedgerEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadLedger returns all ledger entries in chronological order.
// For operational use (post-mortem inspection). Not called on the hot path.
func (d *DB) ReadLedger() ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var entry LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
