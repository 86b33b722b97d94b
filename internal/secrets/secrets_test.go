package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestStore_SetGetDelete_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MOWER_MASTER_KEY", "test-master-key-value")

	s, err := Open(filepath.Join(dir, "secrets.enc"), filepath.Join(dir, ".master_key"), "MOWER_MASTER_KEY", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Set("api_key", "abc123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Get("api_key", nil); got != "abc123" {
		t.Fatalf("Get after Set = %v, want abc123", got)
	}

	if err := s.Delete("api_key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := s.Get("api_key", "default"); got != "default" {
		t.Fatalf("Get after Delete = %v, want default", got)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MOWER_MASTER_KEY", "another-master-key")
	storePath := filepath.Join(dir, "secrets.enc")
	keyPath := filepath.Join(dir, ".master_key")

	s1, err := Open(storePath, keyPath, "MOWER_MASTER_KEY", zap.NewNop())
	if err != nil {
		t.Fatalf("Open #1: %v", err)
	}
	if err := s1.Set("token", "xyz"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s2, err := Open(storePath, keyPath, "MOWER_MASTER_KEY", zap.NewNop())
	if err != nil {
		t.Fatalf("Open #2: %v", err)
	}
	if got := s2.Get("token", nil); got != "xyz" {
		t.Fatalf("Get after reopen = %v, want xyz", got)
	}
}

func TestStore_GeneratesMasterKeyWhenEnvUnset(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "secrets.enc")
	keyPath := filepath.Join(dir, ".master_key")

	s, err := Open(storePath, keyPath, "MOWER_MASTER_KEY_UNSET_FOR_TEST", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("expected a generated master key file: %v", err)
	}
	if info.Size() != 32 {
		t.Fatalf("master key file size = %d, want 32", info.Size())
	}
}

func TestStore_MissingFile_ReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MOWER_MASTER_KEY", "yet-another-key")

	s, err := Open(filepath.Join(dir, "nonexistent.enc"), filepath.Join(dir, ".master_key"), "MOWER_MASTER_KEY", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if all := s.All(); len(all) != 0 {
		t.Fatalf("expected empty store, got %v", all)
	}
}
