// Package secrets implements the Secure Storage component (C9): an
// authenticated-encryption key/value store for API keys and credentials.
//
// Grounded on original_source/src/mower/config_management/secure_storage.py:
// a master key is read from an environment variable or generated once and
// persisted with 0600 permissions; a session key is derived via
// PBKDF2-HMAC-SHA256 (100000 iterations, a fixed project salt, 32-byte
// output). The original uses Fernet; this store uses XChaCha20-Poly1305
// (golang.org/x/crypto/chacha20poly1305) for the same "derive once, AEAD
// the whole JSON blob" shape with a wider nonce and no external key-rotation
// format to parse.
package secrets

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"crypto/sha256"

	"github.com/acredsfan/mowercore/internal/atomicfile"
	"github.com/acredsfan/mowercore/internal/mowererrors"
)

const (
	pbkdf2Iterations = 100_000
	derivedKeyLen    = 32

	// projectSalt is fixed, matching the original's "autonomous_mower_salt"
	// rationale: a per-install salt would require its own secure storage,
	// which is what this component already is.
	projectSalt = "mowercore_secure_storage_salt_v1"
)

// Store is an authenticated-encryption key/value store for secrets.
// Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	cipher *cipherHandle
	data   map[string]any
	log    *zap.Logger
}

// cipherHandle wraps the derived AEAD so Store never holds a raw key in a
// field with a name that invites logging or serialization.
type cipherHandle struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

// Open loads (or creates) a secure storage file at path, deriving the
// session key from masterKeyEnvVar (default "MOWER_MASTER_KEY" if empty).
// If the environment variable is unset, a 32-byte random master key is
// generated and persisted once to masterKeyPath with mode 0600.
func Open(path, masterKeyPath, masterKeyEnvVar string, log *zap.Logger) (*Store, error) {
	if masterKeyEnvVar == "" {
		masterKeyEnvVar = "MOWER_MASTER_KEY"
	}

	masterKey, err := loadOrCreateMasterKey(masterKeyPath, masterKeyEnvVar, log)
	if err != nil {
		return nil, err
	}

	derived := pbkdf2.Key(masterKey, []byte(projectSalt), pbkdf2Iterations, derivedKeyLen, sha256.New)

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, mowererrors.Wrap(mowererrors.CodeDecryptionFailure, "secrets: construct AEAD cipher", err, nil)
	}

	s := &Store{
		path:   path,
		cipher: &cipherHandle{aead: aead},
		data:   map[string]any{},
		log:    log,
	}

	if err := s.load(); err != nil {
		// An unreadable or undecryptable file yields an empty object and a
		// logged error, not a fatal Open() failure. A missing file is not
		// an error: load returns nil and the store starts empty unlogged.
		if log != nil {
			log.Error("secrets: failed to load store, starting empty", zap.Error(err))
		}
		s.data = map[string]any{}
	}

	return s, nil
}

// loadOrCreateMasterKey returns the raw master key bytes, from the named
// environment variable or, failing that, a freshly generated and persisted
// 32-byte key.
func loadOrCreateMasterKey(masterKeyPath, envVar string, log *zap.Logger) ([]byte, error) {
	if v := os.Getenv(envVar); v != "" {
		return []byte(v), nil
	}

	if data, err := os.ReadFile(masterKeyPath); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, mowererrors.Wrap(mowererrors.CodeAuthenticationFailure, "secrets: read master key file", err, nil)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, mowererrors.Wrap(mowererrors.CodeAuthenticationFailure, "secrets: generate master key", err, nil)
	}

	if err := os.MkdirAll(filepath.Dir(masterKeyPath), 0o700); err != nil {
		return nil, mowererrors.Wrap(mowererrors.CodeAuthenticationFailure, "secrets: create master key directory", err, nil)
	}
	if err := atomicfile.WriteFile(masterKeyPath, key, 0o600); err != nil {
		return nil, mowererrors.Wrap(mowererrors.CodeAuthenticationFailure, "secrets: persist master key", err, nil)
	}
	if log != nil {
		log.Info("secrets: generated new master key", zap.String("path", masterKeyPath))
	}
	return key, nil
}

// load reads and decrypts the on-disk store, if present.
func (s *Store) load() error {
	ciphertext, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("secrets: read %q: %w", s.path, err)
	}
	if len(ciphertext) == 0 {
		return nil
	}

	nonceSize := s.cipher.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return fmt.Errorf("secrets: ciphertext shorter than nonce")
	}
	nonce, box := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := s.cipher.aead.Open(nil, nonce, box, nil)
	if err != nil {
		return mowererrors.Wrap(mowererrors.CodeDecryptionFailure, "secrets: decrypt store", err, nil)
	}

	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return fmt.Errorf("secrets: unmarshal store: %w", err)
	}
	s.data = data
	return nil
}

// save encrypts and atomically persists the in-memory store.
func (s *Store) save() error {
	plaintext, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("secrets: marshal store: %w", err)
	}

	nonce := make([]byte, s.cipher.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := s.cipher.aead.Seal(nil, nonce, plaintext, nil)
	out := append(nonce, ciphertext...)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("secrets: create store directory: %w", err)
	}
	return atomicfile.WriteFile(s.path, out, 0o600)
}

// Get returns the value stored under key, or def if absent.
func (s *Store) Get(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v
	}
	return def
}

// Set stores value under key and persists the store immediately.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.save()
}

// Delete removes key, if present, and persists the store.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.save()
}

// Clear empties the store and persists it.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]any{}
	return s.save()
}

// All returns a copy of every key/value pair currently stored.
func (s *Store) All() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
