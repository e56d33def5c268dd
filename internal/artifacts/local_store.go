// Package artifacts implements the content-addressed blob store
// `spec.md` §4.4 describes: put(bytes) -> sha256, sharded two hex chars
// deep, plus the SQL-backed metadata table and the background GC sweep
// that keeps it in sync with the session store's referenced hashes.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// hashPattern matches a well-formed SHA-256 hex digest. Any input that
// doesn't match is rejected before it ever reaches a filesystem path,
// which is what defends Get/Delete against path traversal.
var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ErrInvalidHash is returned when a caller passes a string that isn't a
// 64-character lowercase hex SHA-256 digest.
var ErrInvalidHash = fmt.Errorf("artifacts: invalid sha256 hash")

// ErrNotFound is returned by Get for a hash with no stored blob.
var ErrNotFound = fmt.Errorf("artifacts: not found")

// LocalStore is a content-addressed blob store on the local filesystem.
// Blobs live at basePath/<first 2 hex chars>/<hash>, mode 0600; the
// sharding directories are mode 0700. Grounded on the teacher's
// LocalStore write-to-temp-then-rename technique, changed from an
// arbitrary-ID/date-sharded layout to SHA-256 addressing.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a local disk-backed blob store rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Put writes data and returns its SHA-256 hex digest. Writing is
// idempotent: if the blob already exists, its existing copy is left
// untouched and no error occurs.
func (s *LocalStore) Put(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	dir := filepath.Join(s.basePath, hash[:2])
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create shard directory: %w", err)
	}
	path := filepath.Join(dir, hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("rename blob into place: %w", err)
	}
	return hash, nil
}

// Get reads the blob for hash. Returns ErrInvalidHash for a malformed
// hash and ErrNotFound when no blob exists for a well-formed one.
func (s *LocalStore) Get(ctx context.Context, hash string) ([]byte, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob for hash, if present. Deleting a missing blob
// is not an error — the GC sweep calls this opportunistically.
func (s *LocalStore) Delete(ctx context.Context, hash string) error {
	path, err := s.pathFor(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Exists reports whether a blob for hash is present.
func (s *LocalStore) Exists(ctx context.Context, hash string) (bool, error) {
	path, err := s.pathFor(hash)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return statErr == nil, statErr
}

func (s *LocalStore) pathFor(hash string) (string, error) {
	if !hashPattern.MatchString(hash) {
		return "", ErrInvalidHash
	}
	return filepath.Join(s.basePath, hash[:2], hash), nil
}
