package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Get when no blob exists under the given digest.
var ErrNotFound = errors.New("cas: blob not found")

// LocalStore is a filesystem-backed CAS rooted at a data directory, laid out as
// sha256/<aa>/<bb>/<rest> to keep any one directory's entry count bounded.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at root, creating the root
// directory if necessary.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cas: create root %q: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) pathFor(digest string) string {
	return filepath.Join(s.root, "sha256", digest[:2], digest[2:4], digest[4:])
}

// Put computes the sha256 of data and writes it under the fan-out path. The
// write is check-then-write-temp-then-rename so a concurrent writer racing on
// the same digest never truncates or corrupts the existing file.
func (s *LocalStore) Put(ctx context.Context, data []byte) (string, bool, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	exists, err := s.Exists(ctx, digest)
	if err != nil {
		return "", false, err
	}
	if exists {
		return digest, true, nil
	}

	finalPath := s.pathFor(digest)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", false, fmt.Errorf("cas: create fan-out dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tmp-*")
	if err != nil {
		return "", false, fmt.Errorf("cas: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("cas: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", false, fmt.Errorf("cas: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", false, fmt.Errorf("cas: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		// Another writer may have just landed the same digest; that's fine.
		if already, existsErr := s.Exists(ctx, digest); existsErr == nil && already {
			return digest, true, nil
		}
		return "", false, fmt.Errorf("cas: rename into place: %w", err)
	}

	return digest, false, nil
}

// Get reads the blob for digest, or returns ErrNotFound.
func (s *LocalStore) Get(ctx context.Context, digest string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cas: read %s: %w", digest, err)
	}
	return data, nil
}

// Exists reports whether digest's blob is already stored.
func (s *LocalStore) Exists(ctx context.Context, digest string) (bool, error) {
	_, err := os.Stat(s.pathFor(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("cas: stat %s: %w", digest, err)
}

// Delete removes digest's blob from disk. Not part of the Store interface:
// the core pipeline never deletes, only out-of-band tooling (orphan GC) does,
// and it talks to LocalStore directly rather than through the Gateway's
// narrower capability set.
func (s *LocalStore) Delete(ctx context.Context, digest string) error {
	err := os.Remove(s.pathFor(digest))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cas: remove %s: %w", digest, err)
	}
	return nil
}

// WalkDigests calls fn once per blob currently stored, reassembling the full
// hex digest from the two-level fan-out path. Used by out-of-band tooling
// (orphan reporting) that needs to enumerate the store; the hot Accept path
// never calls this.
func (s *LocalStore) WalkDigests(ctx context.Context, fn func(digest string) error) error {
	sha256Root := filepath.Join(s.root, "sha256")
	entries, err := os.ReadDir(sha256Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cas: read root: %w", err)
	}

	for _, level1 := range entries {
		if !level1.IsDir() {
			continue
		}
		level1Path := filepath.Join(sha256Root, level1.Name())
		level2Entries, err := os.ReadDir(level1Path)
		if err != nil {
			return fmt.Errorf("cas: read %q: %w", level1Path, err)
		}
		for _, level2 := range level2Entries {
			if !level2.IsDir() {
				continue
			}
			level2Path := filepath.Join(level1Path, level2.Name())
			leaves, err := os.ReadDir(level2Path)
			if err != nil {
				return fmt.Errorf("cas: read %q: %w", level2Path, err)
			}
			for _, leaf := range leaves {
				if leaf.IsDir() {
					continue
				}
				digest := level1.Name() + level2.Name() + leaf.Name()
				if err := fn(digest); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
