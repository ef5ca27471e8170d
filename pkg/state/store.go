// Package state provides crash-safe persistence for the control plane's
// registry snapshot on the local filesystem.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
)

// lockTimeout is the maximum time to wait for the registry file lock.
const lockTimeout = 1 * time.Second

// ErrNotFound is returned by Load when no snapshot has been saved yet.
var ErrNotFound = errors.New("state file does not exist")

// Store persists an opaque JSON document.
type Store interface {
	// Load decodes the stored document into v.
	// Returns an error wrapping ErrNotFound when nothing was saved yet.
	Load(ctx context.Context, v any) error
	// Save encodes v and atomically replaces the stored document.
	Save(ctx context.Context, v any) error
}

// LocalStore implements Store on a local file. Writes go to a sibling temp
// file which is renamed over the target, so readers never observe a torn
// document. A separate lock file serializes writers across processes.
type LocalStore struct {
	path string
}

// NewLocalStore creates a store backed by the given file path.
func NewLocalStore(path string) *LocalStore {
	return &LocalStore{path: path}
}

// DefaultStateDir returns the directory holding the registry and per-agent
// config documents when AGENTDECK_STATE_DIR is unset.
func DefaultStateDir() string {
	return filepath.Join(xdg.DataHome, "agentdeck")
}

// Load reads and decodes the stored document.
func (s *LocalStore) Load(_ context.Context, v any) error {
	data, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	return nil
}

// Save encodes v and atomically replaces the stored document.
func (s *LocalStore) Save(ctx context.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	fileLock := flock.New(s.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire state lock: timeout after %v", lockTimeout)
	}
	defer fileLock.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
