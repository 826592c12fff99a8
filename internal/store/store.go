// Package store provides crash-safe persistence of per-symbol quote
// generator state using JSON files.
//
// Each symbol's state is stored as a separate file: state_<symbol>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. The engine calls
// SaveState every 30 seconds and on shutdown, and LoadState on startup to
// restore the position, live-order lists and last refresh price across
// restarts. Rate-limit bookkeeping is not persisted.
//
// The order book itself is not stored; it is rebuilt from venue snapshots
// on startup.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"derivmm/internal/quote"
)

// Store persists quote-generator state to JSON files in a designated
// directory. All operations are mutex-protected to prevent concurrent file
// corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SaveState atomically persists the current quote-generator state for a
// symbol. It writes to a .tmp file first, then renames over the target so
// the file is never left in a partial state.
func (s *Store) SaveState(symbol string, state quote.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := s.pathFor(symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadState restores quote-generator state for a symbol from disk.
// Returns nil, nil if no saved state exists (fresh symbol).
func (s *Store) LoadState(symbol string) (*quote.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state quote.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

func (s *Store) pathFor(symbol string) string {
	return filepath.Join(s.dir, "state_"+symbol+".json")
}
