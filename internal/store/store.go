// Package store persists the opaque per-strategy state blob spec §6's
// Persisted state section describes: the kernel stores and retrieves the
// byte map a strategy's on_save/on_load hooks exchange, but never parses
// its contents. JSONStore is the file-backed default (crash-safe atomic
// write, one file per strategy); SQLiteStore in sqlite.go is the
// `store.backend: sqlite` alternative.
package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// StrategyState is the opaque byte map exchanged with a strategy's
// on_save/on_load hooks.
type StrategyState map[string][]byte

// JSONStore persists strategy state to JSON files in a designated
// directory. All operations are mutex-protected to prevent concurrent file
// corruption.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// Open creates a JSONStore backed by the given directory.
func Open(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *JSONStore) Close() error {
	return nil
}

// SaveState atomically persists a strategy's opaque state blob. It writes to
// a .tmp file first, then renames over the target so the file is never left
// partially written by a crash mid-save.
func (s *JSONStore) SaveState(strategyID string, state StrategyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal strategy state: %w", err)
	}

	path := s.pathFor(strategyID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write strategy state: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadState restores a strategy's state blob from disk. Returns nil, nil if
// nothing was ever saved for this strategy (fresh start).
func (s *JSONStore) LoadState(strategyID string) (StrategyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.pathFor(strategyID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read strategy state: %w", err)
	}

	var state StrategyState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal strategy state: %w", err)
	}
	return state, nil
}

func (s *JSONStore) pathFor(strategyID string) string {
	return filepath.Join(s.dir, "state_"+strategyID+".json")
}

// DumpYAML writes a human-readable rendering of a strategy's persisted state
// next to its JSON file, for an operator to eyeball without a JSON-aware
// tool. UTF-8 values render as plain strings; anything else is base64'd so
// the dump stays a flat key/value document either way. This is a debugging
// aid only — LoadState always reads back from the JSON file, never this one.
func (s *JSONStore) DumpYAML(strategyID string, state StrategyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rendered := make(map[string]string, len(state))
	for key, value := range state {
		if utf8.Valid(value) {
			rendered[key] = string(value)
		} else {
			rendered[key] = "base64:" + base64.StdEncoding.EncodeToString(value)
		}
	}

	data, err := yaml.Marshal(rendered)
	if err != nil {
		return fmt.Errorf("marshal strategy state dump: %w", err)
	}

	path := filepath.Join(s.dir, "state_"+strategyID+".dump.yaml")
	return os.WriteFile(path, data, 0o644)
}
