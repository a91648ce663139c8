package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoadFile reads and parses a manifest file. A missing file yields an empty
// state.
func LoadFile(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(string(data)), nil
}

// SaveFile writes the canonical rendering of state to path.
func SaveFile(path string, state State) error {
	return WriteAtomic(path, []byte(Serialize(state)))
}

// WriteAtomic writes data to a sibling temp file and renames it over path.
func WriteAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
