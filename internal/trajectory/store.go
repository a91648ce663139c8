package trajectory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/loopd/internal/registry"
)

const (
	storeDirName = "trajectories"
	fileVersion  = 1
)

// ErrUnsupportedVersion indicates a trajectory file written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported trajectory file version")

// fileFormat is the on-disk YAML document.
type fileFormat struct {
	Version    int         `yaml:"version"`
	Trajectory *Trajectory `yaml:"trajectory"`
}

// Store keeps active trajectories as YAML files, one per work item, so a
// restarted run picks up where the last one stopped.
type Store struct {
	dir string
}

// NewStore returns a store rooted at <stateDir>/trajectories.
func NewStore(stateDir string) *Store {
	return &Store{dir: filepath.Join(stateDir, storeDirName)}
}

// Dir returns the directory holding trajectory files.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(itemID string) (string, error) {
	if err := registry.ValidateID(itemID); err != nil {
		return "", fmt.Errorf("trajectory for %q: %w", itemID, err)
	}
	return filepath.Join(s.dir, itemID+".yaml"), nil
}

// Load returns the stored trajectory for itemID. The boolean is false when
// none exists.
func (s *Store) Load(itemID string) (*Trajectory, bool, error) {
	path, err := s.path(itemID)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read trajectory: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.Version > fileVersion {
		return nil, false, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}
	if f.Trajectory == nil {
		return nil, false, nil
	}
	return f.Trajectory, true, nil
}

// Save writes t atomically.
func (s *Store) Save(t *Trajectory) error {
	if t == nil {
		return errors.New("nil trajectory")
	}
	path, err := s.path(t.ItemID)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(fileFormat{Version: fileVersion, Trajectory: t})
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory: %w", err)
	}
	return registry.WriteAtomic(path, data)
}

// Delete discards the trajectory for itemID. Deleting a missing trajectory
// is not an error.
func (s *Store) Delete(itemID string) error {
	path, err := s.path(itemID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete trajectory: %w", err)
	}
	return nil
}

// List returns the item ids with a stored trajectory, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list trajectories: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}
