package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is read from the repository root.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds patterns excluded from detection.
type Allowlist struct {
	Paths   []string // path regexes
	Regexes []string // content regexes
}

// Empty reports whether the allowlist has no patterns.
func (a *Allowlist) Empty() bool {
	return a == nil || len(a.Paths)+len(a.Regexes) == 0
}

// LoadAllowlists merges the project allowlist in repoDir and the user
// allowlist at userPath. Either may be empty to skip it. Missing files are
// ignored; files that exist but do not parse are errors.
func LoadAllowlists(repoDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	var paths []string
	if repoDir != "" {
		paths = append(paths, filepath.Join(repoDir, ProjectAllowlistFile))
	}
	if userPath != "" {
		paths = append(paths, userPath)
	}

	for _, path := range paths {
		a, err := loadTOML(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged.Paths = append(merged.Paths, a.Paths...)
		merged.Regexes = append(merged.Regexes, a.Regexes...)
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, p := range doc.Allowlist.Paths {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: path pattern %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}
	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}

	return &Allowlist{Paths: doc.Allowlist.Paths, Regexes: doc.Allowlist.Regexes}, nil
}
