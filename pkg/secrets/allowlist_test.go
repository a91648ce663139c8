package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadAllowlists(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, ProjectAllowlistFile), `[allowlist]
paths = ['''testdata/.*''']
regexes = ['''demo-[a-z]+-\d+''']
`)
	user := filepath.Join(t.TempDir(), "allowlist.toml")
	writeFile(t, user, `[allowlist]
regexes = ['''example-key''']
`)

	tests := []struct {
		name        string
		repo        string
		user        string
		wantPaths   []string
		wantRegexes []string
	}{
		{"none", "", "", nil, nil},
		{"project only", repo, "", []string{`testdata/.*`}, []string{`demo-[a-z]+-\d+`}},
		{"user only", "", user, nil, []string{"example-key"}},
		{"merged", repo, user, []string{`testdata/.*`}, []string{`demo-[a-z]+-\d+`, "example-key"}},
		{"missing files", t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"), nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := LoadAllowlists(tt.repo, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPaths, a.Paths)
			assert.Equal(t, tt.wantRegexes, a.Regexes)
			assert.Equal(t, len(tt.wantPaths)+len(tt.wantRegexes) == 0, a.Empty())
		})
	}
}

func TestLoadAllowlists_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"bad toml", "[allowlist\nregexes = 1", ErrInvalidTOML},
		{"bad content regex", "[allowlist]\nregexes = ['''(unclosed''']\n", ErrInvalidRegex},
		{"bad path regex", "[allowlist]\npaths = ['''[z-a]''']\n", ErrInvalidRegex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "allowlist.toml")
			writeFile(t, path, tt.content)

			_, err := LoadAllowlists("", path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
