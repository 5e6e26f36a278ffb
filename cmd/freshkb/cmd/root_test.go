package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig points the CLI at a temp data dir with the static
// embedding provider so commands run offline.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "paths:\n  data_dir: " + filepath.Join(dir, "data") + "\nembeddings:\n  provider: static\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[strings.Fields(sub.Use)[0]] = true
	}
	for _, want := range []string{"serve", "search", "sources", "refresh", "rollback", "freshness", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestVersionCmd_Short(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev", strings.TrimSpace(out))
}

func TestSourcesCmd_Lifecycle(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, "--config", cfg, "sources", "add", "docs", "https://example.com/docs", "--type", "url")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered docs")
	assert.Contains(t, out, "TTL 7d")

	out, err = execute(t, "--config", cfg, "sources", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "url")

	out, err = execute(t, "--config", cfg, "sources", "show", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, `"source_id": "docs"`)

	_, err = execute(t, "--config", cfg, "sources", "add", "docs", "https://example.com/docs")
	assert.Error(t, err)

	out, err = execute(t, "--config", cfg, "sources", "remove", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed docs")

	out, err = execute(t, "--config", cfg, "sources", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sources registered")
}

func TestSourcesCmd_DisableEnable(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, "--config", cfg, "sources", "add", "docs", "https://example.com/docs")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "sources", "disable", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Disabled docs")

	out, err = execute(t, "--config", cfg, "sources", "enable", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Enabled docs")
}

func TestSearchCmd_EmptyIndex(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, "--config", cfg, "search", "anything at all")
	require.NoError(t, err)
	assert.Contains(t, out, "No results")
}

func TestFreshnessCmd_NoSources(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, "--config", cfg, "freshness")
	require.NoError(t, err)
	assert.Contains(t, out, "No enabled sources")
}
