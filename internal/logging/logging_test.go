package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freshkb.log")

	logger, cleanup, err := Setup(Config{
		Level:     "info",
		FilePath:  path,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("refresh_started", slog.String("source_id", "s1"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"refresh_started"`)
	assert.Contains(t, string(data), `"source_id":"s1"`)
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freshkb.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	// Force the limit low so a second write triggers rotation
	w.maxSize = 64

	line := strings.Repeat("x", 48) + "\n"
	_, err = w.Write([]byte(line))
	require.NoError(t, err)
	_, err = w.Write([]byte(line))
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")
}

func TestRotatingWriter_EvictsBeyondMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freshkb.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()
	w.maxSize = 16

	for i := 0; i < 6; i++ {
		_, err = w.Write([]byte(strings.Repeat("y", 20)))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "files beyond maxFiles should be removed")
}
