package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zimwip/vmux/internal/config"
)

func TestConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := build(config.Log{Level: "warn"}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", zap.String("format", "mp4"))
	require.NoError(t, closeFn())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, `{"format": "mp4"}`)
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmux.log")
	var buf bytes.Buffer
	log, closeFn, err := build(config.Log{Level: "debug", File: path, MaxSize: 1}, &buf)
	require.NoError(t, err)

	log.Debug("to both")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestInvalidLevel(t *testing.T) {
	_, _, err := New(config.Log{Level: "loud"})
	assert.Error(t, err)
}
