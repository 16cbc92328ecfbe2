package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}
	testP   = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}
)

// writeStream writes an Annex-B stream of one keyframe followed by
// n-1 predicted frames and returns its path.
func writeStream(t *testing.T, dir string, n int) string {
	t.Helper()
	var buf bytes.Buffer
	nalus := [][]byte{testSPS, testPPS, testIDR}
	for i := 1; i < n; i++ {
		nalus = append(nalus, testP)
	}
	for _, nalu := range nalus {
		buf.Write([]byte{0, 0, 0, 1})
		buf.Write(nalu)
	}
	path := filepath.Join(dir, "in.h264")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// run executes the root command in an isolated directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMuxCommand(t *testing.T) {
	dir := t.TempDir()
	input := writeStream(t, dir, 4)
	output := filepath.Join(dir, "out.ts")

	out, err := run(t, "mux", "--delay", "1", "-v", input, output)
	require.NoError(t, err)
	assert.Contains(t, out, "Output #0, mpegts:")
	assert.Contains(t, out, "4 frames, 4 packets (1 drained)")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Zero(t, len(data)%188)
}

func TestMuxCommandFormatFlag(t *testing.T) {
	dir := t.TempDir()
	input := writeStream(t, dir, 3)
	output := filepath.Join(dir, "out.bin")

	_, err := run(t, "mux", "--format", "flv", input, output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "FLV", string(data[:3]))
}

func TestMuxCommandConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	input := writeStream(t, dir, 2)
	output := filepath.Join(dir, "out.bin")
	config := filepath.Join(dir, "vmux.yaml")
	require.NoError(t, os.WriteFile(config, []byte("mux:\n  format: flv\n  frame_rate: 25\n"), 0o644))

	_, err := run(t, "--config", config, "mux", input, output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "FLV", string(data[:3]))
}

func TestMuxCommandErrors(t *testing.T) {
	dir := t.TempDir()
	input := writeStream(t, dir, 2)

	_, err := run(t, "mux", filepath.Join(dir, "missing.h264"), filepath.Join(dir, "out.ts"))
	assert.Error(t, err)

	_, err = run(t, "mux", input, filepath.Join(dir, "out.unknown"))
	assert.Error(t, err)

	_, err = run(t, "mux", "--fps", "0", input, filepath.Join(dir, "out.ts"))
	assert.Error(t, err)

	_, err = run(t, "mux", input)
	assert.Error(t, err)
}

func TestFormatsCommand(t *testing.T) {
	out, err := run(t, "formats")
	require.NoError(t, err)
	for _, name := range []string{"flv", "fmp4", "mp4", "mpegts"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "seekable output")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "vmux dev")
}
