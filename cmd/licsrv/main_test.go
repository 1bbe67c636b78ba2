package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	assert.NoError(t, run([]string{"--version"}))
}

func TestRun_CheckConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "licsrv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
admin:
  secret: from-file
telemetry:
  sink: none
`), 0o600))

	assert.NoError(t, run([]string{"--config", path, "--check-config"}))
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "licsrv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: floppy\nadmin:\n  secret: x\n"), 0o600))

	err := run([]string{"-c", path, "--check-config"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestRun_UnknownFlag(t *testing.T) {
	assert.Error(t, run([]string{"--nope"}))
}
