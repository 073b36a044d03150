package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ValidateShippedConfig(t *testing.T) {
	cfgPath, err := filepath.Abs(filepath.Join("..", "..", "configs", "phasorstreams.yaml"))
	require.NoError(t, err)
	metaPath, err := filepath.Abs(filepath.Join("..", "..", "configs", "metadata.json"))
	require.NoError(t, err)
	t.Setenv("PHASORSTREAMS_METADATA_PATH", metaPath)

	assert.NoError(t, run([]string{"-config", cfgPath, "-validate", "-log-level", "error"}))
}

func TestRun_ValidateRejectsBadMetadata(t *testing.T) {
	cfgPath, err := filepath.Abs(filepath.Join("..", "..", "configs", "phasorstreams.yaml"))
	require.NoError(t, err)
	t.Setenv("PHASORSTREAMS_METADATA_PATH", filepath.Join(t.TempDir(), "missing.json"))

	err = run([]string{"-config", cfgPath, "-validate", "-log-level", "error"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid metadata")
}

func TestRun_MissingConfig(t *testing.T) {
	err := run([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid flags")
}
