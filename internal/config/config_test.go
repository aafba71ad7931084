package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/internal/paths"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BOARDSTORE_PRIMARY_BACKEND", "BOARDSTORE_MIRROR_QUEUE_SIZE",
		"BOARDSTORE_BACKUP_MAX_AGE", paths.EnvDataDir,
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadWritesDefaultFile(t *testing.T) {
	clearEnv(t)
	dir := filepath.Join(t.TempDir(), "cfg")
	dataDir := t.TempDir()

	got, err := Load(dir, dataDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, FileName))
	assert.Equal(t, filepath.Join(dir, FileName), got.File)

	want := types.DefaultConfig()
	want.DataDir = dataDir
	assert.Equal(t, want, got.Config)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dataDir := t.TempDir()
	yaml := "primary_backend: indexed\nmirror:\n  queue_size: 8\n  timeout: 250ms\nbackup:\n  max_age: 48h\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0o644))
	t.Setenv("BOARDSTORE_MIRROR_QUEUE_SIZE", "32")

	got, err := Load(dir, dataDir)
	require.NoError(t, err)
	cfg := got.Config
	assert.Equal(t, types.BackendIndexed, cfg.PrimaryBackend, "file beats default")
	assert.Equal(t, 32, cfg.Mirror.QueueSize, "env beats file")
	assert.Equal(t, 250*time.Millisecond, cfg.Mirror.Timeout)
	assert.Equal(t, 48*time.Hour, cfg.Backup.MaxAge)
	assert.Equal(t, types.DefaultConfig().Mirror.FailureThreshold, cfg.Mirror.FailureThreshold)
}

func TestLoadDataDirFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("data_dir: "+dataDir+"\n"), 0o644))

	got, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, dataDir, got.Config.DataDir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"unknown backend", "primary_backend: cloud\n", types.ErrBackendUnknown},
		{"zero queue", "mirror:\n  queue_size: 0\n", types.ErrQueueSizeInvalid},
		{"negative retention", "backup:\n  max_count: -1\n", types.ErrRetentionInvalid},
		{"unknown failure mode", "mirror:\n  failure_mode: sometimes\n", types.ErrFailureModeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(tt.yaml), 0o644))
			_, err := Load(dir, t.TempDir())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteInitial(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dataDir := t.TempDir()

	wrote, err := WriteInitial(dir, types.BackendIndexed, dataDir)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = WriteInitial(dir, types.BackendDocument, "")
	require.NoError(t, err)
	assert.False(t, wrote, "an existing file is kept")

	got, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, types.BackendIndexed, got.Config.PrimaryBackend)
	assert.Equal(t, dataDir, got.Config.DataDir)
	assert.Equal(t, 10, got.Config.Backup.MaxCount)
}
