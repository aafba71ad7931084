package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/internal/backup"
	"github.com/mesh-intelligence/boardstore/internal/docstore"
	"github.com/mesh-intelligence/boardstore/internal/migrate"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func setupLoad(t *testing.T, fixture string) (string, *backup.Store) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "boardstore.json")
	if fixture != "" {
		raw, err := os.ReadFile(filepath.Join("..", "migrate", "testdata", fixture))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, raw, 0o644))
	}
	backups, err := backup.Open(filepath.Join(dir, "backups"), types.BackupConfig{}, zerolog.Nop())
	require.NoError(t, err)
	return path, backups
}

func TestLoadDocumentStore(t *testing.T) {
	tests := []struct {
		fixture    string
		wantSource migrate.Version
		wantSteps  int
	}{
		{"v1.json", migrate.V1, 5},
		{"v2.json", migrate.V2, 4},
		{"v25.json", migrate.V25, 3},
		{"v3.json", migrate.V3, 2},
		{"v4.json", migrate.V4, 1},
		{"v5.json", migrate.V5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			path, backups := setupLoad(t, tt.fixture)
			original, err := os.ReadFile(path)
			require.NoError(t, err)

			res, err := LoadDocumentStore(context.Background(), path, backups, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { res.Store.Close() })
			assert.Equal(t, tt.wantSource, res.SourceVersion)
			assert.Len(t, res.AppliedChain, tt.wantSteps)
			assert.Equal(t, tt.wantSteps > 0, res.Migrated())

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, types.CurrentVersion, docstore.PeekVersion(data))

			all, err := backups.List()
			require.NoError(t, err)
			if !res.Migrated() {
				assert.Empty(t, all)
				assert.Equal(t, original, data)
				return
			}
			require.Len(t, all, 1)
			b, err := backups.Load(res.BackupLabel)
			require.NoError(t, err)
			assert.Equal(t, original, b.Data)
			assert.Equal(t, LoadReason, b.Reason)
			assert.Equal(t, string(tt.wantSource), b.SourceVersion)
		})
	}
}

func TestLoadDocumentStoreMissingFile(t *testing.T) {
	path, backups := setupLoad(t, "")
	res, err := LoadDocumentStore(context.Background(), path, backups, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { res.Store.Close() })
	assert.False(t, res.Migrated())
	assert.NoFileExists(t, path, "an empty store is written on the first mutation")
}

func TestLoadDocumentStoreLeavesBadFileAlone(t *testing.T) {
	path, backups := setupLoad(t, "")
	bad := []byte(`{"boards": [1, 2`)
	require.NoError(t, os.WriteFile(path, bad, 0o644))

	_, err := LoadDocumentStore(context.Background(), path, backups, zerolog.Nop())
	require.Error(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, bad, data)
}
