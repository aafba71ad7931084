package importer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/internal/backup"
	"github.com/mesh-intelligence/boardstore/internal/docstore"
	"github.com/mesh-intelligence/boardstore/internal/entity"
	"github.com/mesh-intelligence/boardstore/internal/migrate"
	"github.com/mesh-intelligence/boardstore/internal/mode"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func setupImporter(t *testing.T) (*Importer, *entity.Store, *backup.Store) {
	t.Helper()
	dir := t.TempDir()
	primary, err := docstore.Open(filepath.Join(dir, "boardstore.json"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { primary.Close() })
	ctl, err := mode.Open(filepath.Join(dir, mode.FlagsFile), zerolog.Nop())
	require.NoError(t, err)
	ctl.Register(primary)

	store := entity.New(ctl, zerolog.Nop())
	backups, err := backup.Open(filepath.Join(dir, "backups"), types.BackupConfig{}, zerolog.Nop())
	require.NoError(t, err)
	return New(store, backups, zerolog.Nop()), store, backups
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "migrate", "testdata", name))
	require.NoError(t, err)
	return raw
}

func TestImportReplace(t *testing.T) {
	im, store, backups := setupImporter(t)
	ctx := context.Background()
	_, err := store.CreateBoard(ctx, "Old")
	require.NoError(t, err)
	_, err = store.Create(ctx, types.EntityNote, types.Entity{Title: "old note"})
	require.NoError(t, err)

	res, err := im.Import(ctx, readFixture(t, "v1.json"), ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, migrate.V1, res.SourceVersion)
	assert.Len(t, res.AppliedChain, 5)
	assert.Empty(t, res.MergeReport.Renames)
	require.NotEmpty(t, res.BackupLabel)

	doc, err := store.Export(ctx)
	require.NoError(t, err)
	assert.Empty(t, migrate.ValidateDocument(doc))
	assert.NotContains(t, doc.Entities, "note_1")
	assert.Equal(t, "Buy milk", doc.Entities["task_1"].Title)
	assert.Equal(t, len(res.MigratedDocument.Entities), len(doc.Entities))

	b, err := backups.Load(res.BackupLabel)
	require.NoError(t, err)
	var before types.Document
	require.NoError(t, json.Unmarshal(b.Data, &before))
	assert.Equal(t, "old note", before.Entities["note_1"].Title, "the replaced content is backed up")
}

func TestImportMergeKeepsCountersAhead(t *testing.T) {
	im, store, _ := setupImporter(t)
	ctx := context.Background()
	_, err := store.CreateBoard(ctx, "Mine")
	require.NoError(t, err)
	mine, err := store.Create(ctx, types.EntityTask, types.Entity{Title: "my task"})
	require.NoError(t, err)
	require.Equal(t, "task_1", mine.ID)

	res, err := im.Import(ctx, readFixture(t, "v1.json"), ModeMerge)
	require.NoError(t, err)
	byKind := renamesByKind(res.MergeReport)
	assert.Contains(t, byKind[KindBoard], Rename{Kind: KindBoard, From: "board_1", To: "board_2"})
	require.NotEmpty(t, byKind[KindEntity])
	assert.Equal(t, "task_1", byKind[KindEntity][0].From)

	doc, err := store.Export(ctx)
	require.NoError(t, err)
	assert.Empty(t, migrate.ValidateDocument(doc))
	assert.Equal(t, "my task", doc.Entities["task_1"].Title)
	assert.Equal(t, "board_1", doc.CurrentBoardID)
	assert.Len(t, doc.Boards, 2)

	highest := types.MaxSuffix(types.KindTask, doc.Entities)
	next, err := store.Create(ctx, types.EntityTask, types.Entity{Title: "after import"})
	require.NoError(t, err)
	_, n, ok := types.ParseID(next.ID)
	require.True(t, ok)
	assert.Greater(t, n, highest, "new ids never reuse imported ones")
}

func TestImportSameDocumentTwiceIsIdempotent(t *testing.T) {
	im, store, _ := setupImporter(t)
	ctx := context.Background()
	raw := readFixture(t, "v5.json")

	_, err := im.Import(ctx, raw, ModeMerge)
	require.NoError(t, err)
	first, err := store.Export(ctx)
	require.NoError(t, err)

	res, err := im.Import(ctx, raw, ModeMerge)
	require.NoError(t, err)
	assert.Empty(t, res.MergeReport.Renames)
	assert.Zero(t, res.MergeReport.Added)
	second, err := store.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, first.Boards, second.Boards)
}

func TestImportRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		mode Mode
		want error
	}{
		{"unknown mode", `{"version":"5.0"}`, "append", ErrUnknownMode},
		{"not an object", `[1, 2]`, ModeMerge, nil},
		{"dangling card", `{"version":"5.0","currentBoardId":"board_1","boards":{"board_1":{"id":"board_1","name":"B","columns":[{"key":"todo","name":"To Do"}],"rows":[{"id":"row_1","name":"R","cards":{"todo":["task_9"]}}],"nextRowId":2,"nextColumnId":1,"nextGroupId":1}}}`, ModeReplace, types.ErrValidationFailedAfterMigration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, store, backups := setupImporter(t)
			ctx := context.Background()
			_, err := store.Create(ctx, types.EntityNote, types.Entity{Title: "keep me"})
			require.NoError(t, err)

			_, err = im.Import(ctx, []byte(tt.raw), tt.mode)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			got, err := store.GetByID(ctx, "note_1")
			require.NoError(t, err)
			assert.Equal(t, "keep me", got.Title, "nothing is written")
			all, err := backups.List()
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestPreviewWritesNothing(t *testing.T) {
	im, store, backups := setupImporter(t)
	ctx := context.Background()
	_, err := store.Create(ctx, types.EntityTask, types.Entity{Title: "mine"})
	require.NoError(t, err)

	res, err := im.Preview(ctx, readFixture(t, "v1.json"), ModeMerge)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.MergeReport.Renames)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	labels, err := backups.List()
	require.NoError(t, err)
	assert.Empty(t, labels)
}
