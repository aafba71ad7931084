// Tests for the indexed backend.
package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func setupBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "boardstore.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func mustRecord(t *testing.T, id string, v any) types.Record {
	t.Helper()
	r, err := types.NewRecord(id, v)
	require.NoError(t, err)
	return r
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "boardstore.db")
	b, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file created")
	assert.Equal(t, types.BackendIndexed, b.Name())
}

func TestDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardstore.db")
	ctx := context.Background()

	b, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, types.CollectionTags, mustRecord(t, "tag_1", types.Tag{ID: "tag_1", Name: "home"})))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "close is idempotent")

	b, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Get(ctx, types.CollectionTags, "tag_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"tag_1","name":"home","usageCount":0}`, string(got.Data))
}

func TestPutUpserts(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, types.CollectionEntities, mustRecord(t, "task_1", types.Entity{ID: "task_1", Type: types.EntityTask, Title: "a"})))
	require.NoError(t, b.Put(ctx, types.CollectionEntities, mustRecord(t, "task_1", types.Entity{ID: "task_1", Type: types.EntityNote, Title: "b"})))

	n, err := b.Count(ctx, types.CollectionEntities)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	notes, err := b.GetByIndex(ctx, types.CollectionEntities, types.IndexType, "Note")
	require.NoError(t, err)
	require.Len(t, notes, 1, "index column follows the upsert")
	tasks, err := b.GetByIndex(ctx, types.CollectionEntities, types.IndexType, "Task")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestGetByIndexRelationships(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()
	rels := []types.Relationship{
		{EntityID: "task_1", RelatedID: "tag_1", Type: types.RelTag},
		{EntityID: "task_2", RelatedID: "tag_1", Type: types.RelTag},
		{EntityID: "task_1", RelatedID: "person_1", Type: types.RelMention},
	}
	for _, r := range rels {
		r.ID = types.RelationshipID(r.Type, r.EntityID, r.RelatedID)
		require.NoError(t, b.Put(ctx, types.CollectionRelationships, mustRecord(t, r.ID, r)))
	}

	tests := []struct {
		name  string
		index string
		value string
		want  []string
	}{
		{"by entity", types.IndexEntityID, "task_1", []string{"mention:task_1:person_1", "tag:task_1:tag_1"}},
		{"by related", types.IndexRelatedID, "tag_1", []string{"tag:task_1:tag_1", "tag:task_2:tag_1"}},
		{"by type", types.IndexRelationshipType, "mention", []string{"mention:task_1:person_1"}},
		{"no match", types.IndexRelatedID, "tag_9", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := b.GetByIndex(ctx, types.CollectionRelationships, tt.index, tt.value)
			require.NoError(t, err)
			var ids []string
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	_, err := b.GetByIndex(ctx, types.CollectionBoards, types.IndexName, "x")
	assert.ErrorIs(t, err, types.ErrUnknownIndex)
}

func TestDeleteAndClear(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, types.CollectionBoards, mustRecord(t, "board_1", types.Board{ID: "board_1", Name: "a"})))
	require.NoError(t, b.Put(ctx, types.CollectionBoards, mustRecord(t, "board_2", types.Board{ID: "board_2", Name: "b"})))

	require.NoError(t, b.Delete(ctx, types.CollectionBoards, "board_1"))
	assert.ErrorIs(t, b.Delete(ctx, types.CollectionBoards, "board_1"), types.ErrNotFound)
	_, err := b.Get(ctx, types.CollectionBoards, "board_1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, b.Clear(ctx, types.CollectionBoards))
	all, err := b.GetAll(ctx, types.CollectionBoards)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPutAllIsAtomic(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()
	recs := []types.Record{
		mustRecord(t, "tag_1", types.Tag{ID: "tag_1", Name: "a"}),
		{ID: "", Data: []byte(`{}`)},
	}
	assert.ErrorIs(t, b.PutAll(ctx, types.CollectionTags, recs), types.ErrInvalidID)
	n, err := b.Count(ctx, types.CollectionTags)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, b.PutAll(ctx, types.CollectionTags, recs[:1]))
	n, err = b.Count(ctx, types.CollectionTags)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClosedBackend(t *testing.T) {
	b := setupBackend(t)
	require.NoError(t, b.Close())
	_, err := b.GetAll(context.Background(), types.CollectionEntities)
	assert.ErrorIs(t, err, types.ErrBackendClosed)
}

func TestCancelledContext(t *testing.T) {
	b := setupBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Put(ctx, types.CollectionTags, mustRecord(t, "tag_1", types.Tag{ID: "tag_1"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotRestore(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.Put(ctx, types.CollectionEntities, mustRecord(t, "task_1", types.Entity{ID: "task_1", Type: types.EntityTask, Title: "a", UpdatedAt: now})))
	require.NoError(t, b.Put(ctx, types.CollectionMeta, mustRecord(t, types.MetaVersion, types.CurrentVersion)))

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, types.CollectionEntities, mustRecord(t, "task_2", types.Entity{ID: "task_2", Type: types.EntityTask, Title: "b"})))
	require.NoError(t, b.Restore(ctx, snap))

	again, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap, again)
	_, err = b.Get(ctx, types.CollectionEntities, "task_2")
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.Error(t, b.Restore(ctx, []byte("{broken\n")))
	_, err = b.Get(ctx, types.CollectionEntities, "task_1")
	assert.NoError(t, err, "failed restore leaves the store intact")
}

func TestDumpJSONL(t *testing.T) {
	b := setupBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, types.CollectionTags, mustRecord(t, "tag_1", types.Tag{ID: "tag_1", Name: "a"})))

	dir := t.TempDir()
	require.NoError(t, b.DumpJSONL(ctx, dir))
	data, err := os.ReadFile(filepath.Join(dir, "tags.jsonl"))
	require.NoError(t, err)
	recs, err := readJSONL[types.Record](data)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "tag_1", recs[0].ID)

	_, err = os.Stat(filepath.Join(dir, "entities.jsonl"))
	assert.NoError(t, err, "empty collections still get a file")
}
