package docstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boardstore.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func rec(t *testing.T, id string, v any) types.Record {
	t.Helper()
	r, err := types.NewRecord(id, v)
	require.NoError(t, err)
	return r
}

func TestOpenMissingFileIsEmptyDocument(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()

	v, err := s.Get(ctx, types.CollectionMeta, types.MetaVersion)
	require.NoError(t, err)
	assert.JSONEq(t, `"5.0"`, string(v.Data))

	all, err := s.GetAll(ctx, types.CollectionEntities)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.False(t, fileExists(path), "nothing is written before the first mutation")
}

func TestOpenStaleDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boardstore.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"3.0","boards":{}}`), 0o644))
	_, err := Open(path, zerolog.Nop())
	assert.ErrorIs(t, err, types.ErrStaleSchema)

	require.NoError(t, os.WriteFile(path, []byte(`{"boardName":"X"}`), 0o644))
	_, err = Open(path, zerolog.Nop())
	assert.ErrorIs(t, err, types.ErrStaleSchema)
}

func TestPutGetDelete(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()

	e := types.Entity{ID: "task_1", Type: types.EntityTask, Title: "A"}
	require.NoError(t, s.Put(ctx, types.CollectionEntities, rec(t, e.ID, e)))

	got, err := s.Get(ctx, types.CollectionEntities, "task_1")
	require.NoError(t, err)
	var back types.Entity
	require.NoError(t, got.Decode(&back))
	assert.Equal(t, e, back)

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = reopened.Get(ctx, types.CollectionEntities, "task_1")
	assert.NoError(t, err, "mutations are persisted")

	require.NoError(t, s.Delete(ctx, types.CollectionEntities, "task_1"))
	_, err = s.Get(ctx, types.CollectionEntities, "task_1")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, types.CollectionEntities, "task_1"), types.ErrNotFound)
}

func TestGetByIndex(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	for _, e := range []types.Entity{
		{ID: "task_1", Type: types.EntityTask, Title: "a"},
		{ID: "note_1", Type: types.EntityNote, Title: "b"},
		{ID: "task_2", Type: types.EntityTask, Title: "c"},
	} {
		require.NoError(t, s.Put(ctx, types.CollectionEntities, rec(t, e.ID, e)))
	}

	tasks, err := s.GetByIndex(ctx, types.CollectionEntities, types.IndexType, "Task")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task_1", tasks[0].ID)
	assert.Equal(t, "task_2", tasks[1].ID)

	_, err = s.GetByIndex(ctx, types.CollectionEntities, "title", "a")
	assert.ErrorIs(t, err, types.ErrUnknownIndex)
}

func TestCountersFlattenIntoDocument(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()

	c := types.NewCounters()
	c.NextTaskID = 9
	require.NoError(t, s.Put(ctx, types.CollectionMeta, rec(t, types.MetaCounters, c)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(9), raw["nextTaskId"])
	assert.NotContains(t, raw, "counters")

	got, err := s.Get(ctx, types.CollectionMeta, types.MetaCounters)
	require.NoError(t, err)
	var back types.Counters
	require.NoError(t, got.Decode(&back))
	assert.Equal(t, c, back)

	var doc types.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 9, doc.NextTaskID)
}

func TestMetaRecords(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, types.CollectionMeta, rec(t, types.MetaCurrentBoardID, "board_1")))
	require.NoError(t, s.Put(ctx, types.CollectionMeta, rec(t, types.MetaCounters, types.NewCounters())))
	assert.ErrorIs(t, s.Put(ctx, types.CollectionMeta, rec(t, "boards", 1)), types.ErrInvalidID)

	all, err := s.GetAll(ctx, types.CollectionMeta)
	require.NoError(t, err)
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"counters", "currentBoardId", "version"}, ids)

	require.NoError(t, s.Clear(ctx, types.CollectionMeta))
	all, err = s.GetAll(ctx, types.CollectionMeta)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.MetaVersion, all[0].ID)
}

func TestEncodingIsDeterministic(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()
	for _, id := range []string{"task_3", "task_1", "task_2"} {
		require.NoError(t, s.Put(ctx, types.CollectionEntities, rec(t, id, types.Entity{ID: id, Type: types.EntityTask, Title: id})))
	}
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, types.CollectionEntities, rec(t, "task_2", types.Entity{ID: "task_2", Type: types.EntityTask, Title: "task_2"})))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotRestoreByteExact(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, types.CollectionTags, rec(t, "tag_1", types.Tag{ID: "tag_1", Name: "x"})))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, types.CollectionTags, rec(t, "tag_2", types.Tag{ID: "tag_2", Name: "y"})))
	require.NoError(t, s.Restore(ctx, snap))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, snap, data)
	_, err = s.Get(ctx, types.CollectionTags, "tag_2")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRestoreStaleClosesStore(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()
	old := []byte(`{"boardName":"X","columns":["todo"],"cards":{}}`)

	err := s.Restore(ctx, old)
	assert.ErrorIs(t, err, types.ErrStaleSchema)
	data, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Equal(t, old, data)

	_, err = s.GetAll(ctx, types.CollectionEntities)
	assert.ErrorIs(t, err, types.ErrBackendClosed)
}

func TestUnknownCollection(t *testing.T) {
	s, _ := setupStore(t)
	_, err := s.GetAll(context.Background(), "widgets")
	assert.ErrorIs(t, err, types.ErrUnknownCollection)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPutAllWritesOnce(t *testing.T) {
	s, path := setupStore(t)
	ctx := context.Background()

	recs := []types.Record{
		rec(t, "tag_1", types.Tag{ID: "tag_1", Name: "a"}),
		rec(t, "tag_2", types.Tag{ID: "tag_2", Name: "b"}),
	}
	require.NoError(t, s.PutAll(ctx, types.CollectionTags, recs))
	require.NoError(t, s.PutAll(ctx, types.CollectionMeta, []types.Record{
		rec(t, types.MetaCounters, map[string]int{"nextTagId": 3}),
	}))

	all, err := s.GetAll(ctx, types.CollectionTags)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	assert.JSONEq(t, `3`, string(top["nextTagId"]))

	err = s.PutAll(ctx, types.CollectionTags, []types.Record{{ID: "", Data: []byte(`{}`)}})
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestFailedWriteLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dataDir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dataDir, "boardstore.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Put(ctx, types.CollectionEntities, rec(t, "task_1", map[string]any{"id": "task_1"})))

	// A regular file where the data directory was makes every write fail.
	require.NoError(t, os.RemoveAll(dataDir))
	require.NoError(t, os.WriteFile(dataDir, []byte("x"), 0o644))

	tests := []struct {
		name  string
		write func() error
	}{
		{"put", func() error {
			return s.Put(ctx, types.CollectionEntities, rec(t, "task_2", map[string]any{"id": "task_2"}))
		}},
		{"put all", func() error {
			return s.PutAll(ctx, types.CollectionEntities, []types.Record{rec(t, "task_3", map[string]any{"id": "task_3"})})
		}},
		{"delete", func() error { return s.Delete(ctx, types.CollectionEntities, "task_1") }},
		{"clear", func() error { return s.Clear(ctx, types.CollectionEntities) }},
		{"meta", func() error {
			return s.Put(ctx, types.CollectionMeta, rec(t, types.MetaCurrentBoardID, "board_7"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.write())
			all, err := s.GetAll(ctx, types.CollectionEntities)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "task_1", all[0].ID)
			cur, err := s.Get(ctx, types.CollectionMeta, types.MetaCurrentBoardID)
			require.NoError(t, err)
			assert.JSONEq(t, `""`, string(cur.Data))
		})
	}

	// Once writes work again only the new record reaches disk.
	require.NoError(t, os.Remove(dataDir))
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, s.Put(ctx, types.CollectionEntities, rec(t, "task_4", map[string]any{"id": "task_4"})))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Entities map[string]json.RawMessage `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc.Entities, "task_1")
	assert.Contains(t, doc.Entities, "task_4")
	assert.NotContains(t, doc.Entities, "task_2")
	assert.NotContains(t, doc.Entities, "task_3")
}
