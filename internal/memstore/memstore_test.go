package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := New(types.BackendIndexed)
	assert.Equal(t, types.BackendIndexed, s.Name())

	require.NoError(t, s.Put(ctx, types.CollectionEntities, types.Record{ID: "task_2", Data: []byte(`{"id":"task_2","type":"Task"}`)}))
	require.NoError(t, s.Put(ctx, types.CollectionEntities, types.Record{ID: "note_1", Data: []byte(`{"id":"note_1","type":"Note"}`)}))

	got, err := s.Get(ctx, types.CollectionEntities, "task_2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"task_2","type":"Task"}`, string(got.Data))

	all, err := s.GetAll(ctx, types.CollectionEntities)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "note_1", all[0].ID)

	tasks, err := s.GetByIndex(ctx, types.CollectionEntities, types.IndexType, "Task")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task_2", tasks[0].ID)

	_, err = s.GetByIndex(ctx, types.CollectionBoards, types.IndexType, "Task")
	assert.ErrorIs(t, err, types.ErrUnknownIndex)

	require.NoError(t, s.Delete(ctx, types.CollectionEntities, "task_2"))
	assert.ErrorIs(t, s.Delete(ctx, types.CollectionEntities, "task_2"), types.ErrNotFound)
	_, err = s.Get(ctx, types.CollectionEntities, "task_2")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	require.NoError(t, s.Clear(ctx, types.CollectionEntities))
	assert.Equal(t, 0, s.Len(types.CollectionEntities))
}

func TestStoreRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := New(types.BackendDocument)

	assert.ErrorIs(t, s.Put(ctx, types.CollectionEntities, types.Record{Data: []byte(`{}`)}), types.ErrInvalidID)
	assert.Error(t, s.Put(ctx, types.CollectionEntities, types.Record{ID: "x", Data: []byte(`{`)}))
	assert.ErrorIs(t, s.Put(ctx, "nope", types.Record{ID: "x", Data: []byte(`{}`)}), types.ErrUnknownCollection)

	require.NoError(t, s.Close())
	_, err := s.GetAll(ctx, types.CollectionEntities)
	assert.ErrorIs(t, err, types.ErrBackendClosed)
}
