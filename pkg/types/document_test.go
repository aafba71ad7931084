package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentCountersFlattenIntoTopLevel(t *testing.T) {
	d := NewDocument()
	d.NextTaskID = 7
	data, err := json.Marshal(d)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(7), raw["nextTaskId"])
	assert.Equal(t, "5.0", raw["version"])
	assert.NotContains(t, raw, "Counters")
}

func TestCountersTake(t *testing.T) {
	c := NewCounters()
	id1, err := c.Take(KindTask)
	require.NoError(t, err)
	id2, err := c.Take(KindTask)
	require.NoError(t, err)
	assert.Equal(t, "task_1", id1)
	assert.Equal(t, "task_2", id2)

	_, err = c.Take("epic")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestCountersRaiseNeverLowers(t *testing.T) {
	c := NewCounters()
	assert.True(t, c.Raise(KindNote, 10))
	assert.False(t, c.Raise(KindNote, 3))
	n, ok := c.Get(KindNote)
	assert.True(t, ok)
	assert.Equal(t, 10, n)
}

func TestDocumentReconcileCounters(t *testing.T) {
	d := NewDocument()
	d.Entities["task_12"] = &Entity{ID: "task_12", Type: EntityTask, Title: "a"}
	d.Entities["note_3"] = &Entity{ID: "note_3", Type: EntityNote, Title: "b"}
	d.Boards["board_4"] = &Board{ID: "board_4", Name: "x"}
	d.WeeklyPlans["week_2026-W10"] = &WeeklyPlan{ID: "week_2026-W10", Items: []WeeklyItem{{ID: "witem_9", EntityID: "task_12"}}}
	d.NextNoteID = 50

	assert.True(t, d.ReconcileCounters())
	assert.Equal(t, 13, d.NextTaskID)
	assert.Equal(t, 50, d.NextNoteID)
	assert.Equal(t, 5, d.NextBoardID)
	assert.Equal(t, 10, d.NextWeeklyItemID)
	assert.False(t, d.ReconcileCounters())
}

func TestDocumentRecordsRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := NewDocument()
	d.CurrentBoardID = "board_1"
	d.Boards["board_1"] = NewBoard("board_1", "Main", now)
	d.Entities["task_1"] = &Entity{ID: "task_1", Type: EntityTask, Title: "a", CreatedAt: now, UpdatedAt: now}
	d.Tags["tag_1"] = &Tag{ID: "tag_1", Name: "urgent", UsageCount: 1}
	rel := &Relationship{ID: RelationshipID(RelTag, "task_1", "tag_1"), EntityID: "task_1", RelatedID: "tag_1", Type: RelTag}
	d.Relationships[rel.ID] = rel
	d.NextTaskID = 2

	recs, err := d.Records()
	require.NoError(t, err)
	require.Len(t, recs[CollectionMeta], 3)
	assert.Equal(t, "tag", recs[CollectionRelationships][0].IndexValue(IndexRelationshipType))
	assert.Equal(t, "Task", recs[CollectionEntities][0].IndexValue(IndexType))
	assert.Equal(t, now, recs[CollectionEntities][0].UpdatedAt())

	back, err := DocumentFromRecords(recs)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestRecordUpdatedAtFallsBackToCreatedAt(t *testing.T) {
	r := Record{ID: "x", Data: json.RawMessage(`{"createdAt":"2026-01-01T00:00:00Z"}`)}
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), r.UpdatedAt())
	assert.True(t, Record{ID: "y", Data: json.RawMessage(`{}`)}.UpdatedAt().IsZero())
}

func TestWeekHelpers(t *testing.T) {
	thu := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "week_2026-W10", WeekID(thu))
	assert.Equal(t, "2026-03-02", WeekStart(thu))
	sun := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", WeekStart(sun))
}
