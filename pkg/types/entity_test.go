package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityValidate(t *testing.T) {
	tests := []struct {
		name      string
		entity    Entity
		wantField string
	}{
		{
			name:   "task with title",
			entity: Entity{Type: EntityTask, Title: "Write report"},
		},
		{
			name:      "task without title",
			entity:    Entity{Type: EntityTask, Title: "  "},
			wantField: "title",
		},
		{
			name:      "person without name",
			entity:    Entity{Type: EntityPerson},
			wantField: "title",
		},
		{
			name:      "unknown type",
			entity:    Entity{Type: "Epic", Title: "x"},
			wantField: "type",
		},
		{
			name:      "unknown priority",
			entity:    Entity{Type: EntityNote, Title: "x", Priority: "critical"},
			wantField: "priority",
		},
		{
			name:      "completed note",
			entity:    Entity{Type: EntityNote, Title: "x", Completed: true},
			wantField: "completed",
		},
		{
			name:   "completed checklist",
			entity: Entity{Type: EntityChecklist, Title: "x", Completed: true},
		},
		{
			name:      "payload of another variant",
			entity:    Entity{Type: EntityNote, Title: "x", Task: &TaskPayload{}},
			wantField: "payload",
		},
		{
			name:   "project with milestones",
			entity: Entity{Type: EntityProject, Title: "x", Project: &ProjectPayload{Milestones: []Milestone{{Title: "alpha"}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestEntityCloneIsDeep(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := &Entity{
		ID:         "task_1",
		Type:       EntityTask,
		Title:      "a",
		DueDate:    &due,
		TagIDs:     []string{"tag_1"},
		Task:       &TaskPayload{SubtaskIDs: []string{"task_2"}},
		Attributes: map[string]any{"estimate": 3},
	}
	c := e.Clone()
	c.TagIDs[0] = "tag_9"
	c.Task.SubtaskIDs[0] = "task_9"
	c.Attributes["estimate"] = 5
	*c.DueDate = due.Add(time.Hour)

	assert.Equal(t, "tag_1", e.TagIDs[0])
	assert.Equal(t, "task_2", e.Task.SubtaskIDs[0])
	assert.Equal(t, 3, e.Attributes["estimate"])
	assert.Equal(t, due, *e.DueDate)
}

func TestEntityTouchNeverMovesBackwards(t *testing.T) {
	now := time.Now()
	e := &Entity{UpdatedAt: now}
	e.Touch(now.Add(-time.Minute))
	assert.Equal(t, now, e.UpdatedAt)
	e.Touch(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), e.UpdatedAt)
}

func TestEntityPatchApply(t *testing.T) {
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	e := &Entity{Type: EntityTask, Title: "old", Content: "keep", DueDate: &due, Attributes: map[string]any{"a": 1, "b": 2}}
	title := "new"
	prio := PriorityHigh
	EntityPatch{Title: &title, Priority: &prio, ClearDue: true, Attributes: map[string]any{"a": nil, "c": 3}}.Apply(e)

	assert.Equal(t, "new", e.Title)
	assert.Equal(t, "keep", e.Content)
	assert.Equal(t, PriorityHigh, e.Priority)
	assert.Nil(t, e.DueDate)
	assert.Equal(t, map[string]any{"b": 2, "c": 3}, e.Attributes)
}

func TestSortedSets(t *testing.T) {
	set, changed := AddToSet(nil, "tag_2")
	assert.True(t, changed)
	set, _ = AddToSet(set, "tag_1")
	set, changed = AddToSet(set, "tag_2")
	assert.False(t, changed)
	assert.Equal(t, []string{"tag_1", "tag_2"}, set)

	set, changed = RemoveFromSet(set, "tag_1")
	assert.True(t, changed)
	_, changed = RemoveFromSet(set, "tag_1")
	assert.False(t, changed)
	assert.Equal(t, []string{"tag_2"}, set)
}

func TestEntityTypeForID(t *testing.T) {
	typ, ok := EntityTypeForID("checklist_4")
	assert.True(t, ok)
	assert.Equal(t, EntityChecklist, typ)

	_, ok = EntityTypeForID("tag_4")
	assert.False(t, ok)

	typ, ok = ParseEntityType("project")
	assert.True(t, ok)
	assert.Equal(t, EntityProject, typ)
}
