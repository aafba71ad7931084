package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/internal/migrate"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

// sampleDocument builds a small valid document with one board holding one
// task tagged with name and mentioning a person.
func sampleDocument(title, tagName string) *types.Document {
	d := types.NewDocument()
	d.CurrentBoardID = "board_1"
	b := types.NewBoard("board_1", "Main "+title, t0)
	b.Rows[0].Cards["todo"] = []string{"task_1"}
	d.Boards["board_1"] = b
	d.Tags["tag_1"] = &types.Tag{ID: "tag_1", Name: tagName, UsageCount: 1}
	d.Entities["person_1"] = &types.Entity{ID: "person_1", Type: types.EntityPerson, Title: "Ann " + title, Person: &types.PersonPayload{}}
	d.People["person_1"] = &types.PersonRef{ID: "person_1", Name: "Ann " + title, UsageCount: 1}
	d.Entities["task_1"] = &types.Entity{
		ID: "task_1", Type: types.EntityTask, Title: title,
		TagIDs: []string{"tag_1"}, PersonIDs: []string{"person_1"},
		UpdatedAt: t0,
	}
	for _, r := range []*types.Relationship{
		{EntityID: "task_1", RelatedID: "tag_1", Type: types.RelTag},
		{EntityID: "task_1", RelatedID: "person_1", Type: types.RelMention},
	} {
		r.ID = types.RelationshipID(r.Type, r.EntityID, r.RelatedID)
		d.Relationships[r.ID] = r
	}
	d.Templates["template_1"] = &types.Template{ID: "template_1", Name: "Sprint " + title, Columns: types.DefaultColumns}
	d.WeeklyPlans["week_2026-W05"] = &types.WeeklyPlan{
		ID: "week_2026-W05", WeekStart: "2026-01-26",
		Items: []types.WeeklyItem{{ID: "witem_1", EntityID: "task_1", Day: "monday"}},
	}
	d.ReconcileCounters()
	return d
}

func renamesByKind(r MergeReport) map[string][]Rename {
	out := map[string][]Rename{}
	for _, rn := range r.Renames {
		out[rn.Kind] = append(out[rn.Kind], rn)
	}
	return out
}

func TestMergeRenamesCollisions(t *testing.T) {
	existing := sampleDocument("mine", "home")
	incoming := sampleDocument("theirs", "work")
	existingCopy := cloneDocument(existing)

	merged, report := Merge(existing, incoming)
	assert.Equal(t, existingCopy, existing, "inputs are not modified")
	assert.Empty(t, migrate.ValidateDocument(merged))

	byKind := renamesByKind(report)
	require.Len(t, byKind[KindBoard], 1)
	assert.Equal(t, Rename{Kind: KindBoard, From: "board_1", To: "board_2"}, byKind[KindBoard][0])
	assert.Equal(t, []Rename{{Kind: KindTemplate, From: "template_1", To: "template_2"}}, byKind[KindTemplate])
	assert.Equal(t, []Rename{{Kind: KindTag, From: "tag_1", To: "tag_2"}}, byKind[KindTag])
	assert.ElementsMatch(t, []Rename{
		{Kind: KindEntity, From: "person_1", To: "person_2"},
		{Kind: KindEntity, From: "task_1", To: "task_2"},
	}, byKind[KindEntity])
	assert.Equal(t, []Rename{{Kind: KindWeeklyItem, From: "witem_1", To: "witem_2"}}, byKind[KindWeeklyItem])

	task := merged.Entities["task_2"]
	require.NotNil(t, task)
	assert.Equal(t, "theirs", task.Title)
	assert.Equal(t, []string{"tag_2"}, task.TagIDs)
	assert.Equal(t, []string{"person_2"}, task.PersonIDs)
	assert.Equal(t, "mine", merged.Entities["task_1"].Title)

	assert.Equal(t, []string{"task_2"}, merged.Boards["board_2"].Rows[0].Cards["todo"])
	assert.Equal(t, "board_1", merged.CurrentBoardID, "the current board is kept")
	assert.Contains(t, merged.Relationships, "tag:task_2:tag_2")
	assert.Contains(t, merged.Relationships, "mention:task_2:person_2")
	assert.Equal(t, "Ann theirs", merged.People["person_2"].Name)
	assert.Equal(t, 1, merged.Tags["tag_2"].UsageCount)
	assert.Equal(t, 1, merged.People["person_2"].UsageCount)

	plan := merged.WeeklyPlans["week_2026-W05"]
	require.Len(t, plan.Items, 2)
	assert.Equal(t, types.WeeklyItem{ID: "witem_2", EntityID: "task_2", Day: "monday"}, plan.Items[1])

	n, _ := merged.Counters.Get(types.KindTask)
	assert.Equal(t, 3, n)
}

func TestMergeIdenticalDocumentIsNoOp(t *testing.T) {
	existing := sampleDocument("same", "home")
	merged, report := Merge(existing, sampleDocument("same", "home"))

	assert.Empty(t, report.Renames)
	assert.Zero(t, report.Added)
	assert.Positive(t, report.Unchanged)
	assert.Equal(t, existing.Entities, merged.Entities)
	assert.Equal(t, existing.Boards, merged.Boards)
	assert.Len(t, merged.WeeklyPlans["week_2026-W05"].Items, 1)
	assert.Equal(t, existing.Counters, merged.Counters)
}

func TestMergeMatchesTagsByName(t *testing.T) {
	existing := types.NewDocument()
	existing.Tags["tag_4"] = &types.Tag{ID: "tag_4", Name: "Urgent"}
	existing.ReconcileCounters()

	incoming := types.NewDocument()
	incoming.Tags["tag_1"] = &types.Tag{ID: "tag_1", Name: "urgent"}
	incoming.Entities["note_1"] = &types.Entity{ID: "note_1", Type: types.EntityNote, Title: "n", TagIDs: []string{"tag_1"}}
	rel := &types.Relationship{ID: "tag:note_1:tag_1", EntityID: "note_1", RelatedID: "tag_1", Type: types.RelTag}
	incoming.Relationships[rel.ID] = rel
	incoming.ReconcileCounters()

	merged, report := Merge(existing, incoming)
	assert.Len(t, merged.Tags, 1)
	assert.Equal(t, []string{"tag_4"}, merged.Entities["note_1"].TagIDs)
	assert.Contains(t, merged.Relationships, "tag:note_1:tag_4")
	assert.Equal(t, 1, merged.Tags["tag_4"].UsageCount)
	assert.Equal(t, []Rename{{Kind: KindTag, From: "tag_1", To: "tag_4"}}, report.Renames)
}

func TestMergeDropsDanglingReferences(t *testing.T) {
	incoming := types.NewDocument()
	incoming.Entities["task_1"] = &types.Entity{ID: "task_1", Type: types.EntityTask, Title: "t"}
	rel := &types.Relationship{ID: "attachment:task_9:task_1", EntityID: "task_9", RelatedID: "task_1", Type: types.RelAttachment}
	incoming.Relationships[rel.ID] = rel
	incoming.WeeklyPlans["week_2026-W05"] = &types.WeeklyPlan{
		ID: "week_2026-W05", WeekStart: "2026-01-26",
		Items: []types.WeeklyItem{{ID: "witem_1", EntityID: "note_3", Day: "friday"}},
	}

	merged, report := Merge(types.NewDocument(), incoming)
	assert.Equal(t, 2, report.Dropped)
	assert.Empty(t, merged.Relationships)
	assert.Empty(t, merged.WeeklyPlans["week_2026-W05"].Items)
	assert.Empty(t, migrate.ValidateDocument(merged))
}
