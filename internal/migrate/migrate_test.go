package migrate

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func loadFixture(t *testing.T, name string) Doc {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	doc, err := Parse(data)
	require.NoError(t, err)
	return doc
}

// toDocument decodes a migrated Doc into the typed document.
func toDocument(t *testing.T, doc Doc) *types.Document {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	d := types.NewDocument()
	require.NoError(t, json.Unmarshal(data, d))
	d.Normalize()
	return d
}

func tagByName(d *types.Document, name string) *types.Tag {
	for _, tag := range d.Tags {
		if strings.EqualFold(tag.Name, name) {
			return tag
		}
	}
	return nil
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name string
		doc  Doc
		want Version
	}{
		{"empty document", Doc{}, V1},
		{"v1 shape", Doc{"boardName": "X", "cards": map[string]any{}}, V1},
		{"boards map", Doc{"boards": map[string]any{}}, V2},
		{"boards array is not v2", Doc{"boards": []any{}}, V1},
		{"templates", Doc{"boards": map[string]any{}, "templates": []any{}}, V25},
		{"weekly plans", Doc{"templates": []any{}, "weeklyPlans": map[string]any{}}, V3},
		{"nested entity map", Doc{"entities": map[string]any{"tasks": map[string]any{}}}, V4},
		{"nested entity array", Doc{"entities": map[string]any{"notes": []any{}}}, V4},
		{"flat entities", Doc{"entities": map[string]any{"task_1": map[string]any{}}}, V5},
		{"empty entities", Doc{"entities": map[string]any{}}, V5},
		{"entities not a map", Doc{"entities": "garbage"}, V1},
		{"explicit string", Doc{"version": "2.5", "entities": map[string]any{}}, V25},
		{"explicit prefixed", Doc{"version": "v3"}, V3},
		{"explicit number", Doc{"version": json.Number("4")}, V4},
		{"explicit float", Doc{"version": 2.0}, V2},
		{"explicit current", Doc{"version": "5.0"}, V5},
		{"unknown version falls back to shape", Doc{"version": "9.1", "boards": map[string]any{}}, V2},
		{"unparseable version falls back to shape", Doc{"version": true}, V1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectVersion(tt.doc))
		})
	}
}

func TestVersionHelpers(t *testing.T) {
	next, ok := V25.Next()
	assert.True(t, ok)
	assert.Equal(t, V3, next)

	_, ok = Current.Next()
	assert.False(t, ok)

	assert.True(t, V2.Before(V25))
	assert.False(t, V5.Before(V4))
	assert.Equal(t, "v2.5", V25.Label())
	assert.Equal(t, "v3", V3.Label())
	assert.Equal(t, "v2.5->v3", step{from: V25, to: V3}.Name())
}

// The example from the data format documentation: a single-board v1 file
// becomes one task placed in the todo column of board_1.
func TestMigrateSingleBoardExample(t *testing.T) {
	doc := Doc{
		"boardName": "X",
		"columns":   []any{"todo", "done"},
		"cards": map[string]any{
			"todo": []any{map[string]any{"id": json.Number("1"), "title": "A"}},
		},
	}

	out, chain, err := Migrate(doc)
	require.NoError(t, err)
	assert.Equal(t, []Version{V2, V25, V3, V4, V5}, chain)
	assert.Equal(t, "5.0", out["version"])

	entities := out["entities"].(map[string]any)
	assert.Equal(t, map[string]any{
		"id":        "task_1",
		"type":      "Task",
		"title":     "A",
		"completed": false,
	}, entities["task_1"])

	boards := out["boards"].(map[string]any)
	board := boards["board_1"].(map[string]any)
	assert.Equal(t, "X", board["name"])
	rows := board["rows"].([]any)
	require.Len(t, rows, 1)
	cards := rows[0].(map[string]any)["cards"].(map[string]any)
	assert.Equal(t, []any{"task_1"}, cards["todo"])
	assert.Equal(t, "board_1", out["currentBoardId"])

	res := Validate(out)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestMigrateFixturesValidate(t *testing.T) {
	tests := []struct {
		fixture string
		source  Version
		chain   []Version
	}{
		{"v1.json", V1, []Version{V2, V25, V3, V4, V5}},
		{"v2.json", V2, []Version{V25, V3, V4, V5}},
		{"v25.json", V25, []Version{V3, V4, V5}},
		{"v3.json", V3, []Version{V4, V5}},
		{"v4.json", V4, []Version{V5}},
		{"v1_column_cards.json", V1, []Version{V2, V25, V3, V4, V5}},
		{"v2_board_cards.json", V2, []Version{V25, V3, V4, V5}},
		{"v4_dangling.json", V4, []Version{V5}},
	}
	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			doc := loadFixture(t, tt.fixture)
			assert.Equal(t, tt.source, DetectVersion(doc))

			out, chain, err := Migrate(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.chain, chain)
			assert.Equal(t, string(Current), out["version"])

			res := Validate(out)
			assert.True(t, res.Valid, "errors: %v", res.Errors)
			assert.Empty(t, res.Errors)

			again, chain, err := Migrate(out)
			require.NoError(t, err)
			assert.Empty(t, chain)
			assert.Equal(t, out, again)
		})
	}
}

func TestMigrateCurrentIsIdempotent(t *testing.T) {
	doc := loadFixture(t, "v5.json")
	out, chain, err := Migrate(doc)
	require.NoError(t, err)
	assert.Empty(t, chain)
	assert.NotNil(t, chain)
	assert.Equal(t, doc, out)

	res := Validate(out)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestMigrateDoesNotModifyInput(t *testing.T) {
	for _, name := range []string{"v1.json", "v2.json", "v3.json", "v4.json"} {
		t.Run(name, func(t *testing.T) {
			doc := loadFixture(t, name)
			before := deepCopy(doc)
			_, _, err := Migrate(doc)
			require.NoError(t, err)
			assert.Equal(t, before, any(doc))
		})
	}
}

func TestMigrateV1Details(t *testing.T) {
	out, _, err := Migrate(loadFixture(t, "v1.json"))
	require.NoError(t, err)
	d := toDocument(t, out)

	card := d.Entities["task_1"]
	require.NotNil(t, card)
	assert.Equal(t, "Buy milk", card.Title)
	assert.Equal(t, types.PriorityHigh, card.Priority)

	// Subtasks are numbered above the largest card id.
	require.NotNil(t, card.Task)
	assert.Equal(t, []string{"task_4", "task_5"}, card.Task.SubtaskIDs)
	assert.Equal(t, "Find store", d.Entities["task_4"].Title)
	assert.True(t, d.Entities["task_4"].Completed)
	assert.Equal(t, "Pay", d.Entities["task_5"].Title)
	assert.Contains(t, d.Relationships, "subtask:task_1:task_4")
	assert.Contains(t, d.Relationships, "subtask:task_1:task_5")

	checklist := d.Entities["checklist_1"]
	require.NotNil(t, checklist)
	assert.Equal(t, types.EntityChecklist, checklist.Type)
	assert.Equal(t, "Buy milk checklist", checklist.Title)
	require.NotNil(t, checklist.Checklist)
	assert.Len(t, checklist.Checklist.Items, 2)
	assert.Contains(t, d.Relationships, "attachment:task_1:checklist_1")

	report := d.Entities["task_2"]
	assert.Equal(t, "Q3 numbers", report.Content)
	require.NotNil(t, report.DueDate)
	assert.Equal(t, "2024-05-01", report.DueDate.Format("2006-01-02"))

	untitled := d.Entities["task_3"]
	assert.Equal(t, "Untitled", untitled.Title)
	assert.True(t, untitled.Completed)
	assert.EqualValues(t, 2, untitled.Attributes["estimate"])

	// "home" and "Home" are the same tag.
	require.Len(t, d.Tags, 2)
	home := tagByName(d, "home")
	require.NotNil(t, home)
	assert.Equal(t, 2, home.UsageCount)
	errands := tagByName(d, "errands")
	require.NotNil(t, errands)
	assert.Equal(t, 1, errands.UsageCount)
	assert.ElementsMatch(t, []string{home.ID, errands.ID}, card.TagIDs)

	board := d.Boards["board_1"]
	assert.Equal(t, "Personal", board.Name)
	assert.Equal(t, []string{"todo", "doing", "done"}, []string{board.Columns[0].Key, board.Columns[1].Key, board.Columns[2].Key})
	assert.Equal(t, "Doing", board.Columns[1].Name)
	assert.Equal(t, []string{"task_2"}, board.Rows[0].Cards["doing"])

	assert.Equal(t, 6, d.NextTaskID)
	assert.Equal(t, 2, d.NextChecklistID)
	assert.Equal(t, 2, d.NextBoardID)
	assert.NotContains(t, out, "nextCardId")
	assert.NotContains(t, out, "cards")
}

func TestMigrateV2CardIDs(t *testing.T) {
	out, _, err := Migrate(loadFixture(t, "v2.json"))
	require.NoError(t, err)
	d := toDocument(t, out)

	assert.Equal(t, "board_2", d.CurrentBoardID)
	assert.Equal(t, []string{"task_1"}, d.Boards["board_1"].Rows[0].Cards["todo"])

	// The non-numeric and duplicate card ids get fresh ids above every
	// reserved task id.
	home := d.Boards["board_2"].Rows[0].Cards["todo"]
	require.Len(t, home, 2)
	assert.Equal(t, "Non-numeric id", d.Entities[home[0]].Title)
	assert.Equal(t, "Duplicate id", d.Entities[home[1]].Title)
	assert.NotEqual(t, "task_1", home[1])
	for _, id := range home {
		_, n, ok := types.ParseID(id)
		require.True(t, ok)
		assert.Greater(t, n, 4)
	}

	keys := d.Entities["task_2"]
	require.NotNil(t, keys.Task)
	assert.Len(t, keys.Task.SubtaskIDs, 2)
	assert.Greater(t, d.NextTaskID, 6)
}

func TestMigrateV25Templates(t *testing.T) {
	out, _, err := Migrate(loadFixture(t, "v25.json"))
	require.NoError(t, err)
	d := toDocument(t, out)

	require.Len(t, d.Templates, 2)
	sprint := d.Templates["template_1"]
	require.NotNil(t, sprint)
	assert.Equal(t, "Sprint", sprint.Name)
	assert.Len(t, sprint.Columns, 3)
	assert.Equal(t, []string{"Main", "Bugs"}, sprint.Rows)
	assert.Equal(t, "Kanban", d.Templates["template_2"].Name)
	assert.Equal(t, 3, d.NextTemplateID)

	release := tagByName(d, "release")
	require.NotNil(t, release)
	assert.Equal(t, []string{release.ID}, d.Entities["task_5"].TagIDs)
}

func TestMigrateV3WeeklyPlans(t *testing.T) {
	out, _, err := Migrate(loadFixture(t, "v3.json"))
	require.NoError(t, err)
	d := toDocument(t, out)

	plan := d.WeeklyPlans["2024-W18"]
	require.NotNil(t, plan)
	assert.Equal(t, "2024-04-29", plan.WeekStart)
	assert.Equal(t, "Ship release\nRest", plan.Goals)

	// The item pointing at card 99 is dropped; the free-text item becomes a note.
	require.Len(t, plan.Items, 3)
	assert.Equal(t, "witem_1", plan.Items[0].ID)
	assert.Equal(t, "task_1", plan.Items[0].EntityID)

	note := d.Entities[plan.Items[1].EntityID]
	require.NotNil(t, note)
	assert.Equal(t, types.EntityNote, note.Type)
	assert.Equal(t, "Call mom", note.Title)
	assert.Equal(t, "tuesday", plan.Items[1].Day)

	assert.Equal(t, "task_2", plan.Items[2].EntityID)
	assert.NotEqual(t, "witem_1", plan.Items[2].ID)
	assert.True(t, plan.Items[2].Completed)
}

func TestMigrateV4Flattening(t *testing.T) {
	out, _, err := Migrate(loadFixture(t, "v4.json"))
	require.NoError(t, err)
	d := toDocument(t, out)

	for _, id := range []string{"task_1", "task_10", "task_11", "note_1", "checklist_1", "project_1"} {
		assert.Contains(t, d.Entities, id)
	}
	assert.Equal(t, types.EntityProject, d.Entities["project_1"].Type)
	require.NotNil(t, d.Entities["project_1"].Project)
	assert.Len(t, d.Entities["project_1"].Project.Milestones, 1)

	card := d.Entities["task_1"]
	assert.Equal(t, []string{"task_10"}, card.Task.SubtaskIDs)
	assert.Contains(t, d.Relationships, "subtask:task_1:task_10")
	assert.Contains(t, d.Relationships, "attachment:task_1:checklist_1")
	assert.Contains(t, d.Relationships, "attachment:task_1:note_1")

	// Existing tag ids resolve directly, names create tags.
	assert.Contains(t, card.TagIDs, "tag_1")
	design := tagByName(d, "design")
	require.NotNil(t, design)
	assert.Contains(t, card.TagIDs, design.ID)
	assert.Equal(t, 1, d.Tags["tag_1"].UsageCount)
	assert.Equal(t, "#f00", d.Tags["tag_1"].Color)

	// People become Person entities plus directory entries.
	require.Len(t, d.People, 2)
	var alice, bob string
	for id, p := range d.People {
		switch p.Name {
		case "Alice":
			alice = id
		case "Bob":
			bob = id
		}
	}
	require.NotEmpty(t, alice)
	require.NotEmpty(t, bob)
	assert.Equal(t, types.EntityPerson, d.Entities[bob].Type)
	require.NotNil(t, d.Entities[bob].Person)
	assert.Equal(t, "bob@example.com", d.Entities[bob].Person.Email)
	assert.Equal(t, []string{alice}, card.PersonIDs)
	assert.Equal(t, 1, d.People[alice].UsageCount)
	assert.Contains(t, d.Relationships, types.RelationshipID(types.RelMention, "task_1", alice))

	row := d.Boards["board_1"].Rows[0]
	assert.Equal(t, "group_1", row.GroupID)
	assert.Equal(t, "project_1", row.ProjectID)
	assert.Equal(t, []string{"task_11"}, row.Cards["done"])

	plan := d.WeeklyPlans["week_2024-W05"]
	require.NotNil(t, plan)
	require.Len(t, plan.Items, 3)
	assert.Equal(t, "monday", plan.Items[0].Day)
	assert.Equal(t, "task_1", plan.Items[0].EntityID)
	assert.Equal(t, "note_1", plan.Items[1].EntityID)
	assert.Equal(t, 1, plan.Items[2].Order)
	assert.Equal(t, "Gym", d.Entities[plan.Items[2].EntityID].Title)

	assert.Contains(t, d.Templates, "template_3")
	assert.Equal(t, 4, d.NextTemplateID)
	assert.Equal(t, 12, d.NextTaskID)

	// Keys the migration does not understand survive.
	assert.Equal(t, map[string]any{"theme": "dark"}, out["settings"])
}

func TestMigrateStepFailure(t *testing.T) {
	tests := []struct {
		name  string
		apply func(Doc) (Doc, error)
		want  string
	}{
		{"error", func(Doc) (Doc, error) { return nil, errors.New("boom") }, "boom"},
		{"panic", func(Doc) (Doc, error) { panic("kaboom") }, "kaboom"},
		{"nil document", func(Doc) (Doc, error) { return nil, nil }, "no document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := steps[3].apply
			steps[3].apply = tt.apply
			t.Cleanup(func() { steps[3].apply = orig })

			doc := loadFixture(t, "v3.json")
			before := deepCopy(doc)
			out, chain, err := Migrate(doc)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Empty(t, chain)
			assert.ErrorIs(t, err, types.ErrMigrationStep)

			var stepErr *types.MigrationStepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, "v3->v4", stepErr.Step)
			assert.Equal(t, "3.0", stepErr.From)
			assert.Equal(t, "4.0", stepErr.To)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, before, any(doc))
		})
	}
}

func TestValidateReportsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Doc)
		want   string
	}{
		{"old version", func(d Doc) { d["version"] = "4.0" }, "version"},
		{"dangling card", func(d Doc) {
			row := d["boards"].(map[string]any)["board_1"].(map[string]any)["rows"].([]any)[0].(map[string]any)
			row["cards"].(map[string]any)["todo"] = []any{"task_1", "task_404"}
		}, "task_404 does not resolve"},
		{"dangling relationship", func(d Doc) {
			d["relationships"].(map[string]any)["subtask:task_1:task_9"] = map[string]any{
				"id": "subtask:task_1:task_9", "entityId": "task_1", "relatedId": "task_9", "relationshipType": "subtask",
			}
		}, "related task_9 does not resolve"},
		{"relationship id mismatch", func(d Doc) {
			d["relationships"].(map[string]any)["rel_1"] = map[string]any{
				"id": "rel_1", "entityId": "task_1", "relatedId": "note_1", "relationshipType": "attachment",
			}
		}, "id does not match"},
		{"low counter", func(d Doc) { d["nextTaskId"] = json.Number("1") }, "counter for task"},
		{"key mismatch", func(d Doc) {
			d["entities"].(map[string]any)["task_1"].(map[string]any)["id"] = "task_7"
		}, "entities.task_1: id is"},
		{"dangling weekly item", func(d Doc) {
			plan := d["weeklyPlans"].(map[string]any)["week_2026-W01"].(map[string]any)
			plan["items"].([]any)[0].(map[string]any)["entityId"] = "note_9"
		}, "entity note_9 does not resolve"},
		{"current board missing", func(d Doc) { d["currentBoardId"] = "board_9" }, "currentBoardId"},
		{"unknown tag on entity", func(d Doc) {
			d["entities"].(map[string]any)["note_1"].(map[string]any)["tagIds"] = []any{"tag_9"}
		}, "tag_9 does not resolve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := loadFixture(t, "v5.json")
			tt.mutate(doc)
			res := Validate(doc)
			assert.False(t, res.Valid)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, strings.Join(res.Errors, "\n"), tt.want)
		})
	}
}

func TestRun(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "v1.json"))
	require.NoError(t, err)

	res, err := Run(data)
	require.NoError(t, err)
	assert.Equal(t, V1, res.SourceVersion)
	assert.Equal(t, []Version{V2, V25, V3, V4, V5}, res.AppliedChain)
	assert.True(t, res.Validation.Valid)
	require.NotNil(t, res.Document)
	assert.Equal(t, types.CurrentVersion, res.Document.Version)
	assert.Contains(t, res.Document.Entities, "task_1")
}

func TestRunRejectsInvalidResult(t *testing.T) {
	raw := []byte(`{"version":"5.0","entities":{"task_1":{"id":"task_1","type":"Task","title":"A","completed":false}},"nextTaskId":1}`)

	res, err := Run(raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidationFailedAfterMigration)
	require.NotNil(t, res)
	assert.False(t, res.Validation.Valid)
	assert.Nil(t, res.Document)
}

func TestRunRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`[]`, `null`, `"text"`, `{`} {
		_, err := Run([]byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestMigrateLiftsLooseCards(t *testing.T) {
	tests := []struct {
		fixture string
		titles  map[string]string
		columns map[string][]string
	}{
		{
			fixture: "v1_column_cards.json",
			titles:  map[string]string{"task_1": "Post office", "task_2": "Bank", "task_3": "Buy stamps"},
			columns: map[string][]string{"todo": {"task_1"}, "done": {"task_2"}},
		},
		{
			fixture: "v2_board_cards.json",
			titles:  map[string]string{"task_1": "Fix sink", "task_2": "Paint fence"},
			columns: map[string][]string{"todo": {"task_1"}, "done": {"task_2"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			out, _, err := Migrate(loadFixture(t, tt.fixture))
			require.NoError(t, err)
			d := toDocument(t, out)

			require.Len(t, d.Entities, len(tt.titles))
			for id, title := range tt.titles {
				require.Contains(t, d.Entities, id)
				assert.Equal(t, title, d.Entities[id].Title)
			}
			board := d.Boards["board_1"]
			require.NotNil(t, board)
			require.Len(t, board.Rows, 1)
			for col, ids := range tt.columns {
				assert.Equal(t, ids, board.Rows[0].Cards[col], col)
			}
		})
	}
}

func TestMigrateV4DropsDanglingReferences(t *testing.T) {
	out, _, err := Migrate(loadFixture(t, "v4_dangling.json"))
	require.NoError(t, err)
	d := toDocument(t, out)

	row := d.Boards["board_1"].Rows[0]
	assert.Equal(t, []string{"task_1"}, row.Cards["todo"])
	assert.Empty(t, row.ProjectID)
	assert.Empty(t, d.Relationships)
	assert.Empty(t, d.Entities["task_1"].TagIDs)
	assert.True(t, Validate(out).Valid)
}

func TestRunNullRecords(t *testing.T) {
	t.Run("null bucket is the nested layout", func(t *testing.T) {
		doc, err := Parse([]byte(`{"entities":{"tasks":null}}`))
		require.NoError(t, err)
		assert.Equal(t, V4, DetectVersion(doc))

		res, err := Run([]byte(`{"entities":{"tasks":null}}`))
		require.NoError(t, err)
		assert.Equal(t, V4, res.SourceVersion)
		assert.Empty(t, res.Document.Entities)
	})
	t.Run("null record is reported", func(t *testing.T) {
		for _, raw := range []string{
			`{"version":"5.0","entities":{"task_1":null}}`,
			`{"version":"5.0","boards":{"board_1":null}}`,
		} {
			res, err := Run([]byte(raw))
			require.Error(t, err, raw)
			assert.ErrorIs(t, err, types.ErrValidationFailedAfterMigration)
			require.NotNil(t, res)
			assert.Contains(t, strings.Join(res.Validation.Errors, "\n"), "record is null")
		}
	})
}
