package migrate

import (
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// step upgrades a document by exactly one version. Steps receive a private
// copy and may modify it in place.
type step struct {
	from, to Version
	apply    func(doc Doc) (Doc, error)
}

// Name returns the step name, e.g. "v2.5->v3".
func (s step) Name() string {
	return s.from.Label() + "->" + s.to.Label()
}

var steps = []step{
	{from: V1, to: V2, apply: v1ToV2},
	{from: V2, to: V25, apply: v2ToV25},
	{from: V25, to: V3, apply: v25ToV3},
	{from: V3, to: V4, apply: v3ToV4},
	{from: V4, to: V5, apply: v4ToV5},
}

func stepFrom(v Version) (step, bool) {
	for _, s := range steps {
		if s.from == v {
			return s, true
		}
	}
	return step{}, false
}

// normalizeColumns turns ["todo", {key, name}] into [{key, name}].
func normalizeColumns(v any) []any {
	cols, _ := asSlice(v)
	out := make([]any, 0, len(cols))
	seen := map[string]bool{}
	for _, c := range cols {
		var key, name string
		if m, ok := asMap(c); ok {
			key = firstString(m, "key", "id", "name")
			name = firstString(m, "name", "title", "key", "id")
		} else {
			key = asString(c)
			name = key
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, map[string]any{"key": key, "name": name})
	}
	return out
}

func columnKeys(cols []any) map[string]bool {
	keys := map[string]bool{}
	for _, c := range cols {
		if m, ok := asMap(c); ok {
			keys[asString(m["key"])] = true
		}
	}
	return keys
}

// v1ToV2 wraps the single board under board_1 with one row holding the
// card columns.
func v1ToV2(doc Doc) (Doc, error) {
	name := firstString(doc, "boardName", "name", "title")
	if name == "" {
		name = "Default"
	}
	cols := normalizeColumns(doc["columns"])
	known := columnKeys(cols)

	cards := map[string]any{}
	addCards := func(key string, v any) {
		if key == "" {
			return
		}
		list, _ := asSlice(v)
		existing, ok := asSlice(cards[key])
		if !ok {
			existing = []any{}
		}
		cards[key] = append(existing, list...)
		if !known[key] {
			cols = append(cols, map[string]any{"key": key, "name": key})
			known[key] = true
		}
	}
	if m, ok := asMap(doc["cards"]); ok {
		for _, key := range sortedKeys(m) {
			addCards(key, m[key])
		}
	}
	// Column objects may carry their own card lists.
	rawCols, _ := asSlice(doc["columns"])
	for _, c := range rawCols {
		if m, ok := asMap(c); ok {
			if v, has := m["cards"]; has {
				addCards(firstString(m, "key", "id", "name"), v)
			}
		}
	}

	boardID := types.FormatID(types.KindBoard, 1)
	board := map[string]any{
		"id":           boardID,
		"name":         name,
		"groups":       []any{},
		"columns":      cols,
		"rows":         []any{map[string]any{"id": types.FormatID(types.KindRow, 1), "name": "Default", "cards": cards}},
		"nextRowId":    2,
		"nextColumnId": 1,
		"nextGroupId":  1,
	}

	out := Doc{}
	for k, v := range doc {
		switch k {
		case "boardName", "name", "title", "columns", "cards":
		default:
			out[k] = v
		}
	}
	out["version"] = string(V2)
	out["boards"] = map[string]any{boardID: board}
	out["currentBoardId"] = boardID
	raiseCounter(out, "nextBoardId", 2)
	return out, nil
}

func v2ToV25(doc Doc) (Doc, error) {
	if _, ok := doc["templates"]; !ok {
		doc["templates"] = []any{}
	}
	raiseCounter(doc, "nextTemplateId", 1)
	doc["version"] = string(V25)
	return doc, nil
}

func v25ToV3(doc Doc) (Doc, error) {
	if _, ok := asMap(doc["weeklyPlans"]); !ok {
		doc["weeklyPlans"] = map[string]any{}
	}
	raiseCounter(doc, "nextWeeklyItemId", 1)
	doc["version"] = string(V3)
	return doc, nil
}

// liftBoardCards moves cards held on a board itself or inside its column
// objects into the first row, creating a default row when the board has none.
func liftBoardCards(board map[string]any) {
	lifted := map[string][]any{}
	if m, ok := asMap(board["cards"]); ok {
		for _, col := range sortedKeys(m) {
			list, _ := asSlice(m[col])
			lifted[col] = append(lifted[col], list...)
		}
	}
	delete(board, "cards")
	cols, _ := asSlice(board["columns"])
	for _, c := range cols {
		m, ok := asMap(c)
		if !ok {
			continue
		}
		if list, ok := asSlice(m["cards"]); ok {
			if key := firstString(m, "key", "id", "name"); key != "" {
				lifted[key] = append(lifted[key], list...)
			}
		}
		delete(m, "cards")
	}
	if len(lifted) == 0 {
		return
	}

	rows, _ := asSlice(board["rows"])
	var row map[string]any
	if len(rows) > 0 {
		// A first row that is not an object gets a default row ahead of it.
		row, _ = asMap(rows[0])
	}
	if row == nil {
		row = map[string]any{"id": types.FormatID(types.KindRow, 1), "name": "Default"}
		board["rows"] = append([]any{row}, rows...)
	}
	cards, ok := asMap(row["cards"])
	if !ok {
		cards = map[string]any{}
		row["cards"] = cards
	}
	for _, col := range sortedKeys(lifted) {
		existing, _ := asSlice(cards[col])
		cards[col] = append(existing, lifted[col]...)
	}
}

// liftAllBoardCards applies liftBoardCards to every board of doc.
func liftAllBoardCards(doc Doc) {
	boards, _ := asMap(doc["boards"])
	for _, bid := range sortedKeys(boards) {
		if board, ok := asMap(boards[bid]); ok {
			liftBoardCards(board)
		}
	}
}

// embeddedCards returns every card object held in a board row, in board,
// row and column order.
func embeddedCards(doc Doc) []map[string]any {
	var out []map[string]any
	boards, _ := asMap(doc["boards"])
	for _, bid := range sortedKeys(boards) {
		board, ok := asMap(boards[bid])
		if !ok {
			continue
		}
		rows, _ := asSlice(board["rows"])
		for _, r := range rows {
			row, ok := asMap(r)
			if !ok {
				continue
			}
			cards, _ := asMap(row["cards"])
			for _, col := range sortedKeys(cards) {
				list, _ := asSlice(cards[col])
				for _, c := range list {
					if card, ok := asMap(c); ok {
						out = append(out, card)
					}
				}
			}
		}
	}
	return out
}

// maxCardNum returns the largest numeric card id in the document.
func maxCardNum(doc Doc) int {
	hi := 0
	for _, card := range embeddedCards(doc) {
		if n, ok := prefixedNum(card["id"], types.KindTask); ok && n > hi {
			hi = n
		}
	}
	return hi
}

// v3ToV4 moves embedded subtasks and checklist items out of cards into typed
// entities. Subtask tasks are numbered above every card id so that card n can
// later become task_n without a collision.
func v3ToV4(doc Doc) (Doc, error) {
	liftAllBoardCards(doc)
	entities := map[string]any{}
	if existing, ok := asMap(doc["entities"]); ok {
		entities = existing
	}
	buckets := map[string]map[string]any{}
	for _, b := range nestedEntityBuckets {
		m, ok := asMap(entities[b])
		if !ok {
			m = map[string]any{}
		}
		buckets[b] = m
		entities[b] = m
	}

	relationships := map[string]any{}
	if existing, ok := asMap(doc["relationships"]); ok {
		relationships = existing
	}
	entityTasks, ok := asMap(relationships["entityTasks"])
	if !ok {
		entityTasks = map[string]any{}
	}

	nextTask := max(maxCardNum(doc)+1, types.MaxSuffix(types.KindTask, buckets["tasks"])+1, counterValue(doc, "nextTaskId"))
	nextChecklist := max(types.MaxSuffix(types.KindChecklist, buckets["checklists"])+1, counterValue(doc, "nextChecklistId"), 1)

	for _, card := range embeddedCards(doc) {
		cardID := asString(card["id"])
		title := firstString(card, "title", "name")

		if subtasks, ok := asSlice(card["subtasks"]); ok {
			var ids []any
			for _, st := range subtasks {
				task := map[string]any{"type": string(types.EntityTask), "completed": false}
				if m, ok := asMap(st); ok {
					task["title"] = firstString(m, "title", "text", "name")
					task["completed"] = asBool(m["completed"]) || asBool(m["done"])
				} else {
					task["title"] = asString(st)
				}
				if task["title"] == "" {
					task["title"] = "Subtask"
				}
				id := types.FormatID(types.KindTask, nextTask)
				nextTask++
				task["id"] = id
				task["parentCardId"] = cardID
				buckets["tasks"][id] = task
				ids = append(ids, id)
			}
			delete(card, "subtasks")
			card["subtaskIds"] = ids
			if cardID != "" && len(ids) > 0 {
				entityTasks[cardID] = ids
			}
		}

		if items, ok := asSlice(card["checklist"]); ok {
			delete(card, "checklist")
			if len(items) == 0 {
				continue
			}
			var list []any
			for _, it := range items {
				item := map[string]any{}
				if m, ok := asMap(it); ok {
					item["text"] = firstString(m, "text", "title", "name")
					item["done"] = asBool(m["done"]) || asBool(m["completed"])
				} else {
					item["text"] = asString(it)
					item["done"] = false
				}
				list = append(list, item)
			}
			id := types.FormatID(types.KindChecklist, nextChecklist)
			nextChecklist++
			checklistTitle := "Checklist"
			if title != "" {
				checklistTitle = title + " checklist"
			}
			buckets["checklists"][id] = map[string]any{
				"id":        id,
				"type":      string(types.EntityChecklist),
				"title":     checklistTitle,
				"completed": false,
				"items":     list,
			}
			card["checklistIds"] = []any{id}
		}
	}

	relationships["entityTasks"] = entityTasks
	doc["entities"] = entities
	doc["relationships"] = relationships
	raiseCounter(doc, "nextTaskId", nextTask)
	raiseCounter(doc, "nextChecklistId", nextChecklist)
	raiseCounter(doc, "nextNoteId", 1)
	raiseCounter(doc, "nextProjectId", 1)
	doc["version"] = string(V4)
	return doc, nil
}
