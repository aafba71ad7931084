package migrate

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// entityKnownKeys are the source keys consumed by entityFrom; every other key
// is carried over into the entity's attribute bag.
var entityKnownKeys = map[string]bool{
	"id": true, "type": true, "title": true, "name": true, "content": true,
	"description": true, "text": true, "completed": true, "done": true,
	"priority": true, "dueDate": true, "due": true, "createdAt": true,
	"updatedAt": true, "completedAt": true, "tags": true, "tagIds": true,
	"people": true, "personIds": true, "subtaskIds": true, "checklistIds": true,
	"noteIds": true, "items": true, "milestones": true, "email": true,
	"parentCardId": true, "attributes": true,
}

var bucketTypes = map[string]types.EntityType{
	"tasks":      types.EntityTask,
	"notes":      types.EntityNote,
	"checklists": types.EntityChecklist,
	"projects":   types.EntityProject,
}

// pendingLinks are references collected while converting an entity and
// resolved once every registry is complete.
type pendingLinks struct {
	entityID    string
	tags        []any
	people      []any
	attachments []string
	parentCard  string
}

// v5Builder assembles the normalized document from a v4 source.
type v5Builder struct {
	src Doc
	doc *types.Document

	used    map[string]bool
	hi      map[string]int
	next    map[string]int
	cardIDs map[string]string

	tagByName    map[string]string
	personByName map[string]string
	pending      []pendingLinks
}

// v4ToV5 flattens the typed entity buckets into one entities map, turns
// cards into Task entities referenced by id from board rows, weekly items
// into entity references, card tag strings into Tag records with tag
// relationships, and the templates array into an id-keyed map.
func v4ToV5(src Doc) (Doc, error) {
	liftAllBoardCards(src)
	b := &v5Builder{
		src:          src,
		doc:          types.NewDocument(),
		used:         map[string]bool{},
		hi:           map[string]int{},
		next:         map[string]int{},
		cardIDs:      map[string]string{},
		tagByName:    map[string]string{},
		personByName: map[string]string{},
	}
	b.seedCounters()
	b.seedTags()
	b.seedPeople()
	b.flattenEntities()
	b.convertBoards()
	b.linkEntityTasks()
	b.resolvePending()
	b.keepRelationships()
	b.convertWeeklyPlans()
	b.convertTemplates()
	b.finishEntities()
	b.pruneBoards()
	b.doc.ReconcileCounters()

	data, err := json.Marshal(b.doc)
	if err != nil {
		return nil, fmt.Errorf("encoding v5 document: %w", err)
	}
	out, err := decode(data)
	if err != nil {
		return nil, err
	}
	for k, v := range src {
		if _, ok := out[k]; ok {
			continue
		}
		switch k {
		case "nextCardId", "boardName", "cards", "columns":
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Id allocation. Existing ids are reserved first; fresh ids are handed out
// above every reserved id of the same kind.

func (b *v5Builder) reserve(id string) {
	b.used[id] = true
	if kind, n, ok := types.ParseID(id); ok && n > b.hi[kind] {
		b.hi[kind] = n
	}
}

func (b *v5Builder) alloc(kind string) string {
	if _, ok := b.next[kind]; !ok {
		b.next[kind] = b.hi[kind] + 1
		if c, ok := b.doc.Counters.Get(kind); ok && c > b.next[kind] {
			b.next[kind] = c
		}
	}
	for {
		id := types.FormatID(kind, b.next[kind])
		b.next[kind]++
		if !b.used[id] {
			b.used[id] = true
			return id
		}
	}
}

func (b *v5Builder) seedCounters() {
	for _, kind := range types.CounterKinds {
		key := "next" + strings.ToUpper(kind[:1]) + kind[1:] + "Id"
		if kind == types.KindWeekItem {
			key = "nextWeeklyItemId"
		}
		if n := counterValue(b.src, key); n > 0 {
			b.doc.Counters.Raise(kind, n)
		}
	}
}

func (b *v5Builder) seedTags() {
	keys, objs := objects(b.src["tags"])
	var fresh []map[string]any
	for i, o := range objs {
		id := normalizeRef(firstString(o, "id"), types.KindTag)
		if id == "" {
			id = keys[i]
		}
		if k, _, ok := types.ParseID(id); !ok || k != types.KindTag || b.used[id] {
			fresh = append(fresh, o)
			continue
		}
		b.reserve(id)
		b.addTag(id, o)
	}
	if list, ok := asSlice(b.src["tags"]); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				fresh = append(fresh, map[string]any{"name": s})
			}
		}
	}
	for _, o := range fresh {
		name := firstString(o, "name", "title")
		if name == "" || b.tagByName[strings.ToLower(name)] != "" {
			continue
		}
		b.addTag(b.alloc(types.KindTag), o)
	}
}

func (b *v5Builder) addTag(id string, o map[string]any) {
	name := firstString(o, "name", "title")
	if name == "" {
		name = id
	}
	tag := &types.Tag{ID: id, Name: name, Color: firstString(o, "color")}
	if t, ok := parseTime(o["createdAt"]); ok {
		tag.CreatedAt = t
	}
	b.doc.Tags[id] = tag
	if _, dup := b.tagByName[strings.ToLower(name)]; !dup {
		b.tagByName[strings.ToLower(name)] = id
	}
}

func (b *v5Builder) seedPeople() {
	keys, objs := objects(b.src["people"])
	var fresh []map[string]any
	for i, o := range objs {
		id := normalizeRef(firstString(o, "id"), types.KindPerson)
		if id == "" {
			id = keys[i]
		}
		if k, _, ok := types.ParseID(id); !ok || k != types.KindPerson || b.used[id] {
			fresh = append(fresh, o)
			continue
		}
		b.reserve(id)
		b.addPerson(id, o)
	}
	if list, ok := asSlice(b.src["people"]); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				fresh = append(fresh, map[string]any{"name": s})
			}
		}
	}
	for _, o := range fresh {
		name := firstString(o, "name", "title")
		if name == "" || b.personByName[strings.ToLower(name)] != "" {
			continue
		}
		b.addPerson(b.alloc(types.KindPerson), o)
	}
}

func (b *v5Builder) addPerson(id string, o map[string]any) {
	name := firstString(o, "name", "title")
	if name == "" {
		name = id
	}
	e := b.entityFrom(o, types.EntityPerson, id)
	e.Title = name
	b.doc.Entities[id] = e
	b.doc.People[id] = &types.PersonRef{ID: id, Name: name, CreatedAt: e.CreatedAt}
	if _, dup := b.personByName[strings.ToLower(name)]; !dup {
		b.personByName[strings.ToLower(name)] = id
	}
}

// flattenEntities moves every typed bucket entity into the flat map.
func (b *v5Builder) flattenEntities() {
	src, _ := asMap(b.src["entities"])
	type item struct {
		typ types.EntityType
		obj map[string]any
	}
	var fresh []item
	for _, bucket := range nestedEntityBuckets {
		typ := bucketTypes[bucket]
		keys, objs := objects(src[bucket])
		for i, o := range objs {
			id := normalizeRef(firstString(o, "id"), typ.Prefix())
			if id == "" {
				id = keys[i]
			}
			if k, _, ok := types.ParseID(id); !ok || k != typ.Prefix() || b.used[id] {
				fresh = append(fresh, item{typ, o})
				continue
			}
			b.reserve(id)
			b.doc.Entities[id] = b.entityFrom(o, typ, id)
		}
	}
	// Cards keep their numeric ids as task ids, so reserve them before any
	// fresh task id is handed out.
	for _, card := range embeddedCards(b.src) {
		if n, ok := prefixedNum(card["id"], types.KindTask); ok {
			b.reserve(types.FormatID(types.KindTask, n))
		}
	}
	for _, it := range fresh {
		id := b.alloc(it.typ.Prefix())
		b.doc.Entities[id] = b.entityFrom(it.obj, it.typ, id)
	}
}

// entityFrom converts a source object into an entity and queues its links.
func (b *v5Builder) entityFrom(o map[string]any, typ types.EntityType, id string) *types.Entity {
	e := &types.Entity{
		ID:      id,
		Type:    typ,
		Title:   firstString(o, "title", "name", "text"),
		Content: firstString(o, "content", "description"),
	}
	if typ == types.EntityNote && e.Content == "" && firstString(o, "title", "name") != "" {
		e.Content = firstString(o, "text")
	}
	if e.Title == "" {
		e.Title = "Untitled"
	}
	if typ.Completable() {
		e.Completed = asBool(o["completed"]) || asBool(o["done"])
	}
	if p := types.Priority(strings.ToLower(asString(o["priority"]))); p != "" && p.Valid() {
		e.Priority = p
	}
	for _, key := range []string{"dueDate", "due"} {
		if t, ok := parseTime(o[key]); ok {
			e.DueDate = &t
			break
		}
	}
	if t, ok := parseTime(o["createdAt"]); ok {
		e.CreatedAt = t
	}
	if t, ok := parseTime(o["updatedAt"]); ok {
		e.UpdatedAt = t
	} else {
		e.UpdatedAt = e.CreatedAt
	}

	switch typ {
	case types.EntityTask:
		p := &types.TaskPayload{}
		if list, ok := asSlice(o["subtaskIds"]); ok {
			for _, v := range list {
				if ref := normalizeRef(v, types.KindTask); ref != "" {
					p.SubtaskIDs = append(p.SubtaskIDs, ref)
				}
			}
		}
		if e.Completed {
			if t, ok := parseTime(o["completedAt"]); ok {
				p.CompletedAt = &t
			}
		}
		if len(p.SubtaskIDs) > 0 || p.CompletedAt != nil {
			e.Task = p
		}
	case types.EntityChecklist:
		p := &types.ChecklistPayload{}
		items, _ := asSlice(o["items"])
		for _, it := range items {
			if m, ok := asMap(it); ok {
				p.Items = append(p.Items, types.ChecklistItem{
					Text: firstString(m, "text", "title", "name"),
					Done: asBool(m["done"]) || asBool(m["completed"]),
				})
			} else if s := asString(it); s != "" {
				p.Items = append(p.Items, types.ChecklistItem{Text: s})
			}
		}
		if len(p.Items) > 0 {
			e.Checklist = p
		}
	case types.EntityProject:
		p := &types.ProjectPayload{}
		ms, _ := asSlice(o["milestones"])
		for _, it := range ms {
			m, ok := asMap(it)
			if !ok {
				continue
			}
			mile := types.Milestone{Title: firstString(m, "title", "name"), Done: asBool(m["done"]) || asBool(m["completed"])}
			if t, ok := parseTime(m["dueDate"]); ok {
				mile.DueDate = &t
			}
			p.Milestones = append(p.Milestones, mile)
		}
		if len(p.Milestones) > 0 {
			e.Project = p
		}
	case types.EntityPerson:
		if email := firstString(o, "email"); email != "" {
			e.Person = &types.PersonPayload{Email: email}
		}
	}

	if attrs, ok := asMap(o["attributes"]); ok {
		for k, v := range attrs {
			b.setAttribute(e, k, v)
		}
	}
	for _, k := range sortedKeys(o) {
		if !entityKnownKeys[k] {
			b.setAttribute(e, k, o[k])
		}
	}

	links := pendingLinks{entityID: id, parentCard: asString(o["parentCardId"])}
	for _, key := range []string{"tags", "tagIds"} {
		if list, ok := asSlice(o[key]); ok {
			links.tags = append(links.tags, list...)
		}
	}
	for _, key := range []string{"people", "personIds"} {
		if list, ok := asSlice(o[key]); ok {
			links.people = append(links.people, list...)
		}
	}
	for key, kind := range map[string]string{"checklistIds": types.KindChecklist, "noteIds": types.KindNote} {
		list, _ := asSlice(o[key])
		for _, v := range list {
			if ref := normalizeRef(v, kind); ref != "" {
				links.attachments = append(links.attachments, ref)
			}
		}
	}
	slices.Sort(links.attachments)
	b.pending = append(b.pending, links)
	return e
}

func (b *v5Builder) setAttribute(e *types.Entity, k string, v any) {
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	e.Attributes[k] = v
}

// taskIDForCard returns the task id of a card, assigning a fresh one when the
// card id is missing, non-numeric or already taken by another card.
func (b *v5Builder) taskIDForCard(card map[string]any, claimed map[string]bool) string {
	raw := asString(card["id"])
	if n, ok := prefixedNum(card["id"], types.KindTask); ok {
		id := types.FormatID(types.KindTask, n)
		if !claimed[id] {
			claimed[id] = true
			if _, seen := b.cardIDs[raw]; !seen && raw != "" {
				b.cardIDs[raw] = id
			}
			return id
		}
	}
	id := b.alloc(types.KindTask)
	claimed[id] = true
	if _, seen := b.cardIDs[raw]; !seen && raw != "" {
		b.cardIDs[raw] = id
	}
	return id
}

// convertBoards rewrites every board into v5 shape. Embedded cards become
// Task entities and rows keep only their ids.
func (b *v5Builder) convertBoards() {
	boards, _ := asMap(b.src["boards"])
	claimed := map[string]bool{}
	boardIDs := map[string]string{}

	for _, key := range sortedKeys(boards) {
		src, ok := asMap(boards[key])
		if !ok {
			continue
		}
		id := normalizeRef(firstString(src, "id"), types.KindBoard)
		if id == "" {
			id = normalizeRef(key, types.KindBoard)
		}
		if _, dup := b.doc.Boards[id]; dup || id == "" {
			id = b.alloc(types.KindBoard)
		} else {
			b.reserve(id)
		}
		boardIDs[key] = id
		b.doc.Boards[id] = b.convertBoard(id, src, claimed)
	}

	current := asString(b.src["currentBoardId"])
	if mapped, ok := boardIDs[current]; ok {
		b.doc.CurrentBoardID = mapped
	} else if _, ok := b.doc.Boards[normalizeRef(b.src["currentBoardId"], types.KindBoard)]; ok {
		b.doc.CurrentBoardID = normalizeRef(b.src["currentBoardId"], types.KindBoard)
	} else if ids := sortedKeys(b.doc.Boards); len(ids) > 0 {
		b.doc.CurrentBoardID = ids[0]
	}
}

func (b *v5Builder) convertBoard(id string, src map[string]any, claimed map[string]bool) *types.Board {
	board := &types.Board{
		ID:           id,
		Name:         firstString(src, "name", "title"),
		Groups:       []types.Group{},
		Columns:      []types.Column{},
		Rows:         []types.Row{},
		NextRowID:    max(counterValue(src, "nextRowId"), 1),
		NextColumnID: max(counterValue(src, "nextColumnId"), 1),
		NextGroupID:  max(counterValue(src, "nextGroupId"), 1),
	}
	if board.Name == "" {
		board.Name = "Board"
	}
	if t, ok := parseTime(src["createdAt"]); ok {
		board.CreatedAt = t
	}
	if t, ok := parseTime(src["updatedAt"]); ok {
		board.UpdatedAt = t
	}
	for _, c := range normalizeColumns(src["columns"]) {
		m := c.(map[string]any)
		board.Columns = append(board.Columns, types.Column{Key: asString(m["key"]), Name: asString(m["name"])})
	}

	_, groups := objects(src["groups"])
	groupIDs := map[string]bool{}
	for _, g := range groups {
		gid := normalizeRef(firstString(g, "id"), types.KindGroup)
		if gid == "" || groupIDs[gid] {
			gid = types.FormatID(types.KindGroup, board.NextGroupID)
			board.NextGroupID++
		}
		groupIDs[gid] = true
		board.Groups = append(board.Groups, types.Group{ID: gid, Name: firstString(g, "name", "title"), Color: firstString(g, "color")})
	}

	rows, _ := asSlice(src["rows"])
	rowIDs := map[string]bool{}
	for _, r := range rows {
		rm, ok := asMap(r)
		if !ok {
			continue
		}
		row := types.Row{
			ID:        normalizeRef(firstString(rm, "id"), types.KindRow),
			Name:      firstString(rm, "name", "title"),
			GroupID:   normalizeRef(firstString(rm, "groupId"), types.KindGroup),
			ProjectID: normalizeRef(firstString(rm, "projectId"), types.KindProject),
			Cards:     map[string][]string{},
		}
		if row.ID == "" || rowIDs[row.ID] {
			row.ID = types.FormatID(types.KindRow, board.NextRowID)
			board.NextRowID++
		}
		rowIDs[row.ID] = true
		if row.GroupID != "" && !groupIDs[row.GroupID] {
			row.GroupID = ""
		}
		cards, _ := asMap(rm["cards"])
		for _, col := range sortedKeys(cards) {
			if !board.HasColumn(col) {
				board.Columns = append(board.Columns, types.Column{Key: col, Name: col})
			}
			list, _ := asSlice(cards[col])
			ids := []string{}
			for _, c := range list {
				if card, ok := asMap(c); ok {
					ids = append(ids, b.cardToTask(card, claimed))
					continue
				}
				ref := asString(c)
				if mapped, ok := b.cardIDs[ref]; ok {
					ids = append(ids, mapped)
				} else if ref = normalizeRef(c, types.KindTask); ref != "" {
					ids = append(ids, ref)
				}
			}
			row.Cards[col] = ids
		}
		board.Rows = append(board.Rows, row)
	}

	for _, r := range board.Rows {
		if k, n, ok := types.ParseID(r.ID); ok && k == types.KindRow && n >= board.NextRowID {
			board.NextRowID = n + 1
		}
	}
	for _, g := range board.Groups {
		if k, n, ok := types.ParseID(g.ID); ok && k == types.KindGroup && n >= board.NextGroupID {
			board.NextGroupID = n + 1
		}
	}
	for _, c := range board.Columns {
		if k, n, ok := types.ParseID(c.Key); ok && k == types.KindColumn && n >= board.NextColumnID {
			board.NextColumnID = n + 1
		}
	}
	return board
}

// cardToTask converts an embedded card into a Task entity, merging with an
// existing entity of the same id.
func (b *v5Builder) cardToTask(card map[string]any, claimed map[string]bool) string {
	id := b.taskIDForCard(card, claimed)
	task := b.entityFrom(card, types.EntityTask, id)
	if existing, ok := b.doc.Entities[id]; ok {
		if existing.Title == "Untitled" {
			existing.Title = task.Title
		}
		if existing.Content == "" {
			existing.Content = task.Content
		}
		return id
	}
	b.doc.Entities[id] = task
	return id
}

// linkEntityTasks turns relationships.entityTasks into subtask links.
func (b *v5Builder) linkEntityTasks() {
	rels, _ := asMap(b.src["relationships"])
	entityTasks, _ := asMap(rels["entityTasks"])
	for _, cardID := range sortedKeys(entityTasks) {
		parent, ok := b.cardIDs[cardID]
		if !ok {
			parent = normalizeRef(cardID, types.KindTask)
		}
		list, _ := asSlice(entityTasks[cardID])
		for _, v := range list {
			b.addSubtask(parent, normalizeRef(v, types.KindTask))
		}
	}
}

func (b *v5Builder) addSubtask(parentID, childID string) {
	parent, ok := b.doc.Entities[parentID]
	if !ok || parentID == childID {
		return
	}
	if _, ok := b.doc.Entities[childID]; !ok {
		return
	}
	b.addRelationship(types.RelSubtask, parentID, childID)
	if parent.Type != types.EntityTask {
		return
	}
	if parent.Task == nil {
		parent.Task = &types.TaskPayload{}
	}
	if !slices.Contains(parent.Task.SubtaskIDs, childID) {
		parent.Task.SubtaskIDs = append(parent.Task.SubtaskIDs, childID)
	}
}

func (b *v5Builder) addRelationship(t types.RelationshipType, entityID, relatedID string) bool {
	id := types.RelationshipID(t, entityID, relatedID)
	if _, ok := b.doc.Relationships[id]; ok {
		return false
	}
	rel := &types.Relationship{ID: id, EntityID: entityID, RelatedID: relatedID, Type: t}
	if e, ok := b.doc.Entities[entityID]; ok {
		rel.CreatedAt = e.CreatedAt
	}
	b.doc.Relationships[id] = rel
	return true
}

// resolvePending attaches the tags, people, attachments and parent cards
// collected during conversion.
func (b *v5Builder) resolvePending() {
	for _, p := range b.pending {
		e, ok := b.doc.Entities[p.entityID]
		if !ok {
			continue
		}
		for _, v := range p.tags {
			if tagID := b.tagRef(v); tagID != "" && b.addRelationship(types.RelTag, e.ID, tagID) {
				b.doc.Tags[tagID].UsageCount++
				e.TagIDs = withID(e.TagIDs, tagID)
			}
		}
		for _, v := range p.people {
			if personID := b.personRef(v); personID != "" && personID != e.ID && b.addRelationship(types.RelMention, e.ID, personID) {
				b.doc.People[personID].UsageCount++
				e.PersonIDs = withID(e.PersonIDs, personID)
			}
		}
		for _, ref := range p.attachments {
			if _, ok := b.doc.Entities[ref]; ok && ref != e.ID {
				b.addRelationship(types.RelAttachment, e.ID, ref)
			}
		}
		if p.parentCard != "" {
			parent, ok := b.cardIDs[p.parentCard]
			if !ok {
				parent = normalizeRef(p.parentCard, types.KindTask)
			}
			b.addSubtask(parent, e.ID)
		}
	}
	b.pending = nil
}

// tagRef resolves a tag id or name, creating the tag for unknown names.
func (b *v5Builder) tagRef(v any) string {
	s := strings.TrimSpace(asString(v))
	if s == "" {
		return ""
	}
	if _, ok := b.doc.Tags[s]; ok {
		return s
	}
	if id, ok := b.tagByName[strings.ToLower(s)]; ok {
		return id
	}
	id := b.alloc(types.KindTag)
	b.addTag(id, map[string]any{"name": s})
	return id
}

// personRef resolves a person id or name, creating the person for unknown names.
func (b *v5Builder) personRef(v any) string {
	s := strings.TrimSpace(asString(v))
	if s == "" {
		return ""
	}
	if _, ok := b.doc.People[s]; ok {
		return s
	}
	if id, ok := b.personByName[strings.ToLower(s)]; ok {
		return id
	}
	id := b.alloc(types.KindPerson)
	b.addPerson(id, map[string]any{"name": s})
	return id
}

// keepRelationships carries over relationship records already in v5 shape.
func (b *v5Builder) keepRelationships() {
	rels, _ := asMap(b.src["relationships"])
	for _, key := range sortedKeys(rels) {
		o, ok := asMap(rels[key])
		if !ok || key == "entityTasks" {
			continue
		}
		t := types.RelationshipType(firstString(o, "relationshipType", "type"))
		entityID, relatedID := firstString(o, "entityId"), firstString(o, "relatedId")
		if !t.Valid() || !b.resolves(t, entityID, relatedID) {
			continue
		}
		if !b.addRelationship(t, entityID, relatedID) {
			continue
		}
		rel := b.doc.Relationships[types.RelationshipID(t, entityID, relatedID)]
		if ts, ok := parseTime(o["createdAt"]); ok {
			rel.CreatedAt = ts
		}
		switch t {
		case types.RelTag:
			if tag, ok := b.doc.Tags[relatedID]; ok {
				tag.UsageCount++
			}
			if e, ok := b.doc.Entities[entityID]; ok {
				e.TagIDs = withID(e.TagIDs, relatedID)
			}
		case types.RelMention:
			if p, ok := b.doc.People[relatedID]; ok {
				p.UsageCount++
			}
			if e, ok := b.doc.Entities[entityID]; ok {
				e.PersonIDs = withID(e.PersonIDs, relatedID)
			}
		}
	}
}

// resolves reports whether both ends of a relationship exist.
func (b *v5Builder) resolves(t types.RelationshipType, entityID, relatedID string) bool {
	if _, ok := b.doc.Entities[entityID]; !ok {
		return false
	}
	switch t {
	case types.RelTag:
		_, ok := b.doc.Tags[relatedID]
		return ok
	case types.RelMention:
		_, ok := b.doc.People[relatedID]
		return ok
	}
	_, ok := b.doc.Entities[relatedID]
	return ok
}

// convertWeeklyPlans rewrites weekly items into entity references. Free-text
// items become Note entities; items referencing nothing are dropped.
func (b *v5Builder) convertWeeklyPlans() {
	plans, _ := asMap(b.src["weeklyPlans"])

	type rawItem struct {
		obj map[string]any
		day string
	}
	itemsOf := func(plan map[string]any) []rawItem {
		var out []rawItem
		list, _ := asSlice(plan["items"])
		for _, it := range list {
			if m, ok := asMap(it); ok {
				out = append(out, rawItem{m, firstString(m, "day")})
			}
		}
		days, _ := asMap(plan["days"])
		for _, day := range types.Weekdays {
			list, _ := asSlice(days[day])
			for _, it := range list {
				if m, ok := asMap(it); ok {
					out = append(out, rawItem{m, day})
				}
			}
		}
		return out
	}

	for _, key := range sortedKeys(plans) {
		plan, ok := asMap(plans[key])
		if !ok {
			continue
		}
		for _, it := range itemsOf(plan) {
			if id := firstString(it.obj, "id"); id != "" {
				if k, _, ok := types.ParseID(id); ok && k == types.KindWeekItem && !b.used[id] {
					b.reserve(id)
				}
			}
		}
	}

	seenItem := map[string]bool{}
	for _, key := range sortedKeys(plans) {
		plan, ok := asMap(plans[key])
		if !ok {
			continue
		}
		id := firstString(plan, "id")
		if id == "" {
			id = key
		}
		wp := &types.WeeklyPlan{
			ID:        id,
			WeekStart: firstString(plan, "weekStart", "week", "startDate"),
			Items:     []types.WeeklyItem{},
		}
		if wp.WeekStart == "" {
			wp.WeekStart = strings.TrimPrefix(key, "week_")
		}
		if goals, ok := asSlice(plan["goals"]); ok {
			var lines []string
			for _, g := range goals {
				if s := asString(g); s != "" {
					lines = append(lines, s)
				} else if m, ok := asMap(g); ok {
					lines = append(lines, firstString(m, "text", "title"))
				}
			}
			wp.Goals = strings.Join(lines, "\n")
		} else {
			wp.Goals = firstString(plan, "goals")
		}
		if t, ok := parseTime(plan["createdAt"]); ok {
			wp.CreatedAt = t
		}
		if t, ok := parseTime(plan["updatedAt"]); ok {
			wp.UpdatedAt = t
		}

		order := map[string]int{}
		for _, it := range itemsOf(plan) {
			entityID := b.weeklyItemEntity(it.obj)
			if entityID == "" {
				continue
			}
			day := strings.ToLower(it.day)
			if day == "" {
				day = types.Weekdays[0]
			}
			item := types.WeeklyItem{
				ID:        firstString(it.obj, "id"),
				EntityID:  entityID,
				Day:       day,
				Completed: asBool(it.obj["completed"]) || asBool(it.obj["done"]),
			}
			if n, ok := asInt(it.obj["order"]); ok {
				item.Order = n
			} else {
				item.Order = order[day]
			}
			order[day] = max(order[day], item.Order) + 1
			if k, _, ok := types.ParseID(item.ID); !ok || k != types.KindWeekItem || seenItem[item.ID] {
				item.ID = b.alloc(types.KindWeekItem)
			}
			seenItem[item.ID] = true
			wp.Items = append(wp.Items, item)
		}
		b.doc.WeeklyPlans[id] = wp
	}
}

// weeklyItemEntity returns the entity an item points at, creating a Note for
// free-text items.
func (b *v5Builder) weeklyItemEntity(o map[string]any) string {
	for _, key := range []string{"entityId", "cardId", "taskId"} {
		raw := asString(o[key])
		if raw == "" {
			continue
		}
		if mapped, ok := b.cardIDs[raw]; ok {
			return mapped
		}
		ref := normalizeRef(o[key], types.KindTask)
		if _, ok := b.doc.Entities[ref]; ok {
			return ref
		}
		return ""
	}
	text := firstString(o, "text", "title", "content")
	if text == "" {
		return ""
	}
	id := b.alloc(types.KindNote)
	note := &types.Entity{ID: id, Type: types.EntityNote, Title: text}
	if t, ok := parseTime(o["createdAt"]); ok {
		note.CreatedAt, note.UpdatedAt = t, t
	}
	b.doc.Entities[id] = note
	return id
}

// convertTemplates turns the templates array into an id-keyed map.
func (b *v5Builder) convertTemplates() {
	keys, objs := objects(b.src["templates"])
	ids := make([]string, len(objs))
	for i, o := range objs {
		id := normalizeRef(firstString(o, "id"), types.KindTemplate)
		if id == "" {
			id = keys[i]
		}
		if k, _, ok := types.ParseID(id); ok && k == types.KindTemplate && !b.used[id] {
			b.reserve(id)
			ids[i] = id
		}
	}
	for i, o := range objs {
		id := ids[i]
		if id == "" {
			id = b.alloc(types.KindTemplate)
		}
		tpl := &types.Template{ID: id, Name: firstString(o, "name", "title"), Columns: []types.Column{}}
		if tpl.Name == "" {
			tpl.Name = "Template"
		}
		for _, c := range normalizeColumns(o["columns"]) {
			m := c.(map[string]any)
			tpl.Columns = append(tpl.Columns, types.Column{Key: asString(m["key"]), Name: asString(m["name"])})
		}
		rows, _ := asSlice(o["rows"])
		for _, r := range rows {
			if m, ok := asMap(r); ok {
				tpl.Rows = append(tpl.Rows, firstString(m, "name", "title"))
			} else if s := asString(r); s != "" {
				tpl.Rows = append(tpl.Rows, s)
			}
		}
		if t, ok := parseTime(o["createdAt"]); ok {
			tpl.CreatedAt = t
		}
		b.doc.Templates[id] = tpl
	}
}

// pruneBoards drops card and project references that resolve to no entity.
func (b *v5Builder) pruneBoards() {
	for _, id := range sortedKeys(b.doc.Boards) {
		board := b.doc.Boards[id]
		for i := range board.Rows {
			row := &board.Rows[i]
			if _, ok := b.doc.Entities[row.ProjectID]; !ok {
				row.ProjectID = ""
			}
			for col, ids := range row.Cards {
				row.Cards[col] = slices.DeleteFunc(ids, func(ref string) bool {
					_, ok := b.doc.Entities[ref]
					return !ok
				})
			}
		}
	}
}

// finishEntities drops subtask references that resolve to nothing and links
// the remaining ones.
func (b *v5Builder) finishEntities() {
	for _, id := range sortedKeys(b.doc.Entities) {
		e := b.doc.Entities[id]
		if e.Task == nil {
			continue
		}
		e.Task.SubtaskIDs = slices.DeleteFunc(e.Task.SubtaskIDs, func(sub string) bool {
			_, ok := b.doc.Entities[sub]
			return !ok || sub == e.ID
		})
		for _, sub := range e.Task.SubtaskIDs {
			b.addRelationship(types.RelSubtask, e.ID, sub)
		}
		if len(e.Task.SubtaskIDs) == 0 && e.Task.CompletedAt == nil {
			e.Task = nil
		}
	}
}

// withID inserts id into a sorted id set. Callers have already deduplicated
// the relationship, so whether id was new is not needed.
func withID(set []string, id string) []string {
	set, _ = types.AddToSet(set, id)
	return set
}
