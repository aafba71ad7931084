package importer

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Rename kinds reported in a MergeReport.
const (
	KindBoard      = "board"
	KindTemplate   = "template"
	KindEntity     = "entity"
	KindTag        = "tag"
	KindWeeklyItem = "weeklyItem"
)

// Rename is one id rewritten to resolve a collision.
type Rename struct {
	Kind string `json:"kind"`
	From string `json:"from"`
	To   string `json:"to"`
}

// MergeReport summarizes a merge. Unchanged counts incoming records that
// were already present with identical content; Dropped counts incoming
// relationships and weekly items whose endpoints did not survive.
type MergeReport struct {
	Added     int      `json:"added"`
	Unchanged int      `json:"unchanged"`
	Dropped   int      `json:"dropped"`
	Renames   []Rename `json:"renames"`
}

type merger struct {
	out      *types.Document
	counters types.Counters
	report   MergeReport

	tagIDs      map[string]string
	entityIDs   map[string]string
	boardIDs    map[string]string
	exact       map[string]bool
	weeklyItems map[string]bool
}

// Merge folds incoming into existing and returns the merged document. Neither
// input is modified. Incoming boards, templates, entities, tags and weekly
// items whose ids are taken by different content get fresh ids, and every
// reference to them is rewritten. Tags are matched by name, ignoring case.
// Fresh ids are allocated above every id seen on either side, and the
// merged counters never go below the existing ones.
func Merge(existing, incoming *types.Document) (*types.Document, MergeReport) {
	out := cloneDocument(existing)
	in := cloneDocument(incoming)

	m := &merger{
		out:         out,
		counters:    out.Counters,
		tagIDs:      map[string]string{},
		entityIDs:   map[string]string{},
		boardIDs:    map[string]string{},
		exact:       map[string]bool{},
		weeklyItems: map[string]bool{},
	}
	for _, d := range []*types.Document{out, in} {
		for kind, n := range d.ObservedMax() {
			m.counters.Raise(kind, n+1)
		}
		for _, kind := range types.CounterKinds {
			if n, ok := d.Counters.Get(kind); ok {
				m.counters.Raise(kind, n)
			}
		}
	}

	m.mergeTags(in)
	m.mergeEntities(in)
	m.mergePeople(in)
	m.mergeRelationships(in)
	m.mergeBoards(in)
	m.mergeTemplates(in)
	m.mergeWeeklyPlans(in)

	if out.CurrentBoardID == "" && in.CurrentBoardID != "" {
		out.CurrentBoardID = m.boardIDs[in.CurrentBoardID]
	}
	m.recountUsage()
	out.Counters = m.counters
	out.ReconcileCounters()
	return out, m.report
}

func cloneDocument(d *types.Document) *types.Document {
	out := types.NewDocument()
	if d == nil {
		return out
	}
	data, err := json.Marshal(d)
	if err == nil {
		err = json.Unmarshal(data, out)
	}
	if err != nil {
		panic("importer: document does not round-trip: " + err.Error())
	}
	out.Normalize()
	return out
}

func sameContent(a, b any) bool {
	da, err := json.Marshal(a)
	if err != nil {
		return false
	}
	db, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}

// fresh allocates a new id of kind for from and records the rename.
func (m *merger) fresh(kind, from, reportKind string) string {
	id, err := m.counters.Take(kind)
	if err != nil {
		// Entity, board, tag, template and weekly item kinds all carry
		// counters.
		panic(err)
	}
	m.report.Renames = append(m.report.Renames, Rename{Kind: reportKind, From: from, To: id})
	return id
}

// mapIDs rewrites ids through mapping, keeping order and dropping ids that
// have no mapping.
func mapIDs(ids []string, mapping map[string]string) []string {
	var out []string
	for _, id := range ids {
		if to, ok := mapping[id]; ok {
			out = append(out, to)
		}
	}
	return out
}

// mapSet is mapIDs for sorted sets.
func mapSet(ids []string, mapping map[string]string) []string {
	out := mapIDs(ids, mapping)
	slices.Sort(out)
	return slices.Compact(out)
}

func (m *merger) mergeTags(in *types.Document) {
	byName := map[string]string{}
	for id, t := range m.out.Tags {
		byName[strings.ToLower(t.Name)] = id
	}
	for _, id := range slices.Sorted(maps.Keys(in.Tags)) {
		t := in.Tags[id]
		if have, ok := byName[strings.ToLower(t.Name)]; ok {
			m.tagIDs[id] = have
			if have != id {
				m.report.Renames = append(m.report.Renames, Rename{Kind: KindTag, From: id, To: have})
			}
			m.report.Unchanged++
			continue
		}
		newID := id
		if _, taken := m.out.Tags[id]; taken {
			newID = m.fresh(types.KindTag, id, KindTag)
		}
		t.ID = newID
		m.out.Tags[newID] = t
		m.tagIDs[id] = newID
		byName[strings.ToLower(t.Name)] = newID
		m.report.Added++
	}
}

func (m *merger) mergeEntities(in *types.Document) {
	var added []*types.Entity
	for _, id := range slices.Sorted(maps.Keys(in.Entities)) {
		e := in.Entities[id]
		have, taken := m.out.Entities[id]
		switch {
		case taken && sameContent(have, e):
			m.entityIDs[id] = id
			m.exact[id] = true
			m.report.Unchanged++
			continue
		case taken:
			kind := e.Type.Prefix()
			if k, _, ok := types.ParseID(id); ok {
				kind = k
			}
			m.entityIDs[id] = m.fresh(kind, id, KindEntity)
		default:
			m.entityIDs[id] = id
		}
		added = append(added, e)
	}
	// References are rewritten once every entity has its final id.
	for _, e := range added {
		e.ID = m.entityIDs[e.ID]
		e.TagIDs = mapSet(e.TagIDs, m.tagIDs)
		e.PersonIDs = mapSet(e.PersonIDs, m.entityIDs)
		if e.Task != nil {
			e.Task.SubtaskIDs = mapIDs(e.Task.SubtaskIDs, m.entityIDs)
		}
		m.out.Entities[e.ID] = e
		m.report.Added++
	}
}

// mergePeople carries the directory entries of imported Person entities.
func (m *merger) mergePeople(in *types.Document) {
	for _, id := range slices.Sorted(maps.Keys(in.People)) {
		p := in.People[id]
		newID, ok := m.entityIDs[id]
		if !ok || m.exact[id] {
			continue
		}
		if _, taken := m.out.People[newID]; taken {
			continue
		}
		p.ID = newID
		m.out.People[newID] = p
	}
	// Every imported Person needs a directory entry.
	for oldID, newID := range m.entityIDs {
		e := m.out.Entities[newID]
		if m.exact[oldID] || e == nil || e.Type != types.EntityPerson {
			continue
		}
		if _, ok := m.out.People[newID]; !ok {
			m.out.People[newID] = &types.PersonRef{ID: newID, Name: e.Title, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
		}
	}
}

func (m *merger) mergeRelationships(in *types.Document) {
	for _, id := range slices.Sorted(maps.Keys(in.Relationships)) {
		r := in.Relationships[id]
		if m.exact[r.EntityID] {
			// The existing copy of the entity already carries its links.
			continue
		}
		entityID, ok := m.entityIDs[r.EntityID]
		if !ok {
			m.report.Dropped++
			continue
		}
		related := m.entityIDs
		if r.Type == types.RelTag {
			related = m.tagIDs
		}
		relatedID, ok := related[r.RelatedID]
		if !ok {
			m.report.Dropped++
			continue
		}
		r.EntityID, r.RelatedID = entityID, relatedID
		r.ID = types.RelationshipID(r.Type, entityID, relatedID)
		if _, ok := m.out.Relationships[r.ID]; ok {
			m.report.Unchanged++
			continue
		}
		m.out.Relationships[r.ID] = r
		m.report.Added++
	}
}

func (m *merger) mergeBoards(in *types.Document) {
	for _, id := range slices.Sorted(maps.Keys(in.Boards)) {
		b := in.Boards[id]
		have, taken := m.out.Boards[id]
		if taken && sameContent(have, b) {
			m.boardIDs[id] = id
			m.report.Unchanged++
			continue
		}
		newID := id
		if taken {
			newID = m.fresh(types.KindBoard, id, KindBoard)
		}
		b.ID = newID
		for i := range b.Rows {
			row := &b.Rows[i]
			if row.ProjectID != "" {
				row.ProjectID = m.entityIDs[row.ProjectID]
			}
			for col, ids := range row.Cards {
				row.Cards[col] = mapIDs(ids, m.entityIDs)
			}
		}
		m.out.Boards[newID] = b
		m.boardIDs[id] = newID
		m.report.Added++
	}
}

func (m *merger) mergeTemplates(in *types.Document) {
	for _, id := range slices.Sorted(maps.Keys(in.Templates)) {
		t := in.Templates[id]
		have, taken := m.out.Templates[id]
		if taken && sameContent(have, t) {
			m.report.Unchanged++
			continue
		}
		if taken {
			t.ID = m.fresh(types.KindTemplate, id, KindTemplate)
		}
		m.out.Templates[t.ID] = t
		m.report.Added++
	}
}

func (m *merger) mergeWeeklyPlans(in *types.Document) {
	for _, p := range m.out.WeeklyPlans {
		for _, it := range p.Items {
			m.weeklyItems[it.ID] = true
		}
	}
	for _, id := range slices.Sorted(maps.Keys(in.WeeklyPlans)) {
		p := in.WeeklyPlans[id]
		plan, ok := m.out.WeeklyPlans[id]
		if !ok {
			plan = &types.WeeklyPlan{ID: id, WeekStart: p.WeekStart, Goals: p.Goals, Items: []types.WeeklyItem{}, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
			m.out.WeeklyPlans[id] = plan
		}
		for _, it := range p.Items {
			entityID, ok := m.entityIDs[it.EntityID]
			if !ok {
				m.report.Dropped++
				continue
			}
			it.EntityID = entityID
			if slices.Contains(plan.Items, it) {
				m.report.Unchanged++
				continue
			}
			if m.weeklyItems[it.ID] {
				it.ID = m.fresh(types.KindWeekItem, it.ID, KindWeeklyItem)
			}
			m.weeklyItems[it.ID] = true
			plan.Items = append(plan.Items, it)
			m.report.Added++
		}
		if p.UpdatedAt.After(plan.UpdatedAt) {
			plan.UpdatedAt = p.UpdatedAt
		}
	}
}

// recountUsage derives tag and person usage counts from the merged
// relationships.
func (m *merger) recountUsage() {
	tags := map[string]int{}
	people := map[string]int{}
	for _, r := range m.out.Relationships {
		switch r.Type {
		case types.RelTag:
			tags[r.RelatedID]++
		case types.RelMention:
			people[r.RelatedID]++
		}
	}
	for id, t := range m.out.Tags {
		t.UsageCount = tags[id]
	}
	for id, p := range m.out.People {
		p.UsageCount = people[id]
	}
}
