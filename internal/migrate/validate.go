package migrate

import (
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// ValidationResult is the outcome of a structural check.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// recordCollections are the id-keyed maps of a current document.
var recordCollections = []string{"boards", "entities", "relationships", "tags", "people", "weeklyPlans", "templates"}

// Validate checks the post-conditions of a migrated document: the version is
// current, every board position, weekly item and relationship endpoint
// resolves, map keys equal record ids and every counter exceeds the largest
// id of its kind.
func Validate(doc Doc) ValidationResult {
	var errs []string
	if v := asString(doc["version"]); v != string(Current) {
		errs = append(errs, fmt.Sprintf("version is %q, want %q", v, Current))
	}
	for _, c := range recordCollections {
		m, _ := asMap(doc[c])
		for _, id := range sortedKeys(m) {
			if m[id] == nil {
				errs = append(errs, fmt.Sprintf("%s.%s: record is null", c, id))
			}
		}
	}
	data, err := json.Marshal(doc)
	if err == nil {
		d := &types.Document{}
		if err = json.Unmarshal(data, d); err == nil {
			d.Normalize()
			errs = append(errs, ValidateDocument(d)...)
		}
	}
	if err != nil {
		errs = append(errs, fmt.Sprintf("document does not match the current schema: %v", err))
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateDocument runs the reference and counter checks on a typed document.
func ValidateDocument(d *types.Document) []string {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}
	hasEntity := func(id string) bool {
		_, ok := d.Entities[id]
		return ok
	}

	for _, id := range sortedKeys(d.Entities) {
		e := d.Entities[id]
		if e.ID != id {
			add("entities.%s: id is %q", id, e.ID)
		}
		if err := e.Validate(); err != nil {
			add("entities.%s: %v", id, err)
		}
		if t, ok := types.EntityTypeForID(id); ok && t != e.Type {
			add("entities.%s: type %s does not match id prefix", id, e.Type)
		}
		for _, tag := range e.TagIDs {
			if _, ok := d.Tags[tag]; !ok {
				add("entities.%s.tagIds: %s does not resolve", id, tag)
			}
		}
		for _, p := range e.PersonIDs {
			if _, ok := d.People[p]; !ok {
				add("entities.%s.personIds: %s does not resolve", id, p)
			}
		}
		if e.Task != nil {
			for _, sub := range e.Task.SubtaskIDs {
				if !hasEntity(sub) {
					add("entities.%s.subtaskIds: %s does not resolve", id, sub)
				}
			}
		}
	}

	if d.CurrentBoardID != "" || len(d.Boards) > 0 {
		if _, ok := d.Boards[d.CurrentBoardID]; !ok {
			add("currentBoardId: %q does not resolve", d.CurrentBoardID)
		}
	}
	for _, id := range sortedKeys(d.Boards) {
		b := d.Boards[id]
		if b.ID != id {
			add("boards.%s: id is %q", id, b.ID)
		}
		if err := b.Validate(); err != nil {
			add("boards.%s: %v", id, err)
		}
		for i, r := range b.Rows {
			if r.ProjectID != "" && !hasEntity(r.ProjectID) {
				add("boards.%s.rows[%d].projectId: %s does not resolve", id, i, r.ProjectID)
			}
			for _, col := range sortedKeys(r.Cards) {
				for _, ref := range r.Cards[col] {
					if !hasEntity(ref) {
						add("boards.%s.rows[%d].cards.%s: %s does not resolve", id, i, col, ref)
					}
				}
			}
		}
	}

	itemIDs := map[string]string{}
	for _, id := range sortedKeys(d.WeeklyPlans) {
		p := d.WeeklyPlans[id]
		if p.ID != id {
			add("weeklyPlans.%s: id is %q", id, p.ID)
		}
		for i, it := range p.Items {
			if !hasEntity(it.EntityID) {
				add("weeklyPlans.%s.items[%d]: entity %s does not resolve", id, i, it.EntityID)
			}
			if other, dup := itemIDs[it.ID]; dup {
				add("weeklyPlans.%s.items[%d]: id %s already used in %s", id, i, it.ID, other)
			}
			itemIDs[it.ID] = id
		}
	}

	for _, id := range sortedKeys(d.Relationships) {
		r := d.Relationships[id]
		if want := types.RelationshipID(r.Type, r.EntityID, r.RelatedID); id != want || r.ID != id {
			add("relationships.%s: id does not match %s", id, want)
		}
		if !r.Type.Valid() {
			add("relationships.%s: unknown type %q", id, r.Type)
			continue
		}
		if !hasEntity(r.EntityID) {
			add("relationships.%s: entity %s does not resolve", id, r.EntityID)
		}
		var ok bool
		switch r.Type {
		case types.RelTag:
			_, ok = d.Tags[r.RelatedID]
		case types.RelMention:
			_, ok = d.People[r.RelatedID]
		default:
			ok = hasEntity(r.RelatedID)
		}
		if !ok {
			add("relationships.%s: related %s does not resolve", id, r.RelatedID)
		}
	}

	for _, id := range sortedKeys(d.Tags) {
		if d.Tags[id].ID != id {
			add("tags.%s: id is %q", id, d.Tags[id].ID)
		}
	}
	for _, id := range sortedKeys(d.People) {
		if d.People[id].ID != id {
			add("people.%s: id is %q", id, d.People[id].ID)
		}
	}
	for _, id := range sortedKeys(d.Templates) {
		if d.Templates[id].ID != id {
			add("templates.%s: id is %q", id, d.Templates[id].ID)
		}
	}

	observed := d.ObservedMax()
	for _, kind := range types.CounterKinds {
		n, _ := d.Counters.Get(kind)
		if n <= observed[kind] {
			add("counter for %s is %d, must exceed %d", kind, n, observed[kind])
		}
	}
	return errs
}
