package types

import (
	"slices"
	"strings"
	"time"
)

// EntityType discriminates the entity variants.
type EntityType string

// Entity types.
const (
	EntityTask      EntityType = "Task"
	EntityNote      EntityType = "Note"
	EntityChecklist EntityType = "Checklist"
	EntityProject   EntityType = "Project"
	EntityPerson    EntityType = "Person"
)

// EntityTypes lists every entity type.
var EntityTypes = []EntityType{EntityTask, EntityNote, EntityChecklist, EntityProject, EntityPerson}

// entityPrefixes maps each entity type to its id prefix.
var entityPrefixes = map[EntityType]string{
	EntityTask:      KindTask,
	EntityNote:      KindNote,
	EntityChecklist: KindChecklist,
	EntityProject:   KindProject,
	EntityPerson:    KindPerson,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	_, ok := entityPrefixes[t]
	return ok
}

// Prefix returns the id prefix (counter kind) for the type.
func (t EntityType) Prefix() string {
	return entityPrefixes[t]
}

// Completable reports whether completion is meaningful for the type.
func (t EntityType) Completable() bool {
	return t == EntityTask || t == EntityChecklist
}

// EntityTypeForID returns the entity type implied by an id prefix.
func EntityTypeForID(id string) (EntityType, bool) {
	kind, _, ok := ParseID(id)
	if !ok {
		return "", false
	}
	for t, p := range entityPrefixes {
		if p == kind {
			return t, true
		}
	}
	return "", false
}

// ParseEntityType parses a type name case-insensitively ("task", "Task").
func ParseEntityType(s string) (EntityType, bool) {
	for _, t := range EntityTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// Priority levels. The zero value means no priority.
type Priority string

// Priorities.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is empty or a known priority.
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TaskPayload holds Task-specific fields.
type TaskPayload struct {
	SubtaskIDs  []string   `json:"subtaskIds,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ChecklistItem is a single line of a checklist.
type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// ChecklistPayload holds Checklist-specific fields.
type ChecklistPayload struct {
	Items       []ChecklistItem `json:"items,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Milestone is a dated goal of a project.
type Milestone struct {
	Title   string     `json:"title"`
	DueDate *time.Time `json:"dueDate,omitempty"`
	Done    bool       `json:"done"`
}

// ProjectPayload holds Project-specific fields.
type ProjectPayload struct {
	Milestones []Milestone `json:"milestones,omitempty"`
}

// PersonPayload holds Person-specific fields.
type PersonPayload struct {
	Email string `json:"email,omitempty"`
}

// Entity is a typed content record. Type is the union discriminant; at most the
// payload matching Type is set. Attributes carries optional fields that have no
// typed home.
type Entity struct {
	ID        string     `json:"id"`
	Type      EntityType `json:"type"`
	Title     string     `json:"title"`
	Content   string     `json:"content,omitempty"`
	Completed bool       `json:"completed"`
	Priority  Priority   `json:"priority,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	TagIDs    []string   `json:"tagIds,omitempty"`
	PersonIDs []string   `json:"personIds,omitempty"`
	CreatedAt time.Time  `json:"createdAt,omitzero"`
	UpdatedAt time.Time  `json:"updatedAt,omitzero"`

	Task      *TaskPayload      `json:"task,omitempty"`
	Checklist *ChecklistPayload `json:"checklist,omitempty"`
	Project   *ProjectPayload   `json:"project,omitempty"`
	Person    *PersonPayload    `json:"person,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty"`
}

// Validate checks the required fields of the entity's variant.
// Returns a *ValidationError describing the first problem found.
func (e *Entity) Validate() error {
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown entity type " + string(e.Type)}
	}
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Reason: string(e.Type) + " requires a title"}
	}
	if !e.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown priority " + string(e.Priority)}
	}
	if e.Completed && !e.Type.Completable() {
		return &ValidationError{Field: "completed", Reason: string(e.Type) + " cannot be completed"}
	}
	payloads := map[EntityType]bool{
		EntityTask:      e.Task != nil,
		EntityChecklist: e.Checklist != nil,
		EntityProject:   e.Project != nil,
		EntityPerson:    e.Person != nil,
	}
	for t, set := range payloads {
		if set && t != e.Type {
			return &ValidationError{Field: "payload", Reason: string(t) + " payload on " + string(e.Type)}
		}
	}
	return nil
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	c.TagIDs = slices.Clone(e.TagIDs)
	c.PersonIDs = slices.Clone(e.PersonIDs)
	if e.DueDate != nil {
		d := *e.DueDate
		c.DueDate = &d
	}
	if e.Task != nil {
		t := *e.Task
		t.SubtaskIDs = slices.Clone(e.Task.SubtaskIDs)
		c.Task = &t
	}
	if e.Checklist != nil {
		cl := *e.Checklist
		cl.Items = slices.Clone(e.Checklist.Items)
		c.Checklist = &cl
	}
	if e.Project != nil {
		p := *e.Project
		p.Milestones = slices.Clone(e.Project.Milestones)
		c.Project = &p
	}
	if e.Person != nil {
		p := *e.Person
		c.Person = &p
	}
	if e.Attributes != nil {
		c.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// Touch sets UpdatedAt to now unless that would move it backwards.
func (e *Entity) Touch(now time.Time) {
	if now.After(e.UpdatedAt) {
		e.UpdatedAt = now
	}
}

// EntityPatch is a partial update. Nil fields are left unchanged. Completion is
// not patchable; use the store's ToggleCompletion.
type EntityPatch struct {
	Title      *string
	Content    *string
	Priority   *Priority
	DueDate    *time.Time
	ClearDue   bool
	Task       *TaskPayload
	Checklist  *ChecklistPayload
	Project    *ProjectPayload
	Person     *PersonPayload
	Attributes map[string]any
}

// Apply merges the patch into e.
func (p EntityPatch) Apply(e *Entity) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
	if p.ClearDue {
		e.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		e.DueDate = &d
	}
	if p.Task != nil {
		e.Task = p.Task
	}
	if p.Checklist != nil {
		e.Checklist = p.Checklist
	}
	if p.Project != nil {
		e.Project = p.Project
	}
	if p.Person != nil {
		e.Person = p.Person
	}
	for k, v := range p.Attributes {
		if e.Attributes == nil {
			e.Attributes = make(map[string]any)
		}
		if v == nil {
			delete(e.Attributes, k)
			continue
		}
		e.Attributes[k] = v
	}
}

// AddToSet inserts id into a sorted set, returning the new set and whether it changed.
func AddToSet(set []string, id string) ([]string, bool) {
	i, found := slices.BinarySearch(set, id)
	if found {
		return set, false
	}
	return slices.Insert(set, i, id), true
}

// RemoveFromSet deletes id from a sorted set, returning the new set and whether it changed.
func RemoveFromSet(set []string, id string) ([]string, bool) {
	i, found := slices.BinarySearch(set, id)
	if !found {
		return set, false
	}
	return slices.Delete(set, i, i+1), true
}
