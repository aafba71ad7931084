package types

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// CurrentVersion is the schema version written by this package.
const CurrentVersion = "5.0"

// Counters holds the per-kind id counters. Each value is the next sequence
// number to hand out and is always greater than every id of that kind.
type Counters struct {
	NextTaskID       int `json:"nextTaskId"`
	NextNoteID       int `json:"nextNoteId"`
	NextChecklistID  int `json:"nextChecklistId"`
	NextProjectID    int `json:"nextProjectId"`
	NextPersonID     int `json:"nextPersonId"`
	NextBoardID      int `json:"nextBoardId"`
	NextTagID        int `json:"nextTagId"`
	NextTemplateID   int `json:"nextTemplateId"`
	NextWeeklyItemID int `json:"nextWeeklyItemId"`
}

// CounterKinds lists the kinds that carry a counter.
var CounterKinds = []string{
	KindTask, KindNote, KindChecklist, KindProject, KindPerson,
	KindBoard, KindTag, KindTemplate, KindWeekItem,
}

// NewCounters returns counters with every value at 1.
func NewCounters() Counters {
	var c Counters
	for _, k := range CounterKinds {
		*c.field(k) = 1
	}
	return c
}

func (c *Counters) field(kind string) *int {
	switch kind {
	case KindTask:
		return &c.NextTaskID
	case KindNote:
		return &c.NextNoteID
	case KindChecklist:
		return &c.NextChecklistID
	case KindProject:
		return &c.NextProjectID
	case KindPerson:
		return &c.NextPersonID
	case KindBoard:
		return &c.NextBoardID
	case KindTag:
		return &c.NextTagID
	case KindTemplate:
		return &c.NextTemplateID
	case KindWeekItem:
		return &c.NextWeeklyItemID
	}
	return nil
}

// Get returns the counter for kind. ok is false for unknown kinds.
func (c *Counters) Get(kind string) (n int, ok bool) {
	p := c.field(kind)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Take returns a fresh id of the given kind and advances the counter.
func (c *Counters) Take(kind string) (string, error) {
	p := c.field(kind)
	if p == nil {
		return "", fmt.Errorf("counter %q: %w", kind, ErrInvalidID)
	}
	if *p < 1 {
		*p = 1
	}
	id := FormatID(kind, *p)
	*p++
	return id, nil
}

// Raise lifts the counter for kind to at least n. Counters never go down.
// Reports whether the counter changed.
func (c *Counters) Raise(kind string, n int) bool {
	p := c.field(kind)
	if p == nil || *p >= n {
		return false
	}
	*p = n
	return true
}

// Document is the complete persisted state in the current schema. It is the
// wire format for export and import and the content of the document backend.
type Document struct {
	Version        string                   `json:"version"`
	CurrentBoardID string                   `json:"currentBoardId"`
	Boards         map[string]*Board        `json:"boards"`
	Entities       map[string]*Entity       `json:"entities"`
	Tags           map[string]*Tag          `json:"tags"`
	People         map[string]*PersonRef    `json:"people"`
	Relationships  map[string]*Relationship `json:"relationships"`
	WeeklyPlans    map[string]*WeeklyPlan   `json:"weeklyPlans"`
	Templates      map[string]*Template     `json:"templates"`
	Counters
}

// NewDocument returns an empty current-version document.
func NewDocument() *Document {
	return &Document{
		Version:       CurrentVersion,
		Boards:        map[string]*Board{},
		Entities:      map[string]*Entity{},
		Tags:          map[string]*Tag{},
		People:        map[string]*PersonRef{},
		Relationships: map[string]*Relationship{},
		WeeklyPlans:   map[string]*WeeklyPlan{},
		Templates:     map[string]*Template{},
		Counters:      NewCounters(),
	}
}

// Normalize replaces nil maps with empty ones and drops null records.
func (d *Document) Normalize() {
	if d.Version == "" {
		d.Version = CurrentVersion
	}
	d.Boards = dropNil(d.Boards)
	d.Entities = dropNil(d.Entities)
	d.Tags = dropNil(d.Tags)
	d.People = dropNil(d.People)
	d.Relationships = dropNil(d.Relationships)
	d.WeeklyPlans = dropNil(d.WeeklyPlans)
	d.Templates = dropNil(d.Templates)
}

// dropNil allocates a missing map and removes null records.
func dropNil[V any](m map[string]*V) map[string]*V {
	if m == nil {
		return map[string]*V{}
	}
	maps.DeleteFunc(m, func(_ string, v *V) bool { return v == nil })
	return m
}

// ObservedMax returns, per counter kind, the largest id suffix in use.
func (d *Document) ObservedMax() map[string]int {
	out := map[string]int{
		KindBoard:    MaxSuffix(KindBoard, d.Boards),
		KindTag:      MaxSuffix(KindTag, d.Tags),
		KindTemplate: MaxSuffix(KindTemplate, d.Templates),
	}
	for _, kind := range []string{KindTask, KindNote, KindChecklist, KindProject, KindPerson} {
		out[kind] = MaxSuffix(kind, d.Entities)
	}
	if n := MaxSuffix(KindPerson, d.People); n > out[KindPerson] {
		out[KindPerson] = n
	}
	for _, p := range d.WeeklyPlans {
		for _, it := range p.Items {
			if k, n, ok := ParseID(it.ID); ok && k == KindWeekItem && n > out[KindWeekItem] {
				out[KindWeekItem] = n
			}
		}
	}
	return out
}

// ReconcileCounters raises every counter to max(existing, observed+1).
// Reports whether any counter changed.
func (d *Document) ReconcileCounters() bool {
	changed := false
	for kind, n := range d.ObservedMax() {
		if d.Counters.Raise(kind, n+1) {
			changed = true
		}
	}
	return changed
}

// Records converts the document into per-collection records, each collection
// sorted by id. Meta records hold the version, the current board and the
// counters.
func (d *Document) Records() (map[Collection][]Record, error) {
	out := make(map[Collection][]Record, len(Collections))
	var err error
	if out[CollectionEntities], err = mapRecords(d.Entities); err != nil {
		return nil, err
	}
	if out[CollectionBoards], err = mapRecords(d.Boards); err != nil {
		return nil, err
	}
	if out[CollectionRelationships], err = mapRecords(d.Relationships); err != nil {
		return nil, err
	}
	if out[CollectionTags], err = mapRecords(d.Tags); err != nil {
		return nil, err
	}
	if out[CollectionPeople], err = mapRecords(d.People); err != nil {
		return nil, err
	}
	if out[CollectionWeeklyPlans], err = mapRecords(d.WeeklyPlans); err != nil {
		return nil, err
	}
	if out[CollectionTemplates], err = mapRecords(d.Templates); err != nil {
		return nil, err
	}
	meta := map[string]any{
		MetaVersion:        d.Version,
		MetaCurrentBoardID: d.CurrentBoardID,
		MetaCounters:       d.Counters,
	}
	if out[CollectionMeta], err = mapRecords(meta); err != nil {
		return nil, err
	}
	return out, nil
}

func mapRecords[V any](m map[string]V) ([]Record, error) {
	recs := make([]Record, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		rec, err := NewRecord(id, m[id])
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", id, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// DocumentFromRecords rebuilds a document from per-collection records.
// Unknown meta records are ignored.
func DocumentFromRecords(recs map[Collection][]Record) (*Document, error) {
	d := NewDocument()
	for _, r := range recs[CollectionMeta] {
		var err error
		switch r.ID {
		case MetaVersion:
			err = r.Decode(&d.Version)
		case MetaCurrentBoardID:
			err = r.Decode(&d.CurrentBoardID)
		case MetaCounters:
			err = r.Decode(&d.Counters)
		}
		if err != nil {
			return nil, fmt.Errorf("decoding meta %s: %w", r.ID, err)
		}
	}
	if err := decodeInto(recs[CollectionEntities], d.Entities); err != nil {
		return nil, err
	}
	if err := decodeInto(recs[CollectionBoards], d.Boards); err != nil {
		return nil, err
	}
	if err := decodeInto(recs[CollectionRelationships], d.Relationships); err != nil {
		return nil, err
	}
	if err := decodeInto(recs[CollectionTags], d.Tags); err != nil {
		return nil, err
	}
	if err := decodeInto(recs[CollectionPeople], d.People); err != nil {
		return nil, err
	}
	if err := decodeInto(recs[CollectionWeeklyPlans], d.WeeklyPlans); err != nil {
		return nil, err
	}
	if err := decodeInto(recs[CollectionTemplates], d.Templates); err != nil {
		return nil, err
	}
	return d, nil
}

// ReadDocument reads every collection of b and assembles the document. The
// version is whatever b's meta records hold.
func ReadDocument(ctx context.Context, b Backend) (*Document, error) {
	recs := make(map[Collection][]Record, len(Collections))
	for _, c := range Collections {
		all, err := b.GetAll(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", c, err)
		}
		recs[c] = all
	}
	doc, err := DocumentFromRecords(recs)
	if err != nil {
		return nil, err
	}
	doc.Normalize()
	return doc, nil
}

func decodeInto[V any](recs []Record, m map[string]*V) error {
	for _, r := range recs {
		v := new(V)
		if err := json.Unmarshal(r.Data, v); err != nil {
			return fmt.Errorf("decoding %s: %w", r.ID, err)
		}
		m[r.ID] = v
	}
	return nil
}

// MigrationMarker records the state of the backend migration workflow. It is
// stored as the "migration" meta record.
type MigrationMarker struct {
	RunID       string    `json:"runId"`
	BackupLabel string    `json:"backupLabel,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
	Complete    bool      `json:"complete"`
}
