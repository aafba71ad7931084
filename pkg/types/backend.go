package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// BackendID names a storage backend implementation.
type BackendID string

// Known backends. The document backend keeps the whole state in a single JSON
// document; the indexed backend keeps one table per collection.
const (
	BackendDocument BackendID = "document"
	BackendIndexed  BackendID = "indexed"
)

// Collection names a logical collection shared by both backends.
type Collection string

// Standard collections.
const (
	CollectionEntities      Collection = "entities"
	CollectionBoards        Collection = "boards"
	CollectionRelationships Collection = "relationships"
	CollectionTags          Collection = "tags"
	CollectionPeople        Collection = "people"
	CollectionWeeklyPlans   Collection = "weeklyPlans"
	CollectionTemplates     Collection = "templates"
	CollectionMeta          Collection = "meta"
)

// Collections lists every collection in load order: records referenced by
// others come first.
var Collections = []Collection{
	CollectionMeta,
	CollectionTags,
	CollectionPeople,
	CollectionEntities,
	CollectionRelationships,
	CollectionBoards,
	CollectionTemplates,
	CollectionWeeklyPlans,
}

// DataCollections lists the collections holding user data (everything except meta).
var DataCollections = Collections[1:]

// Index names usable with Backend.GetByIndex. Each name is also the JSON path
// of the indexed field inside the record.
const (
	IndexType             = "type"
	IndexEntityID         = "entityId"
	IndexRelatedID        = "relatedId"
	IndexRelationshipType = "relationshipType"
	IndexName             = "name"
	IndexWeekStart        = "weekStart"
)

// CollectionIndexes declares the secondary indexes of each collection.
var CollectionIndexes = map[Collection][]string{
	CollectionEntities:      {IndexType},
	CollectionRelationships: {IndexEntityID, IndexRelatedID, IndexRelationshipType},
	CollectionTags:          {IndexName},
	CollectionPeople:        {IndexName},
	CollectionWeeklyPlans:   {IndexWeekStart},
}

// Meta record ids.
const (
	MetaVersion        = "version"
	MetaCurrentBoardID = "currentBoardId"
	MetaCounters       = "counters"
	MetaMigration      = "migration"
)

// Record is the unit stored by a backend: an id and the record's JSON.
type Record struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// UpdatedAt returns the record's updatedAt timestamp, falling back to
// createdAt. Records without either return the zero time.
func (r Record) UpdatedAt() time.Time {
	for _, path := range []string{"updatedAt", "createdAt"} {
		v := gjson.GetBytes(r.Data, path)
		if !v.Exists() {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, v.String()); err == nil {
			return t
		}
	}
	return time.Time{}
}

// IndexValue extracts the value of an index field from the record JSON.
func (r Record) IndexValue(index string) string {
	return gjson.GetBytes(r.Data, index).String()
}

// NewRecord marshals v into a Record with the given id.
func NewRecord(id string, v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Data: data}, nil
}

// Decode unmarshals the record JSON into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// ValidCollection reports whether c is a standard collection.
func ValidCollection(c Collection) bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// ValidIndex reports whether index is declared for collection c.
func ValidIndex(c Collection, index string) bool {
	for _, name := range CollectionIndexes[c] {
		if name == index {
			return true
		}
	}
	return false
}

// Backend is the narrow persistence interface implemented identically by the
// document store and the indexed store. Every operation is keyed by id within
// a collection.
type Backend interface {
	// Name identifies the backend implementation.
	Name() BackendID

	// Get returns the record with the given id.
	// Returns ErrNotFound if the record does not exist.
	Get(ctx context.Context, c Collection, id string) (Record, error)

	// GetAll returns every record in the collection, ordered by id.
	GetAll(ctx context.Context, c Collection) ([]Record, error)

	// GetByIndex returns the records whose index field equals value, ordered
	// by id. Returns ErrUnknownIndex if the index is not declared.
	GetByIndex(ctx context.Context, c Collection, index, value string) ([]Record, error)

	// Put creates or replaces a record.
	Put(ctx context.Context, c Collection, rec Record) error

	// Delete removes a record. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, c Collection, id string) error

	// Clear removes every record in the collection.
	Clear(ctx context.Context, c Collection) error

	// Close releases backend resources. Idempotent.
	Close() error
}

// Snapshotter is implemented by backends that can capture and restore their
// complete persisted state byte-for-byte.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
	Restore(ctx context.Context, data []byte) error
}
