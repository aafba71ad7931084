package sqlite

import "github.com/mesh-intelligence/boardstore/pkg/types"

// Schema DDL, one table per collection. Every table stores the record JSON in
// data plus the columns backing the collection's declared indexes.
const (
	createEntities = `CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`

	createBoards = `CREATE TABLE IF NOT EXISTS boards (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`

	createRelationships = `CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL DEFAULT '',
    related_id TEXT NOT NULL DEFAULT '',
    relationship_type TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`

	createTags = `CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`

	createPeople = `CREATE TABLE IF NOT EXISTS people (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`

	createWeeklyPlans = `CREATE TABLE IF NOT EXISTS weekly_plans (
    id TEXT PRIMARY KEY,
    week_start TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`

	createTemplates = `CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`

	createMeta = `CREATE TABLE IF NOT EXISTS meta (
    id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);`
)

// Index DDL for the declared lookups.
const (
	idxEntitiesType         = `CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);`
	idxRelationshipsEntity  = `CREATE INDEX IF NOT EXISTS idx_relationships_entity ON relationships(entity_id);`
	idxRelationshipsRelated = `CREATE INDEX IF NOT EXISTS idx_relationships_related ON relationships(related_id);`
	idxRelationshipsType    = `CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relationship_type);`
	idxTagsName             = `CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);`
	idxPeopleName           = `CREATE INDEX IF NOT EXISTS idx_people_name ON people(name);`
	idxWeeklyPlansWeekStart = `CREATE INDEX IF NOT EXISTS idx_weekly_plans_week_start ON weekly_plans(week_start);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createEntities,
	createBoards,
	createRelationships,
	createTags,
	createPeople,
	createWeeklyPlans,
	createTemplates,
	createMeta,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxEntitiesType,
	idxRelationshipsEntity,
	idxRelationshipsRelated,
	idxRelationshipsType,
	idxTagsName,
	idxPeopleName,
	idxWeeklyPlansWeekStart,
}

// tableSpec maps a collection to its table and index columns.
type tableSpec struct {
	table   string
	columns map[string]string // index name -> column
}

// indexColumns returns the declared index columns in a stable order along
// with the index names they serve.
func (ts tableSpec) indexColumns(c types.Collection) (names, cols []string) {
	for _, name := range types.CollectionIndexes[c] {
		names = append(names, name)
		cols = append(cols, ts.columns[name])
	}
	return names, cols
}

var tableSpecs = map[types.Collection]tableSpec{
	types.CollectionEntities: {table: "entities", columns: map[string]string{
		types.IndexType: "type",
	}},
	types.CollectionBoards: {table: "boards"},
	types.CollectionRelationships: {table: "relationships", columns: map[string]string{
		types.IndexEntityID:         "entity_id",
		types.IndexRelatedID:        "related_id",
		types.IndexRelationshipType: "relationship_type",
	}},
	types.CollectionTags:   {table: "tags", columns: map[string]string{types.IndexName: "name"}},
	types.CollectionPeople: {table: "people", columns: map[string]string{types.IndexName: "name"}},
	types.CollectionWeeklyPlans: {table: "weekly_plans", columns: map[string]string{
		types.IndexWeekStart: "week_start",
	}},
	types.CollectionTemplates: {table: "templates"},
	types.CollectionMeta:      {table: "meta"},
}
