package types

import (
	"strings"
	"time"
)

// RelationshipType classifies a relationship.
type RelationshipType string

// Relationship types.
const (
	RelTag        RelationshipType = "tag"
	RelMention    RelationshipType = "mention"
	RelSubtask    RelationshipType = "subtask"
	RelAttachment RelationshipType = "attachment"
)

// Valid reports whether t is a known relationship type.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelTag, RelMention, RelSubtask, RelAttachment:
		return true
	}
	return false
}

// Relationship links an entity to a tag, a person or another entity.
type Relationship struct {
	ID        string           `json:"id"`
	EntityID  string           `json:"entityId"`
	RelatedID string           `json:"relatedId"`
	Type      RelationshipType `json:"relationshipType"`
	CreatedAt time.Time        `json:"createdAt,omitzero"`
}

// RelationshipID returns the deterministic id of a relationship.
func RelationshipID(t RelationshipType, entityID, relatedID string) string {
	return string(t) + ":" + entityID + ":" + relatedID
}

// ParseRelationshipID splits a relationship id into its parts.
func ParseRelationshipID(id string) (t RelationshipType, entityID, relatedID string, ok bool) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return RelationshipType(parts[0]), parts[1], parts[2], true
}

// Touches reports whether id is either endpoint of the relationship.
func (r *Relationship) Touches(id string) bool {
	return r.EntityID == id || r.RelatedID == id
}

// Tag is a label attached to entities through tag relationships.
type Tag struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Color      string    `json:"color,omitempty"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}

// PersonRef is an entry of the people directory, one per Person entity.
// UsageCount tracks mention relationships pointing at the person.
type PersonRef struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}
