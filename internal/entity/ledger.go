package entity

import (
	"context"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Ledger owns relationships. It keeps the derived fields in step with the
// relationship records: Entity.TagIDs and Tag.UsageCount for tag links,
// Entity.PersonIDs and PersonRef.UsageCount for mentions, and the parent's
// Task.SubtaskIDs for subtasks.
type Ledger struct {
	s *Store
}

// relatedCollection is where the related end of a relationship lives.
func relatedCollection(t types.RelationshipType) types.Collection {
	switch t {
	case types.RelTag:
		return types.CollectionTags
	case types.RelMention:
		return types.CollectionPeople
	}
	return types.CollectionEntities
}

// relKeys locks both ends, so neither can be deleted between the existence
// check and the relationship write.
func relKeys(entityID, relatedID string, t types.RelationshipType) []string {
	return []string{lockKey(types.CollectionEntities, entityID), lockKey(relatedCollection(t), relatedID)}
}

// Add links entityID to relatedID. Both ends must exist. Adding a link that
// already exists returns it unchanged.
func (l *Ledger) Add(ctx context.Context, entityID, relatedID string, t types.RelationshipType) (*types.Relationship, error) {
	if !t.Valid() {
		return nil, &types.ValidationError{Field: "relationshipType", Reason: "unknown relationship type " + string(t)}
	}
	if entityID == relatedID {
		return nil, &types.ValidationError{Field: "relatedId", Reason: "an entity cannot relate to itself"}
	}
	s := l.s
	b, err := s.primary()
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(relKeys(entityID, relatedID, t)...)
	defer unlock()

	id := types.RelationshipID(t, entityID, relatedID)
	if rel, err := load[types.Relationship](ctx, b, types.CollectionRelationships, "relationship", id); err == nil {
		return rel, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	e, err := load[types.Entity](ctx, b, types.CollectionEntities, "entity", entityID)
	if err != nil {
		return nil, err
	}
	ok, err := exists(ctx, b, relatedCollection(t), relatedID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.NotFoundError{Kind: string(relatedCollection(t)), ID: relatedID}
	}
	if t == types.RelSubtask && e.Type != types.EntityTask {
		return nil, &types.ValidationError{Field: "entityId", Reason: "only a Task can have subtasks"}
	}

	now := s.now()
	rel := &types.Relationship{ID: id, EntityID: entityID, RelatedID: relatedID, Type: t, CreatedAt: now}
	if err := s.write(ctx, b, types.CollectionRelationships, id, rel); err != nil {
		return nil, err
	}
	if attach(e, relatedID, t) {
		e.Touch(now)
		if err := s.write(ctx, b, types.CollectionEntities, e.ID, e); err != nil {
			return nil, err
		}
	}
	if err := l.adjustUsage(ctx, b, relatedID, t, +1); err != nil {
		return nil, err
	}
	s.log.Debug().Str("relationship", id).Msg("relationship added")
	return rel, nil
}

// Remove deletes the link between entityID and relatedID. Reports false when
// it did not exist. Either end may already be gone.
func (l *Ledger) Remove(ctx context.Context, entityID, relatedID string, t types.RelationshipType) (bool, error) {
	s := l.s
	b, err := s.primary()
	if err != nil {
		return false, err
	}
	return l.remove(ctx, b, entityID, relatedID, t)
}

func (l *Ledger) remove(ctx context.Context, b types.Backend, entityID, relatedID string, t types.RelationshipType) (bool, error) {
	s := l.s
	unlock := s.locks.Lock(relKeys(entityID, relatedID, t)...)
	defer unlock()

	removed, err := s.remove(ctx, b, types.CollectionRelationships, types.RelationshipID(t, entityID, relatedID))
	if err != nil || !removed {
		return false, err
	}

	e, err := load[types.Entity](ctx, b, types.CollectionEntities, "entity", entityID)
	switch {
	case isNotFound(err):
	case err != nil:
		return true, err
	case detach(e, relatedID, t):
		e.Touch(s.now())
		if err := s.write(ctx, b, types.CollectionEntities, e.ID, e); err != nil {
			return true, err
		}
	}
	if err := l.adjustUsage(ctx, b, relatedID, t, -1); err != nil {
		return true, err
	}
	return true, nil
}

// adjustUsage moves the usage counter of a tag or person. The caller holds
// the related key. Missing targets are ignored; counts never go below zero.
func (l *Ledger) adjustUsage(ctx context.Context, b types.Backend, relatedID string, t types.RelationshipType, delta int) error {
	s := l.s
	switch t {
	case types.RelTag:
		tag, err := load[types.Tag](ctx, b, types.CollectionTags, "tag", relatedID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		tag.UsageCount = max(0, tag.UsageCount+delta)
		tag.UpdatedAt = later(tag.UpdatedAt, s.now())
		return s.write(ctx, b, types.CollectionTags, tag.ID, tag)
	case types.RelMention:
		p, err := load[types.PersonRef](ctx, b, types.CollectionPeople, "person", relatedID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		p.UsageCount = max(0, p.UsageCount+delta)
		p.UpdatedAt = later(p.UpdatedAt, s.now())
		return s.write(ctx, b, types.CollectionPeople, p.ID, p)
	}
	return nil
}

// attach records relatedID in the derived field of e. Reports whether e
// changed.
func attach(e *types.Entity, relatedID string, t types.RelationshipType) bool {
	var changed bool
	switch t {
	case types.RelTag:
		e.TagIDs, changed = types.AddToSet(e.TagIDs, relatedID)
	case types.RelMention:
		e.PersonIDs, changed = types.AddToSet(e.PersonIDs, relatedID)
	case types.RelSubtask:
		if e.Task == nil {
			e.Task = &types.TaskPayload{}
		}
		if !slices.Contains(e.Task.SubtaskIDs, relatedID) {
			e.Task.SubtaskIDs = append(e.Task.SubtaskIDs, relatedID)
			changed = true
		}
	}
	return changed
}

func detach(e *types.Entity, relatedID string, t types.RelationshipType) bool {
	var changed bool
	switch t {
	case types.RelTag:
		e.TagIDs, changed = types.RemoveFromSet(e.TagIDs, relatedID)
	case types.RelMention:
		e.PersonIDs, changed = types.RemoveFromSet(e.PersonIDs, relatedID)
	case types.RelSubtask:
		if e.Task != nil && slices.Contains(e.Task.SubtaskIDs, relatedID) {
			e.Task.SubtaskIDs = slices.DeleteFunc(e.Task.SubtaskIDs, func(id string) bool { return id == relatedID })
			changed = true
		}
	}
	return changed
}

// ByEntity returns the relationships whose entity end is id.
func (l *Ledger) ByEntity(ctx context.Context, id string) ([]*types.Relationship, error) {
	b, err := l.s.reader()
	if err != nil {
		return nil, err
	}
	return byIndex(ctx, b, types.IndexEntityID, id)
}

// ByRelated returns the relationships whose related end is id.
func (l *Ledger) ByRelated(ctx context.Context, id string) ([]*types.Relationship, error) {
	b, err := l.s.reader()
	if err != nil {
		return nil, err
	}
	return byIndex(ctx, b, types.IndexRelatedID, id)
}

func byIndex(ctx context.Context, b types.Backend, index, id string) ([]*types.Relationship, error) {
	recs, err := b.GetByIndex(ctx, types.CollectionRelationships, index, id)
	if err != nil {
		return nil, fmt.Errorf("relationships by %s: %w", index, err)
	}
	return decodeAll[types.Relationship](recs)
}

// DetachAll removes every relationship touching id on either end and returns
// how many were removed.
func (l *Ledger) DetachAll(ctx context.Context, id string) (int, error) {
	b, err := l.s.primary()
	if err != nil {
		return 0, err
	}
	return l.detachAll(ctx, b, id)
}

func (l *Ledger) detachAll(ctx context.Context, b types.Backend, id string) (int, error) {
	out, err := byIndex(ctx, b, types.IndexEntityID, id)
	if err != nil {
		return 0, err
	}
	in, err := byIndex(ctx, b, types.IndexRelatedID, id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rel := range append(out, in...) {
		removed, err := l.remove(ctx, b, rel.EntityID, rel.RelatedID, rel.Type)
		if err != nil {
			return n, fmt.Errorf("removing %s: %w", rel.ID, err)
		}
		if removed {
			n++
		}
	}
	return n, nil
}
