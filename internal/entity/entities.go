package entity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Create stores a new entity of type typ built from draft. The id comes from
// the per-type counter; the draft's id, timestamps and completion time are
// ignored. Tag, person and subtask ids in the draft are attached through the
// ledger and must exist. Creating a Person also adds its people directory
// entry.
func (s *Store) Create(ctx context.Context, typ types.EntityType, draft types.Entity) (*types.Entity, error) {
	if !typ.Valid() {
		return nil, &types.ValidationError{Field: "type", Reason: "unknown entity type " + string(typ)}
	}
	b, err := s.primary()
	if err != nil {
		return nil, err
	}

	e := draft.Clone()
	e.ID = ""
	e.Type = typ
	tags, people := e.TagIDs, e.PersonIDs
	e.TagIDs, e.PersonIDs = nil, nil
	var subtasks []string
	if e.Task != nil {
		subtasks = e.Task.SubtaskIDs
		e.Task.SubtaskIDs = nil
		e.Task.CompletedAt = nil
	}
	if e.Checklist != nil {
		e.Checklist.CompletedAt = nil
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, b, tags, people, subtasks); err != nil {
		return nil, err
	}

	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Completed {
		markCompleted(e, now)
	}
	if e.ID, err = s.allocID(ctx, b, types.CollectionEntities, typ.Prefix()); err != nil {
		return nil, err
	}
	if err := s.write(ctx, b, types.CollectionEntities, e.ID, e); err != nil {
		return nil, err
	}
	if typ == types.EntityPerson {
		ref := &types.PersonRef{ID: e.ID, Name: e.Title, CreatedAt: now, UpdatedAt: now}
		if err := s.write(ctx, b, types.CollectionPeople, ref.ID, ref); err != nil {
			return nil, err
		}
	}

	type link struct {
		related string
		typ     types.RelationshipType
	}
	var links []link
	for _, id := range tags {
		links = append(links, link{id, types.RelTag})
	}
	for _, id := range people {
		links = append(links, link{id, types.RelMention})
	}
	for _, id := range subtasks {
		links = append(links, link{id, types.RelSubtask})
	}
	for _, l := range links {
		if _, err := s.ledger.Add(ctx, e.ID, l.related, l.typ); err != nil {
			err = fmt.Errorf("attaching %s to %s: %w", l.related, e.ID, err)
			// Links made so far go with the entity.
			if _, derr := s.Delete(ctx, e.ID); derr != nil {
				err = errors.Join(err, fmt.Errorf("removing %s: %w", e.ID, derr))
			}
			return nil, err
		}
	}

	s.log.Info().Str("id", e.ID).Str("type", string(typ)).Msg("entity created")
	if len(links) == 0 {
		return e, nil
	}
	return load[types.Entity](ctx, b, types.CollectionEntities, "entity", e.ID)
}

// checkRefs verifies that every referenced tag, person and subtask exists.
func (s *Store) checkRefs(ctx context.Context, b types.Backend, tags, people, subtasks []string) error {
	refs := []struct {
		c     types.Collection
		field string
		ids   []string
	}{
		{types.CollectionTags, "tagIds", tags},
		{types.CollectionPeople, "personIds", people},
		{types.CollectionEntities, "subtaskIds", subtasks},
	}
	for _, r := range refs {
		for _, id := range r.ids {
			ok, err := exists(ctx, b, r.c, id)
			if err != nil {
				return err
			}
			if !ok {
				return &types.ValidationError{Field: r.field, Reason: id + " does not exist"}
			}
		}
	}
	return nil
}

func markCompleted(e *types.Entity, now time.Time) {
	at := now
	switch e.Type {
	case types.EntityTask:
		if e.Task == nil {
			e.Task = &types.TaskPayload{}
		}
		e.Task.CompletedAt = &at
	case types.EntityChecklist:
		if e.Checklist == nil {
			e.Checklist = &types.ChecklistPayload{}
		}
		e.Checklist.CompletedAt = &at
	}
}

func clearCompleted(e *types.Entity) {
	if e.Task != nil {
		e.Task.CompletedAt = nil
	}
	if e.Checklist != nil {
		e.Checklist.CompletedAt = nil
	}
}

// Update merges patch into the entity. Relationship-derived fields (tag,
// person and subtask ids) and completion are not patchable. UpdatedAt never
// moves backwards.
func (s *Store) Update(ctx context.Context, id string, patch types.EntityPatch) (*types.Entity, error) {
	b, err := s.primary()
	if err != nil {
		return nil, err
	}
	keys := []string{lockKey(types.CollectionEntities, id)}
	if t, ok := types.EntityTypeForID(id); ok && t == types.EntityPerson {
		keys = append(keys, lockKey(types.CollectionPeople, id))
	}
	unlock := s.locks.Lock(keys...)
	defer unlock()

	e, err := load[types.Entity](ctx, b, types.CollectionEntities, "entity", id)
	if err != nil {
		return nil, err
	}
	before := e.Clone()
	patch.Apply(e)
	if e.Task != nil {
		e.Task.SubtaskIDs = nil
		e.Task.CompletedAt = nil
		if before.Task != nil {
			e.Task.SubtaskIDs = before.Task.SubtaskIDs
			e.Task.CompletedAt = before.Task.CompletedAt
		}
	}
	if e.Checklist != nil {
		e.Checklist.CompletedAt = nil
		if before.Checklist != nil {
			e.Checklist.CompletedAt = before.Checklist.CompletedAt
		}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.Touch(s.now())
	if err := s.write(ctx, b, types.CollectionEntities, id, e); err != nil {
		return nil, err
	}

	if e.Type == types.EntityPerson && e.Title != before.Title {
		if err := s.renamePerson(ctx, b, id, e.Title); err != nil {
			return nil, err
		}
	}
	s.log.Debug().Str("id", id).Msg("entity updated")
	return e, nil
}

func (s *Store) renamePerson(ctx context.Context, b types.Backend, id, name string) error {
	ref, err := load[types.PersonRef](ctx, b, types.CollectionPeople, "person", id)
	if err != nil {
		return err
	}
	ref.Name = name
	if now := s.now(); now.After(ref.UpdatedAt) {
		ref.UpdatedAt = now
	}
	return s.write(ctx, b, types.CollectionPeople, id, ref)
}

// ToggleCompletion flips the completed state of a Task or Checklist and
// records when it was completed. Other types return a *types.ValidationError.
func (s *Store) ToggleCompletion(ctx context.Context, id string) (*types.Entity, error) {
	b, err := s.primary()
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(lockKey(types.CollectionEntities, id))
	defer unlock()

	e, err := load[types.Entity](ctx, b, types.CollectionEntities, "entity", id)
	if err != nil {
		return nil, err
	}
	if !e.Type.Completable() {
		return nil, &types.ValidationError{Field: "completed", Reason: string(e.Type) + " cannot be completed"}
	}
	now := s.now()
	e.Completed = !e.Completed
	if e.Completed {
		markCompleted(e, now)
	} else {
		clearCompleted(e)
	}
	e.Touch(now)
	if err := s.write(ctx, b, types.CollectionEntities, id, e); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("event", "completion").
		Str("id", id).
		Str("type", string(e.Type)).
		Bool("completed", e.Completed).
		Msg("completion toggled")
	return e, nil
}

// Delete removes an entity and every reference to it: relationships on
// either end (adjusting tag and person usage), board positions, weekly plan
// items, subtask lists of other tasks and, for a Person, the people
// directory entry. Reports false when the entity did not exist.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	b, err := s.primary()
	if err != nil {
		return false, err
	}

	unlock := s.locks.Lock(lockKey(types.CollectionEntities, id))
	e, err := load[types.Entity](ctx, b, types.CollectionEntities, "entity", id)
	if err != nil {
		unlock()
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_, err = s.remove(ctx, b, types.CollectionEntities, id)
	unlock()
	if err != nil {
		return false, err
	}

	// The entity is gone before the cascade starts, so concurrent writers
	// that check existence can no longer add references to it.
	detached, err := s.ledger.detachAll(ctx, b, id)
	if err != nil {
		return true, fmt.Errorf("detaching relationships of %s: %w", id, err)
	}
	if e.Type == types.EntityPerson {
		unlockP := s.locks.Lock(lockKey(types.CollectionPeople, id))
		_, err = s.remove(ctx, b, types.CollectionPeople, id)
		unlockP()
		if err != nil {
			return true, err
		}
	}
	boards, err := s.stripBoards(ctx, b, id)
	if err != nil {
		return true, err
	}
	items, err := s.stripWeeklyPlans(ctx, b, id)
	if err != nil {
		return true, err
	}
	parents, err := s.stripSubtaskRefs(ctx, b, id)
	if err != nil {
		return true, err
	}

	s.log.Info().
		Str("id", id).
		Int("relationships", detached).
		Int("boards", boards).
		Int("weeklyPlans", items).
		Int("parents", parents).
		Msg("entity deleted")
	return true, nil
}

func (s *Store) stripBoards(ctx context.Context, b types.Backend, id string) (int, error) {
	recs, err := b.GetAll(ctx, types.CollectionBoards)
	if err != nil {
		return 0, fmt.Errorf("reading boards: %w", err)
	}
	changed := 0
	for _, rec := range recs {
		if !refersTo(rec, id) {
			continue
		}
		ok, err := s.updateBoard(ctx, b, rec.ID, func(board *types.Board) (bool, error) {
			return board.RemoveEntity(id), nil
		})
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (s *Store) stripWeeklyPlans(ctx context.Context, b types.Backend, id string) (int, error) {
	recs, err := b.GetAll(ctx, types.CollectionWeeklyPlans)
	if err != nil {
		return 0, fmt.Errorf("reading weekly plans: %w", err)
	}
	changed := 0
	for _, rec := range recs {
		if !refersTo(rec, id) {
			continue
		}
		unlock := s.locks.Lock(lockKey(types.CollectionWeeklyPlans, rec.ID))
		p, err := load[types.WeeklyPlan](ctx, b, types.CollectionWeeklyPlans, "weekly plan", rec.ID)
		if err == nil && p.RemoveEntity(id) {
			p.UpdatedAt = s.now()
			err = s.write(ctx, b, types.CollectionWeeklyPlans, p.ID, p)
			changed++
		}
		unlock()
		if err != nil && !isNotFound(err) {
			return changed, err
		}
	}
	return changed, nil
}

// stripSubtaskRefs removes id from subtask lists that are not backed by a
// relationship, as found in imported data.
func (s *Store) stripSubtaskRefs(ctx context.Context, b types.Backend, id string) (int, error) {
	recs, err := b.GetByIndex(ctx, types.CollectionEntities, types.IndexType, string(types.EntityTask))
	if err != nil {
		return 0, fmt.Errorf("reading tasks: %w", err)
	}
	changed := 0
	for _, rec := range recs {
		if !refersTo(rec, id) {
			continue
		}
		unlock := s.locks.Lock(lockKey(types.CollectionEntities, rec.ID))
		parent, err := load[types.Entity](ctx, b, types.CollectionEntities, "entity", rec.ID)
		if err == nil && parent.Task != nil && slices.Contains(parent.Task.SubtaskIDs, id) {
			parent.Task.SubtaskIDs = slices.DeleteFunc(parent.Task.SubtaskIDs, func(sub string) bool { return sub == id })
			parent.Touch(s.now())
			err = s.write(ctx, b, types.CollectionEntities, parent.ID, parent)
			changed++
		}
		unlock()
		if err != nil && !isNotFound(err) {
			return changed, err
		}
	}
	return changed, nil
}

// refersTo is a cheap prefilter: the record JSON mentions id as a string.
func refersTo(rec types.Record, id string) bool {
	return bytes.Contains(rec.Data, []byte(`"`+id+`"`))
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}

// Reads are served by the read backend.

// GetByID returns the entity with the given id.
func (s *Store) GetByID(ctx context.Context, id string) (*types.Entity, error) {
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	return load[types.Entity](ctx, b, types.CollectionEntities, "entity", id)
}

// GetAllByType returns every entity of type typ, ordered by id.
func (s *Store) GetAllByType(ctx context.Context, typ types.EntityType) ([]*types.Entity, error) {
	if !typ.Valid() {
		return nil, &types.ValidationError{Field: "type", Reason: "unknown entity type " + string(typ)}
	}
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := b.GetByIndex(ctx, types.CollectionEntities, types.IndexType, string(typ))
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Entity](recs)
}

// GetAll returns every entity, ordered by id.
func (s *Store) GetAll(ctx context.Context) ([]*types.Entity, error) {
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := b.GetAll(ctx, types.CollectionEntities)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Entity](recs)
}
