package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Boards.

// CreateBoard adds a board with the default columns and one row. The first
// board becomes the current board.
func (s *Store) CreateBoard(ctx context.Context, name string) (*types.Board, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &types.ValidationError{Field: "name", Reason: "board requires a name"}
	}
	b, err := s.primary()
	if err != nil {
		return nil, err
	}
	id, err := s.allocID(ctx, b, types.CollectionBoards, types.KindBoard)
	if err != nil {
		return nil, err
	}
	board := types.NewBoard(id, name, s.now())
	if err := s.write(ctx, b, types.CollectionBoards, id, board); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(currentBoardKey)
	defer unlock()
	current, err := readCurrentBoard(ctx, b)
	if err != nil {
		return nil, err
	}
	if current == "" {
		if err := s.write(ctx, b, types.CollectionMeta, types.MetaCurrentBoardID, id); err != nil {
			return nil, err
		}
	}
	s.log.Info().Str("id", id).Str("name", name).Msg("board created")
	return board, nil
}

func readCurrentBoard(ctx context.Context, b types.Backend) (string, error) {
	rec, err := b.Get(ctx, types.CollectionMeta, types.MetaCurrentBoardID)
	if errors.Is(err, types.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading current board: %w", err)
	}
	var id string
	if err := rec.Decode(&id); err != nil {
		return "", fmt.Errorf("decoding current board: %w", err)
	}
	return id, nil
}

// CurrentBoard returns the id of the current board, or "" when there are no
// boards.
func (s *Store) CurrentBoard(ctx context.Context) (string, error) {
	b, err := s.reader()
	if err != nil {
		return "", err
	}
	return readCurrentBoard(ctx, b)
}

// Board returns one board.
func (s *Store) Board(ctx context.Context, id string) (*types.Board, error) {
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	return load[types.Board](ctx, b, types.CollectionBoards, "board", id)
}

// Boards returns every board, ordered by id.
func (s *Store) Boards(ctx context.Context) ([]*types.Board, error) {
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := b.GetAll(ctx, types.CollectionBoards)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Board](recs)
}

// SwitchBoard makes id the current board.
func (s *Store) SwitchBoard(ctx context.Context, id string) error {
	b, err := s.primary()
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(currentBoardKey)
	defer unlock()
	ok, err := exists(ctx, b, types.CollectionBoards, id)
	if err != nil {
		return err
	}
	if !ok {
		return &types.NotFoundError{Kind: "board", ID: id}
	}
	return s.write(ctx, b, types.CollectionMeta, types.MetaCurrentBoardID, id)
}

// DeleteBoard removes a board. Entities placed on it are kept. Deleting the
// current board switches to the lowest remaining board id; the last board
// cannot be deleted.
func (s *Store) DeleteBoard(ctx context.Context, id string) error {
	b, err := s.primary()
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(lockKey(types.CollectionBoards, id), currentBoardKey)
	defer unlock()

	recs, err := b.GetAll(ctx, types.CollectionBoards)
	if err != nil {
		return fmt.Errorf("reading boards: %w", err)
	}
	var next string
	found := false
	for _, rec := range recs {
		if rec.ID == id {
			found = true
		} else if next == "" {
			next = rec.ID
		}
	}
	if !found {
		return &types.NotFoundError{Kind: "board", ID: id}
	}
	if next == "" {
		return &types.ValidationError{Field: "boards", Reason: "cannot delete the last board"}
	}
	current, err := readCurrentBoard(ctx, b)
	if err != nil {
		return err
	}
	if current == id || current == "" {
		if err := s.write(ctx, b, types.CollectionMeta, types.MetaCurrentBoardID, next); err != nil {
			return err
		}
	}
	if _, err := s.remove(ctx, b, types.CollectionBoards, id); err != nil {
		return err
	}
	s.log.Info().Str("id", id).Str("current", next).Msg("board deleted")
	return nil
}

// updateBoard applies fn to a board under its lock, plus any extra keys fn
// depends on, and writes it back when fn reports a change.
func (s *Store) updateBoard(ctx context.Context, b types.Backend, id string, fn func(*types.Board) (bool, error), extra ...string) (bool, error) {
	unlock := s.locks.Lock(append([]string{lockKey(types.CollectionBoards, id)}, extra...)...)
	defer unlock()

	board, err := load[types.Board](ctx, b, types.CollectionBoards, "board", id)
	if err != nil {
		return false, err
	}
	changed, err := fn(board)
	if err != nil || !changed {
		return false, err
	}
	board.UpdatedAt = later(board.UpdatedAt, s.now())
	if err := s.write(ctx, b, types.CollectionBoards, id, board); err != nil {
		return false, err
	}
	return true, nil
}

// PlaceCard moves an entity to position index of a row and column of a
// board. An index past the end appends. The entity stays locked until the
// board is written so a concurrent Delete either runs first or sees the card.
func (s *Store) PlaceCard(ctx context.Context, boardID, rowID, column, entityID string, index int) error {
	b, err := s.primary()
	if err != nil {
		return err
	}
	_, err = s.updateBoard(ctx, b, boardID, func(board *types.Board) (bool, error) {
		ok, err := exists(ctx, b, types.CollectionEntities, entityID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, &types.NotFoundError{Kind: "entity", ID: entityID}
		}
		return true, board.Place(rowID, column, entityID, index)
	}, lockKey(types.CollectionEntities, entityID))
	return err
}

// RemoveCard takes an entity off a board. Reports whether it was placed.
func (s *Store) RemoveCard(ctx context.Context, boardID, entityID string) (bool, error) {
	b, err := s.primary()
	if err != nil {
		return false, err
	}
	return s.updateBoard(ctx, b, boardID, func(board *types.Board) (bool, error) {
		return board.RemoveEntity(entityID), nil
	})
}

// Tags and people.

// CreateTag adds a tag. A tag with the same name, compared case-insensitively,
// is returned instead of creating a duplicate.
func (s *Store) CreateTag(ctx context.Context, name, color string) (*types.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &types.ValidationError{Field: "name", Reason: "tag requires a name"}
	}
	b, err := s.primary()
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(lockKey(types.CollectionTags, "#names"))
	defer unlock()

	recs, err := b.GetAll(ctx, types.CollectionTags)
	if err != nil {
		return nil, fmt.Errorf("reading tags: %w", err)
	}
	tags, err := decodeAll[types.Tag](recs)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return t, nil
		}
	}

	id, err := s.allocID(ctx, b, types.CollectionTags, types.KindTag)
	if err != nil {
		return nil, err
	}
	now := s.now()
	tag := &types.Tag{ID: id, Name: name, Color: color, CreatedAt: now, UpdatedAt: now}
	if err := s.write(ctx, b, types.CollectionTags, id, tag); err != nil {
		return nil, err
	}
	s.log.Info().Str("id", id).Str("name", name).Msg("tag created")
	return tag, nil
}

// Tags returns every tag, ordered by id.
func (s *Store) Tags(ctx context.Context) ([]*types.Tag, error) {
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := b.GetAll(ctx, types.CollectionTags)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.Tag](recs)
}

// People returns the people directory, ordered by id.
func (s *Store) People(ctx context.Context) ([]*types.PersonRef, error) {
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	recs, err := b.GetAll(ctx, types.CollectionPeople)
	if err != nil {
		return nil, err
	}
	return decodeAll[types.PersonRef](recs)
}

// Weekly plans.

// Schedule puts an entity on the weekly plan of the week containing day,
// after the items already planned for that weekday. The plan is created on
// first use.
func (s *Store) Schedule(ctx context.Context, entityID string, day time.Time) (*types.WeeklyItem, error) {
	b, err := s.primary()
	if err != nil {
		return nil, err
	}
	planID := types.WeekID(day)
	unlock := s.locks.Lock(lockKey(types.CollectionWeeklyPlans, planID), lockKey(types.CollectionEntities, entityID))
	defer unlock()

	ok, err := exists(ctx, b, types.CollectionEntities, entityID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.NotFoundError{Kind: "entity", ID: entityID}
	}
	now := s.now()
	plan, err := load[types.WeeklyPlan](ctx, b, types.CollectionWeeklyPlans, "weekly plan", planID)
	if isNotFound(err) {
		plan, err = &types.WeeklyPlan{ID: planID, WeekStart: types.WeekStart(day), Items: []types.WeeklyItem{}, CreatedAt: now}, nil
	}
	if err != nil {
		return nil, err
	}

	itemID, err := s.allocID(ctx, b, "", types.KindWeekItem)
	if err != nil {
		return nil, err
	}
	weekday := strings.ToLower(day.Weekday().String())
	order := 0
	for _, it := range plan.Items {
		if it.Day == weekday && it.Order >= order {
			order = it.Order + 1
		}
	}
	item := types.WeeklyItem{ID: itemID, EntityID: entityID, Day: weekday, Order: order}
	plan.Items = append(plan.Items, item)
	plan.UpdatedAt = later(plan.UpdatedAt, now)
	if err := s.write(ctx, b, types.CollectionWeeklyPlans, planID, plan); err != nil {
		return nil, err
	}
	return &item, nil
}

// WeeklyPlan returns the plan of the week containing day.
func (s *Store) WeeklyPlan(ctx context.Context, day time.Time) (*types.WeeklyPlan, error) {
	b, err := s.reader()
	if err != nil {
		return nil, err
	}
	return load[types.WeeklyPlan](ctx, b, types.CollectionWeeklyPlans, "weekly plan", types.WeekID(day))
}
