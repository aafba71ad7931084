// Package memstore is an in-memory Backend. It backs dry runs of the import
// merge and stands in for real backends in tests.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

var _ types.Backend = (*Store)(nil)

// Store keeps records per collection in maps.
type Store struct {
	mu     sync.RWMutex
	name   types.BackendID
	colls  map[types.Collection]map[string]json.RawMessage
	closed bool
}

// New returns an empty store reporting name from Name.
func New(name types.BackendID) *Store {
	s := &Store{name: name, colls: map[types.Collection]map[string]json.RawMessage{}}
	for _, c := range types.Collections {
		s.colls[c] = map[string]json.RawMessage{}
	}
	return s
}

// Name implements types.Backend.
func (s *Store) Name() types.BackendID { return s.name }

func (s *Store) check(ctx context.Context, c types.Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return types.ErrBackendClosed
	}
	if !types.ValidCollection(c) {
		return fmt.Errorf("%s: %w", c, types.ErrUnknownCollection)
	}
	return nil
}

// Get implements types.Backend.
func (s *Store) Get(ctx context.Context, c types.Collection, id string) (types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, c); err != nil {
		return types.Record{}, err
	}
	data, ok := s.colls[c][id]
	if !ok {
		return types.Record{}, types.ErrNotFound
	}
	return types.Record{ID: id, Data: slices.Clone(data)}, nil
}

// GetAll implements types.Backend.
func (s *Store) GetAll(ctx context.Context, c types.Collection) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, c); err != nil {
		return nil, err
	}
	return s.sorted(c, func(types.Record) bool { return true }), nil
}

// GetByIndex implements types.Backend.
func (s *Store) GetByIndex(ctx context.Context, c types.Collection, index, value string) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, c); err != nil {
		return nil, err
	}
	if !types.ValidIndex(c, index) {
		return nil, fmt.Errorf("%s.%s: %w", c, index, types.ErrUnknownIndex)
	}
	return s.sorted(c, func(r types.Record) bool { return r.IndexValue(index) == value }), nil
}

func (s *Store) sorted(c types.Collection, keep func(types.Record) bool) []types.Record {
	var out []types.Record
	for _, id := range slices.Sorted(maps.Keys(s.colls[c])) {
		r := types.Record{ID: id, Data: slices.Clone(s.colls[c][id])}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Put implements types.Backend.
func (s *Store) Put(ctx context.Context, c types.Collection, rec types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, c); err != nil {
		return err
	}
	if rec.ID == "" {
		return types.ErrInvalidID
	}
	if !json.Valid(rec.Data) {
		return fmt.Errorf("record %s/%s: invalid JSON", c, rec.ID)
	}
	s.colls[c][rec.ID] = slices.Clone(rec.Data)
	return nil
}

// Delete implements types.Backend.
func (s *Store) Delete(ctx context.Context, c types.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, c); err != nil {
		return err
	}
	if _, ok := s.colls[c][id]; !ok {
		return types.ErrNotFound
	}
	delete(s.colls[c], id)
	return nil
}

// Clear implements types.Backend.
func (s *Store) Clear(ctx context.Context, c types.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, c); err != nil {
		return err
	}
	s.colls[c] = map[string]json.RawMessage{}
	return nil
}

// Len returns the number of records in a collection.
func (s *Store) Len(c types.Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.colls[c])
}

// Close implements types.Backend. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
