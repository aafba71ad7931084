// Package entity implements the entity store: CRUD over the unified entity
// model, the relationship ledger, boards, tags and the people directory.
// Writes go to the authoritative backend chosen by the mode controller and
// are mirrored to the other backend when dual-write is on.
package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Router picks the backends for writes and reads. *mode.Controller
// implements it.
type Router interface {
	Primary() (types.Backend, error)
	Reader() (types.Backend, error)
}

// Mirror receives every mutation already applied to the primary backend.
// *dualwrite.Mirror implements it.
type Mirror interface {
	Put(c types.Collection, rec types.Record) bool
	Delete(c types.Collection, id string) bool
	Replace(c types.Collection, recs []types.Record) bool
}

// bulkPutter is implemented by backends that write many records at once.
type bulkPutter interface {
	PutAll(ctx context.Context, c types.Collection, recs []types.Record) error
}

// Option configures a Store.
type Option func(*Store)

// WithMirror mirrors every write through m.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the entity store.
type Store struct {
	router Router
	mirror Mirror
	locks  *keyLocker
	now    func() time.Time
	log    zerolog.Logger
	ledger *Ledger
}

const counterKey = "meta/counters"
const currentBoardKey = "meta/currentBoardId"

func lockKey(c types.Collection, id string) string {
	return string(c) + "/" + id
}

// New returns a store routing through router.
func New(router Router, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		router: router,
		locks:  newKeyLocker(),
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("component", "entity").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = &Ledger{s: s}
	return s
}

// Ledger returns the relationship ledger sharing this store's backends and
// locks.
func (s *Store) Ledger() *Ledger { return s.ledger }

// Backend helpers.

func (s *Store) primary() (types.Backend, error) {
	b, err := s.router.Primary()
	if err != nil {
		return nil, fmt.Errorf("resolving primary backend: %w", err)
	}
	return b, nil
}

func (s *Store) reader() (types.Backend, error) {
	b, err := s.router.Reader()
	if err != nil {
		return nil, fmt.Errorf("resolving read backend: %w", err)
	}
	return b, nil
}

// write puts v into the primary backend and mirrors it.
func (s *Store) write(ctx context.Context, b types.Backend, c types.Collection, id string, v any) error {
	rec, err := types.NewRecord(id, v)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", c, id, err)
	}
	if err := b.Put(ctx, c, rec); err != nil {
		return fmt.Errorf("writing %s/%s: %w", c, id, err)
	}
	if s.mirror != nil {
		s.mirror.Put(c, rec)
	}
	return nil
}

// remove deletes a record from the primary backend and mirrors the delete.
// Reports false when the record was already gone.
func (s *Store) remove(ctx context.Context, b types.Backend, c types.Collection, id string) (bool, error) {
	err := b.Delete(ctx, c, id)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	if s.mirror != nil {
		s.mirror.Delete(c, id)
	}
	return true, nil
}

// load reads and decodes one record. It returns a *types.NotFoundError named
// kind when the record does not exist.
func load[T any](ctx context.Context, b types.Backend, c types.Collection, kind, id string) (*T, error) {
	rec, err := b.Get(ctx, c, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, &types.NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", c, id, err)
	}
	v := new(T)
	if err := rec.Decode(v); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", c, id, err)
	}
	return v, nil
}

func decodeAll[T any](recs []types.Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v := new(T)
		if err := rec.Decode(v); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func exists(ctx context.Context, b types.Backend, c types.Collection, id string) (bool, error) {
	_, err := b.Get(ctx, c, id)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s/%s: %w", c, id, err)
	}
	return true, nil
}

// Counters.

func readCounters(ctx context.Context, b types.Backend) (types.Counters, error) {
	c := types.NewCounters()
	rec, err := b.Get(ctx, types.CollectionMeta, types.MetaCounters)
	if errors.Is(err, types.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading counters: %w", err)
	}
	if err := rec.Decode(&c); err != nil {
		return c, fmt.Errorf("decoding counters: %w", err)
	}
	return c, nil
}

// allocID hands out the next id of kind and persists the advanced counter.
// When c is set, ids already taken in c (a counter left behind by an
// external edit) are skipped.
func (s *Store) allocID(ctx context.Context, b types.Backend, c types.Collection, kind string) (string, error) {
	unlock := s.locks.Lock(counterKey)
	defer unlock()

	counters, err := readCounters(ctx, b)
	if err != nil {
		return "", err
	}
	var id string
	for {
		if id, err = counters.Take(kind); err != nil {
			return "", err
		}
		if c == "" {
			break
		}
		taken, err := exists(ctx, b, c, id)
		if err != nil {
			return "", err
		}
		if !taken {
			break
		}
		s.log.Warn().Str("id", id).Msg("counter behind existing id, skipping")
	}
	if err := s.write(ctx, b, types.CollectionMeta, types.MetaCounters, counters); err != nil {
		return "", err
	}
	return id, nil
}

// Counters returns the persisted id counters.
func (s *Store) Counters(ctx context.Context) (types.Counters, error) {
	b, err := s.reader()
	if err != nil {
		return types.Counters{}, err
	}
	return readCounters(ctx, b)
}

// ReconcileCounters raises every counter to at least one past the largest id
// of its kind in use. Counters are never lowered. Run it after a merge
// import. Reports whether any counter changed.
func (s *Store) ReconcileCounters(ctx context.Context) (types.Counters, bool, error) {
	b, err := s.primary()
	if err != nil {
		return types.Counters{}, false, err
	}
	unlock := s.locks.Lock(counterKey)
	defer unlock()

	doc, err := exportFrom(ctx, b)
	if err != nil {
		return types.Counters{}, false, err
	}
	if !doc.ReconcileCounters() {
		return doc.Counters, false, nil
	}
	if err := s.write(ctx, b, types.CollectionMeta, types.MetaCounters, doc.Counters); err != nil {
		return types.Counters{}, false, err
	}
	s.log.Info().Interface("counters", doc.Counters).Msg("counters reconciled")
	return doc.Counters, true, nil
}

// Whole-document access.

func exportFrom(ctx context.Context, b types.Backend) (*types.Document, error) {
	doc, err := types.ReadDocument(ctx, b)
	if err != nil {
		return nil, err
	}
	doc.Version = types.CurrentVersion
	return doc, nil
}

// Export builds the current-schema document from the authoritative backend.
func (s *Store) Export(ctx context.Context) (*types.Document, error) {
	b, err := s.primary()
	if err != nil {
		return nil, err
	}
	return exportFrom(ctx, b)
}

// Load replaces the content of the authoritative backend with doc. The
// migration marker is kept. Each collection is mirrored as one bulk op.
func (s *Store) Load(ctx context.Context, doc *types.Document) error {
	b, err := s.primary()
	if err != nil {
		return err
	}
	doc.Normalize()
	recs, err := doc.Records()
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(counterKey)
	defer unlock()

	for _, c := range types.Collections {
		if c == types.CollectionMeta {
			if err := s.loadMeta(ctx, b, recs[c]); err != nil {
				return err
			}
			continue
		}
		if err := b.Clear(ctx, c); err != nil {
			return fmt.Errorf("clearing %s: %w", c, err)
		}
		if err := putAll(ctx, b, c, recs[c]); err != nil {
			return fmt.Errorf("loading %s: %w", c, err)
		}
		if s.mirror != nil {
			s.mirror.Replace(c, recs[c])
		}
	}
	s.log.Info().Int("entities", len(doc.Entities)).Int("boards", len(doc.Boards)).Msg("document loaded")
	return nil
}

// loadMeta overwrites the document meta records but leaves other meta
// records, such as the migration marker, alone.
func (s *Store) loadMeta(ctx context.Context, b types.Backend, recs []types.Record) error {
	for _, rec := range recs {
		if err := b.Put(ctx, types.CollectionMeta, rec); err != nil {
			return fmt.Errorf("loading meta %s: %w", rec.ID, err)
		}
		if s.mirror != nil {
			s.mirror.Put(types.CollectionMeta, rec)
		}
	}
	return nil
}

func putAll(ctx context.Context, b types.Backend, c types.Collection, recs []types.Record) error {
	if bp, ok := b.(bulkPutter); ok {
		return bp.PutAll(ctx, c, recs)
	}
	for _, rec := range recs {
		if err := b.Put(ctx, c, rec); err != nil {
			return err
		}
	}
	return nil
}
