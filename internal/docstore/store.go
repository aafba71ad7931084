// Package docstore implements the single-document storage backend. The whole
// state lives in one JSON document in the current schema; every mutation
// rewrites the file atomically.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

var (
	_ types.Backend     = (*Store)(nil)
	_ types.Snapshotter = (*Store)(nil)
)

// Store is the document backend. Collections map to the document's id-keyed
// top-level maps; meta records map to the scalar top-level keys, with the
// counters record flattened into the next*Id keys.
type Store struct {
	mu     sync.RWMutex
	path   string
	log    zerolog.Logger
	closed bool

	top   map[string]json.RawMessage
	colls map[types.Collection]map[string]json.RawMessage
}

// Open loads the document at path. A missing file yields an empty document
// that is written on the first mutation. Returns an error wrapping
// types.ErrStaleSchema when the file holds an older schema version; such a
// file must be migrated before it can be opened.
func Open(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{path: path, log: log.With().Str("backend", string(types.BackendDocument)).Logger()}
	data, found, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !found {
		data, err = Encode(types.NewDocument())
		if err != nil {
			return nil, err
		}
	}
	if err := s.load(data); err != nil {
		return nil, err
	}
	s.log.Debug().Str("path", path).Bool("existing", found).Msg("document store opened")
	return s, nil
}

func (s *Store) load(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if v := PeekVersion(data); v != types.CurrentVersion {
		return fmt.Errorf("%s has version %q: %w", s.path, v, types.ErrStaleSchema)
	}
	top := make(map[string]json.RawMessage)
	colls := make(map[types.Collection]map[string]json.RawMessage, len(types.DataCollections))
	for _, c := range types.DataCollections {
		colls[c] = map[string]json.RawMessage{}
	}
	for key, val := range raw {
		c := types.Collection(key)
		if _, ok := colls[c]; !ok {
			top[key] = val
			continue
		}
		if string(val) == "null" {
			continue
		}
		m := map[string]json.RawMessage{}
		if err := json.Unmarshal(val, &m); err != nil {
			return fmt.Errorf("parsing %s: collection %s: %w", s.path, key, err)
		}
		colls[c] = m
	}
	s.top = top
	s.colls = colls
	return nil
}

// encodeLocked builds the document bytes. The caller must hold s.mu.
func (s *Store) encodeLocked() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(s.top)+len(s.colls))
	maps.Copy(raw, s.top)
	for c, m := range s.colls {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", c, err)
		}
		raw[string(c)] = data
	}
	return Encode(raw)
}

// persistLocked writes the document to disk. The caller must hold s.mu.
func (s *Store) persistLocked() error {
	data, err := s.encodeLocked()
	if err != nil {
		return err
	}
	return fsutil.WriteFile(s.path, data, 0o644)
}

// commitLocked applies change and writes the document. When either step
// fails the in-memory state of c and the meta keys is put back, so readers
// never see a write that did not reach disk. The caller must hold s.mu.
func (s *Store) commitLocked(c types.Collection, change func() error) error {
	top := maps.Clone(s.top)
	var coll map[string]json.RawMessage
	if c != types.CollectionMeta {
		coll = maps.Clone(s.colls[c])
	}
	err := change()
	if err == nil {
		err = s.persistLocked()
	}
	if err != nil {
		s.top = top
		if coll != nil {
			s.colls[c] = coll
		}
	}
	return err
}

// Name implements types.Backend.
func (s *Store) Name() types.BackendID { return types.BackendDocument }

// Path returns the document file path.
func (s *Store) Path() string { return s.path }

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
	if c == types.CollectionMeta {
		return s.getMetaLocked(id)
	}
	data, ok := s.colls[c][id]
	if !ok {
		return types.Record{}, types.ErrNotFound
	}
	return types.Record{ID: id, Data: data}, nil
}

// GetAll implements types.Backend.
func (s *Store) GetAll(ctx context.Context, c types.Collection) ([]types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, c); err != nil {
		return nil, err
	}
	if c == types.CollectionMeta {
		var recs []types.Record
		for _, id := range s.metaIDsLocked() {
			rec, err := s.getMetaLocked(id)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
		return recs, nil
	}
	m := s.colls[c]
	recs := make([]types.Record, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		recs = append(recs, types.Record{ID: id, Data: m[id]})
	}
	return recs, nil
}

// GetByIndex implements types.Backend with a scan over the collection.
func (s *Store) GetByIndex(ctx context.Context, c types.Collection, index, value string) ([]types.Record, error) {
	if !types.ValidIndex(c, index) {
		return nil, fmt.Errorf("%s.%s: %w", c, index, types.ErrUnknownIndex)
	}
	all, err := s.GetAll(ctx, c)
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, rec := range all {
		if rec.IndexValue(index) == value {
			out = append(out, rec)
		}
	}
	return out, nil
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
	data := slices.Clone(rec.Data)
	return s.commitLocked(c, func() error {
		if c == types.CollectionMeta {
			return s.putMetaLocked(rec.ID, data)
		}
		s.colls[c][rec.ID] = data
		return nil
	})
}

// PutAll upserts recs into c and writes the document once.
func (s *Store) PutAll(ctx context.Context, c types.Collection, recs []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, c); err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.ID == "" {
			return types.ErrInvalidID
		}
		if !json.Valid(rec.Data) {
			return fmt.Errorf("record %s/%s: invalid JSON", c, rec.ID)
		}
	}
	return s.commitLocked(c, func() error {
		for _, rec := range recs {
			data := slices.Clone(rec.Data)
			if c == types.CollectionMeta {
				if err := s.putMetaLocked(rec.ID, data); err != nil {
					return err
				}
				continue
			}
			s.colls[c][rec.ID] = data
		}
		return nil
	})
}

// Delete implements types.Backend.
func (s *Store) Delete(ctx context.Context, c types.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, c); err != nil {
		return err
	}
	return s.commitLocked(c, func() error {
		if c == types.CollectionMeta {
			if !s.deleteMetaLocked(id) {
				return types.ErrNotFound
			}
			return nil
		}
		if _, ok := s.colls[c][id]; !ok {
			return types.ErrNotFound
		}
		delete(s.colls[c], id)
		return nil
	})
}

// Clear implements types.Backend. Clearing meta keeps the version key.
func (s *Store) Clear(ctx context.Context, c types.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, c); err != nil {
		return err
	}
	return s.commitLocked(c, func() error {
		if c == types.CollectionMeta {
			version := s.top[types.MetaVersion]
			s.top = map[string]json.RawMessage{types.MetaVersion: version}
		} else {
			s.colls[c] = map[string]json.RawMessage{}
		}
		return nil
	})
}

// Close implements types.Backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Snapshot returns the document bytes as they are on disk.
func (s *Store) Snapshot(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, types.CollectionMeta); err != nil {
		return nil, err
	}
	data, found, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if !found {
		return s.encodeLocked()
	}
	return data, nil
}

// Restore writes data to disk byte-for-byte and reloads the store from it.
// When data holds an older schema the bytes are still written, the store is
// closed and the returned error wraps types.ErrStaleSchema.
func (s *Store) Restore(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, types.CollectionMeta); err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("restore %s: invalid JSON", s.path)
	}
	if err := fsutil.WriteFile(s.path, data, 0o644); err != nil {
		return err
	}
	if err := s.load(data); err != nil {
		s.closed = true
		return err
	}
	s.log.Info().Str("path", s.path).Int("bytes", len(data)).Msg("document restored")
	return nil
}

// Meta record mapping.

func isCounterKey(key string) bool {
	return strings.HasPrefix(key, "next") && strings.HasSuffix(key, "Id")
}

// metaIDsLocked lists the meta record ids present in the document, sorted.
func (s *Store) metaIDsLocked() []string {
	ids := map[string]bool{}
	for key := range s.top {
		if isCounterKey(key) {
			ids[types.MetaCounters] = true
			continue
		}
		ids[key] = true
	}
	return slices.Sorted(maps.Keys(ids))
}

func (s *Store) getMetaLocked(id string) (types.Record, error) {
	if id == types.MetaCounters {
		counters := map[string]json.RawMessage{}
		for key, val := range s.top {
			if isCounterKey(key) {
				counters[key] = val
			}
		}
		if len(counters) == 0 {
			return types.Record{}, types.ErrNotFound
		}
		data, err := json.Marshal(counters)
		if err != nil {
			return types.Record{}, err
		}
		return types.Record{ID: id, Data: data}, nil
	}
	if isCounterKey(id) {
		return types.Record{}, types.ErrNotFound
	}
	data, ok := s.top[id]
	if !ok {
		return types.Record{}, types.ErrNotFound
	}
	return types.Record{ID: id, Data: data}, nil
}

func (s *Store) putMetaLocked(id string, data json.RawMessage) error {
	if id == types.MetaCounters {
		var counters map[string]json.RawMessage
		if err := json.Unmarshal(data, &counters); err != nil {
			return fmt.Errorf("counters record: %w", err)
		}
		for key, val := range counters {
			if !isCounterKey(key) {
				return fmt.Errorf("counters record: unexpected key %q: %w", key, types.ErrInvalidID)
			}
			s.top[key] = val
		}
		return nil
	}
	if isCounterKey(id) || types.ValidCollection(types.Collection(id)) {
		return fmt.Errorf("meta record %q: %w", id, types.ErrInvalidID)
	}
	s.top[id] = data
	return nil
}

func (s *Store) deleteMetaLocked(id string) bool {
	if id == types.MetaCounters {
		found := false
		for key := range s.top {
			if isCounterKey(key) {
				delete(s.top, key)
				found = true
			}
		}
		return found
	}
	if _, ok := s.top[id]; !ok || isCounterKey(id) {
		return false
	}
	delete(s.top, id)
	return true
}
