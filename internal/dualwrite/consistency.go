package dualwrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// CheckedCollections are the collections compared and reconciled. The
// migration marker is bookkeeping of a single backend and is skipped.
var CheckedCollections = types.Collections

// Report is the outcome of a full id-set comparison. Ids are qualified as
// "collection/id".
type Report struct {
	PrimaryCount    int       `json:"primaryCount"`
	SecondaryCount  int       `json:"secondaryCount"`
	OnlyInPrimary   []string  `json:"onlyInPrimary"`
	OnlyInSecondary []string  `json:"onlyInSecondary"`
	Stale           []string  `json:"stale"`
	Consistent      bool      `json:"consistent"`
	CheckedAt       time.Time `json:"checkedAt"`
}

// ReconcileResult is the outcome of Reconcile.
type ReconcileResult struct {
	Synced int      `json:"synced"`
	IDs    []string `json:"ids"`
	Report *Report  `json:"report"`
}

// QualifiedID joins a collection and a record id.
func QualifiedID(c types.Collection, id string) string {
	return string(c) + "/" + id
}

type collectionDiff struct {
	primaryCount, secondaryCount int
	onlyPrimary, onlySecondary   []string
	stale                        []string
}

// Compare diffs primary and secondary by id set per collection, scanning the
// collections in parallel. Equal counts are never taken as evidence of
// consistency: every id is compared. A record present on both sides is stale
// when the secondary copy is older by updatedAt, or, for records without
// timestamps, when the contents differ.
func Compare(ctx context.Context, primary, secondary types.Backend) (*Report, error) {
	var mu sync.Mutex
	diffs := map[types.Collection]collectionDiff{}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range CheckedCollections {
		g.Go(func() error {
			d, err := compareCollection(gctx, primary, secondary, c)
			if err != nil {
				return err
			}
			mu.Lock()
			diffs[c] = d
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Report{
		OnlyInPrimary:   []string{},
		OnlyInSecondary: []string{},
		Stale:           []string{},
		CheckedAt:       time.Now().UTC(),
	}
	for _, c := range CheckedCollections {
		d := diffs[c]
		r.PrimaryCount += d.primaryCount
		r.SecondaryCount += d.secondaryCount
		r.OnlyInPrimary = append(r.OnlyInPrimary, d.onlyPrimary...)
		r.OnlyInSecondary = append(r.OnlyInSecondary, d.onlySecondary...)
		r.Stale = append(r.Stale, d.stale...)
	}
	r.Consistent = len(r.OnlyInPrimary) == 0 && len(r.OnlyInSecondary) == 0 && len(r.Stale) == 0
	return r, nil
}

func compareCollection(ctx context.Context, primary, secondary types.Backend, c types.Collection) (collectionDiff, error) {
	var d collectionDiff
	p, err := scan(ctx, primary, c)
	if err != nil {
		return d, fmt.Errorf("scanning %s %s: %w", primary.Name(), c, err)
	}
	s, err := scan(ctx, secondary, c)
	if err != nil {
		return d, fmt.Errorf("scanning %s %s: %w", secondary.Name(), c, err)
	}
	d.primaryCount, d.secondaryCount = len(p), len(s)

	for _, id := range sortedIDs(p) {
		prec := p[id]
		srec, ok := s[id]
		switch {
		case !ok:
			d.onlyPrimary = append(d.onlyPrimary, QualifiedID(c, id))
		case isStale(prec, srec):
			d.stale = append(d.stale, QualifiedID(c, id))
		}
	}
	for _, id := range sortedIDs(s) {
		if _, ok := p[id]; !ok {
			d.onlySecondary = append(d.onlySecondary, QualifiedID(c, id))
		}
	}
	return d, nil
}

func scan(ctx context.Context, b types.Backend, c types.Collection) (map[string]types.Record, error) {
	recs, err := b.GetAll(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.Record, len(recs))
	for _, r := range recs {
		if c == types.CollectionMeta && r.ID == types.MetaMigration {
			continue
		}
		out[r.ID] = r
	}
	return out, nil
}

func sortedIDs(m map[string]types.Record) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// isStale reports whether the secondary copy should be replaced by the
// primary one under last-write-wins.
func isStale(primary, secondary types.Record) bool {
	pt, st := primary.UpdatedAt(), secondary.UpdatedAt()
	if !pt.IsZero() || !st.IsZero() {
		return st.Before(pt)
	}
	return !sameJSON(primary.Data, secondary.Data)
}

func sameJSON(a, b json.RawMessage) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}

// Sync copies every record missing from the secondary, and every stale one,
// from the primary. It never deletes from either side, so running it again
// is harmless.
func Sync(ctx context.Context, primary, secondary types.Backend) (*ReconcileResult, error) {
	report, err := Compare(ctx, primary, secondary)
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{IDs: []string{}, Report: report}
	todo := append(slices.Clone(report.OnlyInPrimary), report.Stale...)
	for _, qid := range todo {
		c, id, ok := splitQualified(qid)
		if !ok {
			continue
		}
		rec, err := primary.Get(ctx, c, id)
		if errors.Is(err, types.ErrNotFound) {
			// Deleted since the scan.
			continue
		}
		if err != nil {
			return res, fmt.Errorf("reading %s: %w", qid, err)
		}
		if err := secondary.Put(ctx, c, rec); err != nil {
			return res, fmt.Errorf("writing %s: %w", qid, err)
		}
		res.Synced++
		res.IDs = append(res.IDs, qid)
	}
	return res, nil
}

func splitQualified(qid string) (types.Collection, string, bool) {
	for _, c := range CheckedCollections {
		prefix := string(c) + "/"
		if len(qid) > len(prefix) && qid[:len(prefix)] == prefix {
			return c, qid[len(prefix):], true
		}
	}
	return "", "", false
}

// ValidateConsistency compares the controller's primary and secondary
// backends.
func (m *Mirror) ValidateConsistency(ctx context.Context) (*Report, error) {
	p, s, err := m.pair()
	if err != nil {
		return nil, err
	}
	return Compare(ctx, p, s)
}

// Reconcile repairs the controller's secondary backend from the primary.
func (m *Mirror) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	p, s, err := m.pair()
	if err != nil {
		return nil, err
	}
	res, err := Sync(ctx, p, s)
	if err != nil {
		return res, err
	}
	m.log.Info().Int("synced", res.Synced).Msg("reconciled secondary backend")
	return res, nil
}

func (m *Mirror) pair() (types.Backend, types.Backend, error) {
	p, err := m.ctl.Primary()
	if err != nil {
		return nil, nil, err
	}
	s, ok := m.ctl.Secondary()
	if !ok {
		return nil, nil, errors.New("no secondary backend registered")
	}
	return p, s, nil
}
