// This file implements byte-level snapshot and restore of the whole store.
package sqlite

import (
	"context"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Snapshot encodes every record of every collection as JSONL, collections in
// load order and records ordered by id.
func (b *Backend) Snapshot(ctx context.Context) ([]byte, error) {
	var lines []snapshotLine
	for _, c := range types.Collections {
		recs, err := b.GetAll(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", c, err)
		}
		for _, r := range recs {
			lines = append(lines, snapshotLine{Collection: c, ID: r.ID, Data: r.Data})
		}
	}
	return encodeJSONL(lines)
}

// Restore replaces the entire store with the snapshot contents. Loading is
// transactional: on any error the store is left as it was.
func (b *Backend) Restore(ctx context.Context, data []byte) error {
	lines, err := readJSONL[snapshotLine](data)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.spec(ctx, types.CollectionMeta); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning restore transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range types.Collections {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+tableSpecs[c].table); err != nil {
			return fmt.Errorf("clearing %s: %w", c, err)
		}
	}
	for i, l := range lines {
		ts, ok := tableSpecs[l.Collection]
		if !ok {
			return fmt.Errorf("restore line %d: %s: %w", i+1, l.Collection, types.ErrUnknownCollection)
		}
		rec := types.Record{ID: l.ID, Data: slices.Clone(l.Data)}
		if err := upsert(ctx, tx, l.Collection, ts, rec); err != nil {
			return fmt.Errorf("restore line %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing restore transaction: %w", err)
	}
	b.log.Info().Int("records", len(lines)).Msg("indexed store restored")
	return nil
}
