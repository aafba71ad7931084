// Package sqlite implements the indexed multi-collection storage backend on
// SQLite. Each collection is a table holding the record JSON alongside the
// columns that back its declared indexes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

var (
	_ types.Backend     = (*Backend)(nil)
	_ types.Snapshotter = (*Backend)(nil)
)

// Backend is the indexed backend.
type Backend struct {
	mu     sync.RWMutex
	path   string
	db     *sql.DB
	log    zerolog.Logger
	closed bool
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists. Existing data is kept.
func Open(path string, log zerolog.Logger) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// our own goroutines.
	db.SetMaxOpenConns(1)

	for _, stmt := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}
	b := &Backend{path: path, db: db, log: log.With().Str("backend", string(types.BackendIndexed)).Logger()}
	b.log.Debug().Str("path", path).Msg("indexed store opened")
	return b, nil
}

// Name implements types.Backend.
func (b *Backend) Name() types.BackendID { return types.BackendIndexed }

// Path returns the database file path.
func (b *Backend) Path() string { return b.path }

func (b *Backend) spec(ctx context.Context, c types.Collection) (tableSpec, error) {
	if err := ctx.Err(); err != nil {
		return tableSpec{}, err
	}
	if b.closed {
		return tableSpec{}, types.ErrBackendClosed
	}
	ts, ok := tableSpecs[c]
	if !ok {
		return tableSpec{}, fmt.Errorf("%s: %w", c, types.ErrUnknownCollection)
	}
	return ts, nil
}

// Get implements types.Backend.
func (b *Backend) Get(ctx context.Context, c types.Collection, id string) (types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return types.Record{}, err
	}
	var data string
	err = b.db.QueryRowContext(ctx, "SELECT data FROM "+ts.table+" WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, types.ErrNotFound
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("getting %s/%s: %w", c, id, err)
	}
	return types.Record{ID: id, Data: json.RawMessage(data)}, nil
}

// GetAll implements types.Backend.
func (b *Backend) GetAll(ctx context.Context, c types.Collection) ([]types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return nil, err
	}
	return b.query(ctx, "SELECT id, data FROM "+ts.table+" ORDER BY id")
}

// GetByIndex implements types.Backend.
func (b *Backend) GetByIndex(ctx context.Context, c types.Collection, index, value string) ([]types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return nil, err
	}
	col, ok := ts.columns[index]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", c, index, types.ErrUnknownIndex)
	}
	return b.query(ctx, "SELECT id, data FROM "+ts.table+" WHERE "+col+" = ? ORDER BY id", value)
}

func (b *Backend) query(ctx context.Context, query string, args ...any) ([]types.Record, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var recs []types.Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		recs = append(recs, types.Record{ID: id, Data: json.RawMessage(data)})
	}
	return recs, rows.Err()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsert writes one record with ON CONFLICT replacement of every column.
func upsert(ctx context.Context, ex execer, c types.Collection, ts tableSpec, rec types.Record) error {
	if rec.ID == "" {
		return types.ErrInvalidID
	}
	if !json.Valid(rec.Data) {
		return fmt.Errorf("record %s/%s: invalid JSON", c, rec.ID)
	}
	names, cols := ts.indexColumns(c)
	allCols := append([]string{"id"}, cols...)
	allCols = append(allCols, "data", "updated_at")

	updatedAt := ""
	if t := rec.UpdatedAt(); !t.IsZero() {
		updatedAt = t.UTC().Format(time.RFC3339Nano)
	}
	args := []any{rec.ID}
	for _, name := range names {
		args = append(args, rec.IndexValue(name))
	}
	args = append(args, string(rec.Data), updatedAt)

	sets := make([]string, 0, len(allCols)-1)
	for _, col := range allCols[1:] {
		sets = append(sets, col+" = excluded."+col)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		ts.table,
		strings.Join(allCols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(allCols)), ", "),
		strings.Join(sets, ", "),
	)
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("putting %s/%s: %w", c, rec.ID, err)
	}
	return nil
}

// Put implements types.Backend.
func (b *Backend) Put(ctx context.Context, c types.Collection, rec types.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return err
	}
	return upsert(ctx, b.db, c, ts, rec)
}

// PutAll upserts records in a single transaction: either all are written or
// none are.
func (b *Backend) PutAll(ctx context.Context, c types.Collection, recs []types.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	for _, rec := range recs {
		if err := upsert(ctx, tx, c, ts, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", c, err)
	}
	return nil
}

// Delete implements types.Backend.
func (b *Backend) Delete(ctx context.Context, c types.Collection, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx, "DELETE FROM "+ts.table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", c, id, err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Clear implements types.Backend.
func (b *Backend) Clear(ctx context.Context, c types.Collection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, "DELETE FROM "+ts.table); err != nil {
		return fmt.Errorf("clearing %s: %w", c, err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (b *Backend) Count(ctx context.Context, c types.Collection) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ts, err := b.spec(ctx, c)
	if err != nil {
		return 0, err
	}
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ts.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", c, err)
	}
	return n, nil
}

// Close implements types.Backend. Idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
