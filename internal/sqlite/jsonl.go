// This file provides the JSONL encoding used by snapshots and dumps.
package sqlite

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// snapshotLine is one record of a snapshot stream.
type snapshotLine struct {
	Collection types.Collection `json:"collection"`
	ID         string           `json:"id"`
	Data       json.RawMessage  `json:"data"`
}

// encodeJSONL writes one JSON value per line.
func encodeJSONL[T any](values []T) ([]byte, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	for _, v := range values {
		line, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding record: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			return nil, fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return nil, fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flushing buffer: %w", err)
	}
	return buf.Bytes(), nil
}

// readJSONL decodes every non-empty line of data. Unlike a lenient loader, a
// malformed line is an error: a snapshot is either restored whole or not at all.
func readJSONL[T any](data []byte) ([]T, error) {
	var out []T
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	return out, nil
}

// DumpJSONL writes every collection to <dir>/<collection>.jsonl, one record
// per line, each file replaced atomically.
func (b *Backend) DumpJSONL(ctx context.Context, dir string) error {
	for _, c := range types.Collections {
		recs, err := b.GetAll(ctx, c)
		if err != nil {
			return err
		}
		data, err := encodeJSONL(recs)
		if err != nil {
			return fmt.Errorf("dumping %s: %w", c, err)
		}
		if err := fsutil.WriteFile(filepath.Join(dir, string(c)+".jsonl"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
