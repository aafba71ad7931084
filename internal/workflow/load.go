package workflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/boardstore/internal/backup"
	"github.com/mesh-intelligence/boardstore/internal/docstore"
	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/internal/migrate"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// LoadReason tags the backups taken by load-time migration.
const LoadReason = "load"

// LoadResult describes what LoadDocumentStore did to the file.
type LoadResult struct {
	Store         *docstore.Store
	SourceVersion migrate.Version
	AppliedChain  []migrate.Version
	BackupLabel   string
}

// Migrated reports whether the file was upgraded.
func (r *LoadResult) Migrated() bool { return len(r.AppliedChain) > 0 }

// LoadDocumentStore opens the document store at path, upgrading an older
// file first. The original bytes are backed up before migration and the
// upgraded document is written only after it validates; on any failure the
// file is left as it was.
func LoadDocumentStore(ctx context.Context, path string, backups *backup.Store, log zerolog.Logger) (*LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With().Str("component", "loader").Logger()
	raw, found, err := docstore.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res := &LoadResult{SourceVersion: migrate.Current}
	if found && docstore.PeekVersion(raw) != types.CurrentVersion {
		doc, err := migrate.Parse(raw)
		if err != nil {
			return nil, err
		}
		res.SourceVersion = migrate.DetectVersion(doc)
		b, err := backups.Save(raw, LoadReason, string(res.SourceVersion))
		if err != nil {
			return nil, fmt.Errorf("backing up %s: %w", path, err)
		}
		res.BackupLabel = b.Label

		mig, err := migrate.Run(raw)
		if err != nil {
			log.Error().Err(err).Str("path", path).Str("backup", b.Label).Msg("load-time migration failed, file left untouched")
			return nil, err
		}
		data, err := docstore.Encode(mig.Document)
		if err != nil {
			return nil, err
		}
		if err := fsutil.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing migrated document: %w", err)
		}
		res.AppliedChain = mig.AppliedChain
		log.Info().
			Str("path", path).
			Str("from", string(res.SourceVersion)).
			Int("steps", len(mig.AppliedChain)).
			Str("backup", b.Label).
			Msg("document migrated on load")
	}
	res.Store, err = docstore.Open(path, log)
	if err != nil {
		return nil, err
	}
	return res, nil
}
