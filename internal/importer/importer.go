// Package importer loads a document of any schema version into the store,
// either replacing its content or merging into it.
package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/boardstore/internal/backup"
	"github.com/mesh-intelligence/boardstore/internal/docstore"
	"github.com/mesh-intelligence/boardstore/internal/migrate"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// BackupReason tags the backups taken before an import.
const BackupReason = "import"

// Mode selects what an import does with the existing content.
type Mode string

// Import modes.
const (
	ModeMerge   Mode = "merge"
	ModeReplace Mode = "replace"
)

// ErrUnknownMode is returned for a mode other than merge or replace.
var ErrUnknownMode = errors.New("unknown import mode")

// Store is the part of the entity store an import writes through.
type Store interface {
	Export(ctx context.Context) (*types.Document, error)
	Load(ctx context.Context, doc *types.Document) error
	ReconcileCounters(ctx context.Context) (types.Counters, bool, error)
}

// Result is the outcome of an import. MigratedDocument is the incoming
// document after migration and before merging.
type Result struct {
	Mode             Mode              `json:"mode"`
	SourceVersion    migrate.Version   `json:"sourceVersion"`
	AppliedChain     []migrate.Version `json:"appliedChain"`
	MigratedDocument *types.Document   `json:"-"`
	MergeReport      MergeReport       `json:"mergeReport"`
	BackupLabel      string            `json:"backupLabel,omitempty"`
	Counters         types.Counters    `json:"counters"`
	DryRun           bool              `json:"dryRun"`
}

// Importer runs imports against a store.
type Importer struct {
	store   Store
	backups *backup.Store
	log     zerolog.Logger
}

// New returns an importer. backups may be nil, in which case no backup is
// taken before writing.
func New(store Store, backups *backup.Store, log zerolog.Logger) *Importer {
	return &Importer{store: store, backups: backups, log: log.With().Str("component", "importer").Logger()}
}

// Import migrates raw to the current schema and writes it into the store.
// Replace discards the existing content; merge keeps it and renames
// colliding incoming ids. The existing content is backed up first. Counters
// are re-derived afterwards so later creates never reuse an imported id.
// Nothing is written when migration or validation fails.
func (im *Importer) Import(ctx context.Context, raw []byte, mode Mode) (*Result, error) {
	res, doc, err := im.plan(ctx, raw, mode)
	if err != nil {
		return nil, err
	}
	if im.backups != nil {
		label, err := im.backup(ctx)
		if err != nil {
			return nil, err
		}
		res.BackupLabel = label
	}
	if err := im.store.Load(ctx, doc); err != nil {
		return nil, fmt.Errorf("loading imported document: %w", err)
	}
	counters, changed, err := im.store.ReconcileCounters(ctx)
	if err != nil {
		return nil, err
	}
	res.Counters = counters
	im.log.Info().
		Str("mode", string(mode)).
		Str("from", string(res.SourceVersion)).
		Int("added", res.MergeReport.Added).
		Int("renames", len(res.MergeReport.Renames)).
		Bool("countersRaised", changed).
		Msg("import finished")
	return res, nil
}

// Preview runs an import without writing anything.
func (im *Importer) Preview(ctx context.Context, raw []byte, mode Mode) (*Result, error) {
	res, doc, err := im.plan(ctx, raw, mode)
	if err != nil {
		return nil, err
	}
	res.DryRun = true
	res.Counters = doc.Counters
	return res, nil
}

// plan migrates raw and builds the document the store should hold.
func (im *Importer) plan(ctx context.Context, raw []byte, mode Mode) (*Result, *types.Document, error) {
	if mode != ModeMerge && mode != ModeReplace {
		return nil, nil, fmt.Errorf("%q: %w", mode, ErrUnknownMode)
	}
	mig, err := migrate.Run(raw)
	if err != nil {
		return nil, nil, err
	}
	res := &Result{
		Mode:             mode,
		SourceVersion:    mig.SourceVersion,
		AppliedChain:     mig.AppliedChain,
		MigratedDocument: mig.Document,
	}
	if mode == ModeReplace {
		doc := cloneDocument(mig.Document)
		doc.ReconcileCounters()
		return res, doc, nil
	}
	existing, err := im.store.Export(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading existing content: %w", err)
	}
	merged, report := Merge(existing, mig.Document)
	res.MergeReport = report
	if problems := migrate.ValidateDocument(merged); len(problems) > 0 {
		return nil, nil, &types.ValidationFailedAfterMigration{Errors: problems}
	}
	return res, merged, nil
}

func (im *Importer) backup(ctx context.Context) (string, error) {
	current, err := im.store.Export(ctx)
	if err != nil {
		return "", fmt.Errorf("reading existing content: %w", err)
	}
	data, err := docstore.Encode(current)
	if err != nil {
		return "", err
	}
	b, err := im.backups.Save(data, BackupReason, current.Version)
	if err != nil {
		return "", err
	}
	return b.Label, nil
}
