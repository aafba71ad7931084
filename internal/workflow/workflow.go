// Package workflow moves the state held by the document backend into the
// indexed backend. A run goes through fixed stages (backup, entities,
// boards, weekly plans, validate) and ends in a commit or, when validation
// fails, an automatic rollback that restores the document backend from the
// backup taken at the start.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/mesh-intelligence/boardstore/internal/backup"
	"github.com/mesh-intelligence/boardstore/internal/dualwrite"
	"github.com/mesh-intelligence/boardstore/internal/migrate"
	"github.com/mesh-intelligence/boardstore/internal/mode"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// LockFile is the name of the cross-process lock file in the data directory.
const LockFile = "migration.lock"

// BackupReason tags the backups taken by a run.
const BackupReason = "migration"

// Stage names a step of the workflow.
type Stage string

// Workflow stages in execution order.
const (
	StageBackup      Stage = "backup"
	StageEntities    Stage = "migrate-entities"
	StageBoards      Stage = "migrate-boards"
	StageWeeklyPlans Stage = "migrate-weekly-plans"
	StageValidate    Stage = "validate"
	StageCommit      Stage = "commit"
	StageRollback    Stage = "rollback"
)

// Collections copied by each copy stage. Meta records other than the
// migration marker travel with the boards.
var stageCollections = map[Stage][]types.Collection{
	StageEntities:    {types.CollectionTags, types.CollectionPeople, types.CollectionEntities, types.CollectionRelationships},
	StageBoards:      {types.CollectionBoards, types.CollectionTemplates, types.CollectionMeta},
	StageWeeklyPlans: {types.CollectionWeeklyPlans},
}

// Progress bands per stage, in percent.
var stageBands = map[Stage][2]int{
	StageBackup:      {0, 10},
	StageEntities:    {10, 45},
	StageBoards:      {45, 65},
	StageWeeklyPlans: {65, 80},
	StageValidate:    {80, 95},
	StageCommit:      {95, 100},
	StageRollback:    {95, 100},
}

// rollbackFlags are the flags that route traffic to the indexed backend.
var rollbackFlags = []mode.Flag{mode.FlagIndexedPrimary, mode.FlagIndexedReads, mode.FlagMigrationComplete}

// StageReport summarizes one stage. Skipped counts records already present
// in the target and not older than the source.
type StageReport struct {
	Stage    Stage         `json:"stage"`
	Count    int           `json:"count"`
	Skipped  int           `json:"skipped"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Progress is a monotonic completion percentage with the current step label.
type Progress struct {
	Percent int    `json:"percent"`
	Step    string `json:"step"`
}

// Result is the outcome of a run.
type Result struct {
	RunID            string        `json:"runId"`
	BackupLabel      string        `json:"backupLabel"`
	Resumed          bool          `json:"resumed"`
	Stages           []StageReport `json:"stages"`
	Committed        bool          `json:"committed"`
	RolledBack       bool          `json:"rolledBack"`
	ValidationErrors []string      `json:"validationErrors,omitempty"`
}

// Flags is the part of the mode controller the workflow drives.
type Flags interface {
	Enable(flag mode.Flag) error
	DisableAll(flags ...mode.Flag) error
}

// Validator checks the target after the copy stages and returns the
// problems it finds.
type Validator func(ctx context.Context, source, target types.Backend) []string

// Option configures a Workflow.
type Option func(*Workflow)

// WithObserver receives every progress update.
func WithObserver(fn func(Progress)) Option {
	return func(w *Workflow) { w.observer = fn }
}

// WithValidator replaces the default validation stage.
func WithValidator(v Validator) Option {
	return func(w *Workflow) { w.validate = v }
}

// WithClock replaces time.Now for marker timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// Workflow migrates the source (document) backend into the target (indexed)
// backend. Only one run may be in flight per lock file.
type Workflow struct {
	source   types.Backend
	target   types.Backend
	flags    Flags
	backups  *backup.Store
	lock     *flock.Flock
	observer func(Progress)
	validate Validator
	now      func() time.Time
	log      zerolog.Logger

	running atomic.Bool
	mu      sync.Mutex
	current types.MigrationMarker
}

// New returns a workflow. The source must implement types.Snapshotter so it
// can be backed up and restored byte for byte.
func New(source, target types.Backend, flags Flags, backups *backup.Store, lockPath string, log zerolog.Logger, opts ...Option) (*Workflow, error) {
	if _, ok := source.(types.Snapshotter); !ok {
		return nil, fmt.Errorf("source backend %s cannot be snapshotted", source.Name())
	}
	w := &Workflow{
		source:   source,
		target:   target,
		flags:    flags,
		backups:  backups,
		lock:     flock.New(lockPath),
		validate: DefaultValidator,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "workflow").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Marker returns the migration marker stored in the target, if any.
func (w *Workflow) Marker(ctx context.Context) (*types.MigrationMarker, bool, error) {
	rec, err := w.target.Get(ctx, types.CollectionMeta, types.MetaMigration)
	if errors.Is(err, types.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading migration marker: %w", err)
	}
	var m types.MigrationMarker
	if err := rec.Decode(&m); err != nil {
		return nil, false, fmt.Errorf("decoding migration marker: %w", err)
	}
	return &m, true, nil
}

// Incomplete reports a run that started but never committed, for example
// because the process died mid-run. Calling Run again resumes it.
func (w *Workflow) Incomplete(ctx context.Context) (*types.MigrationMarker, bool, error) {
	m, ok, err := w.Marker(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return m, !m.Complete, nil
}

func (w *Workflow) putMarker(ctx context.Context, m types.MigrationMarker) error {
	rec, err := types.NewRecord(types.MetaMigration, m)
	if err != nil {
		return err
	}
	if err := w.target.Put(ctx, types.CollectionMeta, rec); err != nil {
		return fmt.Errorf("writing migration marker: %w", err)
	}
	return nil
}

// acquire takes the in-process guard and then the file lock.
func (w *Workflow) acquire(ctx context.Context) (release func(), err error) {
	if !w.running.CompareAndSwap(false, true) {
		w.mu.Lock()
		defer w.mu.Unlock()
		return nil, &types.AlreadyInProgressError{RunID: w.current.RunID, StartedAt: w.current.StartedAt}
	}
	locked, err := w.lock.TryLock()
	if err != nil {
		w.running.Store(false)
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}
	if !locked {
		w.running.Store(false)
		busy := &types.AlreadyInProgressError{}
		if m, ok, _ := w.Marker(ctx); ok {
			busy.RunID, busy.StartedAt = m.RunID, m.StartedAt
		}
		return nil, busy
	}
	return func() {
		if err := w.lock.Unlock(); err != nil {
			w.log.Warn().Err(err).Msg("releasing migration lock")
		}
		w.mu.Lock()
		w.current = types.MigrationMarker{}
		w.mu.Unlock()
		w.running.Store(false)
	}, nil
}

// progress keeps reported percentages monotonic.
type progress struct {
	fn   func(Progress)
	last int
}

func (p *progress) report(pct int, step string) {
	pct = max(min(pct, 100), p.last)
	p.last = pct
	if p.fn != nil {
		p.fn(Progress{Percent: pct, Step: step})
	}
}

func (p *progress) within(s Stage, done, total int, step string) {
	band := stageBands[s]
	pct := band[1]
	if total > 0 {
		pct = band[0] + (band[1]-band[0])*done/total
	}
	p.report(pct, step)
}

// Run executes the workflow. An interrupted earlier run is resumed with its
// backup. When validation fails the run is rolled back and the returned
// error is a *types.ValidationFailedAfterMigration with RolledBack set.
// A failing copy stage is rolled back as well.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	release, err := w.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	prog := &progress{fn: w.observer}
	res := &Result{}

	rep, marker, err := w.backupStage(ctx, prog, res)
	res.Stages = append(res.Stages, rep)
	if err != nil {
		return res, err
	}
	w.mu.Lock()
	w.current = marker
	w.mu.Unlock()
	w.log.Info().Str("run", res.RunID).Str("backup", res.BackupLabel).Bool("resumed", res.Resumed).Msg("migration started")

	for _, s := range []Stage{StageEntities, StageBoards, StageWeeklyPlans} {
		rep, err := w.copyStage(ctx, s, prog)
		res.Stages = append(res.Stages, rep)
		if err != nil {
			w.log.Error().Err(err).Str("stage", string(s)).Msg("migration stage failed")
			if rbErr := w.rollback(ctx, prog, res); rbErr != nil {
				return res, errors.Join(err, rbErr)
			}
			return res, fmt.Errorf("stage %s: %w", s, err)
		}
	}

	start := time.Now()
	prog.within(StageValidate, 0, 1, "validating migrated data")
	problems := w.validate(ctx, w.source, w.target)
	res.Stages = append(res.Stages, StageReport{Stage: StageValidate, Errors: problems, Duration: time.Since(start)})
	prog.within(StageValidate, 1, 1, "validation finished")

	if len(problems) > 0 {
		res.ValidationErrors = problems
		w.log.Error().Int("errors", len(problems)).Str("run", res.RunID).Msg("validation failed after migration")
		if err := w.rollback(ctx, prog, res); err != nil {
			return res, errors.Join(&types.ValidationFailedAfterMigration{Errors: problems}, err)
		}
		return res, &types.ValidationFailedAfterMigration{Errors: problems, RolledBack: true}
	}
	if err := w.commit(ctx, prog, res, marker); err != nil {
		return res, err
	}
	return res, nil
}

// backupStage snapshots the source, or reuses the backup of an interrupted
// run, and writes the started marker to the target.
func (w *Workflow) backupStage(ctx context.Context, prog *progress, res *Result) (StageReport, types.MigrationMarker, error) {
	start := time.Now()
	rep := StageReport{Stage: StageBackup}
	prog.report(stageBands[StageBackup][0], "backing up document store")

	prev, incomplete, err := w.Incomplete(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep, types.MigrationMarker{}, err
	}
	if incomplete && prev.BackupLabel != "" {
		if _, err := w.backups.Load(prev.BackupLabel); err == nil {
			res.RunID, res.BackupLabel, res.Resumed = prev.RunID, prev.BackupLabel, true
			rep.Skipped = 1
			rep.Duration = time.Since(start)
			prog.report(stageBands[StageBackup][1], "resuming interrupted migration")
			return rep, *prev, nil
		}
		w.log.Warn().Str("backup", prev.BackupLabel).Msg("backup of interrupted run is unusable, starting over")
	}

	raw, err := w.source.(types.Snapshotter).Snapshot(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep, types.MigrationMarker{}, fmt.Errorf("snapshotting source: %w", err)
	}
	b, err := w.backups.Save(raw, BackupReason, gjson.GetBytes(raw, "version").String())
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep, types.MigrationMarker{}, err
	}
	marker := types.MigrationMarker{RunID: uuid.NewString(), BackupLabel: b.Label, StartedAt: w.now()}
	if err := w.putMarker(ctx, marker); err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep, marker, err
	}
	res.RunID, res.BackupLabel = marker.RunID, marker.BackupLabel
	rep.Count = 1
	rep.Duration = time.Since(start)
	prog.report(stageBands[StageBackup][1], "backup saved")
	return rep, marker, nil
}

// copyStage copies the stage's collections from source to target, skipping
// records the target already holds in the same or a newer version.
func (w *Workflow) copyStage(ctx context.Context, s Stage, prog *progress) (StageReport, error) {
	start := time.Now()
	rep := StageReport{Stage: s}
	colls := stageCollections[s]
	prog.within(s, 0, len(colls), string(s))
	for i, c := range colls {
		recs, err := w.source.GetAll(ctx, c)
		if err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			rep.Duration = time.Since(start)
			return rep, fmt.Errorf("reading %s: %w", c, err)
		}
		for _, rec := range recs {
			if c == types.CollectionMeta && rec.ID == types.MetaMigration {
				continue
			}
			skip, err := w.present(ctx, c, rec)
			if err != nil {
				rep.Errors = append(rep.Errors, err.Error())
				rep.Duration = time.Since(start)
				return rep, err
			}
			if skip {
				rep.Skipped++
				continue
			}
			if err := w.target.Put(ctx, c, rec); err != nil {
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", dualwrite.QualifiedID(c, rec.ID), err))
				rep.Duration = time.Since(start)
				return rep, fmt.Errorf("writing %s: %w", dualwrite.QualifiedID(c, rec.ID), err)
			}
			rep.Count++
		}
		prog.within(s, i+1, len(colls), fmt.Sprintf("%s: %s copied", s, c))
	}
	rep.Duration = time.Since(start)
	w.log.Debug().Str("stage", string(s)).Int("count", rep.Count).Int("skipped", rep.Skipped).Msg("stage finished")
	return rep, nil
}

// present reports whether the target already holds rec, unchanged or newer.
func (w *Workflow) present(ctx context.Context, c types.Collection, rec types.Record) (bool, error) {
	have, err := w.target.Get(ctx, c, rec.ID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading target %s: %w", dualwrite.QualifiedID(c, rec.ID), err)
	}
	if sameJSON(have.Data, rec.Data) {
		return true, nil
	}
	src := rec.UpdatedAt()
	return !src.IsZero() && !have.UpdatedAt().Before(src), nil
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

func (w *Workflow) commit(ctx context.Context, prog *progress, res *Result, marker types.MigrationMarker) error {
	start := time.Now()
	rep := StageReport{Stage: StageCommit}
	marker.Complete = true
	marker.CompletedAt = w.now()
	err := w.putMarker(ctx, marker)
	if err == nil {
		for _, f := range []mode.Flag{mode.FlagDualWrite, mode.FlagMigrationComplete} {
			if err = w.flags.Enable(f); err != nil {
				break
			}
		}
	}
	rep.Duration = time.Since(start)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		res.Stages = append(res.Stages, rep)
		return fmt.Errorf("committing migration: %w", err)
	}
	rep.Count = 1
	res.Stages = append(res.Stages, rep)
	res.Committed = true
	prog.report(100, "migration complete")
	w.log.Info().Str("run", res.RunID).Msg("migration committed")
	return nil
}

// rollback clears the target, restores the source from the backup and turns
// off every flag that routes traffic to the target. The backup is consumed.
func (w *Workflow) rollback(ctx context.Context, prog *progress, res *Result) error {
	start := time.Now()
	rep := StageReport{Stage: StageRollback}
	defer func() {
		rep.Duration = time.Since(start)
		res.Stages = append(res.Stages, rep)
	}()
	prog.within(StageRollback, 0, 3, "rolling back")

	var errs []error
	for _, c := range types.Collections {
		if err := w.target.Clear(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("clearing target %s: %w", c, err))
			continue
		}
		rep.Count++
	}
	prog.within(StageRollback, 1, 3, "target cleared")

	if res.BackupLabel != "" {
		b, err := w.backups.Load(res.BackupLabel)
		if err == nil {
			err = w.source.(types.Snapshotter).Restore(ctx, b.Data)
		}
		if err == nil {
			err = w.backups.Discard(res.BackupLabel)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restoring backup %s: %w", res.BackupLabel, err))
		}
	}
	prog.within(StageRollback, 2, 3, "document store restored")

	if err := w.flags.DisableAll(rollbackFlags...); err != nil {
		errs = append(errs, fmt.Errorf("disabling flags: %w", err))
	}
	prog.report(100, "migration rolled back")

	if err := errors.Join(errs...); err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		w.log.Error().Err(err).Str("run", res.RunID).Msg("rollback incomplete")
		return err
	}
	res.RolledBack = true
	w.log.Warn().Str("run", res.RunID).Msg("migration rolled back")
	return nil
}

// DefaultValidator checks the target's structure and requires every source
// record to be present in it.
func DefaultValidator(ctx context.Context, source, target types.Backend) []string {
	doc, err := types.ReadDocument(ctx, target)
	if err != nil {
		return []string{err.Error()}
	}
	problems := migrate.ValidateDocument(doc)
	if doc.Version != types.CurrentVersion {
		problems = append(problems, fmt.Sprintf("target version is %q, want %q", doc.Version, types.CurrentVersion))
	}
	rep, err := dualwrite.Compare(ctx, source, target)
	if err != nil {
		return append(problems, err.Error())
	}
	for _, id := range rep.OnlyInPrimary {
		problems = append(problems, id+" is missing from the target")
	}
	return problems
}
