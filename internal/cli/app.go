package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/backup"
	"github.com/mesh-intelligence/boardstore/internal/config"
	"github.com/mesh-intelligence/boardstore/internal/docstore"
	"github.com/mesh-intelligence/boardstore/internal/dualwrite"
	"github.com/mesh-intelligence/boardstore/internal/entity"
	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/internal/logging"
	"github.com/mesh-intelligence/boardstore/internal/mode"
	"github.com/mesh-intelligence/boardstore/internal/paths"
	"github.com/mesh-intelligence/boardstore/internal/sqlite"
	"github.com/mesh-intelligence/boardstore/internal/workflow"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// settings is the resolved configuration and logger of one invocation.
type settings struct {
	loaded *config.Loaded
	layout paths.Layout
	logs   *logging.Log
	log    zerolog.Logger
}

func loadSettings(cmd *cobra.Command) (*settings, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	loaded, err := config.Load(configDir, flags.dataDir)
	if err != nil {
		return nil, err
	}
	logs, err := logging.New().FromConfig(loaded.Config.Log).FromWriter(cmd.ErrOrStderr()).Make()
	if err != nil {
		return nil, err
	}
	return &settings{
		loaded: loaded,
		layout: paths.Layout{DataDir: loaded.Config.DataDir},
		logs:   logs,
		log:    logs.Logger,
	}, nil
}

// app is every component of the data layer, wired together.
type app struct {
	*settings
	backups  *backup.Store
	loadRes  *workflow.LoadResult
	document *docstore.Store
	indexed  *sqlite.Backend
	ctl      *mode.Controller
	mirror   *dualwrite.Mirror
	store    *entity.Store
}

// openApp loads the configuration and opens both backends. The document is
// migrated to the current schema on the way in.
func openApp(cmd *cobra.Command) (*app, error) {
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{settings: s}
	if err := a.open(cmd.Context()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.loaded.Config
	if err := a.layout.Ensure(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var err error
	if a.backups, err = backup.Open(a.layout.Backups(), cfg.Backup, a.log); err != nil {
		return err
	}
	if a.loadRes, err = workflow.LoadDocumentStore(ctx, a.layout.Document(), a.backups, a.log); err != nil {
		return err
	}
	a.document = a.loadRes.Store
	if a.indexed, err = sqlite.Open(a.layout.Indexed(), a.log); err != nil {
		return err
	}

	firstRun := !fsutil.Exists(a.layout.Flags())
	if a.ctl, err = mode.Open(a.layout.Flags(), a.log); err != nil {
		return err
	}
	a.ctl.Register(a.document)
	a.ctl.Register(a.indexed)
	// The configured backend only seeds the flags; afterwards they rule.
	if firstRun && cfg.PrimaryBackend == types.BackendIndexed {
		if err := a.ctl.SwitchBackend(types.BackendIndexed); err != nil {
			return err
		}
	}

	a.mirror, err = dualwrite.New(a.ctl, cfg.Mirror, a.layout.MirrorState(), a.log,
		dualwrite.WithWarningHandler(func(w dualwrite.Warning) {
			a.log.Warn().Int("failures", w.Failures).Str("lastError", w.LastError).Msg(w.String())
		}))
	if err != nil {
		return err
	}
	a.store = entity.New(a.ctl, a.log, entity.WithMirror(a.mirror))
	return nil
}

// Close drains the mirror queue and closes both backends.
func (a *app) Close() error {
	var errs []error
	if a.mirror != nil {
		// A short-lived process waits for queued mirror writes before exiting.
		ctx, cancel := context.WithTimeout(context.Background(), 2*a.loaded.Config.Mirror.Timeout)
		if err := a.mirror.Flush(ctx); err != nil {
			a.log.Warn().Err(err).Int("pending", a.mirror.Pending()).Msg("mirror queue not drained")
		}
		cancel()
		errs = append(errs, a.mirror.Close())
	}
	if a.indexed != nil {
		errs = append(errs, a.indexed.Close())
	}
	if a.document != nil {
		errs = append(errs, a.document.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(a *app) error) (err error) {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
