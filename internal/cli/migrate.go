package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/docstore"
	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/internal/migrate"
	"github.com/mesh-intelligence/boardstore/internal/mode"
	"github.com/mesh-intelligence/boardstore/internal/workflow"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade documents and move data into the indexed backend",
	}
	cmd.AddCommand(newMigrateDetectCmd(), newMigrateRunCmd(), newMigrateStatusCmd())
	return cmd
}

type detectResult struct {
	File          string                   `json:"file"`
	SourceVersion migrate.Version          `json:"sourceVersion"`
	AppliedChain  []migrate.Version        `json:"appliedChain"`
	Validation    migrate.ValidationResult `json:"validation"`
	Output        string                   `json:"output,omitempty"`
}

func newMigrateDetectCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Detect the schema version of a document and dry-run its migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return userError("read %s: %v", args[0], err)
			}
			mig, err := migrate.Run(raw)
			var invalid *types.ValidationFailedAfterMigration
			if err != nil && !errors.As(err, &invalid) {
				return err
			}
			res := detectResult{
				File:          args[0],
				SourceVersion: mig.SourceVersion,
				AppliedChain:  mig.AppliedChain,
				Validation:    mig.Validation,
			}
			if out != "" && invalid == nil {
				data, err := docstore.Encode(mig.Document)
				if err != nil {
					return err
				}
				if err := fsutil.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				res.Output = out
			}
			if perr := output(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: version %s\n", res.File, res.SourceVersion)
				if len(res.AppliedChain) == 0 {
					fmt.Fprintln(w, "already current")
				} else {
					chain := make([]string, len(res.AppliedChain))
					for i, v := range res.AppliedChain {
						chain[i] = string(v)
					}
					fmt.Fprintf(w, "migrates through %s\n", strings.Join(chain, " -> "))
				}
				for _, e := range res.Validation.Errors {
					fmt.Fprintf(w, "  invalid: %s\n", e)
				}
				if res.Output != "" {
					fmt.Fprintf(w, "wrote %s\n", res.Output)
				}
			}); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the migrated document to this file")
	return cmd
}

func newWorkflow(a *app, opts ...workflow.Option) (*workflow.Workflow, error) {
	return workflow.New(a.document, a.indexed, a.ctl, a.backups, a.layout.MigrationLock(), a.log, opts...)
}

func newMigrateRunCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Copy the document store into the indexed backend, validate and commit",
		Long: "Back up the document, copy entities, boards and weekly plans into the\n" +
			"indexed backend, validate the copy and enable dual writes. A failed\n" +
			"validation rolls everything back. An interrupted run resumes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				var opts []workflow.Option
				if !quiet && !flags.jsonMode {
					errw := cmd.ErrOrStderr()
					opts = append(opts, workflow.WithObserver(func(p workflow.Progress) {
						fmt.Fprintf(errw, "%3d%% %s\n", p.Percent, p.Step)
					}))
				}
				w, err := newWorkflow(a, opts...)
				if err != nil {
					return err
				}
				res, runErr := w.Run(cmd.Context())
				if res == nil {
					return runErr
				}
				if err := output(cmd, res, func(out io.Writer) {
					for _, st := range res.Stages {
						fmt.Fprintf(out, "%-22s %5d copied %5d skipped %s\n", st.Stage, st.Count, st.Skipped, st.Duration.Round(1e6))
					}
					switch {
					case res.Committed:
						fmt.Fprintf(out, "migration %s committed (backup %s)\n", res.RunID, res.BackupLabel)
					case res.RolledBack:
						fmt.Fprintf(out, "migration %s rolled back\n", res.RunID)
						for _, e := range res.ValidationErrors {
							fmt.Fprintf(out, "  %s\n", e)
						}
					}
				}); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

type migrateStatus struct {
	Marker      *types.MigrationMarker `json:"marker,omitempty"`
	Flags       map[mode.Flag]bool     `json:"flags"`
	Primary     types.BackendID        `json:"primary"`
	Recommended mode.Mode              `json:"recommendedMode"`
	Document    string                 `json:"documentVersion"`
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last migration run and the current flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				w, err := newWorkflow(a)
				if err != nil {
					return err
				}
				marker, found, err := w.Marker(cmd.Context())
				if err != nil {
					return err
				}
				st := migrateStatus{
					Flags:       a.ctl.Flags(),
					Primary:     a.ctl.CurrentBackend(),
					Recommended: a.ctl.RecommendMode(),
					Document:    types.CurrentVersion,
				}
				if found {
					st.Marker = marker
				}
				return output(cmd, st, func(out io.Writer) {
					switch {
					case marker == nil || !found:
						fmt.Fprintln(out, "no migration has run")
					case marker.Complete:
						fmt.Fprintf(out, "migration %s completed %s\n", marker.RunID, marker.CompletedAt.Format("2006-01-02 15:04:05"))
					default:
						fmt.Fprintf(out, "migration %s started %s is incomplete; run migrate run to resume\n", marker.RunID, marker.StartedAt.Format("2006-01-02 15:04:05"))
					}
					fmt.Fprintf(out, "primary: %s, recommended mode: %s\n", st.Primary, st.Recommended)
				})
			})
		},
	}
}
