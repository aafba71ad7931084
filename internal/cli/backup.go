package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/backup"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "List, prune and restore document backups",
	}
	cmd.AddCommand(newBackupListCmd(), newBackupPruneCmd(), newBackupRestoreCmd(), newBackupDiscardCmd())
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				all, err := a.backups.List()
				if err != nil {
					return err
				}
				if all == nil {
					all = []*backup.Backup{}
				}
				return output(cmd, all, func(w io.Writer) {
					for _, b := range all {
						fmt.Fprintf(w, "%s  %s  %-9s v%-4s %d bytes\n", b.Label, b.CreatedAt.Format("2006-01-02 15:04:05"), b.Reason, b.SourceVersion, b.Size)
					}
				})
			})
		},
	}
}

type pruneResult struct {
	Removed []string `json:"removed"`
}

func newBackupPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy from config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				removed, err := a.backups.Prune()
				if err != nil {
					return err
				}
				if removed == nil {
					removed = []string{}
				}
				return output(cmd, pruneResult{Removed: removed}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d backups\n", len(removed))
				})
			})
		},
	}
}

type restoreResult struct {
	Label         string `json:"label"`
	SourceVersion string `json:"sourceVersion"`
	Kept          bool   `json:"kept"`
	// Stale is set when the restored document needs migrating; that happens
	// the next time the store is opened.
	Stale bool `json:"stale"`
}

func newBackupRestoreCmd() *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "restore [label]",
		Short: "Write a backup back over the document store (default: the newest)",
		Long: "Restore a backup byte-for-byte over the document file. The backup is\n" +
			"removed afterwards unless --keep is given. A backup of an older schema is\n" +
			"migrated, with a fresh backup, the next time the store opens.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				label := ""
				if len(args) == 1 {
					label = args[0]
				} else {
					latest, err := a.backups.Latest()
					if err != nil {
						return err
					}
					label = latest.Label
				}
				take := a.backups.Consume
				if keep {
					take = a.backups.Load
				}
				b, err := take(label)
				if err != nil {
					return err
				}
				res := restoreResult{Label: b.Label, SourceVersion: b.SourceVersion, Kept: keep}
				if err := a.document.Restore(cmd.Context(), b.Data); err != nil {
					if !errors.Is(err, types.ErrStaleSchema) {
						if !keep {
							// Put the consumed backup back so it is not lost.
							if _, serr := a.backups.Save(b.Data, b.Reason, b.SourceVersion); serr != nil {
								err = errors.Join(err, serr)
							}
						}
						return fmt.Errorf("restore %s: %w", label, err)
					}
					res.Stale = true
				}
				if a.ctl.CurrentBackend() != types.BackendDocument {
					a.log.Warn().Str("primary", string(a.ctl.CurrentBackend())).Msg("restored the document store while another backend is primary")
				}
				return output(cmd, res, func(w io.Writer) {
					fmt.Fprintf(w, "restored %s (schema %s)\n", res.Label, res.SourceVersion)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the backup after restoring")
	return cmd
}

func newBackupDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <label>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.backups.Discard(args[0]); err != nil {
					return err
				}
				return output(cmd, deleteResult{ID: args[0], Deleted: true}, func(w io.Writer) {
					fmt.Fprintf(w, "discarded %s\n", args[0])
				})
			})
		},
	}
}
