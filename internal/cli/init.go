package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/config"
	"github.com/mesh-intelligence/boardstore/internal/paths"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

type initResult struct {
	ConfigFile     string          `json:"configFile"`
	ConfigWritten  bool            `json:"configWritten"`
	DataDir        string          `json:"dataDir"`
	PrimaryBackend types.BackendID `json:"primaryBackend"`
	CurrentBoardID string          `json:"currentBoardId"`
	Migrated       bool            `json:"migrated"`
}

func newInitCmd() *cobra.Command {
	var backend string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize boardstore storage",
		Long: "Create the configuration and data directories, write config.yaml if it is\n" +
			"missing and make sure the store holds at least one board.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := types.BackendID(backend)
			if id != types.BackendDocument && id != types.BackendIndexed {
				return userError("unknown backend %q (valid: document, indexed)", backend)
			}
			configDir, err := paths.ResolveConfigDir(flags.configDir)
			if err != nil {
				return err
			}
			wrote, err := config.WriteInitial(configDir, id, flags.dataDir)
			if err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				current, err := a.store.CurrentBoard(ctx)
				if err != nil {
					return err
				}
				if current == "" {
					b, err := a.store.CreateBoard(ctx, "My Board")
					if err != nil {
						return err
					}
					current = b.ID
				}
				res := initResult{
					ConfigFile:     a.loaded.File,
					ConfigWritten:  wrote,
					DataDir:        a.loaded.Config.DataDir,
					PrimaryBackend: a.ctl.CurrentBackend(),
					CurrentBoardID: current,
					Migrated:       a.loadRes.Migrated(),
				}
				return output(cmd, res, func(w io.Writer) {
					fmt.Fprintf(w, "boardstore initialized in %s (primary: %s, board: %s)\n", res.DataDir, res.PrimaryBackend, res.CurrentBoardID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&backend, "backend", string(types.BackendDocument), "primary backend written to a new config.yaml (document or indexed)")
	return cmd
}
