package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Version is the boardstore release. Commit is stamped at build time.
var (
	Version = "0.3.0"
	Commit  string
)

const modulePath = "github.com/mesh-intelligence/boardstore"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the boardstore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "boardstore v%s\nmodule: %s\nschema: %s\n", Version, modulePath, types.CurrentVersion)
			if Commit != "" {
				fmt.Fprintf(w, "commit: %s\n", Commit)
			}
			return nil
		},
	}
}
