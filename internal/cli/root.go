// Package cli implements the boardstore command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/importer"
	"github.com/mesh-intelligence/boardstore/internal/mode"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

var flags rootFlags

// NewRootCmd creates the top-level "boardstore" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	flags = rootFlags{}
	root := &cobra.Command{
		Use:   "boardstore",
		Short: "Local data layer for boards, tasks and weekly plans",
		Long: "boardstore keeps boards, entities, tags and weekly plans in a JSON document\n" +
			"or a SQLite database, migrates old documents and moves data between the two.",
		Version: Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory (default: $(CWD)/.boardstore-data)")
	root.PersistentFlags().BoolVar(&flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newEntityCmd(),
		newBoardCmd(),
		newMigrateCmd(),
		newImportCmd(),
		newExportCmd(),
		newModeCmd(),
		newMirrorCmd(),
		newBackupCmd(),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err == nil {
		os.Exit(exitSuccess)
	}
	fmt.Fprintln(os.Stderr, "boardstore:", err)
	os.Exit(exitCode(err))
}

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(format string, args ...any) error {
	return &exitError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

// exitCode maps err to a process exit code. Errors caused by bad input are
// user errors; everything else is a system error.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	for _, target := range []error{
		types.ErrNotFound,
		types.ErrValidation,
		types.ErrInvalidID,
		types.ErrValidationFailedAfterMigration,
		types.ErrMigrationStep,
		types.ErrAlreadyInProgress,
		types.ErrBackendUnknown,
		importer.ErrUnknownMode,
		mode.ErrUnknownFlag,
	} {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// output writes v as indented JSON in --json mode and calls text otherwise.
func output(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if flags.jsonMode {
		return writeJSON(w, v)
	}
	text(w)
	return nil
}
