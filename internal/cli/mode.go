package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/mode"
	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func newModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Inspect and change the backend routing flags",
	}
	cmd.AddCommand(
		newModeShowCmd(),
		newModeFlagCmd("enable", true),
		newModeFlagCmd("disable", false),
		newModeRecommendCmd(),
		newModeApplyCmd(),
		newModeSwitchCmd(),
		newModeWatchCmd(),
	)
	return cmd
}

type modeState struct {
	Flags       map[mode.Flag]bool `json:"flags"`
	Primary     types.BackendID    `json:"primary"`
	Reader      types.BackendID    `json:"reader"`
	Mirroring   bool               `json:"mirroring"`
	Recommended mode.Mode          `json:"recommendedMode"`
}

func currentMode(a *app) (modeState, error) {
	reader, err := a.ctl.Reader()
	if err != nil {
		return modeState{}, err
	}
	return modeState{
		Flags:       a.ctl.Flags(),
		Primary:     a.ctl.CurrentBackend(),
		Reader:      reader.Name(),
		Mirroring:   a.ctl.MirroringEnabled(),
		Recommended: a.ctl.RecommendMode(),
	}, nil
}

func printMode(cmd *cobra.Command, st modeState) error {
	return output(cmd, st, func(w io.Writer) {
		for _, f := range mode.AllFlags {
			fmt.Fprintf(w, "%-20s %t\n", f, st.Flags[f])
		}
		fmt.Fprintf(w, "primary: %s, reads: %s, mirroring: %t\n", st.Primary, st.Reader, st.Mirroring)
		fmt.Fprintf(w, "recommended mode: %s\n", st.Recommended)
	})
}

func showMode(cmd *cobra.Command, a *app) error {
	st, err := currentMode(a)
	if err != nil {
		return err
	}
	return printMode(cmd, st)
}

func newModeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the flags, the routing they imply and the recommended mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error { return showMode(cmd, a) })
		},
	}
}

func parseFlag(s string) (mode.Flag, error) {
	f := mode.Flag(s)
	if !f.Valid() {
		return "", userError("unknown flag %q (valid: %v)", s, mode.AllFlags)
	}
	return f, nil
}

func newModeFlagCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <flag>...",
		Short: "Turn flags " + map[bool]string{true: "on", false: "off"}[enabled],
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fs []mode.Flag
			for _, s := range args {
				f, err := parseFlag(s)
				if err != nil {
					return err
				}
				fs = append(fs, f)
			}
			return withApp(cmd, func(a *app) error {
				if !enabled {
					if err := a.ctl.DisableAll(fs...); err != nil {
						return err
					}
					return showMode(cmd, a)
				}
				for _, f := range fs {
					if err := a.ctl.Enable(f); err != nil {
						return err
					}
				}
				return showMode(cmd, a)
			})
		},
	}
}

type recommendation struct {
	Primary     types.BackendID `json:"primary"`
	Recommended mode.Mode       `json:"recommended"`
}

func newModeRecommendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend",
		Short: "Print the operating mode the flags imply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				rec := recommendation{Primary: a.ctl.CurrentBackend(), Recommended: a.ctl.RecommendMode()}
				return output(cmd, rec, func(w io.Writer) { fmt.Fprintln(w, rec.Recommended) })
			})
		},
	}
}

var allModes = []mode.Mode{mode.ModeDocumentOnly, mode.ModeDualWrite, mode.ModeIndexedWithMirror, mode.ModeIndexedOnly}

func newModeApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply [mode]",
		Short: "Set the flags of an operating mode (default: the recommended one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				m := a.ctl.RecommendMode()
				if len(args) == 1 {
					m = mode.Mode(args[0])
					if !slices.Contains(allModes, m) {
						return userError("unknown mode %q (valid: %v)", args[0], allModes)
					}
				}
				if err := a.ctl.Apply(m); err != nil {
					return err
				}
				return showMode(cmd, a)
			})
		},
	}
}

func newModeSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <document|indexed>",
		Short: "Make a backend authoritative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.ctl.SwitchBackend(types.BackendID(args[0])); err != nil {
					return err
				}
				return showMode(cmd, a)
			})
		},
	}
}

func newModeWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print flag changes made by other processes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				w := cmd.OutOrStdout()
				a.ctl.OnChange(func(f mode.Flag, enabled bool) {
					if flags.jsonMode {
						if err := writeJSON(w, map[string]any{"flag": f, "enabled": enabled}); err != nil {
							a.log.Warn().Err(err).Msg("writing flag change")
						}
						return
					}
					fmt.Fprintf(w, "%s -> %t\n", f, enabled)
				})
				return a.ctl.Watch(ctx)
			})
		},
	}
}
