package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/dualwrite"
)

func newMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Inspect and repair the dual-write mirror",
	}
	cmd.AddCommand(newMirrorStatusCmd(), newMirrorCheckCmd(), newMirrorReconcileCmd(), newMirrorResetCmd())
	return cmd
}

type mirrorStatus struct {
	Enabled bool            `json:"enabled"`
	Pending int             `json:"pending"`
	State   dualwrite.State `json:"state"`
}

func newMirrorStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mirror failure counts and recent errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				st := mirrorStatus{Enabled: a.ctl.MirroringEnabled(), Pending: a.mirror.Pending(), State: a.mirror.Status()}
				return output(cmd, st, func(w io.Writer) {
					fmt.Fprintf(w, "mirroring: %t, applied: %d, failures: %d (%d consecutive)\n",
						st.Enabled, st.State.Applied, st.State.Failures, st.State.Consecutive)
					if st.State.DisabledAt != nil {
						fmt.Fprintf(w, "disabled at %s after too many failures\n", st.State.DisabledAt.Format("2006-01-02 15:04:05"))
					}
					for _, e := range st.State.Errors {
						fmt.Fprintf(w, "  %s %s %s/%s: %s\n", e.At.Format("15:04:05"), e.Op, e.Collection, e.ID, e.Error)
					}
				})
			})
		},
	}
}

func printReport(w io.Writer, r *dualwrite.Report) {
	fmt.Fprintf(w, "primary: %d records, secondary: %d records, consistent: %t\n", r.PrimaryCount, r.SecondaryCount, r.Consistent)
	for _, id := range r.OnlyInPrimary {
		fmt.Fprintf(w, "  missing from secondary: %s\n", id)
	}
	for _, id := range r.OnlyInSecondary {
		fmt.Fprintf(w, "  only in secondary: %s\n", id)
	}
	for _, id := range r.Stale {
		fmt.Fprintf(w, "  stale in secondary: %s\n", id)
	}
}

func newMirrorCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the primary and secondary backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				r, err := a.mirror.ValidateConsistency(cmd.Context())
				if err != nil {
					return err
				}
				if err := output(cmd, r, func(w io.Writer) { printReport(w, r) }); err != nil {
					return err
				}
				if !r.Consistent {
					return userError("backends differ; run boardstore mirror reconcile")
				}
				return nil
			})
		},
	}
}

func newMirrorReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Copy missing and stale records from the primary to the secondary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				res, err := a.mirror.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				return output(cmd, res, func(w io.Writer) {
					fmt.Fprintf(w, "synced %d records\n", res.Synced)
					if res.Report != nil {
						printReport(w, res.Report)
					}
				})
			})
		},
	}
}

func newMirrorResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the failure counters and turn mirroring back on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.mirror.Reset(); err != nil {
					return err
				}
				return showMode(cmd, a)
			})
		},
	}
}
