package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

func newBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Manage boards, card placement, tags, people and weekly plans",
	}
	cmd.AddCommand(
		newBoardListCmd(),
		newBoardCreateCmd(),
		newBoardShowCmd(),
		newBoardSwitchCmd(),
		newBoardDeleteCmd(),
		newBoardPlaceCmd(),
		newBoardRemoveCmd(),
		newTagsCmd(),
		newPeopleCmd(),
		newWeekCmd(),
	)
	return cmd
}

type boardList struct {
	Current string         `json:"currentBoardId"`
	Boards  []*types.Board `json:"boards"`
}

func newBoardListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				current, err := a.store.CurrentBoard(ctx)
				if err != nil {
					return err
				}
				boards, err := a.store.Boards(ctx)
				if err != nil {
					return err
				}
				res := boardList{Current: current, Boards: boards}
				return output(cmd, res, func(w io.Writer) {
					for _, b := range boards {
						mark := " "
						if b.ID == current {
							mark = "*"
						}
						fmt.Fprintf(w, "%s %-10s %s\n", mark, b.ID, b.Name)
					}
				})
			})
		},
	}
}

func newBoardCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a board with the default columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				b, err := a.store.CreateBoard(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return output(cmd, b, func(w io.Writer) { fmt.Fprintf(w, "created %s %s\n", b.ID, b.Name) })
			})
		},
	}
}

func newBoardShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show the cards of a board (default: the current board)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				id := ""
				if len(args) == 1 {
					id = args[0]
				} else {
					var err error
					if id, err = a.store.CurrentBoard(ctx); err != nil {
						return err
					}
				}
				b, err := a.store.Board(ctx, id)
				if err != nil {
					return err
				}
				return output(cmd, b, func(w io.Writer) {
					fmt.Fprintf(w, "%s %s\n", b.ID, b.Name)
					for _, row := range b.Rows {
						fmt.Fprintf(w, "  %s %s\n", row.ID, row.Name)
						for _, col := range b.Columns {
							fmt.Fprintf(w, "    %-12s %s\n", col.Name+":", strings.Join(row.Cards[col.Key], " "))
						}
					}
				})
			})
		},
	}
}

func newBoardSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <id>",
		Short: "Make a board the current board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.store.SwitchBoard(cmd.Context(), args[0]); err != nil {
					return err
				}
				return output(cmd, boardList{Current: args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "current board: %s\n", args[0])
				})
			})
		},
	}
}

func newBoardDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a board; its entities are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if err := a.store.DeleteBoard(cmd.Context(), args[0]); err != nil {
					return err
				}
				return output(cmd, deleteResult{ID: args[0], Deleted: true}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %s\n", args[0])
				})
			})
		},
	}
}

func newBoardPlaceCmd() *cobra.Command {
	var boardID, rowID, column string
	var index int
	cmd := &cobra.Command{
		Use:   "place <entity-id>",
		Short: "Put an entity's card on a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				id := boardID
				if id == "" {
					var err error
					if id, err = a.store.CurrentBoard(ctx); err != nil {
						return err
					}
				}
				if err := a.store.PlaceCard(ctx, id, rowID, column, args[0], index); err != nil {
					return err
				}
				b, err := a.store.Board(ctx, id)
				if err != nil {
					return err
				}
				return output(cmd, b, func(w io.Writer) {
					fmt.Fprintf(w, "placed %s on %s/%s/%s\n", args[0], id, rowID, column)
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&boardID, "board", "", "board id (default: the current board)")
	f.StringVar(&rowID, "row", "row_1", "row id")
	f.StringVar(&column, "column", "todo", "column key")
	f.IntVar(&index, "index", -1, "position in the column; -1 appends")
	return cmd
}

func newBoardRemoveCmd() *cobra.Command {
	var boardID string
	cmd := &cobra.Command{
		Use:   "remove <entity-id>",
		Short: "Take an entity's card off a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				id := boardID
				if id == "" {
					var err error
					if id, err = a.store.CurrentBoard(ctx); err != nil {
						return err
					}
				}
				ok, err := a.store.RemoveCard(ctx, id, args[0])
				if err != nil {
					return err
				}
				return output(cmd, deleteResult{ID: args[0], Deleted: ok}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %s from %s: %t\n", args[0], id, ok)
				})
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "", "board id (default: the current board)")
	return cmd
}

func newTagsCmd() *cobra.Command {
	var create, color string
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List tags, or create one with --create",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				if create != "" {
					if _, err := a.store.CreateTag(ctx, create, color); err != nil {
						return err
					}
				}
				tags, err := a.store.Tags(ctx)
				if err != nil {
					return err
				}
				return output(cmd, tags, func(w io.Writer) {
					for _, t := range tags {
						fmt.Fprintf(w, "%-8s %-20s %d\n", t.ID, t.Name, t.UsageCount)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&create, "create", "", "name of a tag to create")
	cmd.Flags().StringVar(&color, "color", "", "color of the created tag")
	return cmd
}

func newPeopleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "people",
		Short: "List the people directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				people, err := a.store.People(cmd.Context())
				if err != nil {
					return err
				}
				return output(cmd, people, func(w io.Writer) {
					for _, p := range people {
						fmt.Fprintf(w, "%-10s %-24s %d\n", p.ID, p.Name, p.UsageCount)
					}
				})
			})
		},
	}
}

func newWeekCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show the weekly plan of the week containing --date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now().UTC()
			if date != "" {
				d, err := parseDate("date", date)
				if err != nil {
					return err
				}
				day = *d
			}
			return withApp(cmd, func(a *app) error {
				plan, err := a.store.WeeklyPlan(cmd.Context(), day)
				if err != nil {
					return err
				}
				return output(cmd, plan, func(w io.Writer) {
					fmt.Fprintf(w, "week of %s\n", plan.WeekStart)
					for _, it := range plan.Items {
						fmt.Fprintf(w, "  %-10s %-12s %s\n", it.Day, it.EntityID, it.ID)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "any day of the week (YYYY-MM-DD, default today)")
	return cmd
}
