package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

const dateLayout = "2006-01-02"

func newEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entity",
		Aliases: []string{"e"},
		Short:   "Create, read, update and delete tasks, notes, checklists, projects and people",
	}
	cmd.AddCommand(
		newEntityCreateCmd(),
		newEntityGetCmd(),
		newEntityListCmd(),
		newEntityUpdateCmd(),
		newEntityToggleCmd(),
		newEntityDeleteCmd(),
		newEntityLinkCmd(),
		newEntityUnlinkCmd(),
	)
	return cmd
}

func parseDate(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, userError("--%s: want YYYY-MM-DD, got %q", flag, value)
	}
	return &t, nil
}

func parsePriority(value string) (types.Priority, error) {
	p := types.Priority(strings.ToLower(value))
	switch p {
	case "", types.PriorityLow, types.PriorityMedium, types.PriorityHigh, types.PriorityUrgent:
		return p, nil
	}
	return "", userError("invalid priority %q (valid: low, medium, high, urgent)", value)
}

func printEntity(w io.Writer, e *types.Entity) {
	done := " "
	if e.Completed {
		done = "x"
	}
	fmt.Fprintf(w, "[%s] %-12s %-9s %s\n", done, e.ID, e.Type, e.Title)
}

func newEntityCreateCmd() *cobra.Command {
	var (
		typ, title, content, priority, due, column, schedule, email string
		tags, people                                                []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an entity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			et, ok := types.ParseEntityType(typ)
			if !ok {
				return userError("invalid type %q (valid: task, note, checklist, project, person)", typ)
			}
			p, err := parsePriority(priority)
			if err != nil {
				return err
			}
			dueDate, err := parseDate("due", due)
			if err != nil {
				return err
			}
			day, err := parseDate("schedule", schedule)
			if err != nil {
				return err
			}
			draft := types.Entity{Title: title, Content: content, Priority: p, DueDate: dueDate}
			if email != "" {
				draft.Person = &types.PersonPayload{Email: email}
			}

			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				e, err := a.store.Create(ctx, et, draft)
				if err != nil {
					return err
				}
				for _, name := range tags {
					tag, err := a.store.CreateTag(ctx, name, "")
					if err != nil {
						return err
					}
					if _, err := a.store.Ledger().Add(ctx, e.ID, tag.ID, types.RelTag); err != nil {
						return err
					}
				}
				for _, id := range people {
					if _, err := a.store.Ledger().Add(ctx, e.ID, id, types.RelMention); err != nil {
						return err
					}
				}
				if column != "" {
					boardID, err := a.store.CurrentBoard(ctx)
					if err != nil {
						return err
					}
					if boardID == "" {
						return userError("no current board; run boardstore init")
					}
					board, err := a.store.Board(ctx, boardID)
					if err != nil {
						return err
					}
					if len(board.Rows) == 0 {
						return userError("board %s has no rows", boardID)
					}
					if err := a.store.PlaceCard(ctx, boardID, board.Rows[0].ID, column, e.ID, -1); err != nil {
						return err
					}
				}
				if day != nil {
					if _, err := a.store.Schedule(ctx, e.ID, *day); err != nil {
						return err
					}
				}
				if e, err = a.store.GetByID(ctx, e.ID); err != nil {
					return err
				}
				return output(cmd, e, func(w io.Writer) { printEntity(w, e) })
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&typ, "type", "task", "entity type (task, note, checklist, project, person)")
	f.StringVar(&title, "title", "", "entity title")
	f.StringVar(&content, "content", "", "entity body")
	f.StringVar(&priority, "priority", "", "priority (low, medium, high, urgent)")
	f.StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	f.StringVar(&email, "email", "", "email of a person")
	f.StringSliceVar(&tags, "tag", nil, "tag name, created when missing (repeatable)")
	f.StringSliceVar(&people, "person", nil, "id of a mentioned person (repeatable)")
	f.StringVar(&column, "column", "", "place the card in this column of the current board's first row")
	f.StringVar(&schedule, "schedule", "", "add to the weekly plan on this day (YYYY-MM-DD)")
	return cmd
}

func newEntityGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				e, err := a.store.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return output(cmd, e, func(w io.Writer) {
					printEntity(w, e)
					if e.Content != "" {
						fmt.Fprintf(w, "    %s\n", e.Content)
					}
					if len(e.TagIDs) > 0 {
						fmt.Fprintf(w, "    tags: %s\n", strings.Join(e.TagIDs, ", "))
					}
					if len(e.PersonIDs) > 0 {
						fmt.Fprintf(w, "    people: %s\n", strings.Join(e.PersonIDs, ", "))
					}
					if e.DueDate != nil {
						fmt.Fprintf(w, "    due: %s\n", e.DueDate.Format(dateLayout))
					}
				})
			})
		},
	}
}

func newEntityListCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				var (
					list []*types.Entity
					err  error
				)
				if typ == "" {
					list, err = a.store.GetAll(cmd.Context())
				} else {
					et, ok := types.ParseEntityType(typ)
					if !ok {
						return userError("invalid type %q", typ)
					}
					list, err = a.store.GetAllByType(cmd.Context(), et)
				}
				if err != nil {
					return err
				}
				if list == nil {
					list = []*types.Entity{}
				}
				return output(cmd, list, func(w io.Writer) {
					for _, e := range list {
						printEntity(w, e)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "only list entities of this type")
	return cmd
}

func newEntityUpdateCmd() *cobra.Command {
	var title, content, priority, due string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch types.EntityPatch
			f := cmd.Flags()
			if f.Changed("title") {
				patch.Title = &title
			}
			if f.Changed("content") {
				patch.Content = &content
			}
			if f.Changed("priority") {
				p, err := parsePriority(priority)
				if err != nil {
					return err
				}
				patch.Priority = &p
			}
			if f.Changed("due") {
				d, err := parseDate("due", due)
				if err != nil {
					return err
				}
				patch.DueDate = d
			}
			patch.ClearDue = clearDue
			return withApp(cmd, func(a *app) error {
				e, err := a.store.Update(cmd.Context(), args[0], patch)
				if err != nil {
					return err
				}
				return output(cmd, e, func(w io.Writer) { printEntity(w, e) })
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&content, "content", "", "new body")
	f.StringVar(&priority, "priority", "", "new priority")
	f.StringVar(&due, "due", "", "new due date (YYYY-MM-DD)")
	f.BoolVar(&clearDue, "clear-due", false, "remove the due date")
	return cmd
}

func newEntityToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip the completion of a task or checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				e, err := a.store.ToggleCompletion(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return output(cmd, e, func(w io.Writer) { printEntity(w, e) })
			})
		},
	}
}

type deleteResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func newEntityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entity and every reference to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				ok, err := a.store.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				res := deleteResult{ID: args[0], Deleted: ok}
				return output(cmd, res, func(w io.Writer) {
					if ok {
						fmt.Fprintf(w, "deleted %s\n", args[0])
					} else {
						fmt.Fprintf(w, "%s did not exist\n", args[0])
					}
				})
			})
		},
	}
}

func parseRelType(s string) (types.RelationshipType, error) {
	t := types.RelationshipType(strings.ToLower(s))
	if !t.Valid() {
		return "", userError("invalid relationship type %q (valid: tag, mention, subtask, attachment)", s)
	}
	return t, nil
}

func newEntityLinkCmd() *cobra.Command {
	var rel string
	cmd := &cobra.Command{
		Use:   "link <entity-id> <related-id>",
		Short: "Relate an entity to a tag, a person or another entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseRelType(rel)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				r, err := a.store.Ledger().Add(cmd.Context(), args[0], args[1], t)
				if err != nil {
					return err
				}
				return output(cmd, r, func(w io.Writer) { fmt.Fprintln(w, r.ID) })
			})
		},
	}
	cmd.Flags().StringVar(&rel, "type", string(types.RelSubtask), "relationship type (tag, mention, subtask, attachment)")
	return cmd
}

func newEntityUnlinkCmd() *cobra.Command {
	var rel string
	cmd := &cobra.Command{
		Use:   "unlink <entity-id> <related-id>",
		Short: "Remove a relationship",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := parseRelType(rel)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				ok, err := a.store.Ledger().Remove(cmd.Context(), args[0], args[1], t)
				if err != nil {
					return err
				}
				id := types.RelationshipID(t, args[0], args[1])
				return output(cmd, deleteResult{ID: id, Deleted: ok}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %s: %t\n", id, ok)
				})
			})
		},
	}
	cmd.Flags().StringVar(&rel, "type", string(types.RelSubtask), "relationship type (tag, mention, subtask, attachment)")
	return cmd
}
