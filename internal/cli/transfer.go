package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/boardstore/internal/docstore"
	"github.com/mesh-intelligence/boardstore/internal/fsutil"
	"github.com/mesh-intelligence/boardstore/internal/importer"
)

func newImportCmd() *cobra.Command {
	var replace, dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a document of any schema version",
		Long: "Migrate a document to the current schema and merge it into the store.\n" +
			"Colliding ids are renamed. With --replace the store content is replaced\n" +
			"instead. The existing content is backed up first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return userError("read %s: %v", args[0], err)
			}
			m := importer.ModeMerge
			if replace {
				m = importer.ModeReplace
			}
			return withApp(cmd, func(a *app) error {
				im := importer.New(a.store, a.backups, a.log)
				var res *importer.Result
				if dryRun {
					res, err = im.Preview(cmd.Context(), raw, m)
				} else {
					res, err = im.Import(cmd.Context(), raw, m)
				}
				if err != nil {
					return err
				}
				return output(cmd, res, func(w io.Writer) {
					verb := "imported"
					if res.DryRun {
						verb = "would import"
					}
					fmt.Fprintf(w, "%s %s (schema %s, %d migration steps, mode %s)\n", verb, args[0], res.SourceVersion, len(res.AppliedChain), res.Mode)
					r := res.MergeReport
					if m == importer.ModeMerge {
						fmt.Fprintf(w, "added %d, unchanged %d, dropped %d\n", r.Added, r.Unchanged, r.Dropped)
						for _, rn := range r.Renames {
							fmt.Fprintf(w, "  %s %s -> %s\n", rn.Kind, rn.From, rn.To)
						}
					}
					if res.BackupLabel != "" {
						fmt.Fprintf(w, "previous content saved as %s\n", res.BackupLabel)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the store content instead of merging")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	return cmd
}

func newExportCmd() *cobra.Command {
	var out, jsonlDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the store content as a current-schema document",
		Long: "Write the store content as a current-schema document.\n" +
			"With --jsonl the indexed backend tables are dumped instead, one\n" +
			"<collection>.jsonl file per collection.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				if jsonlDir != "" {
					if err := os.MkdirAll(jsonlDir, 0o755); err != nil {
						return err
					}
					if err := a.indexed.DumpJSONL(cmd.Context(), jsonlDir); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "dumped indexed tables to %s\n", jsonlDir)
					return nil
				}
				doc, err := a.store.Export(cmd.Context())
				if err != nil {
					return err
				}
				data, err := docstore.Encode(doc)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := fsutil.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entities to %s\n", len(doc.Entities), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "file to write (default: stdout)")
	cmd.Flags().StringVar(&jsonlDir, "jsonl", "", "dump the indexed backend tables into this directory")
	return cmd
}
