package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"MissionCore/internal/catalog"
	"MissionCore/internal/storage/sqlite"
)

// loadTables reads YAML files in order, then every table stored in the
// database at sqlitePath when it is set.
func loadTables(ctx context.Context, files []string, sqlitePath string) ([]catalog.Table, error) {
	fileTables, err := catalog.LoadYAMLFiles(files...)
	if err != nil {
		return nil, err
	}
	tables := catalog.AsTables(fileTables)
	if sqlitePath == "" {
		return tables, nil
	}
	store, err := sqlite.Open(sqlitePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	stored, err := store.Tables(ctx)
	if err != nil {
		return nil, err
	}
	return append(tables, catalog.AsTables(stored)...), nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// TablesCmd returns the tables command
func TablesCmd() *cobra.Command {
	var sqlitePath string

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Manage mission tables stored in SQLite",
	}
	cmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "SQLite database path (required)")
	_ = cmd.MarkPersistentFlagRequired("sqlite")

	cmd.AddCommand(tablesImportCmd(&sqlitePath))
	cmd.AddCommand(tablesExportCmd(&sqlitePath))
	cmd.AddCommand(tablesListCmd(&sqlitePath))
	cmd.AddCommand(tablesDeleteCmd(&sqlitePath))
	return cmd
}

func tablesImportCmd(sqlitePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file...]",
		Short: "Import tables from YAML files, replacing stored tables of the same name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := catalog.LoadYAMLFiles(args...)
			if err != nil {
				return err
			}
			store, err := sqlite.Open(*sqlitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			for _, t := range tables {
				if err := store.ImportTable(cmd.Context(), t); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s (%d rows)\n", color.New(color.FgGreen).Sprint("IMPORTED"), t.Name(), t.Len())
			}
			return nil
		},
	}
}

func tablesExportCmd(sqlitePath *string) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored table as a YAML document",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(*sqlitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			tables, err := store.Tables(cmd.Context())
			if err != nil {
				return err
			}
			data, err := catalog.MarshalYAML(catalog.AsTables(tables))
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

func tablesListCmd(sqlitePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored tables in load order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(*sqlitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.TableNames(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, "No stored tables.")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func tablesDeleteCmd(sqlitePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a stored table and its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(*sqlitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteTable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.New(color.FgRed).Sprint("DELETED"), args[0])
			return nil
		},
	}
}
