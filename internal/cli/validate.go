package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"MissionCore/internal/catalog"
)

// ValidateCmd returns the validate command
func ValidateCmd() *cobra.Command {
	var (
		files      []string
		sqlitePath string
	)

	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Load mission tables and report content problems",
		Long: `Load mission tables the way the server does and report:
- rows skipped during load (bad tags, duplicate tags, unknown states)
- branches that target missing rows or carry negative delays
- missions whose every branch is conditional
- branch cycles among non-repeatable missions

Exits non-zero when any error is found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files = append(files, args...)
			if len(files) == 0 && sqlitePath == "" {
				return fmt.Errorf("no tables given: pass YAML files or --sqlite")
			}
			tables, err := loadTables(cmd.Context(), files, sqlitePath)
			if err != nil {
				return err
			}
			reg, report := catalog.Load(tables, quietLogger())
			issues := catalog.Validate(reg)

			errs := printReport(cmd.OutOrStdout(), report, issues)
			if errs > 0 {
				return fmt.Errorf("validation failed with %d error(s)", errs)
			}
			return nil
		},
	}
	cmd.SilenceUsage = true
	cmd.Flags().StringSliceVar(&files, "tables", nil, "mission table YAML files, loaded in order")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "also load tables stored in this SQLite database")
	return cmd
}

// printReport writes the load report and issues, returning the error count.
// Skipped rows count as errors.
func printReport(out io.Writer, report catalog.LoadReport, issues []catalog.Issue) int {
	errLabel := color.New(color.FgRed).Sprint("ERROR")
	warnLabel := color.New(color.FgYellow).Sprint("WARN ")

	fmt.Fprintf(out, "Loaded %d missions from %d tables\n", report.Loaded, report.Tables)
	errs := 0
	for _, s := range report.Skipped {
		errs++
		fmt.Fprintf(out, "  %s %s/%s (row %d): %s\n", errLabel, s.Table, s.Name, s.Index, s.Reason)
	}
	for _, issue := range issues {
		label := warnLabel
		if issue.Severity == catalog.SeverityError {
			errs++
			label = errLabel
		}
		fmt.Fprintf(out, "  %s %s: %s\n", label, issue.Tag, issue.Message)
	}
	if errs == 0 && len(issues) == 0 {
		fmt.Fprintf(out, "%s\n", color.New(color.FgGreen).Sprint("OK"))
	}
	return errs
}
