package cli

import (
	"fmt"
	"time"

	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/macros"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/spf13/cobra"
)

var exportSince string

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportMacrosCmd)
	exportCmd.AddCommand(exportStatusCmd)

	exportMacrosCmd.Flags().StringVarP(&macrosFile, "file", "f", "", "macro file (default from config)")
	exportStatusCmd.Flags().StringVarP(&macrosFile, "file", "f", "", "macro file (default from config)")
	exportStatusCmd.Flags().StringVar(&exportSince, "since", "", "history window start (1h, 2d, RFC3339 or 2006-01-02)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export litemacro data",
	Long:  "Export macros and history for automation or reporting.",
}

var exportMacrosCmd = &cobra.Command{
	Use:   "macros",
	Short: "Export the macro file in normalized form",
	Long: `Print the macro file with names and aliases lowercased and macros in
declaration order. YAML by default, JSON with --json.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := macros.LoadFile(resolveMacrosFile(nil))
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), file.Macros)
		}
		data, err := macros.Marshal(file)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

// ExportStatus is the payload returned by `litemacro export status`.
type ExportStatus struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Validation  *ValidationReport           `json:"validation"`
	Summary     *models.InvocationSummary   `json:"summary,omitempty"`
	Macros      []*models.InvocationSummary `json:"macros,omitempty"`
	Recent      []*models.InvocationRecord  `json:"recent,omitempty"`
	Failures    []*models.Event             `json:"failures,omitempty"`
}

var exportStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Export full status",
	Long:  "Export the macro file check and, when history is enabled, usage and recent failures.",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := ParseSince(exportSince)
		if err != nil {
			return err
		}
		report, err := validateFile(resolveMacrosFile(nil))
		if err != nil {
			return err
		}
		status := ExportStatus{GeneratedAt: time.Now().UTC(), Validation: report}

		if mustConfig().Database.Path != "" {
			database, err := openHistory()
			if err == nil {
				defer database.Close()
				if err := collectHistory(cmd, database, since, &status); err != nil {
					return err
				}
			}
		}

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), status)
		}

		out := cmd.OutOrStdout()
		rows := [][]string{
			{"Macros:", fmt.Sprint(len(report.Macros))},
			{"Excluded:", fmt.Sprint(len(report.Excluded))},
			{"Warnings:", fmt.Sprint(len(report.Warnings))},
		}
		if status.Summary != nil {
			rows = append(rows,
				[]string{"Invocations:", fmt.Sprint(status.Summary.Invocations)},
				[]string{"Failed steps:", fmt.Sprint(status.Summary.FailedSteps)},
			)
		}
		if err := writeTable(out, nil, rows); err != nil {
			return err
		}
		fmt.Fprintln(out, "Use --json or --jsonl for full export output.")
		return nil
	},
}

func collectHistory(cmd *cobra.Command, database *db.DB, since *time.Time, status *ExportStatus) error {
	ctx := cmd.Context()
	invocations := db.NewInvocationRepository(database)

	summary, err := invocations.SummarizeAll(ctx, since, nil)
	if err != nil {
		return fmt.Errorf("failed to summarize invocations: %w", err)
	}
	perMacro, err := invocations.SummarizeByMacro(ctx, since, nil)
	if err != nil {
		return fmt.Errorf("failed to summarize macros: %w", err)
	}
	recent, err := invocations.Query(ctx, models.InvocationQuery{Since: since, Limit: 50})
	if err != nil {
		return fmt.Errorf("failed to list invocations: %w", err)
	}

	failed := models.EventTypeMacroStepFailed
	page, err := db.NewEventRepository(database).Query(ctx, db.EventQuery{Type: &failed, Since: since, Limit: 100})
	if err != nil {
		return fmt.Errorf("failed to list failures: %w", err)
	}

	status.Summary = summary
	status.Macros = perMacro
	status.Recent = recent
	status.Failures = page.Events
	return nil
}
