package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/spf13/cobra"
)

var (
	statsSince     string
	historySince   string
	historyMacro   string
	historyInvoker string
	historyLimit   int
)

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)

	statsCmd.Flags().StringVar(&statsSince, "since", "7d", "window start (1h, 2d, RFC3339 or 2006-01-02)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "window start (1h, 2d, RFC3339 or 2006-01-02)")
	historyCmd.Flags().StringVar(&historyMacro, "macro", "", "only this macro")
	historyCmd.Flags().StringVar(&historyInvoker, "invoker", "", "only this invoker")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max invocations to show")
}

// StatsReport is the output of `litemacro stats`.
type StatsReport struct {
	Since  *time.Time                  `json:"since,omitempty"`
	Total  *models.InvocationSummary   `json:"total"`
	Macros []*models.InvocationSummary `json:"macros"`
	Events map[models.EventType]int64  `json:"events,omitempty"`
}

// notableEvents are the event counts `stats` prints under the table.
var notableEvents = []struct {
	typ   models.EventType
	label string
}{
	{models.EventTypeMacroDenied, "denied"},
	{models.EventTypeMacroTransferFailed, "transfer failures"},
	{models.EventTypeRegistryReloaded, "reloads"},
	{models.EventTypeRegistryReloadFailed, "failed reloads"},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize macro usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := ParseSince(statsSince)
		if err != nil {
			return err
		}
		database, err := openHistory()
		if err != nil {
			return err
		}
		defer database.Close()

		repo := db.NewInvocationRepository(database)
		ctx := cmd.Context()
		total, err := repo.SummarizeAll(ctx, since, nil)
		if err != nil {
			return err
		}
		perMacro, err := repo.SummarizeByMacro(ctx, since, nil)
		if err != nil {
			return err
		}

		counts, err := db.NewEventRepository(database).CountByType(ctx, since)
		if err != nil {
			return err
		}

		report := StatsReport{Since: since, Total: total, Macros: perMacro, Events: counts}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), report)
		}
		return writeStats(cmd.OutOrStdout(), report)
	},
}

func writeStats(out io.Writer, report StatsReport) error {
	rows := make([][]string, 0, len(report.Macros)+1)
	for _, s := range report.Macros {
		rows = append(rows, summaryRow(s.Macro, s))
	}
	if report.Total != nil && len(report.Macros) > 1 {
		rows = append(rows, summaryRow(colorize("total", colorDim), report.Total))
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, colorize("no invocations recorded", colorDim))
		return nil
	}
	if err := writeTable(out, []string{"macro", "runs", "steps", "failed", "invokers", "last run"}, rows); err != nil {
		return err
	}

	var notes []string
	for _, n := range notableEvents {
		if c := report.Events[n.typ]; c > 0 {
			notes = append(notes, fmt.Sprintf("%d %s", c, n.label))
		}
	}
	if len(notes) > 0 {
		fmt.Fprintln(out, colorize("\n"+strings.Join(notes, ", "), colorDim))
	}
	return nil
}

func summaryRow(label string, s *models.InvocationSummary) []string {
	last := "-"
	if s.LastRun != nil {
		last = s.LastRun.Local().Format("2006-01-02 15:04")
	}
	failed := fmt.Sprint(s.FailedSteps)
	if s.FailedSteps > 0 {
		failed = colorize(failed, colorRed)
	}
	return []string{label, fmt.Sprint(s.Invocations), fmt.Sprint(s.Steps), failed, fmt.Sprint(s.Invokers), last}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent macro invocations",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := ParseSince(historySince)
		if err != nil {
			return err
		}
		database, err := openHistory()
		if err != nil {
			return err
		}
		defer database.Close()

		q := models.InvocationQuery{Since: since, Limit: historyLimit}
		if historyMacro != "" {
			name := strings.ToLower(historyMacro)
			q.Macro = &name
		}
		if historyInvoker != "" {
			q.Invoker = &historyInvoker
		}
		records, err := db.NewInvocationRepository(database).Query(cmd.Context(), q)
		if err != nil {
			return err
		}
		return writeInvocations(cmd.OutOrStdout(), records)
	},
}

func writeInvocations(out io.Writer, records []*models.InvocationRecord) error {
	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, colorize("no invocations recorded", colorDim))
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		name := r.Macro
		if r.Alias != "" {
			name += " (" + r.Alias + ")"
		}
		took := colorize("running", colorCyan)
		if r.FinishedAt != nil {
			took = formatDuration(r.Duration())
		}
		result := colorize("ok", colorGreen)
		if r.FailedSteps > 0 {
			result = colorize(fmt.Sprintf("%d/%d failed", r.FailedSteps, r.Steps), colorRed)
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			name,
			r.Invoker,
			orDash(strings.Join(r.Args, " ")),
			took,
			result,
		})
	}
	return writeTable(out, []string{"started", "macro", "invoker", "args", "took", "result"}, rows)
}
