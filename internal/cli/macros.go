package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ourisland/litemacro/internal/actions"
	"github.com/ourisland/litemacro/internal/litemacrod"
	"github.com/ourisland/litemacro/internal/macros"
	"github.com/ourisland/litemacro/internal/registry"
	"github.com/spf13/cobra"
)

var (
	macrosFile string
	listRemote bool
	rpcTimeout = 10 * time.Second
)

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)

	for _, cmd := range []*cobra.Command{validateCmd, listCmd, showCmd} {
		cmd.Flags().StringVarP(&macrosFile, "file", "f", "", "macro file (default from config)")
	}
	listCmd.Flags().BoolVar(&listRemote, "remote", false, "list the macros loaded in the running daemon")
}

func resolveMacrosFile(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if macrosFile != "" {
		return macrosFile
	}
	return mustConfig().MacrosFile
}

// ValidationReport is the result of `litemacro validate`.
type ValidationReport struct {
	Source   string   `json:"source"`
	Lang     string   `json:"lang,omitempty"`
	Macros   []string `json:"macros"`
	Names    int      `json:"names"`
	Excluded []string `json:"excluded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether every macro compiled.
func (r *ValidationReport) OK() bool { return len(r.Excluded) == 0 }

// validateFile compiles a macro file without installing it anywhere.
func validateFile(path string) (*ValidationReport, error) {
	file, err := macros.LoadFile(path)
	if err != nil {
		return nil, err
	}

	g, excluded := registry.New().Build(file.Macros, actions.NewFactory())
	report := &ValidationReport{
		Source:   file.Source,
		Lang:     file.Lang,
		Macros:   make([]string, 0, g.Len()),
		Names:    len(g.Names()),
		Warnings: file.Warnings,
	}
	for _, m := range g.Macros() {
		report.Macros = append(report.Macros, m.Name())
	}
	for _, err := range excluded {
		report.Excluded = append(report.Excluded, err.Error())
	}
	return report, nil
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a macro file",
	Long:  "Parse and compile a macro file the same way a reload does, without touching a running daemon.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := validateFile(resolveMacrosFile(args))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(out, report); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, formatReloadStatus(0, len(report.Macros), len(report.Excluded)))
			for _, w := range report.Warnings {
				fmt.Fprintln(out, colorize("  warning: "+w, colorYellow))
			}
			for _, ex := range report.Excluded {
				fmt.Fprintln(out, colorize("  excluded: "+ex, colorRed))
			}
		}
		if !report.OK() {
			return fmt.Errorf("%d macro(s) would be excluded", len(report.Excluded))
		}
		return nil
	},
}

// MacroRow is one line of `litemacro list`.
type MacroRow struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Permission  string   `json:"permission,omitempty"`
	Steps       int      `json:"steps"`
	Description string   `json:"description,omitempty"`
}

func localMacroRows(path string) ([]MacroRow, error) {
	file, err := macros.LoadFile(path)
	if err != nil {
		return nil, err
	}
	rows := make([]MacroRow, 0, len(file.Macros))
	for _, m := range file.Macros {
		rows = append(rows, MacroRow{
			Name:        m.Name,
			Aliases:     m.Aliases,
			Permission:  m.Permission,
			Steps:       len(m.Actions),
			Description: m.Description,
		})
	}
	return rows, nil
}

func remoteMacroRows(ctx context.Context) ([]MacroRow, error) {
	client, err := dialDaemon()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := client.ListMacros(ctx)
	if err != nil {
		return nil, daemonError(err)
	}
	var rows []MacroRow
	for _, v := range resp.GetFields()["macros"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		row := MacroRow{
			Name:        f["name"].GetStringValue(),
			Permission:  f["permission"].GetStringValue(),
			Description: f["description"].GetStringValue(),
			Steps:       len(f["steps"].GetListValue().GetValues()),
		}
		for _, a := range f["aliases"].GetListValue().GetValues() {
			row.Aliases = append(row.Aliases, a.GetStringValue())
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeMacroRows(out io.Writer, rows []MacroRow) error {
	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(out, rows)
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{
			r.Name,
			orDash(strings.Join(r.Aliases, ",")),
			orDash(r.Permission),
			fmt.Sprint(r.Steps),
			orDash(r.Description),
		})
	}
	return writeTable(out, []string{"name", "aliases", "permission", "steps", "description"}, table)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List macros",
	RunE: func(cmd *cobra.Command, args []string) error {
		var rows []MacroRow
		var err error
		if listRemote {
			ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
			defer cancel()
			rows, err = remoteMacroRows(ctx)
		} else {
			rows, err = localMacroRows(resolveMacrosFile(nil))
		}
		if err != nil {
			return err
		}
		return writeMacroRows(cmd.OutOrStdout(), rows)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <macro>",
	Short: "Show a macro's steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := macros.LoadFile(resolveMacrosFile(nil))
		if err != nil {
			return err
		}
		name := strings.ToLower(strings.TrimSpace(args[0]))
		for _, m := range file.Macros {
			if m.Name != name && !containsFold(m.Aliases, name) {
				continue
			}
			steps := macros.Describe(m)
			if IsJSONOutput() || IsJSONLOutput() {
				return WriteOutput(cmd.OutOrStdout(), map[string]any{
					"name":        m.Name,
					"aliases":     m.Aliases,
					"permission":  m.Permission,
					"description": m.Description,
					"steps":       steps,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s", m.Name)
			if len(m.Aliases) > 0 {
				fmt.Fprintf(out, " (%s)", strings.Join(m.Aliases, ", "))
			}
			fmt.Fprintln(out)
			if m.Description != "" {
				fmt.Fprintln(out, "  "+m.Description)
			}
			fmt.Fprintln(out, "  permission:", orDash(m.Permission))
			for _, line := range steps {
				fmt.Fprintln(out, "  "+line)
			}
			return nil
		}
		return fmt.Errorf("macro %q not found in %s", name, file.Source)
	},
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func dialDaemon() (*litemacrod.Client, error) {
	addr := resolveDaemonAddr()
	client, err := litemacrod.Dial(addr)
	if err != nil {
		return nil, &PreflightError{
			Message:  "cannot reach the litemacro daemon",
			Hint:     "start it with `litemacro serve` or pass --addr",
			NextStep: "litemacro serve",
			Err:      err,
		}
	}
	return client, nil
}
