package cli

import (
	"os"
	"strings"

	"github.com/ourisland/litemacro/internal/tui"
	"github.com/spf13/cobra"
)

var (
	consoleTheme      string
	consoleScrollback int
)

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleTheme, "theme", "", "color theme: default or high-contrast (env LITEMACRO_THEME)")
	consoleCmd.Flags().IntVar(&consoleScrollback, "scrollback", 0, "lines of scrollback to keep")
}

var consoleCmd = &cobra.Command{
	Use:   "console <name>",
	Short: "Join the daemon as a session",
	Long: `Connect to the running daemon as a named session and open an interactive
console. Messages sent to the session scroll by; typed lines run as the
session's commands, so macros run with its permissions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if IsNonInteractive() {
			return &PreflightError{
				Message:  "console requires an interactive terminal",
				Hint:     "run with a TTY, or use `litemacro exec --session <id>`",
				NextStep: "litemacro exec --help",
			}
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		conn, err := client.Connect(cmd.Context(), args[0])
		if err != nil {
			return daemonError(err)
		}

		theme := consoleTheme
		if theme == "" {
			theme = strings.TrimSpace(os.Getenv("LITEMACRO_THEME"))
		}
		return tui.Run(tui.Config{
			Session:    conn,
			Name:       conn.Name,
			Backend:    conn.Backend,
			Address:    resolveDaemonAddr(),
			Theme:      theme,
			Scrollback: consoleScrollback,
		})
	},
}
