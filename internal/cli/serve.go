package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ourisland/litemacro/internal/litemacrod"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/spf13/cobra"
)

var (
	serveHost   string
	servePort   int
	serveNoHTTP bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "gRPC bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoHTTP, "no-http", false, "do not start the admin HTTP API")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the litemacro daemon",
	Long: `Run the daemon: load the macro file, host sessions over gRPC, serve the
admin HTTP API and reload when the macro file changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustConfig()
		daemon, err := litemacrod.New(cfg, logging.Component("litemacrod"), litemacrod.Options{
			Hostname:    serveHost,
			Port:        servePort,
			Version:     version,
			DisableHTTP: serveNoHTTP,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return daemon.Run(ctx)
	},
}
