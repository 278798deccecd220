// Package cli implements the litemacro command line.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	logLevel       string
	jsonOutput     bool
	jsonlOutput    bool
	nonInteractive bool
	noColor        bool
	noProgress     bool
	daemonAddr     string

	appConfig *config.Config
	version   = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "litemacro",
	Short: "Operator-declared command macros",
	Long: `litemacro runs named macros: ordered command, message, delay and
transfer steps declared in a YAML file, with {player}, {uuid} and {argN}
placeholders. The daemon hosts sessions and reloads the file atomically.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./litemacro.yaml, ~/.config/litemacro/litemacro.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	flags.BoolVar(&jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&jsonlOutput, "jsonl", false, "output JSON lines")
	flags.BoolVar(&nonInteractive, "non-interactive", false, "never prompt, use defaults")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&noProgress, "no-progress", false, "disable progress output")
	flags.StringVar(&daemonAddr, "addr", "", "daemon gRPC address (default from config)")
}

// Execute runs the root command.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	return rootCmd.Execute()
}

// Main runs the CLI and exits non-zero on error.
func Main(v string) {
	if err := Execute(v); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func initConfig() error {
	if jsonOutput && jsonlOutput {
		return errors.New("--json and --jsonl are mutually exclusive")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return err
	}
	appConfig = cfg
	return nil
}

// GetConfig returns the loaded configuration, or nil before initConfig.
func GetConfig() *config.Config {
	return appConfig
}

func mustConfig() *config.Config {
	if appConfig == nil {
		appConfig = config.DefaultConfig()
	}
	return appConfig
}

func resolveDaemonAddr() string {
	if strings.TrimSpace(daemonAddr) != "" {
		return daemonAddr
	}
	cfg := mustConfig()
	return fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
}
