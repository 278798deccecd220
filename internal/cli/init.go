package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/macros"
	"github.com/spf13/cobra"
)

var (
	initForce bool

	// configDirFunc is swapped in tests.
	configDirFunc = defaultConfigDir
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

const configFileName = "litemacro.yaml"

const configTemplate = `# litemacro configuration
# Every key is optional. Environment variables override the file, e.g.
# LITEMACRO_DAEMON_PORT=50081.

# data_dir holds command.yml, message overrides (lang/<lang>.yml)
# and the history database.
# data_dir: ~/.local/share/litemacro
# macros_file: ~/.local/share/litemacro/command.yml

lang: en_US

logging:
  level: info        # trace, debug, info, warn, error
  format: console    # console or json

daemon:
  host: 127.0.0.1
  port: 50071

http:
  addr: 127.0.0.1:50072   # empty disables the admin API

# database:
#   path: ~/.local/share/litemacro/litemacro.db   # empty disables history

history:
  retention: 720h
  prune_interval: 1h

watch:
  enabled: true
  debounce: 250ms

rate_limit:
  enabled: true
  requests_per_second: 200
  burst: 400

redis:
  enabled: false
  addr: 127.0.0.1:6379
  channel: litemacro:reload

move:
  timeout: 3s

# default_backend: lobby
backends:
  lobby:
    address: 127.0.0.1:25565
  survival:
    address: 127.0.0.1:25566

permissions:
  steve:
    - litemarco.hello
    - litemarco.goto
`

type initResult struct {
	name    string
	status  string // done, skipped, failed
	message string
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file and the default macros",
	Long: `Write ` + configFileName + ` to the user config directory and the default
command.yml to the data directory. Existing files are kept unless --force.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		results := []initResult{createConfigFile()}

		cfg, err := config.Load(filepath.Join(configDirFunc(), configFileName))
		if err != nil {
			cfg = mustConfig()
		}
		results = append(results, createMacrosFile(cfg), checkMacros(cfg))

		if IsJSONOutput() || IsJSONLOutput() {
			out := make([]map[string]string, 0, len(results))
			for _, r := range results {
				out = append(out, map[string]string{"step": r.name, "status": r.status, "message": r.message})
			}
			return WriteOutput(cmd.OutOrStdout(), out)
		}

		failed := 0
		for _, r := range results {
			color := colorGreen
			switch r.status {
			case "skipped":
				color = colorDim
			case "failed":
				color = colorRed
				failed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", colorize(fmt.Sprintf("[%s]", r.status), color), r.name, r.message)
		}
		if failed > 0 {
			return fmt.Errorf("%d init step(s) failed", failed)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\nNext: litemacro serve")
		return nil
	},
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "litemacro")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config", "litemacro")
}

func createConfigFile() initResult {
	result := initResult{name: "Config file"}
	dir := configDirFunc()
	path := filepath.Join(dir, configFileName)

	if _, err := os.Stat(path); err == nil && !initForce {
		result.status = "skipped"
		result.message = path + " already exists (use --force to overwrite)"
		return result
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.status = "failed"
		result.message = err.Error()
		return result
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o644); err != nil {
		result.status = "failed"
		result.message = err.Error()
		return result
	}
	result.status = "done"
	result.message = path
	return result
}

func createMacrosFile(cfg *config.Config) initResult {
	result := initResult{name: "Macro file"}
	err := macros.WriteDefault(cfg.MacrosFile)
	switch {
	case err == nil:
		result.status = "done"
		result.message = cfg.MacrosFile
	case errors.Is(err, os.ErrExist):
		result.status = "skipped"
		result.message = cfg.MacrosFile + " already exists"
	default:
		result.status = "failed"
		result.message = err.Error()
	}
	return result
}

func checkMacros(cfg *config.Config) initResult {
	result := initResult{name: "Macro check"}
	report, err := validateFile(cfg.MacrosFile)
	if err != nil {
		result.status = "failed"
		result.message = err.Error()
		return result
	}
	if !report.OK() {
		result.status = "failed"
		result.message = fmt.Sprintf("%d macro(s) excluded, run `litemacro validate`", len(report.Excluded))
		return result
	}
	result.status = "done"
	result.message = fmt.Sprintf("%d macros compile", len(report.Macros))
	return result
}
