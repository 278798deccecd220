package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]string{
				"version": version,
				"go":      runtime.Version(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "litemacro %s (%s)\n", version, runtime.Version())
		return nil
	},
}
