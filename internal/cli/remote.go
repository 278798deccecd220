package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var execSession string

func init() {
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)

	execCmd.Flags().StringVar(&execSession, "session", "", "run as this session id instead of the console")
}

// daemonError turns a gRPC status into a user-facing error.
func daemonError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return &PreflightError{
			Message:  "litemacro daemon unavailable at " + resolveDaemonAddr(),
			Hint:     "is `litemacro serve` running?",
			NextStep: "litemacro serve",
		}
	case codes.ResourceExhausted:
		return &PreflightError{
			Message: st.Message(),
			Hint:    "the daemon is rate limiting this call, retry shortly",
		}
	default:
		return errors.New(st.Message())
	}
}

func withDaemon(cmd *cobra.Command, fn func(ctx context.Context, client daemonClient) error) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
	defer cancel()
	if err := fn(ctx, client); err != nil {
		return daemonError(err)
	}
	return nil
}

// daemonClient is the subset of the gRPC client the remote commands use.
type daemonClient interface {
	Ping(ctx context.Context) (*structpb.Struct, error)
	Execute(ctx context.Context, session, command string) error
	Reload(ctx context.Context) (*structpb.Struct, error)
	ListSessions(ctx context.Context) (*structpb.Struct, error)
}

var execCmd = &cobra.Command{
	Use:   "exec <command line>",
	Short: "Run a command on the daemon",
	Long: `Dispatch a command line on the running daemon, as the console or as a
connected session. Macro names and aliases are commands.`,
	Example: `  litemacro exec hello
  litemacro exec --session 4f1c... goto lobby`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args, " ")
		return withDaemon(cmd, func(ctx context.Context, client daemonClient) error {
			if err := client.Execute(ctx, execSession, line); err != nil {
				return err
			}
			if IsJSONOutput() || IsJSONLOutput() {
				return WriteOutput(cmd.OutOrStdout(), map[string]any{"ok": true, "command": line})
			}
			fmt.Fprintln(cmd.OutOrStdout(), colorize("ok", colorGreen))
			return nil
		})
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon's macro file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, client daemonClient) error {
			step := startProgress("Reloading")
			resp, err := client.Reload(ctx)
			if err != nil {
				step.Fail(err)
				return err
			}
			step.Done()

			out := cmd.OutOrStdout()
			if IsJSONOutput() || IsJSONLOutput() {
				return WriteOutput(out, resp.AsMap())
			}
			f := resp.GetFields()
			excluded := f["excluded"].GetListValue().GetValues()
			fmt.Fprintln(out, formatReloadStatus(
				uint64(f["generation"].GetNumberValue()),
				int(f["macros"].GetNumberValue()),
				len(excluded),
			))
			for _, w := range f["warnings"].GetListValue().GetValues() {
				fmt.Fprintln(out, colorize("  warning: "+w.GetStringValue(), colorYellow))
			}
			for _, ex := range excluded {
				fmt.Fprintln(out, colorize("  excluded: "+ex.GetStringValue(), colorRed))
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, client daemonClient) error {
			resp, err := client.Ping(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if IsJSONOutput() || IsJSONLOutput() {
				return WriteOutput(out, resp.AsMap())
			}
			f := resp.GetFields()
			num := func(key string) string { return fmt.Sprintf("%.0f", f[key].GetNumberValue()) }
			rows := [][]string{
				{"address", resolveDaemonAddr()},
				{"version", orDash(f["version"].GetStringValue())},
				{"hostname", orDash(f["hostname"].GetStringValue())},
				{"uptime", f["uptime"].GetStringValue()},
				{"generation", num("generation")},
				{"macros", num("macros")},
				{"sessions", num("sessions")},
				{"active", num("active")},
				{"completed", num("completed")},
				{"pending delays", num("pending")},
				{"streams", num("streams")},
			}
			return writeTable(out, nil, rows)
		})
	},
}

// SessionRow is one line of `litemacro sessions`.
type SessionRow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Backend     string `json:"backend"`
	ConnectedAt string `json:"connected_at"`
	Dropped     int    `json:"dropped"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions connected to the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDaemon(cmd, func(ctx context.Context, client daemonClient) error {
			resp, err := client.ListSessions(ctx)
			if err != nil {
				return err
			}
			rows := sessionRows(resp)
			out := cmd.OutOrStdout()
			if IsJSONOutput() || IsJSONLOutput() {
				return WriteOutput(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, colorize("no sessions", colorDim))
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.ID, r.Name, orDash(r.Backend), r.ConnectedAt, fmt.Sprint(r.Dropped)})
			}
			return writeTable(out, []string{"id", "name", "backend", "connected", "dropped"}, table)
		})
	},
}

func sessionRows(resp *structpb.Struct) []SessionRow {
	values := resp.GetFields()["sessions"].GetListValue().GetValues()
	rows := make([]SessionRow, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		rows = append(rows, SessionRow{
			ID:          f["id"].GetStringValue(),
			Name:        f["name"].GetStringValue(),
			Backend:     f["backend"].GetStringValue(),
			ConnectedAt: f["connected_at"].GetStringValue(),
			Dropped:     int(f["dropped"].GetNumberValue()),
		})
	}
	return rows
}
