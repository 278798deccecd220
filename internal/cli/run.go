package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/host"
	"github.com/ourisland/litemacro/internal/platform"
	"github.com/ourisland/litemacro/internal/runner"
	"github.com/ourisland/litemacro/internal/service"
	"github.com/spf13/cobra"
)

var (
	runAs      string
	runTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runAs, "as", "", "run as a session with this name instead of the console")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", time.Minute, "give up waiting for the macro after this long")
	runCmd.Flags().StringVarP(&macrosFile, "file", "f", "", "macro file (default from config)")
}

// RunResult is the outcome of `litemacro run`.
type RunResult struct {
	Macro    string        `json:"macro"`
	Invoker  string        `json:"invoker"`
	Steps    int           `json:"steps"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Messages []string      `json:"messages,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run <macro> [args...]",
	Short: "Run a macro in-process",
	Long: `Load the macro file into a private host and run one macro to completion.
Messages sent to the invoker are printed as they arrive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *mustConfig()
		if macrosFile != "" {
			cfg.MacrosFile = macrosFile
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
		defer cancel()

		result, err := runMacro(ctx, &cfg, runAs, args[0], args[1:], cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), result)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%s: %d of %d steps failed", result.Macro, result.Failed, result.Steps)
		}
		return nil
	},
}

// runMacro runs one macro on a throwaway host and blocks until its last step.
// Invoker output is streamed to out unless JSON output is on, in which case
// it is collected into the result.
func runMacro(ctx context.Context, cfg *config.Config, as, name string, args []string, out io.Writer) (*RunResult, error) {
	collect := IsJSONOutput() || IsJSONLOutput()
	console := out
	if collect {
		console = io.Discard
	}

	h := host.New(host.Config{
		Backends:       cfg.BackendAddresses(),
		DefaultBackend: cfg.DefaultBackend,
		Permissions:    cfg.Permissions,
		MoveTimeout:    cfg.Move.Timeout,
		ConsoleOutput:  console,
	})
	if err := h.Start(ctx); err != nil {
		return nil, err
	}
	defer h.Close()

	svc, err := service.New(service.Options{Config: cfg, Host: h})
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	step := startProgress("Loading " + cfg.MacrosFile)
	loaded, err := svc.Load(ctx)
	if err != nil {
		step.Fail(err)
		return nil, err
	}
	step.Done()
	for _, ex := range loaded.Excluded {
		fmt.Fprintln(stderr, colorize("excluded: "+ex.Error(), colorYellow))
	}

	var invoker platform.Invoker = h.Console()
	result := &RunResult{Macro: name, Invoker: "CONSOLE"}
	drained := make(chan struct{})
	if as != "" {
		session, err := h.Connect(as)
		if err != nil {
			return nil, err
		}
		defer func() { _ = h.Disconnect(session.ID()) }()
		invoker = session
		result.Invoker = session.Name()

		go func() {
			defer close(drained)
			for line := range session.Messages() {
				if collect {
					result.Messages = append(result.Messages, line)
					continue
				}
				fmt.Fprintln(out, line)
			}
		}()
	} else {
		close(drained)
	}

	started := time.Now()
	seq, err := svc.Invoke(invoker, name, args)
	if err != nil {
		return nil, err
	}
	if err := waitSequence(ctx, seq); err != nil {
		return nil, err
	}
	h.WaitDispatches()

	macro, _ := svc.Registry().Resolve(name)
	if macro != nil {
		result.Macro = macro.Name()
		result.Steps = len(macro.Actions)
	}
	result.Failed = seq.Failed()
	result.Duration = time.Since(started)

	if as != "" {
		_ = h.Disconnect(invoker.ID())
		<-drained
	}
	return result, nil
}

func waitSequence(ctx context.Context, seq *runner.Sequencer) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if state, _ := seq.State(); state == runner.StateDone {
			return nil
		}
		select {
		case <-ctx.Done():
			state, index := seq.State()
			return fmt.Errorf("macro still %s at step %d: %w", state, index+1, ctx.Err())
		case <-ticker.C:
		}
	}
}
