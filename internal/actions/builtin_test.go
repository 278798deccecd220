package actions

import (
	"errors"
	"testing"
	"time"

	"github.com/ourisland/litemacro/internal/i18n"
	"github.com/ourisland/litemacro/internal/invocation"
	"github.com/ourisland/litemacro/internal/platform"
	"github.com/ourisland/litemacro/internal/platform/platformtest"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, f *Factory, kind string, opts map[string]any) Action {
	t.Helper()
	action, err := f.Compile(spec(kind, opts))
	require.NoError(t, err)
	return action
}

func TestCommandRunsAsConsoleByDefault(t *testing.T) {
	p := platformtest.New()
	alice := platformtest.NewSession("Alice", "a", "hub")
	action := mustCompile(t, NewFactory(), "command", map[string]any{"cmd": "say Welcome {player}"})

	require.NoError(t, action.Execute(invocation.New(p, alice)))

	dispatches := p.Dispatches()
	require.Len(t, dispatches, 1)
	require.Equal(t, "say Welcome Alice", dispatches[0].Command)
	require.Same(t, p.ConsoleInvoker, dispatches[0].Source)
}

func TestCommandRunAsPlayer(t *testing.T) {
	tests := []struct {
		name        string
		runAs       string
		session     bool
		wantConsole bool
	}{
		{"player session", "player", true, false},
		{"player upper case", "PLAYER", true, false},
		{"player without session", "player", false, true},
		{"unknown mode", "root", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := platformtest.New()
			var invoker platform.Invoker = platformtest.NewInvoker("Bot", "")
			if tt.session {
				invoker = platformtest.NewSession("Alice", "a", "hub")
			}
			action := mustCompile(t, NewFactory(), "command", map[string]any{"cmd": "/spawn", "run_as": tt.runAs})
			require.NoError(t, action.Execute(invocation.New(p, invoker)))

			dispatches := p.Dispatches()
			require.Len(t, dispatches, 1)
			require.Equal(t, "spawn", dispatches[0].Command)
			if tt.wantConsole {
				require.Same(t, p.ConsoleInvoker, dispatches[0].Source)
			} else {
				require.Same(t, invoker, dispatches[0].Source)
			}
		})
	}
}

func TestCommandEmptyFails(t *testing.T) {
	p := platformtest.New()
	action := mustCompile(t, NewFactory(), "command", map[string]any{"cmd": "{arg0}"})

	err := action.Execute(invocation.FromArgs(p, platformtest.NewInvoker("A", ""), []string{" "}))
	require.ErrorIs(t, err, ErrEmptyCommand)
	require.Empty(t, p.Dispatches())
}

func TestMessageSendsSubstitutedText(t *testing.T) {
	p := platformtest.New()
	alice := platformtest.NewInvoker("Alice", "a")
	action := mustCompile(t, NewFactory(), "message", map[string]any{"text": "Hello, {player}! {arg0}"})

	require.NoError(t, action.Execute(invocation.FromArgs(p, alice, []string{"{uuid}"})))
	require.Equal(t, []string{"Hello, Alice! {uuid}"}, alice.Messages())

	require.ErrorIs(t, action.Execute(invocation.New(p, nil)), ErrNoInvoker)
}

type transferOutcome struct {
	target string
	result platform.MoveResult
}

func transferFactory(t *testing.T) (*Factory, chan transferOutcome) {
	t.Helper()
	outcomes := make(chan transferOutcome, 1)
	f := NewFactory(
		WithMessages(i18n.Load("en_US")),
		WithTransferObserver(func(_ platform.Invoker, target string, result platform.MoveResult) {
			outcomes <- transferOutcome{target: target, result: result}
		}),
	)
	return f, outcomes
}

func waitOutcome(t *testing.T, outcomes chan transferOutcome) transferOutcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not finish")
		return transferOutcome{}
	}
}

func TestTransferNeedsSession(t *testing.T) {
	p := platformtest.New()
	p.AddBackend("lobby", "127.0.0.1:1")
	bot := platformtest.NewInvoker("Bot", "")
	f, _ := transferFactory(t)

	action := mustCompile(t, f, "transfer", map[string]any{"target": "lobby"})
	require.NoError(t, action.Execute(invocation.New(p, bot)))

	require.Equal(t, []string{"[LiteMacro] Only players can be transferred."}, bot.Messages())
	require.Empty(t, p.Moves())
}

func TestTransferUnknownServer(t *testing.T) {
	p := platformtest.New()
	alice := platformtest.NewSession("Alice", "a", "hub")
	f, _ := transferFactory(t)

	action := mustCompile(t, f, "transfer", map[string]any{"target": "{arg0}", "message": "bye"})
	require.NoError(t, action.Execute(invocation.FromArgs(p, alice, []string{"nowhere"})))

	require.Equal(t, []string{"[LiteMacro] Server not found: nowhere"}, alice.Messages())
	require.Empty(t, p.Moves())
}

func TestTransferSuccess(t *testing.T) {
	p := platformtest.New()
	p.AddBackend("lobby", "127.0.0.1:1")
	alice := platformtest.NewSession("Alice", "a", "hub")
	f, outcomes := transferFactory(t)

	action := mustCompile(t, f, "transfer", map[string]any{"target": "lobby", "message": "Off you go, {player}"})
	require.NoError(t, action.Execute(invocation.New(p, alice)))

	o := waitOutcome(t, outcomes)
	require.Equal(t, "lobby", o.target)
	require.True(t, o.result.Success())

	require.Equal(t, []string{"[LiteMacro] Off you go, Alice"}, alice.Messages())
	moves := p.Moves()
	require.Len(t, moves, 1)
	require.Equal(t, "lobby", moves[0].Backend.Name())
}

func TestTransferReportsFailures(t *testing.T) {
	tests := []struct {
		name   string
		result platform.MoveResult
		want   string
	}{
		{"status", platform.MoveResult{Status: platform.MoveConnectionFailed}, "[LiteMacro] Transfer failed: CONNECTION_FAILED"},
		{"error", platform.MoveResult{Err: errors.New("dial refused")}, "[LiteMacro] Failed to connect: dial refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := platformtest.New()
			p.AddBackend("lobby", "127.0.0.1:1")
			p.MoveResult = tt.result
			alice := platformtest.NewSession("Alice", "a", "hub")
			f, outcomes := transferFactory(t)

			action := mustCompile(t, f, "transfer", map[string]any{"target": "lobby"})
			require.NoError(t, action.Execute(invocation.New(p, alice)))
			waitOutcome(t, outcomes)

			require.Equal(t, []string{tt.want}, alice.Messages())
		})
	}
}
