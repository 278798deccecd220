package actions

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ourisland/litemacro/internal/invocation"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/ourisland/litemacro/internal/platform/platformtest"
	"github.com/stretchr/testify/require"
)

func spec(kind string, opts map[string]any) models.ActionSpec {
	return models.ActionSpec{Type: kind, Options: opts}
}

func TestCompileUnknownKind(t *testing.T) {
	f := NewFactory()

	for _, kind := range []string{"", "  ", "teleport", "messages"} {
		action, err := f.Compile(spec(kind, nil))
		require.Error(t, err, "kind %q", kind)
		require.ErrorIs(t, err, ErrUnrecognizedKind)
		require.Nil(t, action)
	}
}

func TestCompileAllStopsAtFirstBadStep(t *testing.T) {
	f := NewFactory()

	compiled, err := f.CompileAll("hello", []models.ActionSpec{
		spec("message", map[string]any{"text": "hi"}),
		spec("bogus", nil),
		spec("delay", map[string]any{"millis": 5}),
	})
	require.Nil(t, compiled)

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "hello", cerr.Macro)
	require.Equal(t, 2, cerr.Step)
	require.Equal(t, "bogus", cerr.Kind)
	require.True(t, errors.Is(err, ErrUnrecognizedKind))
	require.Contains(t, err.Error(), `macro "hello" step 2`)
}

func TestCompileKindIsCaseInsensitive(t *testing.T) {
	action, err := NewFactory().Compile(spec(" MESSAGE ", map[string]any{"text": "x"}))
	require.NoError(t, err)
	require.Equal(t, KindMessage, action.Kind())
}

func TestDelayCoercion(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  time.Duration
	}{
		{"absent", nil, 0},
		{"int", 500, 500 * time.Millisecond},
		{"int64", int64(100), 100 * time.Millisecond},
		{"float", 1500.0, 1500 * time.Millisecond},
		{"numeric string", "250", 250 * time.Millisecond},
		{"padded string", " 75 ", 75 * time.Millisecond},
		{"non-numeric string", "soon", 0},
		{"list", []any{1, 2}, 0},
		{"negative", -40, 0},
		{"leading zero is decimal", "0100", 100 * time.Millisecond},
		{"hex string", "0x10", 0},
		{"underscore string", "1_000", 0},
		{"decimal string", "100.0", 0},
		{"bool", true, 0},
		{"max int64", int64(math.MaxInt64), time.Duration(maxDelayMillis) * time.Millisecond},
		{"huge float", 1e30, time.Duration(maxDelayMillis) * time.Millisecond},
		{"huge negative float", -1e30, 0},
		{"huge unsigned", uint64(math.MaxUint64), time.Duration(maxDelayMillis) * time.Millisecond},
	}

	f := NewFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := map[string]any{}
			if tt.value != nil {
				opts["millis"] = tt.value
			}
			action, err := f.Compile(spec("delay", opts))
			require.NoError(t, err)
			require.Equal(t, tt.want, action.Delay())
			require.GreaterOrEqual(t, action.Delay(), time.Duration(0))
		})
	}
}

func TestStringOptionCoercion(t *testing.T) {
	f := NewFactory()

	action, err := f.Compile(spec("message", map[string]any{"text": 42}))
	require.NoError(t, err)
	require.Equal(t, "42", action.(*Message).Template)

	action, err = f.Compile(spec("message", map[string]any{"text": nil}))
	require.NoError(t, err)
	require.Equal(t, "", action.(*Message).Template)

	action, err = f.Compile(spec("command", map[string]any{"CMD": "say hi"}))
	require.NoError(t, err)
	require.Equal(t, "say hi", action.(*Command).Template)
	require.Equal(t, RunAsConsole, action.(*Command).RunAs)

	_, err = f.Compile(spec("message", map[string]any{"text": []any{"a"}}))
	require.ErrorIs(t, err, ErrInvalidOption)

	_, err = f.Compile(spec("transfer", map[string]any{"target": map[string]any{"a": 1}}))
	require.ErrorIs(t, err, ErrInvalidOption)
}

func TestNonDelayActionsRequestNoDelay(t *testing.T) {
	f := NewFactory()
	for _, kind := range []string{KindCommand, KindMessage, KindTransfer} {
		action, err := f.Compile(spec(kind, nil))
		require.NoError(t, err)
		require.Zero(t, action.Delay(), kind)
	}
}

func TestRegisterCustomKind(t *testing.T) {
	f := NewFactory()

	called := false
	err := f.Register("Log", func(opts Options, env *Env) (Action, error) {
		called = true
		return &Message{Template: "logged"}, nil
	})
	require.NoError(t, err)
	require.Error(t, f.Register("log", func(Options, *Env) (Action, error) { return nil, nil }))
	require.Error(t, f.Register("command", func(Options, *Env) (Action, error) { return nil, nil }))
	require.Error(t, f.Register("", func(Options, *Env) (Action, error) { return nil, nil }))

	_, err = f.Compile(spec("log", nil))
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, []string{"command", "delay", "log", "message", "transfer"}, f.Kinds())
}

func TestCompileIsPure(t *testing.T) {
	p := platformtest.New()
	f := NewFactory()

	for _, kind := range []string{KindCommand, KindMessage, KindDelay, KindTransfer} {
		_, err := f.Compile(spec(kind, map[string]any{"cmd": "say x", "text": "x", "millis": 10, "target": "lobby"}))
		require.NoError(t, err)
	}
	require.Empty(t, p.Dispatches())
	require.Zero(t, p.Pending())

	// The compiled actions do nothing until executed.
	ctx := invocation.New(p, platformtest.NewInvoker("Alice", "a"))
	require.Equal(t, "Alice", ctx.Substitute("{player}"))
}
