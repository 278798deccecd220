package invocation

import (
	"testing"

	"github.com/ourisland/litemacro/internal/platform/platformtest"
)

func TestSubstitute(t *testing.T) {
	p := platformtest.New()
	alice := platformtest.NewInvoker("Alice", "6f1c0c1e-0000-4000-8000-000000000001")

	tests := []struct {
		name     string
		invoker  *platformtest.Invoker
		args     []string
		template string
		want     string
	}{
		{"empty", alice, nil, "", ""},
		{"player", alice, nil, "Hello, {player}!", "Hello, Alice!"},
		{"uuid", alice, nil, "id={uuid}", "id=6f1c0c1e-0000-4000-8000-000000000001"},
		{"args", alice, []string{"lobby", "2"}, "server {arg0} x{arg1}", "server lobby x2"},
		{"unknown placeholder kept", alice, nil, "{nope} {arg0}", "{nope} {arg0}"},
		{"repeated", alice, []string{"x"}, "{arg0}{arg0}{player}", "xxAlice"},
		{"no re-expansion", alice, []string{"{player}"}, "hi {arg0}", "hi {player}"},
		{"value holds later key", alice, []string{"{arg1}", "b"}, "{arg0}|{arg1}", "{arg1}|b"},
		{"no display name", platformtest.NewInvoker("", ""), nil, "{player}:{uuid}", "CONSOLE:-"},
		{"unbalanced braces", alice, []string{"v"}, "{arg0 {arg0}}", "{arg0 v}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := FromArgs(p, tt.invoker, tt.args)
			if got := ctx.Substitute(tt.template); got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestSubstituteNilInvoker(t *testing.T) {
	ctx := New(platformtest.New(), nil)
	if got := ctx.Substitute("{player} {uuid}"); got != "CONSOLE -" {
		t.Errorf("Substitute = %q, want %q", got, "CONSOLE -")
	}
}

func TestSubstituteIdentityWithoutPlaceholders(t *testing.T) {
	ctx := FromArgs(platformtest.New(), platformtest.NewInvoker("Bob", "b"), []string{"one", "two"})

	inputs := []string{
		"say hello",
		"plain text with {braces but no key}",
		"{ player }",
		"{}",
		"100% {ARG0}",
		"unicode 你好 {玩家}",
	}
	for _, in := range inputs {
		if got := ctx.Substitute(in); got != in {
			t.Errorf("Substitute(%q) = %q, want unchanged", in, got)
		}
	}
}

func TestBuiltinsWinOverVars(t *testing.T) {
	ctx := New(platformtest.New(), platformtest.NewInvoker("Alice", "a"),
		Var{Key: "player", Value: "Mallory"},
		Var{Key: "k", Value: "first"},
		Var{Key: "k", Value: "second"},
	)
	if got := ctx.Substitute("{player} {k}"); got != "Alice first" {
		t.Errorf("Substitute = %q, want %q", got, "Alice first")
	}
}

func TestVarsAreCopied(t *testing.T) {
	vars := []Var{{Key: "arg0", Value: "a"}}
	ctx := New(platformtest.New(), nil, vars...)
	vars[0].Value = "mutated"

	if v, _ := ctx.Lookup("arg0"); v != "a" {
		t.Errorf("Lookup(arg0) = %q, want a", v)
	}

	got := ctx.Vars()
	got[0].Value = "mutated"
	if v, _ := ctx.Lookup("arg0"); v != "a" {
		t.Errorf("context changed through Vars(): %q", v)
	}
}

func TestArgVars(t *testing.T) {
	vars := ArgVars([]string{"x", "y", "z"})
	for i, want := range []string{"arg0", "arg1", "arg2"} {
		if vars[i].Key != want {
			t.Errorf("vars[%d].Key = %q, want %q", i, vars[i].Key, want)
		}
	}
}
