// Package invocation holds the per-invocation context handed to every step
// of a running macro.
package invocation

import (
	"strconv"
	"strings"

	"github.com/ourisland/litemacro/internal/platform"
)

const (
	// NoName replaces {player} when the invoker has no display name.
	NoName = "CONSOLE"

	// NoID replaces {uuid} when the invoker has no identifier.
	NoID = "-"
)

// Var is one named substitution value.
type Var struct {
	Key   string
	Value string
}

// Context is immutable once built.
type Context struct {
	platform platform.Platform
	invoker  platform.Invoker
	vars     []Var
	replacer *strings.Replacer
}

// New builds a context with vars in the given order.
func New(p platform.Platform, invoker platform.Invoker, vars ...Var) *Context {
	copied := make([]Var, len(vars))
	copy(copied, vars)

	c := &Context{
		platform: p,
		invoker:  invoker,
		vars:     copied,
	}
	c.replacer = c.buildReplacer()
	return c
}

// FromArgs builds a context whose vars are arg0..argN.
func FromArgs(p platform.Platform, invoker platform.Invoker, args []string) *Context {
	return New(p, invoker, ArgVars(args)...)
}

// ArgVars maps positional arguments to arg0..argN.
func ArgVars(args []string) []Var {
	vars := make([]Var, 0, len(args))
	for i, arg := range args {
		vars = append(vars, Var{Key: "arg" + strconv.Itoa(i), Value: arg})
	}
	return vars
}

// Platform returns the host handle.
func (c *Context) Platform() platform.Platform { return c.platform }

// Invoker returns the identity that triggered the invocation. May be nil.
func (c *Context) Invoker() platform.Invoker { return c.invoker }

// Vars returns a copy of the substitution variables.
func (c *Context) Vars() []Var {
	out := make([]Var, len(c.vars))
	copy(out, c.vars)
	return out
}

// Lookup returns the value of a variable.
func (c *Context) Lookup(key string) (string, bool) {
	for _, v := range c.vars {
		if v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}

// PlayerName is the value {player} expands to.
func (c *Context) PlayerName() string {
	if c.invoker == nil || c.invoker.Name() == "" {
		return NoName
	}
	return c.invoker.Name()
}

// PlayerID is the value {uuid} expands to.
func (c *Context) PlayerID() string {
	if c.invoker == nil || c.invoker.ID() == "" {
		return NoID
	}
	return c.invoker.ID()
}

// Substitute expands {player}, {uuid} and every {key} in one left-to-right
// pass. Replacement text is never rescanned, and unknown placeholders stay
// as written.
func (c *Context) Substitute(template string) string {
	if template == "" {
		return ""
	}
	return c.replacer.Replace(template)
}

// Replacer compares old strings in argument order, so the builtins win over
// a var that reuses their name, and earlier vars win over later duplicates.
func (c *Context) buildReplacer() *strings.Replacer {
	pairs := make([]string, 0, 4+2*len(c.vars))
	pairs = append(pairs,
		"{player}", c.PlayerName(),
		"{uuid}", c.PlayerID(),
	)
	for _, v := range c.vars {
		if v.Key == "" {
			continue
		}
		pairs = append(pairs, "{"+v.Key+"}", v.Value)
	}
	return strings.NewReplacer(pairs...)
}
