// Package registry binds compiled macros to invocation names. Each reload
// builds a new immutable Generation that replaces the old one atomically.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ourisland/litemacro/internal/actions"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/rs/zerolog"
)

// Registry errors.
var (
	ErrMacroNotFound  = errors.New("macro not found")
	ErrDuplicateMacro = errors.New("duplicate macro name")
	ErrInvalidMacro   = errors.New("invalid macro")
)

// Macro is a compiled macro. It is never modified after its generation is
// built, so an invocation may keep using it across reloads.
type Macro struct {
	Spec       models.MacroSpec
	Actions    []actions.Action
	Generation uint64
}

// Name is the primary name.
func (m *Macro) Name() string { return m.Spec.Name }

// Generation is an immutable set of macros and the names bound to them.
type Generation struct {
	id       uint64
	builtAt  time.Time
	order    []*Macro
	names    map[string]*Macro
	excluded []error
}

// ID increases with every build. The initial empty generation is 0.
func (g *Generation) ID() uint64 { return g.id }

// BuiltAt is when the generation was compiled.
func (g *Generation) BuiltAt() time.Time { return g.builtAt }

// Len is the number of macros.
func (g *Generation) Len() int { return len(g.order) }

// Macros returns the macros in declaration order.
func (g *Generation) Macros() []*Macro {
	out := make([]*Macro, len(g.order))
	copy(out, g.order)
	return out
}

// Lookup resolves a primary name or alias.
func (g *Generation) Lookup(name string) (*Macro, bool) {
	m, ok := g.names[name]
	return m, ok
}

// Names returns every bound name, sorted.
func (g *Generation) Names() []string {
	names := make([]string, 0, len(g.names))
	for name := range g.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Excluded returns the errors of macros left out of this generation.
func (g *Generation) Excluded() []error {
	out := make([]error, len(g.excluded))
	copy(out, g.excluded)
	return out
}

// Registry holds the current generation.
type Registry struct {
	current atomic.Pointer[Generation]
	nextID  atomic.Uint64
	logger  zerolog.Logger
}

// New returns a registry holding an empty generation.
func New() *Registry {
	r := &Registry{logger: logging.Component("registry")}
	r.current.Store(&Generation{names: map[string]*Macro{}, builtAt: time.Now()})
	return r
}

// Current returns the generation in effect.
func (r *Registry) Current() *Generation {
	return r.current.Load()
}

// Resolve looks a name up in the current generation.
func (r *Registry) Resolve(name string) (*Macro, error) {
	if m, ok := r.Current().Lookup(name); ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMacroNotFound, name)
}

// Swap installs g and returns the generation it replaced.
func (r *Registry) Swap(g *Generation) *Generation {
	old := r.current.Swap(g)
	r.logger.Info().
		Uint64("generation", g.id).
		Int("macros", g.Len()).
		Int("names", len(g.names)).
		Msg("macro registry swapped")
	return old
}

// Build compiles specs into a new generation without installing it.
// Macros that fail validation or compilation are left out and their errors
// are returned; the rest of the generation is still usable.
//
// Primary names are bound before aliases. An alias that collides with a
// name already bound is skipped with a warning.
func (r *Registry) Build(specs []models.MacroSpec, factory *actions.Factory) (*Generation, []error) {
	g := &Generation{
		id:      r.nextID.Add(1),
		builtAt: time.Now(),
		names:   make(map[string]*Macro, len(specs)),
	}

	for _, spec := range specs {
		spec.Normalize()
		if err := spec.Validate(); err != nil {
			g.excluded = append(g.excluded, fmt.Errorf("%w %q: %w", ErrInvalidMacro, spec.Name, err))
			continue
		}
		if _, exists := g.names[spec.Name]; exists {
			g.excluded = append(g.excluded, fmt.Errorf("%w: %q", ErrDuplicateMacro, spec.Name))
			continue
		}

		compiled, err := factory.CompileAll(spec.Name, spec.Actions)
		if err != nil {
			g.excluded = append(g.excluded, err)
			continue
		}

		m := &Macro{Spec: spec, Actions: compiled, Generation: g.id}
		g.order = append(g.order, m)
		g.names[spec.Name] = m
	}

	for _, m := range g.order {
		for _, alias := range m.Spec.Aliases {
			if owner, exists := g.names[alias]; exists {
				r.logger.Warn().
					Str("alias", alias).
					Str("macro", m.Spec.Name).
					Str("bound_to", owner.Spec.Name).
					Msg("alias already bound, skipping")
				continue
			}
			g.names[alias] = m
		}
	}

	for _, err := range g.excluded {
		r.logger.Error().Err(err).Uint64("generation", g.id).Msg("macro excluded from registry")
	}
	return g, g.excluded
}
