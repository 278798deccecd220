package actions

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ourisland/litemacro/internal/i18n"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/ourisland/litemacro/internal/platform"
)

// TransferObserver is told the outcome of every finished transfer.
type TransferObserver func(invoker platform.Invoker, target string, result platform.MoveResult)

// Env is shared by every action a factory builds.
type Env struct {
	Messages   Localizer
	OnTransfer TransferObserver
}

// Constructor builds one action kind from its options. It must not do I/O.
type Constructor func(opts Options, env *Env) (Action, error)

// Factory maps kind names to constructors.
type Factory struct {
	env *Env

	mu           sync.RWMutex
	constructors map[string]Constructor
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithMessages sets the localizer used by actions that talk to the invoker.
func WithMessages(messages Localizer) FactoryOption {
	return func(f *Factory) {
		f.env.Messages = messages
	}
}

// WithTransferObserver sets the hook called when a transfer finishes.
func WithTransferObserver(fn TransferObserver) FactoryOption {
	return func(f *Factory) {
		f.env.OnTransfer = fn
	}
}

// NewFactory returns a factory with the built-in kinds registered.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		env:          &Env{},
		constructors: make(map[string]Constructor),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.env.Messages == nil {
		f.env.Messages = i18n.Load(i18n.DefaultLang)
	}

	f.constructors[KindCommand] = newCommand
	f.constructors[KindMessage] = newMessage
	f.constructors[KindDelay] = newDelay
	f.constructors[KindTransfer] = newTransfer
	return f
}

// Register adds a kind. Registering an existing kind is an error.
func (f *Factory) Register(kind string, c Constructor) error {
	kind = normalizeKind(kind)
	if kind == "" {
		return fmt.Errorf("kind is required")
	}
	if c == nil {
		return fmt.Errorf("constructor for %q is nil", kind)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.constructors[kind]; exists {
		return fmt.Errorf("kind %q already registered", kind)
	}
	f.constructors[kind] = c
	return nil
}

// Kinds returns the registered kinds, sorted.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]string, 0, len(f.constructors))
	for kind := range f.constructors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Compile turns one step declaration into an action.
func (f *Factory) Compile(spec models.ActionSpec) (Action, error) {
	kind := normalizeKind(spec.Type)
	if kind == "" {
		return nil, fmt.Errorf("%w: kind is empty", ErrUnrecognizedKind)
	}

	f.mu.RLock()
	construct, ok := f.constructors[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedKind, kind)
	}

	return construct(Options(spec.Options), f.env)
}

// CompileAll compiles a macro's steps in order. On failure it returns no
// actions and a *CompileError naming the first bad step.
func (f *Factory) CompileAll(macro string, specs []models.ActionSpec) ([]Action, error) {
	compiled := make([]Action, 0, len(specs))
	for i, spec := range specs {
		action, err := f.Compile(spec)
		if err != nil {
			return nil, &CompileError{
				Macro: macro,
				Step:  i + 1,
				Kind:  strings.TrimSpace(spec.Type),
				Err:   err,
			}
		}
		compiled = append(compiled, action)
	}
	return compiled, nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
