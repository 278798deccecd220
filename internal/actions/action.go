// Package actions compiles declarative steps into executable actions.
package actions

import (
	"errors"
	"fmt"
	"time"

	"github.com/ourisland/litemacro/internal/invocation"
)

// Compilation errors.
var (
	ErrUnrecognizedKind = errors.New("unrecognized action kind")
	ErrInvalidOption    = errors.New("invalid action option")
)

// Execution errors. The sequencer logs these and moves on.
var (
	ErrEmptyCommand = errors.New("command is empty")
	ErrNoInvoker    = errors.New("invocation has no invoker")

	errMoveAbandoned = errors.New("move request closed without a result")
)

// Built-in kinds.
const (
	KindCommand  = "command"
	KindMessage  = "message"
	KindDelay    = "delay"
	KindTransfer = "transfer"
)

// Action is one compiled step of a macro.
type Action interface {
	// Kind is the registered kind name.
	Kind() string

	// Execute performs the step. It must not block; work that waits on I/O
	// is started asynchronously and reports back to the invoker itself.
	Execute(ctx *invocation.Context) error

	// Delay is how long the sequencer waits after this step before the
	// next one.
	Delay() time.Duration
}

// Localizer renders user-facing messages.
type Localizer interface {
	// T renders key with args, prefixed.
	T(key string, args ...any) string

	// Prefix prepends the message prefix to rendered text.
	Prefix(text string) string
}

// CompileError reports a step that could not be compiled.
type CompileError struct {
	Macro string
	Step  int // 1-based
	Kind  string
	Err   error
}

func (e *CompileError) Error() string {
	if e.Macro == "" {
		return fmt.Sprintf("step %d (%s): %v", e.Step, e.Kind, e.Err)
	}
	return fmt.Sprintf("macro %q step %d (%s): %v", e.Macro, e.Step, e.Kind, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// noDelay is embedded by actions that never request a delay.
type noDelay struct{}

func (noDelay) Delay() time.Duration { return 0 }
