// Package platform declares the host services the macro pipeline calls into.
// The pipeline never depends on a concrete host; internal/host provides the
// in-process implementation.
package platform

import (
	"time"
)

// Platform is the host handle available to every action.
type Platform interface {
	// ScheduleAfter runs fn once after d, off the caller's goroutine.
	ScheduleAfter(d time.Duration, fn func())

	// DispatchCommand runs a command line as source. It does not wait for
	// the command to finish.
	DispatchCommand(source Invoker, command string)

	// ResolveBackend looks up a transfer destination by name.
	ResolveBackend(name string) (Backend, bool)

	// RequestMove starts moving session to backend. The channel receives
	// exactly one result and is then closed.
	RequestMove(session Session, backend Backend) <-chan MoveResult

	// Console is the system identity used for console-run commands.
	Console() Invoker
}

// TryScheduler is implemented by platforms whose scheduler can refuse a
// callback, for example during shutdown or when over capacity. A refused
// callback never runs.
type TryScheduler interface {
	TrySchedule(d time.Duration, fn func()) error
}

// Invoker is an identity that can trigger macros and receive messages.
type Invoker interface {
	// Name is the display name. Empty when the identity has none.
	Name() string

	// ID is the stable identifier. Empty when the identity has none.
	ID() string

	SendMessage(text string)
	HasPermission(node string) bool
}

// Session is an invoker backed by a connected client that can be moved
// between backends.
type Session interface {
	Invoker
	CurrentBackend() string
}

// Backend is a named destination a session can be transferred to.
type Backend interface {
	Name() string
	Address() string
}

// MoveStatus is the host's outcome code for a move request.
type MoveStatus string

const (
	MoveSuccess           MoveStatus = "SUCCESS"
	MoveAlreadyConnected  MoveStatus = "ALREADY_CONNECTED"
	MoveConnectionFailed  MoveStatus = "CONNECTION_FAILED"
	MoveConnectionTimeout MoveStatus = "CONNECTION_TIMEOUT"
)

// MoveResult reports the end of a move request. Err is set when the request
// could not be carried out at all; otherwise Status carries the outcome.
type MoveResult struct {
	Status MoveStatus
	Err    error
}

// Success reports whether the session now sits on the requested backend.
func (r MoveResult) Success() bool {
	return r.Err == nil && r.Status == MoveSuccess
}

// AsSession returns the invoker as a Session when it is one.
func AsSession(inv Invoker) (Session, bool) {
	if inv == nil {
		return nil, false
	}
	s, ok := inv.(Session)
	return s, ok
}
