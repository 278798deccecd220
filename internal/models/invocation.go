package models

import (
	"time"
)

// InvocationRecord is the history entry for one macro invocation.
type InvocationRecord struct {
	// ID is the unique identifier for the invocation.
	ID string `json:"id"`

	// Macro is the primary name of the invoked macro.
	Macro string `json:"macro"`

	// Alias is the name the invoker typed, when it differs from Macro.
	Alias string `json:"alias,omitempty"`

	// Invoker is the display name of the invoking identity.
	Invoker string `json:"invoker"`

	// InvokerID is the stable identifier of the invoker, if any.
	InvokerID string `json:"invoker_id,omitempty"`

	// Args are the positional arguments captured at invocation.
	Args []string `json:"args,omitempty"`

	// Steps is the number of compiled steps.
	Steps int `json:"steps"`

	// FailedSteps counts steps whose execution failed.
	FailedSteps int `json:"failed_steps"`

	// Generation is the registry generation the macro was resolved from.
	Generation uint64 `json:"generation"`

	// StartedAt is when the first step began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the last step returned. Zero while in flight.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the wall time of a finished invocation.
func (r *InvocationRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// InvocationQuery filters invocation history.
type InvocationQuery struct {
	Macro   *string
	Invoker *string
	Since   *time.Time
	Until   *time.Time
	Limit   int
}

// InvocationSummary aggregates invocations of one macro (or all macros when
// Macro is empty).
type InvocationSummary struct {
	Macro       string     `json:"macro,omitempty"`
	Invocations int64      `json:"invocations"`
	Steps       int64      `json:"steps"`
	FailedSteps int64      `json:"failed_steps"`
	Invokers    int64      `json:"invokers"`
	LastRun     *time.Time `json:"last_run,omitempty"`
}
