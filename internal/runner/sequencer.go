// Package runner drives a compiled macro through its steps in order,
// suspending on inter-step delays through the host scheduler.
package runner

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ourisland/litemacro/internal/actions"
	"github.com/ourisland/litemacro/internal/invocation"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/ourisland/litemacro/internal/platform"
	"github.com/rs/zerolog"
)

// Sequencer errors.
var (
	ErrAlreadyStarted = errors.New("sequence already started")
	ErrStepPanicked   = errors.New("step panicked")
)

// State is the sequencer's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDelaying
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDelaying:
		return "delaying"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StepResult describes one executed step.
type StepResult struct {
	Index    int // 0-based
	Kind     string
	Duration time.Duration
	Err      error
}

// Hooks receive progress notifications. They must not block and they
// cannot change the course of the sequence. OnAbandon fires when the host
// refuses a delayed continuation; OnFinish still follows it.
type Hooks struct {
	OnStep    func(StepResult)
	OnAbandon func(next int, err error)
	OnFinish  func(failed int)
}

// Sequencer runs one invocation of one macro. It is single-use.
type Sequencer struct {
	name   string
	steps  []actions.Action
	ctx    *invocation.Context
	hooks  Hooks
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	current   int
	failed    int
	abandoned error
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithHooks sets progress hooks.
func WithHooks(h Hooks) Option {
	return func(s *Sequencer) {
		s.hooks = h
	}
}

// WithLogger replaces the default component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// New creates an idle sequencer. steps is not copied and must not change.
func New(name string, steps []actions.Action, ctx *invocation.Context, opts ...Option) *Sequencer {
	s := &Sequencer{
		name:   name,
		steps:  steps,
		ctx:    ctx,
		logger: logging.Component("runner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("macro", name).Logger()
	return s
}

// Run creates a sequencer and starts it.
func Run(name string, steps []actions.Action, ctx *invocation.Context, opts ...Option) *Sequencer {
	s := New(name, steps, ctx, opts...)
	_ = s.Start()
	return s
}

// Start executes steps synchronously until the first non-zero delay, which
// is handed to the host scheduler, or until the end of the list. It never
// reports step failures.
func (s *Sequencer) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.runFrom(0)
	return nil
}

// State returns the lifecycle state and the index of the current (or next,
// while delaying) step.
func (s *Sequencer) State() (State, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current
}

// Failed is the number of steps that have failed so far.
func (s *Sequencer) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Abandoned returns the scheduling error that cut the sequence short, or
// nil.
func (s *Sequencer) Abandoned() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned
}

func (s *Sequencer) runFrom(i int) {
	for ; i < len(s.steps); i++ {
		s.transition(StateRunning, i)

		action := s.steps[i]
		started := time.Now()
		err := s.execute(action)
		result := StepResult{Index: i, Kind: action.Kind(), Duration: time.Since(started), Err: err}

		if err != nil {
			s.mu.Lock()
			s.failed++
			s.mu.Unlock()
			s.logger.Warn().
				Err(err).
				Int("step", i+1).
				Str("kind", action.Kind()).
				Msg("macro step failed, continuing")
		}
		if s.hooks.OnStep != nil {
			s.hooks.OnStep(result)
		}

		if d := action.Delay(); d > 0 {
			next := i + 1
			s.transition(StateDelaying, next)
			if err := s.schedule(d, func() { s.runFrom(next) }); err != nil {
				s.abandon(next, err)
			}
			return
		}
	}
	s.finish()
}

// schedule hands fn to the host, reporting refusals when the host can.
func (s *Sequencer) schedule(d time.Duration, fn func()) error {
	p := s.ctx.Platform()
	if ts, ok := p.(platform.TryScheduler); ok {
		return ts.TrySchedule(d, fn)
	}
	p.ScheduleAfter(d, fn)
	return nil
}

// abandon ends a sequence whose continuation will never run. Steps from
// next onwards are skipped.
func (s *Sequencer) abandon(next int, err error) {
	s.mu.Lock()
	s.abandoned = err
	s.mu.Unlock()

	s.logger.Error().
		Err(err).
		Int("skipped", len(s.steps)-next).
		Msg("host refused continuation, abandoning macro")
	if s.hooks.OnAbandon != nil {
		s.hooks.OnAbandon(next, err)
	}
	s.finish()
}

func (s *Sequencer) execute(action actions.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
		}
	}()
	return action.Execute(s.ctx)
}

func (s *Sequencer) transition(state State, index int) {
	s.mu.Lock()
	s.state = state
	s.current = index
	s.mu.Unlock()
}

func (s *Sequencer) finish() {
	s.mu.Lock()
	s.state = StateDone
	s.current = len(s.steps)
	failed := s.failed
	s.mu.Unlock()

	s.logger.Debug().Int("steps", len(s.steps)).Int("failed", failed).Msg("macro finished")
	if s.hooks.OnFinish != nil {
		s.hooks.OnFinish(failed)
	}
}
