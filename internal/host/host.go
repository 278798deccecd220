// Package host is the in-process platform the macro pipeline runs on: a
// delayed-callback scheduler, a command manager, connected sessions and the
// backends they can be moved between.
package host

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ourisland/litemacro/internal/i18n"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/ourisland/litemacro/internal/platform"
	"github.com/ourisland/litemacro/internal/scheduler"
	"github.com/rs/zerolog"
)

// DefaultMoveTimeout bounds the backend probe of a move.
const DefaultMoveTimeout = 3 * time.Second

// Messages renders localized text for the host's own commands.
type Messages interface {
	T(key string, args ...any) string
	Plain(key string, args ...any) string
}

// Observer receives session lifecycle notifications. Nil fields are skipped.
type Observer struct {
	OnConnect    func(*Session)
	OnDisconnect func(*Session)
	OnMove       func(s *Session, from, to string)
}

// Config configures a Host.
type Config struct {
	// Backends maps backend names to host:port addresses.
	Backends map[string]string

	// DefaultBackend is where new sessions start. Defaults to the first
	// backend by name.
	DefaultBackend string

	// Permissions grants permission nodes per session name.
	Permissions map[string][]string

	MoveTimeout time.Duration

	// Scheduler runs delayed continuations. It must be started by the
	// caller. When nil, the host creates and owns one.
	Scheduler *scheduler.Scheduler

	Messages      Messages
	ConsoleOutput io.Writer
	Observer      Observer

	// Dial overrides the probe dialer, mostly for tests.
	Dial Dialer
}

// Host implements platform.Platform.
type Host struct {
	logger      zerolog.Logger
	sched       *scheduler.Scheduler
	ownsSched   bool
	console     *Console
	sessions    *Sessions
	backends    *Backends
	commands    *Commands
	observer    Observer
	moveTimeout time.Duration
	defaultBE   string
	dial        Dialer

	ctx    context.Context
	cancel context.CancelFunc

	msgMu    sync.RWMutex
	messages Messages

	dispatches sync.WaitGroup
}

var (
	_ platform.Platform     = (*Host)(nil)
	_ platform.TryScheduler = (*Host)(nil)
)

// New builds a host. Call Start before scheduling work and Close on
// shutdown.
func New(cfg Config) *Host {
	logger := logging.Component("host")

	sched := cfg.Scheduler
	owns := false
	if sched == nil {
		sched = scheduler.New(scheduler.DefaultConfig())
		owns = true
	}
	if cfg.MoveTimeout <= 0 {
		cfg.MoveTimeout = DefaultMoveTimeout
	}
	if cfg.Messages == nil {
		cfg.Messages = i18n.Load(i18n.DefaultLang)
	}
	dial := cfg.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		logger:      logger,
		sched:       sched,
		ownsSched:   owns,
		console:     newConsole(logging.Component("console"), cfg.ConsoleOutput),
		sessions:    NewSessions(cfg.Permissions),
		backends:    NewBackends(cfg.Backends),
		observer:    cfg.Observer,
		moveTimeout: cfg.MoveTimeout,
		dial:        dial,
		ctx:         ctx,
		cancel:      cancel,
		messages:    cfg.Messages,
	}
	h.commands = newCommands(logging.Component("commands"), h.Messages)

	h.defaultBE = cfg.DefaultBackend
	if h.defaultBE == "" {
		if first := h.backends.First(); first != nil {
			h.defaultBE = first.Name()
		}
	}

	h.registerBuiltins()
	return h
}

// Start starts the owned scheduler, if any.
func (h *Host) Start(ctx context.Context) error {
	if !h.ownsSched {
		return nil
	}
	return h.sched.Start(ctx)
}

// Close disconnects every session, waits for in-flight dispatches and stops
// the owned scheduler.
func (h *Host) Close() error {
	h.cancel()
	for _, s := range h.sessions.DisconnectAll() {
		if h.observer.OnDisconnect != nil {
			h.observer.OnDisconnect(s)
		}
	}
	h.dispatches.Wait()
	if h.ownsSched && h.sched.Running() {
		return h.sched.Stop()
	}
	return nil
}

// SetMessages swaps the bundle used by host commands.
func (h *Host) SetMessages(m Messages) {
	h.msgMu.Lock()
	defer h.msgMu.Unlock()
	h.messages = m
}

// Messages returns the current bundle.
func (h *Host) Messages() Messages {
	h.msgMu.RLock()
	defer h.msgMu.RUnlock()
	return h.messages
}

// Scheduler returns the delayed-callback scheduler.
func (h *Host) Scheduler() *scheduler.Scheduler { return h.sched }

// Commands returns the command manager.
func (h *Host) Commands() *Commands { return h.commands }

// Sessions returns the session table.
func (h *Host) Sessions() *Sessions { return h.sessions }

// Backends returns the backend table.
func (h *Host) Backends() *Backends { return h.backends }

// ConsoleInvoker returns the concrete console identity.
func (h *Host) ConsoleInvoker() *Console { return h.console }

// ScheduleAfter implements platform.Platform. Callbacks refused by the
// scheduler are dropped and logged; use TrySchedule to observe refusals.
func (h *Host) ScheduleAfter(d time.Duration, fn func()) {
	if err := h.TrySchedule(d, fn); err != nil {
		h.logger.Error().Err(err).Dur("delay", d).Msg("failed to schedule continuation")
	}
}

// TrySchedule implements platform.TryScheduler. It fails with
// scheduler.ErrSchedulerNotRunning or scheduler.ErrTooManyPending.
func (h *Host) TrySchedule(d time.Duration, fn func()) error {
	return h.sched.After(d, fn)
}

// DispatchCommand implements platform.Platform.
func (h *Host) DispatchCommand(source platform.Invoker, command string) {
	h.dispatches.Add(1)
	go func() {
		defer h.dispatches.Done()
		_ = h.commands.Execute(source, command)
	}()
}

// Execute runs a command line synchronously.
func (h *Host) Execute(source platform.Invoker, command string) error {
	return h.commands.Execute(source, command)
}

// ResolveBackend implements platform.Platform.
func (h *Host) ResolveBackend(name string) (platform.Backend, bool) {
	backend, ok := h.backends.Lookup(name)
	if !ok {
		return nil, false
	}
	return backend, true
}

// Console implements platform.Platform.
func (h *Host) Console() platform.Invoker { return h.console }

// Connect registers a session on the default backend.
func (h *Host) Connect(name string) (*Session, error) {
	session, err := h.sessions.Connect(name, h.defaultBE)
	if err != nil {
		return nil, err
	}
	h.logger.Info().Str("session", session.Name()).Str("id", session.ID()).Str("backend", session.CurrentBackend()).Msg("session connected")
	if h.observer.OnConnect != nil {
		h.observer.OnConnect(session)
	}
	return session, nil
}

// Disconnect removes a session.
func (h *Host) Disconnect(id string) error {
	session, err := h.sessions.Disconnect(id)
	if err != nil {
		return err
	}
	h.logger.Info().Str("session", session.Name()).Msg("session disconnected")
	if h.observer.OnDisconnect != nil {
		h.observer.OnDisconnect(session)
	}
	return nil
}

// Broadcast sends text to every session and the console.
func (h *Host) Broadcast(text string) {
	for _, s := range h.sessions.List() {
		s.SendMessage(text)
	}
	h.console.SendMessage(text)
}

// WaitDispatches blocks until every dispatched command has returned.
func (h *Host) WaitDispatches() {
	h.dispatches.Wait()
}
