// Package service binds the macro registry to the host: it loads and
// reloads the macro file, resolves macro commands and starts sequencers.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ourisland/litemacro/internal/actions"
	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/events"
	"github.com/ourisland/litemacro/internal/host"
	"github.com/ourisland/litemacro/internal/i18n"
	"github.com/ourisland/litemacro/internal/invocation"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/ourisland/litemacro/internal/macros"
	"github.com/ourisland/litemacro/internal/metrics"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/ourisland/litemacro/internal/platform"
	"github.com/ourisland/litemacro/internal/registry"
	"github.com/ourisland/litemacro/internal/runner"
	"github.com/rs/zerolog"
)

// AdminPermission gates the litemacro admin command.
const AdminPermission = "litemacro.admin"

// OriginLocal marks reloads started on this node.
const OriginLocal = ""

// Message keys used by the service.
const (
	msgNoPerms       = "litemacro.main.no_perms"
	msgUsage         = "litemacro.main.usage"
	msgReload        = "litemacro.main.reload"
	msgReloadFailed  = "litemacro.main.reload.failed"
	msgReloadPartial = "litemacro.main.reload.partial"
	msgNoActions     = "litemacro.command.macro.no_actions"
	msgMacroNoPerms  = "litemacro.command.macro.no_perms"
)

// Service errors.
var (
	ErrNoActions   = errors.New("macro has no actions")
	ErrMacroDenied = errors.New("missing macro permission")
)

// InvocationStore persists invocation history.
type InvocationStore interface {
	Create(ctx context.Context, record *models.InvocationRecord) error
	Finish(ctx context.Context, id string, failedSteps int, finishedAt time.Time) error
}

// Publisher announces local reloads to other nodes.
type Publisher interface {
	Publish(ctx context.Context, generation uint64) error
}

// Options configures a Service. Only Config and Host are required.
type Options struct {
	Config      *config.Config
	Host        *host.Host
	Events      events.Repository
	Invocations InvocationStore
	Metrics     *metrics.Metrics
	Publisher   Publisher
}

// ReloadResult summarizes one load.
type ReloadResult struct {
	Generation uint64
	Macros     int
	Excluded   []error
	Warnings   []string
	Source     string
	Created    bool
	Lang       string
	Origin     string
}

// Partial reports whether some macros were left out.
func (r *ReloadResult) Partial() bool {
	return len(r.Excluded) > 0
}

// Service owns the registry and everything a macro invocation touches.
type Service struct {
	cfg         *config.Config
	host        *host.Host
	registry    *registry.Registry
	events      events.Repository
	invocations InvocationStore
	metrics     *metrics.Metrics
	publisher   Publisher
	logger      zerolog.Logger
	rec         *recorder

	reloadMu sync.Mutex
	messages atomic.Pointer[i18n.Bundle]
	file     atomic.Pointer[macros.File]

	active    atomic.Int64
	completed atomic.Int64
	abandoned atomic.Int64
}

// New wires a service into its host: macro names resolve through the host's
// command fallback and the admin command is registered.
func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("host is required")
	}

	logger := logging.Component("service")
	s := &Service{
		cfg:         opts.Config,
		host:        opts.Host,
		registry:    registry.New(),
		events:      opts.Events,
		invocations: opts.Invocations,
		metrics:     opts.Metrics,
		publisher:   opts.Publisher,
		logger:      logger,
		rec:         newRecorder(logger, DefaultRecorderBuffer),
	}
	s.messages.Store(i18n.LoadWithOverrides(opts.Config.Lang, opts.Config.DataDir))

	s.metrics.TrackPending(opts.Host.Scheduler().Pending)
	opts.Host.Commands().SetFallback(s.resolveCommand)
	if err := opts.Host.Commands().Register(host.Command{
		Name:    "litemacro",
		Usage:   "litemacro <reload|list>",
		Handler: s.adminCommand,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Close flushes pending history writes.
func (s *Service) Close() {
	s.rec.close()
}

// Flush waits for queued history writes.
func (s *Service) Flush() {
	s.rec.flush()
}

// Registry returns the macro registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Host returns the host platform.
func (s *Service) Host() *host.Host { return s.host }

// Messages returns the bundle in effect.
func (s *Service) Messages() *i18n.Bundle { return s.messages.Load() }

// File returns the last successfully parsed macro file, or nil.
func (s *Service) File() *macros.File { return s.file.Load() }

// Active is the number of invocations that have not finished.
func (s *Service) Active() int64 { return s.active.Load() }

// Completed is the number of invocations that have finished, abandoned ones
// included.
func (s *Service) Completed() int64 { return s.completed.Load() }

// Abandoned is the number of invocations cut short because the host refused
// a delayed continuation.
func (s *Service) Abandoned() int64 { return s.abandoned.Load() }

// Load performs the initial load. It is Reload without cluster publishing.
func (s *Service) Load(ctx context.Context) (*ReloadResult, error) {
	return s.reload(ctx, "startup", false)
}

// Reload re-reads the macro file and swaps in a new generation. On error
// the previous generation stays in effect.
func (s *Service) Reload(ctx context.Context) (*ReloadResult, error) {
	return s.reload(ctx, OriginLocal, true)
}

// ReloadFrom reloads on behalf of another node. It is never re-published.
func (s *Service) ReloadFrom(ctx context.Context, origin string) (*ReloadResult, error) {
	return s.reload(ctx, origin, false)
}

func (s *Service) reload(ctx context.Context, origin string, publish bool) (*ReloadResult, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	path := s.cfg.MacrosFile
	file, created, err := macros.LoadOrCreate(path)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("reload failed, keeping current macros")
		s.metrics.Reloaded(metrics.ReloadFailed, 0)
		s.rec.submit("registry.reload_failed", func(ctx context.Context) error {
			if s.events == nil {
				return nil
			}
			return events.LogRegistryReloadFailed(ctx, s.events, path, err)
		})
		return nil, err
	}
	if created {
		s.logger.Info().Str("path", path).Msg("wrote default macro file")
	}
	for _, warning := range file.Warnings {
		s.logger.Warn().Str("path", path).Msg(warning)
	}

	lang := strings.TrimSpace(file.Lang)
	if lang == "" {
		lang = s.cfg.Lang
	}
	bundle := i18n.LoadWithOverrides(lang, s.cfg.DataDir)
	s.messages.Store(bundle)
	s.host.SetMessages(bundle)

	factory := actions.NewFactory(
		actions.WithMessages(bundle),
		actions.WithTransferObserver(s.onTransfer),
	)
	generation, excluded := s.registry.Build(file.Macros, factory)
	s.warnShadowed(generation)
	s.registry.Swap(generation)
	s.file.Store(file)

	result := &ReloadResult{
		Generation: generation.ID(),
		Macros:     generation.Len(),
		Excluded:   excluded,
		Warnings:   file.Warnings,
		Source:     path,
		Created:    created,
		Lang:       bundle.Lang(),
		Origin:     origin,
	}

	outcome := metrics.ReloadOK
	if result.Partial() {
		outcome = metrics.ReloadPartial
	}
	s.metrics.Reloaded(outcome, result.Macros)

	payload := models.RegistryReloadedPayload{
		Generation: result.Generation,
		Macros:     result.Macros,
		Excluded:   errorStrings(excluded),
		Origin:     origin,
	}
	s.rec.submit("registry.reloaded", func(ctx context.Context) error {
		if s.events == nil {
			return nil
		}
		return events.LogRegistryReloaded(ctx, s.events, payload)
	})

	if publish && s.publisher != nil {
		if err := s.publisher.Publish(ctx, result.Generation); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish reload")
		}
	}

	s.logger.Info().
		Uint64("generation", result.Generation).
		Int("macros", result.Macros).
		Int("excluded", len(excluded)).
		Str("lang", result.Lang).
		Str("origin", origin).
		Msg("macros loaded")
	return result, nil
}

// Registered commands win over macros with the same name.
func (s *Service) warnShadowed(g *registry.Generation) {
	builtin := make(map[string]bool)
	for _, name := range s.host.Commands().Names() {
		builtin[name] = true
	}
	for _, name := range g.Names() {
		if builtin[name] {
			s.logger.Warn().Str("name", name).Msg("macro name shadowed by a built-in command")
		}
	}
}

func (s *Service) resolveCommand(name string) (host.Handler, bool) {
	macro, err := s.registry.Resolve(name)
	if err != nil {
		return nil, false
	}
	return func(source platform.Invoker, args []string) error {
		_, err := s.invoke(source, name, macro, args)
		return err
	}, true
}

// Invoke runs the macro bound to name as invoker. The returned sequencer may
// still be waiting on a delay when Invoke returns.
func (s *Service) Invoke(invoker platform.Invoker, name string, args []string) (*runner.Sequencer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	macro, err := s.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return s.invoke(invoker, name, macro, args)
}

func (s *Service) invoke(invoker platform.Invoker, alias string, macro *registry.Macro, args []string) (*runner.Sequencer, error) {
	messages := s.Messages()
	name := macro.Name()

	if perm := strings.TrimSpace(macro.Spec.Permission); perm != "" && !invoker.HasPermission(perm) {
		invoker.SendMessage(messages.T(msgMacroNoPerms))
		who := displayName(invoker)
		s.rec.submit("macro.denied", func(ctx context.Context) error {
			if s.events == nil {
				return nil
			}
			return events.LogMacroDenied(ctx, s.events, name, who, perm)
		})
		return nil, fmt.Errorf("%w: %s", ErrMacroDenied, perm)
	}

	if len(macro.Actions) == 0 {
		invoker.SendMessage(messages.T(msgNoActions))
		return nil, ErrNoActions
	}

	record := &models.InvocationRecord{
		ID:         uuid.New().String(),
		Macro:      name,
		Invoker:    displayName(invoker),
		InvokerID:  invoker.ID(),
		Args:       append([]string(nil), args...),
		Steps:      len(macro.Actions),
		Generation: macro.Generation,
		StartedAt:  time.Now().UTC(),
	}
	if alias != name {
		record.Alias = alias
	}
	s.recordStart(record)

	s.metrics.Invoked(name)
	s.active.Add(1)

	ctx := invocation.FromArgs(s.host, invoker, args)
	hooks := runner.Hooks{
		OnStep: func(step runner.StepResult) {
			s.metrics.StepDone(name, step.Kind, step.Duration, step.Err)
			if step.Err == nil {
				return
			}
			stepErr := step.Err
			s.rec.submit("macro.step_failed", func(ctx context.Context) error {
				if s.events == nil {
					return nil
				}
				return events.LogStepFailed(ctx, s.events, name, record.ID, step.Index+1, step.Kind, stepErr)
			})
		},
		OnAbandon: func(next int, err error) {
			s.abandoned.Add(1)
			s.logger.Warn().
				Err(err).
				Str("macro", name).
				Str("invocation_id", record.ID).
				Int("next_step", next+1).
				Msg("invocation abandoned")
		},
		OnFinish: func(failed int) {
			s.recordFinish(record, failed)
			s.active.Add(-1)
			s.completed.Add(1)
		},
	}

	seq := runner.New(name, macro.Actions, ctx, runner.WithHooks(hooks))
	if err := seq.Start(); err != nil {
		return nil, err
	}
	return seq, nil
}

func (s *Service) recordStart(record *models.InvocationRecord) {
	snapshot := *record
	s.rec.submit("macro.invoked", func(ctx context.Context) error {
		if s.invocations != nil {
			if err := s.invocations.Create(ctx, &snapshot); err != nil {
				return err
			}
		}
		if s.events == nil {
			return nil
		}
		return events.LogMacroInvoked(ctx, s.events, snapshot.Macro, snapshot.Generation, models.MacroInvokedPayload{
			InvocationID: snapshot.ID,
			Invoker:      snapshot.Invoker,
			Args:         snapshot.Args,
			Steps:        snapshot.Steps,
		})
	})
}

func (s *Service) recordFinish(record *models.InvocationRecord, failed int) {
	finished := time.Now().UTC()
	id, macro := record.ID, record.Macro
	s.rec.submit("macro.completed", func(ctx context.Context) error {
		if s.invocations != nil {
			if err := s.invocations.Finish(ctx, id, failed, finished); err != nil {
				return err
			}
		}
		if s.events == nil {
			return nil
		}
		return events.LogMacroCompleted(ctx, s.events, macro, id, failed)
	})
}

func (s *Service) onTransfer(invoker platform.Invoker, target string, result platform.MoveResult) {
	if result.Success() {
		return
	}
	payload := models.TransferFailedPayload{
		Invoker: displayName(invoker),
		Target:  target,
		Status:  string(result.Status),
	}
	if result.Err != nil {
		payload.Error = result.Err.Error()
	}
	s.logger.Warn().Str("invoker", payload.Invoker).Str("target", target).Str("status", payload.Status).Str("error", payload.Error).Msg("transfer failed")
	s.rec.submit("macro.transfer_failed", func(ctx context.Context) error {
		if s.events == nil {
			return nil
		}
		return events.LogTransferFailed(ctx, s.events, payload)
	})
}

func (s *Service) adminCommand(source platform.Invoker, args []string) error {
	messages := s.Messages()
	if !source.HasPermission(AdminPermission) {
		source.SendMessage(messages.T(msgNoPerms, AdminPermission))
		return nil
	}
	if len(args) == 0 {
		source.SendMessage(messages.T(msgUsage, "/litemacro reload"))
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "reload":
		result, err := s.Reload(context.Background())
		// Re-read: the reload may have switched languages.
		messages = s.Messages()
		if err != nil {
			source.SendMessage(messages.T(msgReloadFailed, err.Error()))
			return nil
		}
		if result.Partial() {
			source.SendMessage(messages.T(msgReloadPartial, len(result.Excluded), strings.Join(errorStrings(result.Excluded), "; ")))
			return nil
		}
		source.SendMessage(messages.T(msgReload))
	case "list":
		for _, m := range s.registry.Current().Macros() {
			line := m.Name()
			if len(m.Spec.Aliases) > 0 {
				line += " (" + strings.Join(m.Spec.Aliases, ", ") + ")"
			}
			if m.Spec.Description != "" {
				line += " - " + m.Spec.Description
			}
			source.SendMessage(line)
		}
	default:
		source.SendMessage(messages.T(msgUsage, "/litemacro reload"))
	}
	return nil
}

func displayName(inv platform.Invoker) string {
	if inv == nil || inv.Name() == "" {
		return invocation.NoName
	}
	return inv.Name()
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
