// Package scheduler runs delayed callbacks for the host platform.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ourisland/litemacro/internal/logging"
	"github.com/rs/zerolog"
)

// Scheduler errors.
var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
	ErrSchedulerNotRunning     = errors.New("scheduler not running")
	ErrTooManyPending          = errors.New("too many pending callbacks")
)

// Config contains scheduler configuration.
type Config struct {
	// MaxPending caps callbacks waiting to fire. Zero means unlimited.
	// Default: 100000.
	MaxPending int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPending: 100000,
	}
}

// SchedulerStats contains scheduler statistics.
type SchedulerStats struct {
	// Running indicates if the scheduler is active.
	Running bool

	// StartedAt is when the scheduler was started.
	StartedAt *time.Time

	// Scheduled is the number of callbacks accepted.
	Scheduled int64

	// Fired is the number of callbacks that ran.
	Fired int64

	// Panicked is the number of callbacks that panicked.
	Panicked int64

	// Canceled is the number of callbacks dropped by Stop.
	Canceled int64

	// Pending is the number of callbacks waiting to fire.
	Pending int
}

// Scheduler runs callbacks after a delay on timer goroutines.
type Scheduler struct {
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	nextID  uint64
	timers  map[uint64]*time.Timer
	wg      sync.WaitGroup

	statsMu sync.RWMutex
	stats   SchedulerStats
}

// New creates a new Scheduler.
func New(config Config) *Scheduler {
	if config.MaxPending < 0 {
		config.MaxPending = DefaultConfig().MaxPending
	}
	return &Scheduler{
		config: config,
		logger: logging.Component("scheduler"),
		timers: make(map[uint64]*time.Timer),
	}
}

// Start enables scheduling. Canceling ctx stops the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	now := time.Now().UTC()
	s.statsMu.Lock()
	s.stats.Running = true
	s.stats.StartedAt = &now
	s.statsMu.Unlock()

	s.logger.Info().Int("max_pending", s.config.MaxPending).Msg("scheduler starting")

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

// Stop cancels every pending callback and waits for running ones.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()

	canceled := 0
	for id, timer := range s.timers {
		if timer.Stop() {
			canceled++
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.statsMu.Lock()
	s.stats.Running = false
	s.stats.Canceled += int64(canceled)
	s.stats.Pending = 0
	s.statsMu.Unlock()

	s.logger.Info().Int("canceled", canceled).Msg("scheduler stopped")
	return nil
}

// After runs fn once after d. Non-positive delays run on the next timer tick.
func (s *Scheduler) After(d time.Duration, fn func()) error {
	if fn == nil {
		return errors.New("callback is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrSchedulerNotRunning
	}
	if s.config.MaxPending > 0 && len(s.timers) >= s.config.MaxPending {
		return ErrTooManyPending
	}

	s.nextID++
	id := s.nextID
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(d, func() { s.fire(id, fn) })

	s.statsMu.Lock()
	s.stats.Scheduled++
	s.stats.Pending = len(s.timers)
	s.statsMu.Unlock()
	return nil
}

func (s *Scheduler) fire(id uint64, fn func()) {
	defer s.wg.Done()

	s.mu.Lock()
	delete(s.timers, id)
	pending := len(s.timers)
	s.mu.Unlock()

	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				s.logger.Error().Interface("panic", r).Uint64("task", id).Msg("scheduled callback panicked")
			}
		}()
		fn()
	}()

	s.statsMu.Lock()
	s.stats.Fired++
	if panicked {
		s.stats.Panicked++
	}
	s.stats.Pending = pending
	s.statsMu.Unlock()
}

// Pending is the number of callbacks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Running reports whether the scheduler accepts callbacks.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}
