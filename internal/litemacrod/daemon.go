// Package litemacrod runs the litemacro daemon: the host, the macro
// service and the gRPC and HTTP surfaces around them.
package litemacrod

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ourisland/litemacro/internal/admin"
	"github.com/ourisland/litemacro/internal/cluster"
	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/events"
	"github.com/ourisland/litemacro/internal/host"
	"github.com/ourisland/litemacro/internal/metrics"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/ourisland/litemacro/internal/service"
	"github.com/ourisland/litemacro/internal/watch"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// DefaultPort is the default gRPC port.
const DefaultPort = 50071

// Options configure the daemon runtime.
type Options struct {
	Hostname string
	Port     int
	Version  string

	// Listener replaces the TCP listener, mostly for tests.
	Listener net.Listener

	// DisableHTTP skips the admin API even when http.addr is set.
	DisableHTTP bool
}

// Daemon is the long-running litemacro process.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options

	db          *db.DB
	eventRepo   *db.EventRepository
	invocations *db.InvocationRepository
	metrics     *metrics.Metrics
	host        *host.Host
	svc         *service.Service
	bus         *cluster.Bus
	limiter     *RateLimiter

	server     *Server
	grpcServer *grpc.Server
}

// New constructs a daemon. Nothing is started until Run.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Hostname == "" {
		opts.Hostname = cfg.Daemon.Host
	}
	if opts.Hostname == "" {
		opts.Hostname = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = cfg.Daemon.Port
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		opts:    opts,
		metrics: metrics.New(),
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	var eventsRepo events.Repository
	var invocations service.InvocationStore
	if cfg.Database.Path != "" {
		database, err := db.Open(db.DefaultConfig(cfg.Database.Path))
		if err != nil {
			return nil, err
		}
		if _, err := database.MigrateUp(context.Background()); err != nil {
			database.Close()
			return nil, err
		}
		d.db = database
		d.eventRepo = db.NewEventRepository(database)
		d.invocations = db.NewInvocationRepository(database)
		eventsRepo = d.eventRepo
		invocations = d.invocations
	}

	d.host = host.New(host.Config{
		Backends:       cfg.BackendAddresses(),
		DefaultBackend: cfg.DefaultBackend,
		Permissions:    cfg.Permissions,
		MoveTimeout:    cfg.Move.Timeout,
		ConsoleOutput:  os.Stdout,
		Observer:       d.sessionObserver(),
	})

	var publisher service.Publisher
	if cfg.Redis.Enabled {
		d.bus = cluster.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cluster.WithChannel(cfg.Redis.Channel))
		publisher = d.bus
	}

	svc, err := service.New(service.Options{
		Config:      cfg,
		Host:        d.host,
		Events:      eventsRepo,
		Invocations: invocations,
		Metrics:     d.metrics,
		Publisher:   publisher,
	})
	if err != nil {
		d.closeStores()
		return nil, err
	}
	d.svc = svc

	limiterOpts := []RateLimiterOption{}
	if cfg.RateLimit.Enabled {
		limiterOpts = append(limiterOpts, WithGlobalLimit(Limit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.Burst,
		}))
	}
	d.limiter = NewRateLimiter(limiterOpts...)

	d.server = NewServer(svc, logger, WithVersion(opts.Version))
	serverOpts := []grpc.ServerOption{}
	if cfg.RateLimit.Enabled {
		serverOpts = append(serverOpts,
			grpc.UnaryInterceptor(d.limiter.UnaryServerInterceptor()),
			grpc.StreamInterceptor(d.limiter.StreamServerInterceptor()),
		)
	}
	d.grpcServer = grpc.NewServer(serverOpts...)
	RegisterServer(d.grpcServer, d.server)

	return d, nil
}

// sessionObserver records session lifecycle in the event log.
func (d *Daemon) sessionObserver() host.Observer {
	record := func(kind string, fn func(ctx context.Context) error) {
		if d.eventRepo == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn().Err(err).Str("event", kind).Msg("failed to record session event")
		}
	}
	return host.Observer{
		OnConnect: func(s *host.Session) {
			record("connected", func(ctx context.Context) error {
				return events.LogSessionConnected(ctx, d.eventRepo, s.ID(), models.SessionPayload{Name: s.Name(), Backend: s.CurrentBackend()})
			})
		},
		OnDisconnect: func(s *host.Session) {
			record("disconnected", func(ctx context.Context) error {
				return events.LogSessionDisconnected(ctx, d.eventRepo, s.ID(), models.SessionPayload{Name: s.Name(), Backend: s.CurrentBackend()})
			})
		},
		OnMove: func(s *host.Session, from, to string) {
			record("moved", func(ctx context.Context) error {
				return events.LogSessionMoved(ctx, d.eventRepo, s.ID(), models.SessionPayload{Name: s.Name(), Backend: to})
			})
		},
	}
}

// Run starts every component and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	defer d.closeStores()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.host.Start(runCtx); err != nil {
		return err
	}
	defer func() {
		if err := d.host.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("host close")
		}
	}()

	if _, err := d.svc.Load(runCtx); err != nil {
		return fmt.Errorf("load macros: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if d.bus != nil {
		err := d.bus.Subscribe(runCtx, func(ctx context.Context, notice cluster.Notice) {
			if _, err := d.svc.ReloadFrom(ctx, notice.Origin); err != nil {
				d.logger.Warn().Err(err).Str("origin", notice.Origin).Msg("peer reload failed")
			}
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("cluster bus unavailable, reloads stay local")
		}
	}

	if d.cfg.Watch.Enabled {
		w, err := watch.New(d.cfg.MacrosFile, d.cfg.Watch.Debounce, func(ctx context.Context) error {
			_, err := d.svc.Reload(ctx)
			return err
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("macro file watch disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Run(runCtx); err != nil {
					d.logger.Warn().Err(err).Msg("macro file watcher stopped")
				}
			}()
		}
	}

	if d.cfg.History.Retention > 0 && d.db != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.pruneLoop(runCtx)
		}()
	}

	var httpServer *admin.Server
	if d.cfg.HTTP.Addr != "" && !d.opts.DisableHTTP {
		httpServer = admin.NewServer(d.cfg.HTTP.Addr, admin.NewHandler(d.adminOptions()))
		go func() {
			if err := httpServer.ListenAndServe(); err != nil {
				d.logger.Error().Err(err).Msg("admin api stopped")
			}
		}()
	}

	listener := d.opts.Listener
	if listener == nil {
		bindAddr := d.bindAddr()
		l, err := net.Listen("tcp", bindAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
		}
		listener = l
	}

	d.logger.Info().
		Str("bind", listener.Addr().String()).
		Str("version", d.opts.Version).
		Msg("litemacrod gRPC server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := d.grpcServer.Serve(listener); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info().Msg("litemacrod shutting down...")
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("gRPC server error: %w", err)
		}
	}

	// Streams end when their sessions are disconnected by host.Close, so
	// stop them first or GracefulStop would wait forever.
	d.grpcServer.Stop()
	if httpServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		done()
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("cluster bus close")
		}
	}

	d.logger.Info().Msg("litemacrod shutdown complete")
	return runErr
}

func (d *Daemon) adminOptions() admin.Options {
	opts := admin.Options{
		Service: d.svc,
		Metrics: d.metrics.Handler(),
	}
	if d.eventRepo != nil {
		opts.Events = d.eventRepo
	}
	if d.invocations != nil {
		opts.Invocations = d.invocations
	}
	return opts
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.History.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Prune(ctx)
		}
	}
}

// Prune drops history older than the configured retention.
func (d *Daemon) Prune(ctx context.Context) {
	if d.db == nil || d.cfg.History.Retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-d.cfg.History.Retention)
	eventsPruned, err := d.eventRepo.Prune(ctx, cutoff)
	if err != nil {
		d.logger.Warn().Err(err).Msg("prune events")
	}
	invocationsPruned, err := d.invocations.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		d.logger.Warn().Err(err).Msg("prune invocations")
	}
	if eventsPruned+invocationsPruned > 0 {
		d.logger.Info().
			Int64("events", eventsPruned).
			Int64("invocations", invocationsPruned).
			Time("cutoff", cutoff).
			Msg("pruned history")
	}
}

func (d *Daemon) closeStores() {
	if d.svc != nil {
		d.svc.Close()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("database close")
		}
	}
}

func (d *Daemon) bindAddr() string {
	return net.JoinHostPort(d.opts.Hostname, strconv.Itoa(d.opts.Port))
}

// Server returns the gRPC service implementation.
func (d *Daemon) Server() *Server {
	return d.server
}

// Service returns the macro service.
func (d *Daemon) Service() *service.Service {
	return d.svc
}

// Limiter returns the RPC rate limiter.
func (d *Daemon) Limiter() *RateLimiter {
	return d.limiter
}
