package litemacrod

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/ourisland/litemacro/internal/host"
	"github.com/ourisland/litemacro/internal/service"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MacroService is the part of the service the daemon exposes.
type MacroService interface {
	Catalog() []service.MacroInfo
	Generation() uint64
	Reload(ctx context.Context) (*service.ReloadResult, error)
	Host() *host.Host
	Active() int64
	Completed() int64
}

// Server implements LiteMacroServer on top of a macro service.
type Server struct {
	svc       MacroService
	logger    zerolog.Logger
	startedAt time.Time
	hostname  string
	version   string

	streams atomic.Int64
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithVersion sets the daemon version.
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer creates the gRPC service implementation.
func NewServer(svc MacroService, logger zerolog.Logger, opts ...ServerOption) *Server {
	hostname, _ := os.Hostname()

	s := &Server{
		svc:       svc,
		logger:    logger,
		startedAt: time.Now(),
		hostname:  hostname,
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ LiteMacroServer = (*Server)(nil)

// Ping is a simple health check.
func (s *Server) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	h := s.svc.Host()
	return toStruct(map[string]any{
		"version":    s.version,
		"hostname":   s.hostname,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"generation": float64(s.svc.Generation()),
		"macros":     float64(len(s.svc.Catalog())),
		"sessions":   float64(h.Sessions().Len()),
		"active":     float64(s.svc.Active()),
		"completed":  float64(s.svc.Completed()),
		"pending":    float64(h.Scheduler().Pending()),
		"streams":    float64(s.streams.Load()),
	})
}

// Execute runs a command line as a connected session, or as the console
// when no session is given.
func (s *Server) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	command := fields["command"].GetStringValue()
	if command == "" {
		return nil, status.Error(codes.InvalidArgument, "command is required")
	}

	h := s.svc.Host()
	source := h.Console()
	if id := fields["session"].GetStringValue(); id != "" {
		session, ok := h.Sessions().Get(id)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "session %q not found", id)
		}
		source = session
	}
	if err := h.Execute(source, command); err != nil {
		return nil, commandStatus(err)
	}

	s.logger.Debug().Str("source", source.Name()).Str("command", command).Msg("executed command")
	return toStruct(map[string]any{"ok": true})
}

func commandStatus(err error) error {
	switch {
	case errors.Is(err, host.ErrUnknownCommand):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, host.ErrPermissionDenied), errors.Is(err, service.ErrMacroDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrNoActions):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Reload reloads the macro file.
func (s *Server) Reload(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	result, err := s.svc.Reload(ctx)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "reload failed: %v", err)
	}

	excluded := make([]any, 0, len(result.Excluded))
	for _, ex := range result.Excluded {
		excluded = append(excluded, ex.Error())
	}
	warnings := make([]any, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		warnings = append(warnings, w)
	}
	return toStruct(map[string]any{
		"generation": float64(result.Generation),
		"macros":     float64(result.Macros),
		"excluded":   excluded,
		"warnings":   warnings,
		"source":     result.Source,
		"lang":       result.Lang,
	})
}

// ListMacros returns the macros of the current generation.
func (s *Server) ListMacros(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	catalog := s.svc.Catalog()
	macros := make([]any, 0, len(catalog))
	for _, m := range catalog {
		macros = append(macros, map[string]any{
			"name":        m.Name,
			"aliases":     stringsToAny(m.Aliases),
			"description": m.Description,
			"permission":  m.Permission,
			"steps":       stringsToAny(m.Steps),
		})
	}
	return toStruct(map[string]any{
		"generation": float64(s.svc.Generation()),
		"macros":     macros,
	})
}

// ListSessions returns the connected sessions.
func (s *Server) ListSessions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list := s.svc.Host().Sessions().List()
	sessions := make([]any, 0, len(list))
	for _, session := range list {
		sessions = append(sessions, map[string]any{
			"id":           session.ID(),
			"name":         session.Name(),
			"backend":      session.CurrentBackend(),
			"connected_at": session.ConnectedAt().Format(time.RFC3339),
			"dropped":      float64(session.Dropped()),
		})
	}
	return toStruct(map[string]any{"sessions": sessions})
}

// Connect registers a session for the caller and streams its messages until
// the caller goes away or the session is disconnected.
func (s *Server) Connect(req *structpb.Struct, stream ConnectStream) error {
	name := req.GetFields()["name"].GetStringValue()
	h := s.svc.Host()

	session, err := h.Connect(name)
	switch {
	case errors.Is(err, host.ErrInvalidSessionName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, host.ErrSessionExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case err != nil:
		return status.Error(codes.Internal, err.Error())
	}

	s.streams.Add(1)
	defer s.streams.Add(-1)
	defer func() {
		if err := h.Disconnect(session.ID()); err != nil && !errors.Is(err, host.ErrSessionNotFound) {
			s.logger.Warn().Err(err).Str("session", session.Name()).Msg("disconnect failed")
		}
	}()

	hello, err := toStruct(map[string]any{
		"type":       "connected",
		"session_id": session.ID(),
		"name":       session.Name(),
		"backend":    session.CurrentBackend(),
	})
	if err != nil {
		return err
	}
	if err := stream.Send(hello); err != nil {
		return err
	}

	ctx := stream.Context()
	messages := session.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case text, ok := <-messages:
			if !ok {
				return nil
			}
			msg, err := toStruct(map[string]any{"type": "message", "text": text})
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				s.logger.Debug().Err(err).Str("session", session.Name()).Msg("stream send failed")
				return err
			}
		}
	}
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
