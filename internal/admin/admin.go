// Package admin serves the litemacro HTTP admin API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/host"
	"github.com/ourisland/litemacro/internal/logging"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/ourisland/litemacro/internal/service"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

// MacroService is the part of the service the API drives.
type MacroService interface {
	Catalog() []service.MacroInfo
	Generation() uint64
	Reload(ctx context.Context) (*service.ReloadResult, error)
	Host() *host.Host
}

// EventStore reads the event log.
type EventStore interface {
	Query(ctx context.Context, q db.EventQuery) (*db.EventPage, error)
}

// InvocationStore reads invocation history.
type InvocationStore interface {
	Query(ctx context.Context, q models.InvocationQuery) ([]*models.InvocationRecord, error)
	SummarizeByMacro(ctx context.Context, since, until *time.Time) ([]*models.InvocationSummary, error)
}

// Options configures the handler. Service is required.
type Options struct {
	Service     MacroService
	Events      EventStore
	Invocations InvocationStore
	Metrics     http.Handler
}

type api struct {
	opts   Options
	logger zerolog.Logger
}

// NewHandler builds the admin router.
func NewHandler(opts Options) http.Handler {
	a := &api{opts: opts, logger: logging.Component("admin")}
	r := chi.NewRouter()

	r.Get("/healthz", a.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/macros", a.listMacros)
		r.Get("/macros/{name}", a.getMacro)
		r.Post("/reload", a.reload)
		r.Get("/sessions", a.listSessions)
		r.Post("/commands", a.execute)
		r.Get("/events", a.listEvents)
		r.Get("/invocations", a.listInvocations)
		r.Get("/stats", a.stats)
	})
	return r
}

// Server wraps the handler in an http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.Component("admin"),
	}
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("admin api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gives outstanding requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("graceful shutdown did not complete")
		return s.srv.Close()
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn().Err(err).Msg("encode response")
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"generation": a.opts.Service.Generation(),
	})
}

func (a *api) listMacros(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"generation": a.opts.Service.Generation(),
		"macros":     a.opts.Service.Catalog(),
	})
}

func (a *api) getMacro(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "name"))
	for _, m := range a.opts.Service.Catalog() {
		if m.Name == name {
			a.writeJSON(w, http.StatusOK, m)
			return
		}
		for _, alias := range m.Aliases {
			if alias == name {
				a.writeJSON(w, http.StatusOK, m)
				return
			}
		}
	}
	a.writeError(w, http.StatusNotFound, errors.New("macro not found: "+name))
}

type reloadResponse struct {
	Generation uint64   `json:"generation"`
	Macros     int      `json:"macros"`
	Excluded   []string `json:"excluded,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Source     string   `json:"source"`
	Lang       string   `json:"lang"`
}

func (a *api) reload(w http.ResponseWriter, r *http.Request) {
	result, err := a.opts.Service.Reload(r.Context())
	if err != nil {
		a.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	resp := reloadResponse{
		Generation: result.Generation,
		Macros:     result.Macros,
		Warnings:   result.Warnings,
		Source:     result.Source,
		Lang:       result.Lang,
	}
	for _, ex := range result.Excluded {
		resp.Excluded = append(resp.Excluded, ex.Error())
	}
	a.writeJSON(w, http.StatusOK, resp)
}

type sessionView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Backend     string    `json:"backend"`
	ConnectedAt time.Time `json:"connected_at"`
	Dropped     int       `json:"dropped,omitempty"`
	Recent      []string  `json:"recent,omitempty"`
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.opts.Service.Host().Sessions().List()
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{
			ID:          s.ID(),
			Name:        s.Name(),
			Backend:     s.CurrentBackend(),
			ConnectedAt: s.ConnectedAt(),
			Dropped:     s.Dropped(),
			Recent:      s.History(),
		})
	}
	a.writeJSON(w, http.StatusOK, out)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (a *api) execute(w http.ResponseWriter, r *http.Request) {
	var body commandRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if strings.TrimSpace(body.Command) == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("command is required"))
		return
	}

	h := a.opts.Service.Host()
	a.logger.Info().Str("command", body.Command).Msg("console command via admin api")
	if err := h.Execute(h.Console(), body.Command); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, host.ErrUnknownCommand) {
			status = http.StatusNotFound
		}
		a.writeError(w, status, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	if a.opts.Events == nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("event log disabled"))
		return
	}
	params := r.URL.Query()
	q := db.EventQuery{
		Cursor: params.Get("cursor"),
		Limit:  cast.ToInt(params.Get("limit")),
	}
	if v := params.Get("type"); v != "" {
		t := models.EventType(v)
		q.Type = &t
	}
	if v := params.Get("entity_type"); v != "" {
		t := models.EntityType(v)
		q.EntityType = &t
	}
	if v := params.Get("entity_id"); v != "" {
		q.EntityID = &v
	}
	since, err := parseTime(params.Get("since"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	q.Since = since

	page, err := a.opts.Events.Query(r.Context(), q)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	events := page.Events
	if events == nil {
		events = []*models.Event{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"next_cursor": page.NextCursor,
	})
}

func (a *api) listInvocations(w http.ResponseWriter, r *http.Request) {
	if a.opts.Invocations == nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("invocation history disabled"))
		return
	}
	params := r.URL.Query()
	q := models.InvocationQuery{Limit: cast.ToInt(params.Get("limit"))}
	if v := params.Get("macro"); v != "" {
		v = strings.ToLower(v)
		q.Macro = &v
	}
	if v := params.Get("invoker"); v != "" {
		q.Invoker = &v
	}
	since, err := parseTime(params.Get("since"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	q.Since = since

	records, err := a.opts.Invocations.Query(r.Context(), q)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*models.InvocationRecord{}
	}
	a.writeJSON(w, http.StatusOK, records)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	if a.opts.Invocations == nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("invocation history disabled"))
		return
	}
	since, err := parseTime(r.URL.Query().Get("since"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	summaries, err := a.opts.Invocations.SummarizeByMacro(r.Context(), since, nil)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if summaries == nil {
		summaries = []*models.InvocationSummary{}
	}
	a.writeJSON(w, http.StatusOK, summaries)
}

// parseTime accepts RFC3339 timestamps or a duration meaning "that long ago".
func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		t := time.Now().Add(-d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, errors.New("since must be RFC3339 or a duration")
	}
	return &t, nil
}
