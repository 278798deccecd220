package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/spf13/cobra"
)

var (
	watchMode      bool
	eventsSince    string
	eventsTypes    []string
	eventsEntity   string
	eventsEntityID string
	eventsLimit    int
)

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "stream new events as JSON lines (requires --jsonl)")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "only events after this time (1h, 2d, RFC3339 or 2006-01-02)")
	eventsCmd.Flags().StringSliceVar(&eventsTypes, "type", nil, "filter by event type, e.g. macro.invoked (repeatable)")
	eventsCmd.Flags().StringVar(&eventsEntity, "entity", "", "filter by entity type (macro, session, registry, system)")
	eventsCmd.Flags().StringVar(&eventsEntityID, "id", "", "filter by entity id, e.g. a macro name")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "max events to show")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the event log",
	Long: `Show macro, session and reload events recorded by the daemon.
With --watch, new events are streamed as JSON lines until interrupted.`,
	Example: `  litemacro events --since 1h --type macro.step_failed
  litemacro events --watch --jsonl --entity session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := MustBeJSONLForWatch(); err != nil {
			return err
		}
		since, err := ParseSince(eventsSince)
		if err != nil {
			return err
		}

		database, err := openHistory()
		if err != nil {
			return err
		}
		defer database.Close()
		repo := db.NewEventRepository(database)

		config := DefaultStreamConfig()
		config.Since = since
		config.EntityID = eventsEntityID
		for _, t := range eventsTypes {
			config.EventTypes = append(config.EventTypes, models.EventType(strings.TrimSpace(t)))
		}
		if eventsEntity != "" {
			config.EntityTypes = []models.EntityType{models.EntityType(eventsEntity)}
		}

		if watchMode {
			config.IncludeExisting = since != nil
			config.Reconnect.OnStatusChange = func(status ConnectionStatus, attempt int, next time.Duration, err error) {
				if status == ConnectionStatusReconnecting {
					fmt.Fprintf(stderr, "event log unavailable (%v), retry %d in %s\n", err, attempt, next)
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return NewEventStreamer(repo, cmd.OutOrStdout(), config).Stream(ctx)
		}

		config.BatchSize = eventsLimit
		events, _, err := NewEventStreamer(repo, io.Discard, config).poll(cmd.Context(), "", since)
		if err != nil {
			return err
		}
		return writeEvents(cmd.OutOrStdout(), events)
	},
}

func writeEvents(out io.Writer, events []*models.Event) error {
	if IsJSONOutput() || IsJSONLOutput() {
		return WriteOutput(out, events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, colorize("no events", colorDim))
		return nil
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			formatEventType(e.Type),
			string(e.EntityType) + "/" + e.EntityID,
			orDash(summarizePayload(e.Payload)),
		})
	}
	return writeTable(out, []string{"time", "event", "entity", "details"}, rows)
}

// summarizePayload flattens a JSON object to sorted "k=v" pairs.
func summarizePayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return string(raw)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func openHistory() (*db.DB, error) {
	cfg := mustConfig()
	if cfg.Database.Path == "" {
		return nil, &PreflightError{
			Message: "history is disabled",
			Hint:    "set database.path in the config to record events",
		}
	}
	if _, err := os.Stat(cfg.Database.Path); err != nil {
		return nil, &PreflightError{
			Message:  "no history database at " + cfg.Database.Path,
			Hint:     "the daemon creates it on first start",
			NextStep: "litemacro serve",
			Err:      err,
		}
	}
	database, err := db.Open(db.DefaultConfig(cfg.Database.Path))
	if err != nil {
		return nil, err
	}
	if _, err := database.MigrateUp(context.Background()); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// MustBeJSONLForWatch rejects --watch without --jsonl.
func MustBeJSONLForWatch() error {
	if watchMode && !IsJSONLOutput() {
		return errors.New("--watch requires --jsonl")
	}
	return nil
}

// ConnectionStatus reports the streamer's view of the event log.
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusReconnecting ConnectionStatus = "reconnecting"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// ReconnectConfig controls retries when polling fails.
type ReconnectConfig struct {
	Enabled bool

	// MaxAttempts of zero retries forever.
	MaxAttempts int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	OnStatusChange func(status ConnectionStatus, attempt int, nextRetry time.Duration, err error)
}

// DefaultReconnectConfig retries forever with 1s..30s exponential backoff.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:           true,
		MaxAttempts:       0,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// StreamConfig configures an EventStreamer.
type StreamConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// IncludeExisting replays events from Since before following. When
	// false only events recorded after Stream starts are written.
	IncludeExisting bool
	Since           *time.Time

	EventTypes  []models.EventType
	EntityTypes []models.EntityType
	EntityID    string

	Reconnect ReconnectConfig
}

// DefaultStreamConfig returns the default streaming settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
		Reconnect:    DefaultReconnectConfig(),
	}
}

// EventSource is the read side of the event log.
type EventSource interface {
	Query(ctx context.Context, q db.EventQuery) (*db.EventPage, error)
}

// EventStreamer follows the event log and writes matching events as JSON
// lines.
type EventStreamer struct {
	repo   EventSource
	out    io.Writer
	config StreamConfig
}

// NewEventStreamer creates a streamer.
func NewEventStreamer(repo EventSource, out io.Writer, config StreamConfig) *EventStreamer {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultStreamConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultStreamConfig().BatchSize
	}
	return &EventStreamer{repo: repo, out: out, config: config}
}

// Stream writes events until ctx is done, which is not an error.
func (s *EventStreamer) Stream(ctx context.Context) error {
	since := s.config.Since
	cursor := ""
	primed := s.config.IncludeExisting

	s.notify(ConnectionStatusConnected, 0, 0, nil)
	defer s.notify(ConnectionStatusDisconnected, 0, 0, nil)

	rc := s.config.Reconnect
	var backoff, wait time.Duration
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		var next string
		var err error
		if primed {
			next, err = s.drain(ctx, cursor, since)
		} else {
			next, err = s.skipExisting(ctx, since)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !rc.Enabled {
				return err
			}
			attempt++
			if rc.MaxAttempts > 0 && attempt > rc.MaxAttempts {
				return fmt.Errorf("event log unavailable after %d attempts: %w", rc.MaxAttempts, err)
			}
			backoff = s.calculateBackoff(attempt, backoff)
			s.notify(ConnectionStatusReconnecting, attempt, backoff, err)
			wait = backoff
			continue
		}
		if attempt > 0 {
			attempt, backoff = 0, 0
			s.notify(ConnectionStatusConnected, 0, 0, nil)
		}
		cursor, primed = next, true
		wait = s.config.PollInterval
	}
}

// calculateBackoff returns the wait before retry attempt, growing current
// by the multiplier up to MaxBackoff.
func (s *EventStreamer) calculateBackoff(attempt int, current time.Duration) time.Duration {
	rc := s.config.Reconnect
	if attempt <= 1 || current <= 0 {
		return rc.InitialBackoff
	}
	mult := rc.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(current) * mult)
	if rc.MaxBackoff > 0 && next > rc.MaxBackoff {
		next = rc.MaxBackoff
	}
	return next
}

// drain writes every page after cursor and returns the new cursor.
func (s *EventStreamer) drain(ctx context.Context, cursor string, since *time.Time) (string, error) {
	for {
		events, next, err := s.poll(ctx, cursor, since)
		if err != nil {
			return cursor, err
		}
		for _, e := range events {
			if err := s.writeEvent(e); err != nil {
				return cursor, err
			}
		}
		if next == cursor {
			return cursor, nil
		}
		cursor = next
	}
}

func (s *EventStreamer) skipExisting(ctx context.Context, since *time.Time) (string, error) {
	cursor := ""
	for {
		_, next, err := s.poll(ctx, cursor, since)
		if err != nil {
			return "", err
		}
		if next == cursor {
			return cursor, nil
		}
		cursor = next
	}
}

// poll fetches one page after cursor. The returned cursor advances past
// every event read, including ones the filters dropped.
func (s *EventStreamer) poll(ctx context.Context, cursor string, since *time.Time) ([]*models.Event, string, error) {
	q := db.EventQuery{Cursor: cursor, Limit: s.config.BatchSize}
	if cursor == "" {
		q.Since = since
	}
	if len(s.config.EventTypes) == 1 {
		q.Type = &s.config.EventTypes[0]
	}
	if len(s.config.EntityTypes) == 1 {
		q.EntityType = &s.config.EntityTypes[0]
	}
	if s.config.EntityID != "" {
		q.EntityID = &s.config.EntityID
	}

	page, err := s.repo.Query(ctx, q)
	if err != nil {
		return nil, cursor, err
	}
	if len(page.Events) == 0 {
		return nil, cursor, nil
	}

	out := make([]*models.Event, 0, len(page.Events))
	for _, e := range page.Events {
		if s.matches(e) {
			out = append(out, e)
		}
	}
	return out, page.Events[len(page.Events)-1].ID, nil
}

func (s *EventStreamer) matches(e *models.Event) bool {
	if len(s.config.EventTypes) > 1 && !containsValue(s.config.EventTypes, e.Type) {
		return false
	}
	if len(s.config.EntityTypes) > 1 && !containsValue(s.config.EntityTypes, e.EntityType) {
		return false
	}
	return true
}

func containsValue[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s *EventStreamer) writeEvent(e *models.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.out.Write(data)
	return err
}

func (s *EventStreamer) notify(status ConnectionStatus, attempt int, next time.Duration, err error) {
	if fn := s.config.Reconnect.OnStatusChange; fn != nil {
		fn(status, attempt, next, err)
	}
}

// ParseSince parses a relative duration (1h, 30m, 2d) or an absolute time
// (RFC3339, 2006-01-02T15:04:05, 2006-01-02). Empty input returns nil.
func ParseSince(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if d, err := parseDurationWithDays(value); err == nil {
		t := time.Now().Add(-d).UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", value, time.Local); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("invalid time %q: use a duration (1h, 2d) or a timestamp (RFC3339, 2006-01-02)", value)
}

// parseDurationWithDays is time.ParseDuration plus a "d" suffix for days.
func parseDurationWithDays(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(value, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q: %w", value, err)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(value)
}
