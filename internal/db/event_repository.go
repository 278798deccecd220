package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ourisland/litemacro/internal/models"
)

// Event repository errors.
var (
	ErrEventNotFound = errors.New("event not found")
	ErrInvalidEvent  = errors.New("invalid event")
)

const (
	eventColumns = `id, timestamp, type, entity_type, entity_id, payload_json, metadata_json`

	defaultEventLimit = 100
)

// EventRepository is the append-only macro event log.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// EventQuery filters the log. Nil fields match everything.
type EventQuery struct {
	Type       *models.EventType
	EntityType *models.EntityType
	EntityID   *string    // macro name, session id, ...
	Since      *time.Time // inclusive
	Until      *time.Time // exclusive
	Cursor     string     // id of the last event already seen
	Limit      int
}

// EventPage is one page of a query. NextCursor is empty on the last page.
type EventPage struct {
	Events     []*models.Event
	NextCursor string
}

// Append validates event, fills in its id and timestamp, and stores it.
func (r *EventRepository) Append(ctx context.Context, event *models.Event) error {
	switch {
	case event == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case event.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidEvent)
	case event.EntityType == "":
		return fmt.Errorf("%w: entity type is required", ErrInvalidEvent)
	case event.EntityID == "":
		return fmt.Errorf("%w: entity id is required", ErrInvalidEvent)
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	var payload, metadata any
	if len(event.Payload) > 0 {
		payload = string(event.Payload)
	}
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp.Format(timeLayout),
		string(event.Type),
		string(event.EntityType),
		event.EntityID,
		payload,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Create is Append under the name the event helpers expect.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	return r.Append(ctx, event)
}

// Get retrieves an event by ID.
func (r *EventRepository) Get(ctx context.Context, id string) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	event, err := scanEvent(row, r.db)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

// Query returns events in (timestamp, id) order, one page at a time.
func (r *EventRepository) Query(ctx context.Context, q EventQuery) (*EventPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}

	where, args := eventFilter(q)
	if q.Cursor != "" {
		where = append(where, `(timestamp, id) > (SELECT timestamp, id FROM events WHERE id = ?)`)
		args = append(args, q.Cursor)
	}
	// One extra row tells us whether another page exists.
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events`+whereClause(where)+` ORDER BY timestamp, id LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows, r.db)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	page := &EventPage{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		page.NextCursor = events[limit-1].ID
	}
	return page, nil
}

// Count returns the number of events of eventType, or of all events when
// eventType is empty.
func (r *EventRepository) Count(ctx context.Context, eventType models.EventType) (int64, error) {
	var q EventQuery
	if eventType != "" {
		q.Type = &eventType
	}
	where, args := eventFilter(q)

	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+whereClause(where), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// CountByType tallies events per type at or after since (all time when nil).
func (r *EventRepository) CountByType(ctx context.Context, since *time.Time) (map[models.EventType]int64, error) {
	where, args := eventFilter(EventQuery{Since: since})
	rows, err := r.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM events`+whereClause(where)+` GROUP BY type`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventType]int64)
	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[models.EventType(eventType)] = n
	}
	return counts, rows.Err()
}

// Prune deletes events older than before and returns how many were removed.
func (r *EventRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return result.RowsAffected()
}

func eventFilter(q EventQuery) ([]string, []any) {
	var where []string
	var args []any
	if q.Type != nil {
		where = append(where, `type = ?`)
		args = append(args, string(*q.Type))
	}
	if q.EntityType != nil {
		where = append(where, `entity_type = ?`)
		args = append(args, string(*q.EntityType))
	}
	if q.EntityID != nil {
		where = append(where, `entity_id = ?`)
		args = append(args, *q.EntityID)
	}
	if q.Since != nil {
		where = append(where, `timestamp >= ?`)
		args = append(args, q.Since.UTC().Format(timeLayout))
	}
	if q.Until != nil {
		where = append(where, `timestamp < ?`)
		args = append(args, q.Until.UTC().Format(timeLayout))
	}
	return where, args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner, db *DB) (*models.Event, error) {
	var (
		event                  models.Event
		timestamp, kind, owner string
		payload, metadata      sql.NullString
	)
	if err := row.Scan(&event.ID, &timestamp, &kind, &owner, &event.EntityID, &payload, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Type = models.EventType(kind)
	event.EntityType = models.EntityType(owner)
	if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		event.Timestamp = t
	}
	if payload.Valid {
		event.Payload = json.RawMessage(payload.String)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			db.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to parse event metadata")
		}
	}
	return &event, nil
}
