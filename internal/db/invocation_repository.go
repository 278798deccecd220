package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ourisland/litemacro/internal/models"
)

// Invocation repository errors.
var (
	ErrInvocationNotFound = errors.New("invocation not found")
	ErrInvalidInvocation  = errors.New("invalid invocation")
)

// InvocationRepository persists macro invocation history.
type InvocationRepository struct {
	db *DB
}

// NewInvocationRepository creates a new InvocationRepository.
func NewInvocationRepository(db *DB) *InvocationRepository {
	return &InvocationRepository{db: db}
}

const invocationColumns = `id, macro, alias, invoker, invoker_id, args_json,
	steps, failed_steps, generation, started_at, finished_at`

// Create inserts a new invocation record.
func (r *InvocationRepository) Create(ctx context.Context, record *models.InvocationRecord) error {
	if record.Macro == "" || record.Invoker == "" {
		return ErrInvalidInvocation
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}

	var argsJSON *string
	if len(record.Args) > 0 {
		data, err := json.Marshal(record.Args)
		if err != nil {
			return fmt.Errorf("failed to marshal args: %w", err)
		}
		s := string(data)
		argsJSON = &s
	}

	var finishedAt any
	if record.FinishedAt != nil {
		finishedAt = record.FinishedAt.UTC().Format(timeLayout)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invocations (`+invocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.Macro,
		nullString(record.Alias),
		record.Invoker,
		nullString(record.InvokerID),
		argsJSON,
		record.Steps,
		record.FailedSteps,
		int64(record.Generation),
		record.StartedAt.UTC().Format(timeLayout),
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}
	return nil
}

// Finish records the outcome of a running invocation.
func (r *InvocationRepository) Finish(ctx context.Context, id string, failedSteps int, finishedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE invocations SET failed_steps = ?, finished_at = ? WHERE id = ?
	`, failedSteps, finishedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to finish invocation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrInvocationNotFound
	}
	return nil
}

// Get retrieves an invocation by ID.
func (r *InvocationRepository) Get(ctx context.Context, id string) (*models.InvocationRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	record, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvocationNotFound
	}
	return record, err
}

// Query retrieves invocations matching the filters, newest first.
func (r *InvocationRepository) Query(ctx context.Context, q models.InvocationQuery) ([]*models.InvocationRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + invocationColumns + ` FROM invocations WHERE 1=1`
	args := []any{}

	if q.Macro != nil {
		query += ` AND macro = ?`
		args = append(args, *q.Macro)
	}
	if q.Invoker != nil {
		query += ` AND invoker = ?`
		args = append(args, *q.Invoker)
	}
	if q.Since != nil {
		query += ` AND started_at >= ?`
		args = append(args, q.Since.UTC().Format(timeLayout))
	}
	if q.Until != nil {
		query += ` AND started_at < ?`
		args = append(args, q.Until.UTC().Format(timeLayout))
	}

	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var records []*models.InvocationRecord
	for rows.Next() {
		record, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocations: %w", err)
	}
	return records, nil
}

// SummarizeByMacro aggregates invocations per macro, busiest first.
func (r *InvocationRepository) SummarizeByMacro(ctx context.Context, since, until *time.Time) ([]*models.InvocationSummary, error) {
	query := `SELECT
		macro,
		COUNT(*) as invocations,
		COALESCE(SUM(steps), 0) as steps,
		COALESCE(SUM(failed_steps), 0) as failed_steps,
		COUNT(DISTINCT invoker) as invokers,
		MAX(started_at) as last_run
		FROM invocations WHERE 1=1`
	args := []any{}
	query, args = appendRange(query, args, since, until)
	query += ` GROUP BY macro ORDER BY invocations DESC, macro`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize invocations: %w", err)
	}
	defer rows.Close()

	var summaries []*models.InvocationSummary
	for rows.Next() {
		var s models.InvocationSummary
		var lastRun sql.NullString
		if err := rows.Scan(&s.Macro, &s.Invocations, &s.Steps, &s.FailedSteps, &s.Invokers, &lastRun); err != nil {
			return nil, fmt.Errorf("failed to scan invocation summary: %w", err)
		}
		s.LastRun = parseTimePtr(lastRun)
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invocation summaries: %w", err)
	}
	return summaries, nil
}

// SummarizeAll aggregates every invocation in the range.
func (r *InvocationRepository) SummarizeAll(ctx context.Context, since, until *time.Time) (*models.InvocationSummary, error) {
	query := `SELECT
		COUNT(*) as invocations,
		COALESCE(SUM(steps), 0) as steps,
		COALESCE(SUM(failed_steps), 0) as failed_steps,
		COUNT(DISTINCT invoker) as invokers,
		MAX(started_at) as last_run
		FROM invocations WHERE 1=1`
	args := []any{}
	query, args = appendRange(query, args, since, until)

	var s models.InvocationSummary
	var lastRun sql.NullString
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.Invocations, &s.Steps, &s.FailedSteps, &s.Invokers, &lastRun,
	); err != nil {
		return nil, fmt.Errorf("failed to summarize invocations: %w", err)
	}
	s.LastRun = parseTimePtr(lastRun)
	return &s, nil
}

// DeleteOlderThan removes invocations started before cutoff.
func (r *InvocationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM invocations WHERE started_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete invocations: %w", err)
	}
	return result.RowsAffected()
}

func appendRange(query string, args []any, since, until *time.Time) (string, []any) {
	if since != nil {
		query += ` AND started_at >= ?`
		args = append(args, since.UTC().Format(timeLayout))
	}
	if until != nil {
		query += ` AND started_at < ?`
		args = append(args, until.UTC().Format(timeLayout))
	}
	return query, args
}

func parseTimePtr(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, value.String)
	if err != nil {
		return nil
	}
	return &t
}

func (r *InvocationRepository) scan(row rowScanner) (*models.InvocationRecord, error) {
	var record models.InvocationRecord
	var alias, invokerID, argsJSON, finishedAt sql.NullString
	var startedAt string
	var generation int64

	if err := row.Scan(
		&record.ID,
		&record.Macro,
		&alias,
		&record.Invoker,
		&invokerID,
		&argsJSON,
		&record.Steps,
		&record.FailedSteps,
		&generation,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invocation: %w", err)
	}

	record.Alias = alias.String
	record.InvokerID = invokerID.String
	record.Generation = uint64(generation)
	if t, err := time.Parse(timeLayout, startedAt); err == nil {
		record.StartedAt = t
	}
	record.FinishedAt = parseTimePtr(finishedAt)

	if argsJSON.Valid {
		if err := json.Unmarshal([]byte(argsJSON.String), &record.Args); err != nil {
			r.db.logger.Warn().Err(err).Str("invocation_id", record.ID).Msg("failed to parse invocation args")
		}
	}
	return &record, nil
}
