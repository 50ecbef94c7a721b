// Package storage persists OpenLineage run events for the local collector.
//
// Two journals share one contract: EventJournal writes to PostgreSQL through
// lib/pq, MemoryJournal keeps events in process. Both deduplicate by the
// event's idempotency key and treat a duplicate as success.
package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/correlator-io/openlineage-playground/internal/config"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

var (
	// ErrJournalStoreFailed is returned when an event cannot be written.
	ErrJournalStoreFailed = errors.New("lineage event storage failed")

	// ErrJournalQueryFailed is returned when stored events cannot be read back.
	ErrJournalQueryFailed = errors.New("lineage event query failed")

	_ Journal = (*EventJournal)(nil)
	_ Journal = (*MemoryJournal)(nil)
)

// github.com/<owner>/<repo>
const githubRepoParts = 3

type (
	// Journal stores and replays run events.
	Journal interface {
		// StoreEvent writes one event. duplicate is true when an event with the
		// same idempotency key was already stored; that is not an error.
		StoreEvent(ctx context.Context, event *lineage.RunEvent) (stored, duplicate bool, err error)

		// StoreEvents writes events independently and reports per-event results.
		// The error is non-nil only when the whole operation had to stop.
		StoreEvents(ctx context.Context, events []*lineage.RunEvent) ([]*EventStoreResult, error)

		// EventsForRun returns the events of one run ordered by eventTime.
		EventsForRun(ctx context.Context, runID string) ([]lineage.RunEvent, error)

		HealthCheck(ctx context.Context) error
		Close() error
	}

	// EventStoreResult is the outcome of storing one event of a batch.
	EventStoreResult struct {
		Event     *lineage.RunEvent
		Stored    bool
		Duplicate bool
		Error     error
	}

	// EventJournal is the PostgreSQL Journal backed by the lineage_events table.
	EventJournal struct {
		conn   *Connection
		logger *slog.Logger
	}

	// JournalOption configures optional EventJournal behavior.
	JournalOption func(*EventJournal)
)

// WithJournalLogger sets the logger used for storage diagnostics.
func WithJournalLogger(logger *slog.Logger) JournalOption {
	return func(j *EventJournal) {
		j.logger = logger
	}
}

// NewEventJournal returns a journal writing through conn. The schema must have
// been migrated with Migrate.
func NewEventJournal(conn *Connection, opts ...JournalOption) (*EventJournal, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	journal := &EventJournal{
		conn:   conn,
		logger: config.DiscardLogger(),
	}

	for _, opt := range opts {
		opt(journal)
	}

	return journal, nil
}

// StoreEvent inserts the event keyed by its idempotency key. The document the
// event was received as is kept, so EventsForRun replays what the producer sent.
func (j *EventJournal) StoreEvent(ctx context.Context, event *lineage.RunEvent) (bool, bool, error) {
	if err := checkStorable(event); err != nil {
		return false, false, err
	}

	payload, err := eventPayload(event)
	if err != nil {
		return false, false, err
	}

	var parentRunID sql.NullString
	if id, ok := event.ParentRunID(); ok {
		parentRunID = sql.NullString{String: id, Valid: true}
	}

	idempotencyKey := event.IdempotencyKey()

	query := `
		INSERT INTO lineage_events (
			idempotency_key, event_type, event_time, run_id, parent_run_id,
			job_namespace, job_name, producer, producer_name, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	result, err := j.conn.ExecContext(ctx, query,
		idempotencyKey,
		string(event.EventType),
		event.EventTime.UTC(),
		event.Run.ID,
		parentRunID,
		event.Job.Namespace,
		event.Job.Name,
		event.Producer,
		extractProducerName(event.Producer),
		string(payload),
	)
	if err != nil {
		return false, false, fmt.Errorf("%w: %w", ErrJournalStoreFailed, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("%w: row count unavailable: %w", ErrJournalStoreFailed, err)
	}

	if rows == 0 {
		j.logger.Debug("Duplicate lineage event skipped",
			slog.String("idempotency_key", idempotencyKey),
			slog.String("run_id", event.Run.ID),
			slog.String("event_type", string(event.EventType)),
		)

		return false, true, nil
	}

	return true, false, nil
}

// StoreEvents stores each event in its own statement. It stops early only on
// context cancellation or a lost database connection.
func (j *EventJournal) StoreEvents(ctx context.Context, events []*lineage.RunEvent) ([]*EventStoreResult, error) {
	return storeEach(ctx, events, j.StoreEvent)
}

// EventsForRun returns the stored events of runID in eventTime order.
func (j *EventJournal) EventsForRun(ctx context.Context, runID string) ([]lineage.RunEvent, error) {
	query := `
		SELECT payload
		FROM lineage_events
		WHERE run_id = $1
		ORDER BY event_time ASC, id ASC
	`

	rows, err := j.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJournalQueryFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var events []lineage.RunEvent

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrJournalQueryFailed, err)
		}

		event, err := lineage.Unmarshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: stored payload: %w", ErrJournalQueryFailed, err)
		}

		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJournalQueryFailed, err)
	}

	return events, nil
}

// HealthCheck verifies the database connection.
func (j *EventJournal) HealthCheck(ctx context.Context) error {
	return j.conn.HealthCheck(ctx)
}

// Close does NOT close the connection; its owner does.
func (j *EventJournal) Close() error {
	return nil
}

// eventPayload returns the JSON the event arrived as, or its canonical
// encoding for events built in this process.
func eventPayload(event *lineage.RunEvent) ([]byte, error) {
	if source := event.Source(); len(source) > 0 {
		return bytes.Clone(source), nil
	}

	payload, err := lineage.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJournalStoreFailed, err)
	}

	return payload, nil
}

type storeFunc func(ctx context.Context, event *lineage.RunEvent) (bool, bool, error)

func storeEach(ctx context.Context, events []*lineage.RunEvent, store storeFunc) ([]*EventStoreResult, error) {
	results := make([]*EventStoreResult, len(events))

	for i, event := range events {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return results, fmt.Errorf("%w: operation timeout", ErrJournalStoreFailed)
			}

			return results, fmt.Errorf("%w: request cancelled", ErrJournalStoreFailed)
		}

		stored, duplicate, err := store(ctx, event)
		results[i] = &EventStoreResult{
			Event:     event,
			Stored:    stored,
			Duplicate: duplicate,
			Error:     err,
		}

		if err != nil && isDatabaseConnectionError(err) {
			return results, fmt.Errorf("%w: database connection lost", ErrJournalStoreFailed)
		}
	}

	return results, nil
}

// checkStorable guards the storage boundary against events that would break the
// row mapping. Full OpenLineage validation happens before this.
func checkStorable(event *lineage.RunEvent) error {
	switch {
	case event == nil:
		return fmt.Errorf("%w: event is nil", ErrJournalStoreFailed)
	case event.Run.ID == "":
		return fmt.Errorf("%w: event.Run.ID is empty", ErrJournalStoreFailed)
	case event.Job.Namespace == "" || event.Job.Name == "":
		return fmt.Errorf("%w: event.Job identity is empty", ErrJournalStoreFailed)
	case event.EventTime.IsZero():
		return fmt.Errorf("%w: event.EventTime is zero", ErrJournalStoreFailed)
	}

	return nil
}

// extractProducerName reduces a producer URL to a short tool name:
//
//	"https://github.com/OpenLineage/OpenLineage/tree/1.0.0/integration/spark" -> "spark"
//	"https://github.com/correlator-io/openlineage-playground"                   -> "openlineage-playground"
//	"https://example.com/my-tool"                                             -> "example.com"
func extractProducerName(producerURL string) string {
	if producerURL == "" {
		return "unknown"
	}

	trimmed := strings.TrimPrefix(producerURL, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")

	if idx := slices.Index(parts, "integration"); idx >= 0 && idx+1 < len(parts) {
		return parts[idx+1]
	}

	if parts[0] == "github.com" && len(parts) >= githubRepoParts {
		return parts[2]
	}

	return parts[0]
}
