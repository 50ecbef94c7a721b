package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// MemoryJournal is an in-process Journal. Events are held as JSON, as received
// or canonically encoded, so callers never share facet maps with the journal.
type MemoryJournal struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	byRun  map[string][]storedEvent
	stored int
}

type storedEvent struct {
	seq       int
	eventTime time.Time
	payload   []byte
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		seen:  make(map[string]struct{}),
		byRun: make(map[string][]storedEvent),
	}
}

// StoreEvent records the event unless its idempotency key was seen before.
func (m *MemoryJournal) StoreEvent(ctx context.Context, event *lineage.RunEvent) (bool, bool, error) {
	if err := ctx.Err(); err != nil {
		return false, false, fmt.Errorf("%w: %w", ErrJournalStoreFailed, err)
	}

	if err := checkStorable(event); err != nil {
		return false, false, err
	}

	payload, err := eventPayload(event)
	if err != nil {
		return false, false, err
	}

	key := event.IdempotencyKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[key]; ok {
		return false, true, nil
	}

	m.seen[key] = struct{}{}
	m.stored++
	m.byRun[event.Run.ID] = append(m.byRun[event.Run.ID], storedEvent{
		seq:       m.stored,
		eventTime: event.EventTime,
		payload:   payload,
	})

	return true, false, nil
}

// StoreEvents stores each event independently.
func (m *MemoryJournal) StoreEvents(ctx context.Context, events []*lineage.RunEvent) ([]*EventStoreResult, error) {
	return storeEach(ctx, events, m.StoreEvent)
}

// EventsForRun returns the events of runID ordered by eventTime, then arrival.
func (m *MemoryJournal) EventsForRun(ctx context.Context, runID string) ([]lineage.RunEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJournalQueryFailed, err)
	}

	m.mu.RLock()
	stored := slices.Clone(m.byRun[runID])
	m.mu.RUnlock()

	slices.SortStableFunc(stored, func(a, b storedEvent) int {
		return cmp.Or(a.eventTime.Compare(b.eventTime), cmp.Compare(a.seq, b.seq))
	})

	events := make([]lineage.RunEvent, 0, len(stored))

	for _, s := range stored {
		event, err := lineage.Unmarshal(s.payload)
		if err != nil {
			return nil, fmt.Errorf("%w: stored payload: %w", ErrJournalQueryFailed, err)
		}

		events = append(events, *event)
	}

	return events, nil
}

// Len returns the number of distinct events stored.
func (m *MemoryJournal) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stored
}

// HealthCheck always succeeds.
func (m *MemoryJournal) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryJournal) Close() error {
	return nil
}
