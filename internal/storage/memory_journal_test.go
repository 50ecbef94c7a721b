package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

func TestMemoryJournal_DuplicatesAreSuccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	journal := NewMemoryJournal()
	event := journalEvent(t, "run-1", lineage.EventTypeStart, testEpoch, "")

	stored, duplicate, err := journal.StoreEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.False(t, duplicate)

	stored, duplicate, err = journal.StoreEvent(ctx, event)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.True(t, duplicate)

	assert.Equal(t, 1, journal.Len())
}

func TestMemoryJournal_EventsForRunOrderedByEventTime(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	journal := NewMemoryJournal()

	complete := journalEvent(t, "run-1", lineage.EventTypeComplete, testEpoch.Add(time.Minute), "parent-1")
	start := journalEvent(t, "run-1", lineage.EventTypeStart, testEpoch, "parent-1")
	other := journalEvent(t, "run-2", lineage.EventTypeStart, testEpoch, "")

	results, err := journal.StoreEvents(ctx, []*lineage.RunEvent{complete, start, other})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for _, result := range results {
		assert.True(t, result.Stored)
		assert.NoError(t, result.Error)
	}

	events, err := journal.EventsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, lineage.EventTypeStart, events[0].EventType)
	assert.Equal(t, lineage.EventTypeComplete, events[1].EventType)

	parentID, ok := events[0].ParentRunID()
	assert.True(t, ok)
	assert.Equal(t, "parent-1", parentID)

	none, err := journal.EventsForRun(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryJournal_ReturnedEventsAreCopies(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	journal := NewMemoryJournal()

	_, _, err := journal.StoreEvent(ctx, journalEvent(t, "run-1", lineage.EventTypeStart, testEpoch, "parent-1"))
	require.NoError(t, err)

	first, err := journal.EventsForRun(ctx, "run-1")
	require.NoError(t, err)
	first[0].Run.Facets[lineage.FacetErrorMessage] = lineage.ErrorMessageRunFacet{Message: "mutated"}

	second, err := journal.EventsForRun(ctx, "run-1")
	require.NoError(t, err)
	assert.NotContains(t, second[0].Run.Facets, lineage.FacetErrorMessage)
}

func TestMemoryJournal_ReplaysReceivedDocument(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	journal := NewMemoryJournal()

	stored, _, err := journal.StoreEvent(ctx, decodeReceivedEvent(t))
	require.NoError(t, err)
	require.True(t, stored)

	events, err := journal.EventsForRun(ctx, "run-7")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, receivedEvent, string(events[0].Source()))

	replayed, err := lineage.Marshal(&events[0])
	require.NoError(t, err)
	assert.Contains(t, string(replayed), `"_producer":"https://github.com/apache/airflow/tree/providers-openlineage/1.9.0"`)
	assert.Contains(t, string(replayed), `"root":{"run":{"runId":"parent-7"}`)
}

func TestMemoryJournal_RejectsUnstorableEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	journal := NewMemoryJournal()

	_, _, err := journal.StoreEvent(ctx, nil)
	assert.ErrorIs(t, err, ErrJournalStoreFailed)

	noTime := journalEvent(t, "run-1", lineage.EventTypeStart, time.Time{}, "")
	_, _, err = journal.StoreEvent(ctx, noTime)
	assert.ErrorIs(t, err, ErrJournalStoreFailed)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	results, err := journal.StoreEvents(cancelled, []*lineage.RunEvent{
		journalEvent(t, "run-1", lineage.EventTypeStart, testEpoch, ""),
	})
	require.ErrorIs(t, err, ErrJournalStoreFailed)
	assert.Nil(t, results[0])
	assert.Zero(t, journal.Len())
}

func TestMemoryJournal_ConcurrentWrites(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	journal := NewMemoryJournal()
	event := journalEvent(t, "run-1", lineage.EventTypeStart, testEpoch, "")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, _, err := journal.StoreEvent(ctx, event)
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, stored)
	assert.Equal(t, 1, journal.Len())
}
