package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

var testEpoch = time.Date(2022, 4, 14, 5, 12, 0, 0, time.UTC)

// testEvent builds a valid START event; parentRunID may be empty.
func testEvent(t *testing.T, runID, parentRunID string) *lineage.RunEvent {
	t.Helper()

	job, err := lineage.NewJob("housing", "housing_regression_flow.train_model", nil)
	require.NoError(t, err)

	facets := lineage.Facets{}
	if parentRunID != "" {
		facets[lineage.FacetParent] = lineage.ParentRunFacet{
			Run: lineage.ParentRun{RunID: parentRunID},
			Job: lineage.ParentJob{Namespace: "housing", Name: "housing_regression_flow"},
		}
	}

	run, err := lineage.NewRun(runID, facets)
	require.NoError(t, err)

	return &lineage.RunEvent{
		EventType: lineage.EventTypeStart,
		EventTime: testEpoch,
		Producer:  "https://github.com/correlator-io/openlineage-playground",
		SchemaURL: "https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent",
		Run:       run,
		Job:       job,
		Inputs:    []lineage.InputDataset{},
		Outputs:   []lineage.OutputDataset{},
	}
}

// unrepresentableEvent fails serialization because of a malformed opaque facet.
func unrepresentableEvent(t *testing.T) *lineage.RunEvent {
	t.Helper()

	event := testEvent(t, "bad-run", "")
	event.Run.Facets = lineage.Facets{"custom": lineage.OpaqueFacet{Raw: json.RawMessage(`{"a":`)}}

	return event
}

var errFlaky = errors.New("flaky")

// stubTransport records run ids and fails according to fail.
type stubTransport struct {
	mu     sync.Mutex
	runIDs []string
	calls  int
	fail   func(call int) error
	closed bool
}

func (s *stubTransport) Emit(_ context.Context, event *lineage.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	if s.fail != nil {
		if err := s.fail(s.calls); err != nil {
			return err
		}
	}

	s.runIDs = append(s.runIDs, event.Run.ID)

	return nil
}

func (s *stubTransport) Close() error {
	s.closed = true

	return nil
}
