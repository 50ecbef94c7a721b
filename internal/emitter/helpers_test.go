package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

var errTransportDown = errors.New("connection refused")

// recordingTransport keeps every event handed to it; failOn makes Emit fail
// for matching events without recording them.
type recordingTransport struct {
	mu     sync.Mutex
	events []lineage.RunEvent
	failOn func(e *lineage.RunEvent) bool
}

func (r *recordingTransport) Emit(_ context.Context, event *lineage.RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failOn != nil && r.failOn(event) {
		return errTransportDown
	}

	r.events = append(r.events, *event)

	return nil
}

func (r *recordingTransport) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Run.ID + "-" + string(e.EventType)
	}

	return out
}

var testEpoch = time.Date(2022, 4, 14, 5, 12, 0, 0, time.UTC)

// fixedAssembler never advances its clock, so event times only move through
// explicit times and durations.
func fixedAssembler() *Assembler {
	a := NewAssembler()
	a.Now = func() time.Time { return testEpoch }

	return a
}

func newTestEmitter(t *testing.T, opts ...Option) (*Emitter, *recordingTransport) {
	t.Helper()

	rec := &recordingTransport{}
	opts = append([]Option{
		WithAssembler(fixedAssembler()),
		WithIDGenerator(lineage.NewSequenceGenerator("c")),
	}, opts...)

	return New(rec, opts...), rec
}

func mustJob(t *testing.T, namespace, name string) lineage.Job {
	t.Helper()

	job, err := lineage.NewJob(namespace, name, nil)
	require.NoError(t, err)

	return job
}

func mustRun(t *testing.T, id string) lineage.Run {
	t.Helper()

	run, err := lineage.NewRun(id, nil)
	require.NoError(t, err)

	return run
}
