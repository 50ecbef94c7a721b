package emitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

func TestFlow_ParentBracketsChildren(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	require.NoError(t, flow.Step(ctx, StepSpec{Job: mustJob(t, "ns", "flow.step1"), Duration: time.Minute}))
	require.NoError(t, flow.Step(ctx, StepSpec{Job: mustJob(t, "ns", "flow.step2"), Duration: time.Minute}))
	require.NoError(t, flow.Complete(ctx))

	assert.Equal(t, []string{
		"p1-START", "c1-START", "c1-COMPLETE", "c2-START", "c2-COMPLETE", "p1-COMPLETE",
	}, rec.sequence())

	for _, e := range rec.events {
		if e.Run.ID == "p1" {
			_, ok := e.ParentRunID()
			assert.False(t, ok)

			continue
		}

		parentID, ok := e.ParentRunID()
		require.True(t, ok)
		assert.Equal(t, "p1", parentID)
	}

	assert.Equal(t, StateDone, flow.State())
}

func TestFlow_Timestamps(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"), At(testEpoch))
	require.NoError(t, err)

	require.NoError(t, flow.Step(ctx, StepSpec{Job: mustJob(t, "ns", "a"), Duration: 2 * time.Minute}))
	require.NoError(t, flow.Step(ctx, StepSpec{Job: mustJob(t, "ns", "b"), Duration: 3 * time.Minute}))
	require.NoError(t, flow.Complete(ctx))

	times := make([]time.Time, len(rec.events))
	for i, e := range rec.events {
		times[i] = e.EventTime
	}

	assert.Equal(t, []time.Time{
		testEpoch,
		testEpoch,
		testEpoch.Add(2 * time.Minute),
		testEpoch.Add(2 * time.Minute),
		testEpoch.Add(5 * time.Minute),
		testEpoch.Add(5 * time.Minute),
	}, times)
	assert.Equal(t, testEpoch.Add(5*time.Minute), flow.Cursor())
}

func TestFlow_NestedStepCompletesAfterItsChildren(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	err = flow.Step(ctx, StepSpec{
		Job:      mustJob(t, "ns", "prepare_data"),
		Duration: time.Second,
		Children: func(ctx context.Context, step *Flow) error {
			for _, table := range []string{"a", "b"} {
				if err := step.Step(ctx, StepSpec{Job: mustJob(t, "ns", "execute_sql."+table), Duration: time.Minute}); err != nil {
					return err
				}
			}

			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, flow.Complete(ctx))

	assert.Equal(t, []string{
		"p1-START",
		"c1-START", "c2-START", "c2-COMPLETE", "c3-START", "c3-COMPLETE", "c1-COMPLETE",
		"p1-COMPLETE",
	}, rec.sequence())

	stepComplete := rec.events[6]
	assert.Equal(t, testEpoch.Add(2*time.Minute), stepComplete.EventTime, "step completes after its last sub-job")

	sqlStart := rec.events[2]
	parentID, _ := sqlStart.ParentRunID()
	assert.Equal(t, "c1", parentID)

	rootID, ok := sqlStart.RootRunID()
	require.True(t, ok)
	assert.Equal(t, "p1", rootID, "sub-jobs name the flow as their root")

	parent, ok := lineage.FacetAs[lineage.ParentRunFacet](sqlStart.Run.Facets, lineage.FacetParent)
	require.True(t, ok)
	require.NotNil(t, parent.Root)
	assert.Equal(t, lineage.ParentJob{Namespace: "ns", Name: "flow"}, parent.Root.Job)

	roots := lineage.BuildRunTree(rec.events)
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Children, 1)
	assert.Len(t, roots[0].Children[0].Children, 2)
}

func TestFlow_CompleteWithActiveChildren(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	child, err := flow.StartChild(ctx, mustJob(t, "ns", "step"))
	require.NoError(t, err)
	assert.Equal(t, 1, flow.OpenChildren())

	require.ErrorIs(t, flow.Complete(ctx), ErrActiveChildren)
	assert.Equal(t, StateParentStarted, flow.State(), "a premature Complete leaves the flow usable")

	require.NoError(t, child.Complete(ctx))
	require.NoError(t, flow.Complete(ctx))

	assert.Equal(t, []string{"p1-START", "c1-START", "c1-COMPLETE", "p1-COMPLETE"}, rec.sequence())
}

func TestFlow_ClosedFlowRejectsEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)
	require.NoError(t, flow.Complete(ctx))

	_, err = flow.StartChild(ctx, mustJob(t, "ns", "late"))
	require.ErrorIs(t, err, ErrFlowClosed)

	require.ErrorIs(t, flow.Step(ctx, StepSpec{Job: mustJob(t, "ns", "late")}), ErrFlowClosed)
	require.ErrorIs(t, flow.Complete(ctx), ErrFlowClosed)
	require.ErrorIs(t, flow.Fail(ctx, errors.New("late")), ErrFlowClosed)

	assert.Len(t, rec.events, 2)
}

func TestFlow_ValidationFailureAbortsWithoutComplete(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	child, err := flow.StartChild(ctx, mustJob(t, "ns", "step"))
	require.NoError(t, err)

	err = child.Step(ctx, StepSpec{Job: mustJob(t, "ns", "bad"), Duration: -5})
	require.ErrorIs(t, err, lineage.ErrNegativeDuration)
	assert.True(t, IsValidationError(err))

	assert.Equal(t, StateAborted, flow.State())
	assert.Equal(t, StateAborted, child.State())
	require.ErrorIs(t, flow.Complete(ctx), ErrFlowClosed)

	assert.Equal(t, []string{"p1-START", "c1-START"}, rec.sequence(), "no COMPLETE and no ABORT by default")

	rec1, ok := em.Registry().Lookup("p1")
	require.True(t, ok)
	assert.True(t, rec1.Closed)
}

func TestFlow_ValidationFailureEmitsAbortEventsInnermostFirst(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t, WithAbortEvents(true))

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	child, err := flow.StartChild(ctx, mustJob(t, "ns", "step"))
	require.NoError(t, err)

	_, err = child.StartChild(ctx, lineage.Job{Namespace: "ns"})
	require.ErrorIs(t, err, lineage.ErrEmptyName)

	assert.Equal(t, []string{"p1-START", "c1-START", "c1-ABORT", "p1-ABORT"}, rec.sequence())

	abort := rec.events[3]
	msg, ok := lineage.FacetAs[lineage.ErrorMessageRunFacet](abort.Run.Facets, lineage.FacetErrorMessage)
	require.True(t, ok)
	assert.Contains(t, msg.Message, "job.name")
}

func TestFlow_InvalidEventFromAssemblerAbortsBeforeTransport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	a := fixedAssembler()
	a.SchemaURL = "https://example.com/not-openlineage.json"

	em, rec := newTestEmitter(t, WithAssembler(a))

	_, err := em.StartFlow(context.Background(), mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.ErrorIs(t, err, lineage.ErrInvalidSchemaURL)
	assert.True(t, IsValidationError(err))
	assert.Empty(t, rec.events)
	assert.Zero(t, em.Registry().Len(), "a run whose START was never sent is not registered")
}

func TestFlow_StepChildrenErrorFailsStep(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	boom := errors.New("model did not converge")
	err = flow.Step(ctx, StepSpec{
		Job: mustJob(t, "ns", "train_model"),
		Children: func(context.Context, *Flow) error {
			return boom
		},
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, flow.Fail(ctx, err))
	assert.Equal(t, StateFailed, flow.State())
	assert.Equal(t, []string{"p1-START", "c1-START", "c1-FAIL", "p1-FAIL"}, rec.sequence())

	msg, ok := lineage.FacetAs[lineage.ErrorMessageRunFacet](rec.events[2].Run.Facets, lineage.FacetErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "model did not converge", msg.Message)
	assert.Equal(t, "go", msg.ProgrammingLanguage)

	_, ok = rec.events[2].ParentRunID()
	assert.True(t, ok, "FAIL keeps the parent facet")
}

func TestFlow_AbortEmitsForOpenDescendants(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	step, err := flow.StartChild(ctx, mustJob(t, "ns", "step"))
	require.NoError(t, err)

	_, err = step.StartChild(ctx, mustJob(t, "ns", "statement"))
	require.NoError(t, err)

	require.NoError(t, flow.Abort(ctx, "operator cancelled"))

	assert.Equal(t, []string{
		"p1-START", "c1-START", "c2-START", "c2-ABORT", "c1-ABORT", "p1-ABORT",
	}, rec.sequence())
	assert.Equal(t, StateAborted, step.State())
}

func TestFlow_TransportErrorSurfacesAndFlowStaysOpen(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	rec.failOn = func(e *lineage.RunEvent) bool { return e.EventType == lineage.EventTypeComplete }

	err = flow.Complete(ctx)
	require.ErrorIs(t, err, errTransportDown)
	assert.False(t, IsValidationError(err))
	assert.Equal(t, StateParentStarted, flow.State())

	rec.failOn = nil

	require.NoError(t, flow.Complete(ctx))
	assert.Equal(t, []string{"p1-START", "p1-COMPLETE"}, rec.sequence())
}

func TestFlow_StepCompleteTransportErrorCanBeRetried(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	rec.failOn = func(e *lineage.RunEvent) bool {
		return e.Run.ID == "c1" && e.EventType == lineage.EventTypeComplete
	}

	err = flow.Step(ctx, StepSpec{Job: mustJob(t, "ns", "flow.step"), Duration: time.Minute})
	require.ErrorIs(t, err, errTransportDown)
	assert.False(t, IsValidationError(err))

	var incomplete *IncompleteStepError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "c1", incomplete.Step.RunID())
	assert.Equal(t, StateParentStarted, incomplete.Step.State())
	assert.Equal(t, 1, flow.OpenChildren())

	require.ErrorIs(t, flow.Complete(ctx), ErrActiveChildren)
	require.ErrorIs(t, incomplete.Retry(ctx), errTransportDown)

	rec.failOn = nil

	require.NoError(t, incomplete.Retry(ctx))
	assert.Equal(t, StateDone, incomplete.Step.State())
	require.NoError(t, flow.Complete(ctx))

	assert.Equal(t, []string{"p1-START", "c1-START", "c1-COMPLETE", "p1-COMPLETE"}, rec.sequence())
	assert.Equal(t, testEpoch.Add(time.Minute), rec.events[2].EventTime, "retry keeps the planned event time")
	require.ErrorIs(t, incomplete.Retry(ctx), ErrFlowClosed)
}

func TestFlow_ChildStartTransportErrorKeepsParentOpen(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"))
	require.NoError(t, err)

	rec.failOn = func(e *lineage.RunEvent) bool { return e.Run.ID == "c1" }

	_, err = flow.StartChild(ctx, mustJob(t, "ns", "step"))
	require.ErrorIs(t, err, errTransportDown)

	_, known := em.Registry().Lookup("c1")
	assert.False(t, known)
	assert.Zero(t, flow.OpenChildren())
	require.NoError(t, flow.Complete(ctx))
}

func TestFlow_ExplicitTimeCannotGoBackwards(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"), At(testEpoch.Add(time.Hour)))
	require.NoError(t, err)

	err = flow.Complete(ctx, At(testEpoch))
	require.ErrorIs(t, err, ErrEventTimeRegression)
	assert.Equal(t, StateAborted, flow.State())
	assert.Equal(t, []string{"p1-START"}, rec.sequence())
}

func TestFlow_CompleteCanOverrideDatasets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	in, err := lineage.NewInputDataset("ns", "in", nil, nil)
	require.NoError(t, err)

	out, err := lineage.NewOutputDataset("ns", "out", nil, nil)
	require.NoError(t, err)

	flow, err := em.StartFlow(ctx, mustJob(t, "ns", "flow"), mustRun(t, "p1"), WithInputs(in))
	require.NoError(t, err)
	require.NoError(t, flow.Complete(ctx, WithInputs(in), WithOutputs(out)))

	assert.Len(t, rec.events[0].Inputs, 1)
	assert.Empty(t, rec.events[0].Outputs)
	assert.Len(t, rec.events[1].Outputs, 1)
}

func TestEmitter_EmitLifecycle(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	em, rec := newTestEmitter(t)

	err := em.EmitLifecycle(ctx, mustJob(t, "ns", "flow"), mustRun(t, "r1"), nil, nil, testEpoch, 5*time.Minute)
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, "r1", rec.events[0].Run.ID)
	assert.Equal(t, "r1", rec.events[1].Run.ID)
	assert.Equal(t, 5*time.Minute, rec.events[1].EventTime.Sub(rec.events[0].EventTime))

	err = em.EmitLifecycle(ctx, mustJob(t, "ns", "flow"), mustRun(t, "r2"), nil, nil, testEpoch, -5)
	require.ErrorIs(t, err, lineage.ErrNegativeDuration)
	assert.Len(t, rec.events, 2, "nothing emitted for an invalid pair")

	err = em.EmitLifecycle(ctx, mustJob(t, "ns", "flow"), mustRun(t, "r1"), nil, nil, testEpoch, time.Minute)
	require.ErrorIs(t, err, ErrDuplicateRun)
}

func TestEmitter_StartFlowWithRunFacets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	em, rec := newTestEmitter(t)

	nominal := lineage.NominalTimeRunFacet{NominalStartTime: testEpoch}
	_, err := em.StartFlow(context.Background(), mustJob(t, "ns", "flow"), mustRun(t, "p1"),
		WithRunFacets(lineage.Facets{lineage.FacetNominalTime: nominal}))
	require.NoError(t, err)

	assert.Equal(t, nominal, rec.events[0].Run.Facets[lineage.FacetNominalTime])
}
