package lineage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataset_RejectsBlankIdentity(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		namespace string
		dsName    string
		wantErr   error
		wantField string
	}{
		{"empty namespace", "", "orders", ErrEmptyNamespace, "dataset.namespace"},
		{"whitespace namespace", "  \t", "orders", ErrEmptyNamespace, "dataset.namespace"},
		{"empty name", "postgres://db", "", ErrEmptyName, "dataset.name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDataset(tt.namespace, tt.dsName, nil)
			require.ErrorIs(t, err, tt.wantErr)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestNewJobAndRun_RejectInvalidArguments(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewJob("", "flow", nil)
	require.ErrorIs(t, err, ErrEmptyNamespace)

	_, err = NewJob("ns", " ", nil)
	require.ErrorIs(t, err, ErrEmptyName)

	_, err = NewRun("", nil)
	require.ErrorIs(t, err, ErrEmptyRunID)

	_, err = NewRun("r 1", nil)
	require.ErrorIs(t, err, ErrMalformedRunID)

	_, err = NewRun("r1\n", nil)
	require.ErrorIs(t, err, ErrMalformedRunID)

	_, err = NewRun("r1", Facets{FacetNominalTime: nil})
	require.ErrorIs(t, err, ErrNilFacet)

	run, err := NewRun("r1", nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", run.ID)
}

func TestBuilders_CopyFacetMaps(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	facets := Facets{FacetSQL: SQLJobFacet{Query: "SELECT 1"}}

	job, err := NewJob("ns", "job", facets)
	require.NoError(t, err)

	facets[FacetJobType] = JobTypeJobFacet{ProcessingType: "BATCH"}

	assert.Len(t, job.Facets, 1)
	assert.NotContains(t, job.Facets, FacetJobType)
}

func TestDataset_IdentityIgnoresFacets(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	withSchema, err := NewDataset("snowflake://", "tmp_demo.user_counts", Facets{
		FacetSchema: SchemaDatasetFacet{Fields: []SchemaField{{Name: "user_id", Type: "int"}}},
	})
	require.NoError(t, err)

	bare, err := NewDataset("snowflake://", "tmp_demo.user_counts", nil)
	require.NoError(t, err)

	assert.True(t, withSchema.SameAs(bare))
	assert.Equal(t, withSchema.Key(), bare.Key())
	assert.Len(t, withSchema.Facets, 1)
	assert.Empty(t, bare.Facets)

	other, err := NewDataset("snowflake://", "temp_demo.user_history", nil)
	require.NoError(t, err)
	assert.False(t, withSchema.SameAs(other))
}

func TestDataset_URN(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ds := Dataset{Namespace: "postgres://prod-db:5432", Name: "analytics.public.orders"}

	assert.Equal(t, "postgresql://prod-db/analytics.public.orders", ds.URN())
	assert.Equal(t, "postgres://prod-db:5432/analytics.public.orders", ds.Key().String())
}

func TestDataset_AsInputAndAsOutputDoNotMutate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ds, err := NewDataset("house_regression", "cleaned_sales", Facets{
		FacetSchema: SchemaDatasetFacet{Fields: []SchemaField{{Name: "price", Type: "float"}}},
	})
	require.NoError(t, err)

	rows := int64(1200)
	in := ds.AsInput(Facets{FacetDataQualityMetrics: DataQualityMetricsInputDatasetFacet{RowCount: &rows}})
	out := ds.AsOutput(Facets{FacetOutputStatistics: OutputStatisticsOutputDatasetFacet{RowCount: &rows}})

	assert.True(t, in.SameAs(ds))
	assert.True(t, out.SameAs(ds))
	assert.Len(t, ds.Facets, 1)
	assert.NotContains(t, ds.Facets, FacetDataQualityMetrics)
	assert.NotContains(t, ds.Facets, FacetOutputStatistics)

	in.Facets[FacetSQL] = SQLJobFacet{Query: "x"}
	assert.NotContains(t, ds.Facets, FacetSQL, "input view must not share the facet map")
}

func TestNewInputAndOutputDataset(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	in, err := NewInputDataset("ns", "in", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DatasetKey{Namespace: "ns", Name: "in"}, in.Key())

	_, err = NewOutputDataset("ns", "", nil, nil)
	require.ErrorIs(t, err, ErrEmptyName)

	_, err = NewOutputDataset("ns", "out", nil, Facets{FacetOutputStatistics: nil})
	require.ErrorIs(t, err, ErrNilFacet)
}

func TestEventType(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, et := range ValidEventTypes() {
		assert.True(t, et.IsValid(), et)
	}

	assert.False(t, EventType("DONE").IsValid())
	assert.True(t, EventTypeComplete.IsTerminal())
	assert.True(t, EventTypeFail.IsTerminal())
	assert.True(t, EventTypeAbort.IsTerminal())
	assert.False(t, EventTypeStart.IsTerminal())
	assert.False(t, EventTypeOther.IsTerminal())
}

func TestRunEvent_IdempotencyKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	at := time.Date(2022, 4, 14, 5, 12, 0, 0, time.UTC)
	start := RunEvent{EventType: EventTypeStart, EventTime: at, Producer: "p", Run: Run{ID: "r1"}, Job: Job{Namespace: "ns", Name: "flow"}}
	again := start
	again.EventTime = at.In(time.FixedZone("CEST", 2*60*60))
	complete := start
	complete.EventType = EventTypeComplete

	assert.Equal(t, start.IdempotencyKey(), again.IdempotencyKey(), "same instant in another zone is the same event")
	assert.NotEqual(t, start.IdempotencyKey(), complete.IdempotencyKey())
}

func TestRunEvent_ParentRunID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := RunEvent{Run: Run{ID: "c1", Facets: Facets{
		FacetParent: ParentRunFacet{Run: ParentRun{RunID: "p1"}, Job: ParentJob{Namespace: "ns", Name: "flow"}},
	}}}

	id, ok := event.ParentRunID()
	assert.True(t, ok)
	assert.Equal(t, "p1", id)

	_, ok = (&RunEvent{Run: Run{ID: "p1"}}).ParentRunID()
	assert.False(t, ok)
}

func TestValidationError_Message(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	err := newValidationError("run.runId", "r 1", ErrMalformedRunID)

	assert.Equal(t, `invalid run.runId "r 1": runId must not contain whitespace or control characters`, err.Error())
	assert.True(t, errors.Is(err, ErrMalformedRunID))
}
