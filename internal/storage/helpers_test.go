package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const testProducer = "https://github.com/correlator-io/openlineage-playground"

var testEpoch = time.Date(2022, 4, 14, 5, 12, 0, 0, time.UTC)

// journalEvent builds a minimal valid event. parentRunID may be empty.
func journalEvent(t *testing.T, runID string, eventType lineage.EventType, at time.Time, parentRunID string) *lineage.RunEvent {
	t.Helper()

	job, err := lineage.NewJob("housing", "housing_regression_flow.prepare_data", nil)
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

	out, err := lineage.NewOutputDataset("s3://housing-bucket", "prepared/train.csv", nil, nil)
	require.NoError(t, err)

	return &lineage.RunEvent{
		EventType: eventType,
		EventTime: at,
		Producer:  testProducer,
		SchemaURL: "https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent",
		Run:       run,
		Job:       job,
		Inputs:    []lineage.InputDataset{},
		Outputs:   []lineage.OutputDataset{out},
	}
}

// receivedEvent is a START as another producer would send it, with facet
// fields this module has no type for.
const receivedEvent = `{
	"eventType": "START",
	"eventTime": "2022-04-14T05:12:00Z",
	"producer": "https://github.com/OpenLineage/OpenLineage/tree/1.20.0/client/python",
	"schemaURL": "https://openlineage.io/spec/2-0-2/OpenLineage.json#/$defs/RunEvent",
	"run": {"runId": "run-7", "facets": {"parent": {
		"_producer": "https://github.com/apache/airflow/tree/providers-openlineage/1.9.0",
		"_schemaURL": "https://openlineage.io/spec/facets/1-1-0/ParentRunFacet.json#/$defs/ParentRunFacet",
		"run": {"runId": "parent-7"},
		"job": {"namespace": "housing", "name": "housing_regression_flow"},
		"root": {"run": {"runId": "parent-7"}, "job": {"namespace": "housing", "name": "housing_regression_flow"}}
	}}},
	"job": {"namespace": "housing", "name": "housing_regression_flow.prepare_data"},
	"inputs": [],
	"outputs": []
}`

func decodeReceivedEvent(t *testing.T) *lineage.RunEvent {
	t.Helper()

	event, err := lineage.Unmarshal([]byte(receivedEvent))
	require.NoError(t, err)

	return event
}
