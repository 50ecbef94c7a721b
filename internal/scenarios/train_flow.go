package scenarios

import (
	"context"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const (
	trainFlowNamespace = "metaflow"
	trainFlowJob       = "TrainFlow"
	trainFlowDuration  = 5 * time.Minute
)

// runTrainFlow emits START and COMPLETE of one Metaflow run with the same run id.
func runTrainFlow(ctx context.Context, em *emitter.Emitter) error {
	job, err := lineage.NewJob(trainFlowNamespace, trainFlowJob, lineage.Facets{
		lineage.FacetSourceCodeLocation: lineage.SourceCodeLocationJobFacet{
			Type:    "git",
			URL:     "https://github.com/mlops-club/metaflow-tutorial.git",
			Branch:  "main",
			Version: "1234567890abcdef1234567890abcdef12345678",
		},
	})
	if err != nil {
		return err
	}

	start := em.Assembler().CurrentTime()

	run, err := em.NewRun(nominalTime(start))
	if err != nil {
		return err
	}

	return em.EmitLifecycle(ctx, job, run, nil, nil, start, trainFlowDuration)
}
