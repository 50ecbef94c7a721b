package emitter

import (
	"errors"
	"strings"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// AttachParent returns a copy of run whose facets are run's facets plus a
// "parent" facet pointing at the given run and job. The run id and every other
// facet are unchanged. References are not checked for cycles; Flow checks them
// against the Registry instead.
func AttachParent(run lineage.Run, parentRunID, parentJobNamespace, parentJobName string) (lineage.Run, error) {
	if err := lineage.ValidateRunID(parentRunID); err != nil {
		var verr *lineage.ValidationError
		if errors.As(err, &verr) {
			return lineage.Run{}, validationError("parent.run.runId", verr.Value, verr.Err)
		}

		return lineage.Run{}, err
	}

	if strings.TrimSpace(parentJobNamespace) == "" {
		return lineage.Run{}, validationError("parent.job.namespace", "", lineage.ErrEmptyNamespace)
	}

	if strings.TrimSpace(parentJobName) == "" {
		return lineage.Run{}, validationError("parent.job.name", "", lineage.ErrEmptyName)
	}

	if parentRunID == run.ID {
		return lineage.Run{}, validationError("parent.run.runId", parentRunID, lineage.ErrSelfParent)
	}

	return lineage.Run{
		ID: run.ID,
		Facets: run.Facets.With(lineage.FacetParent, lineage.ParentRunFacet{
			Run: lineage.ParentRun{RunID: parentRunID},
			Job: lineage.ParentJob{Namespace: parentJobNamespace, Name: parentJobName},
		}),
	}, nil
}
