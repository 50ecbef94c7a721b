package scenarios

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
	"github.com/correlator-io/openlineage-playground/internal/sqllineage"
)

const (
	bigSQLNamespace     = "parse_sql"
	bigSQLJob           = "big_sql_query"
	bigSQLDefaultSchema = "PATTERN_DB.DATA_SCIENCE_STAGE"
	bigSQLStepDuration  = 3 * time.Second
)

//go:embed big.sql
var bigSQLScript string

// BigSQLScript returns the Snowflake script the big-sql-query scenario runs.
func BigSQLScript() string {
	return bigSQLScript
}

// runBigSQLQuery emits the script as a parent job with one child job per
// statement, named script.sql.<i>. Inputs, outputs and column lineage of each
// child come from the SQL itself.
func runBigSQLQuery(ctx context.Context, em *emitter.Emitter) error {
	return RunSQLScript(ctx, em, sqllineage.NewPGQueryExtractor(), SQLScript{
		Namespace: bigSQLNamespace,
		JobName:   bigSQLJob,
		Script:    bigSQLScript,
		Options: sqllineage.Options{
			Dialect:       sqllineage.DialectSnowflake,
			DefaultSchema: bigSQLDefaultSchema,
		},
	})
}

// SQLScript describes a script emitted by RunSQLScript.
type SQLScript struct {
	Namespace string
	JobName   string
	Script    string
	Options   sqllineage.Options
}

// RunSQLScript emits START for the script's job, then a child job per
// statement with the lineage the extractor finds, then COMPLETE. A statement
// the extractor cannot analyze is still emitted, with its SQL but without
// datasets.
func RunSQLScript(ctx context.Context, em *emitter.Emitter, extractor sqllineage.Extractor, script SQLScript) error {
	statements, err := sqllineage.SplitStatements(script.Script)
	if err != nil {
		return fmt.Errorf("split %s: %w", script.JobName, err)
	}

	base := em.Assembler().CurrentTime()

	job, err := lineage.NewJob(script.Namespace, script.JobName, lineage.Facets{
		lineage.FacetSQL: lineage.SQLJobFacet{Query: script.Script},
	})
	if err != nil {
		return err
	}

	run, err := em.NewRun(nominalTime(base))
	if err != nil {
		return err
	}

	flow, err := em.StartFlow(ctx, job, run, emitter.At(base))
	if err != nil {
		return err
	}

	for i, stmt := range statements {
		spec, err := statementStep(em.Logger(), extractor, script, i, stmt, base)
		if err != nil {
			return err
		}

		if err := flow.Step(ctx, spec); err != nil {
			return fmt.Errorf("%s: %w", spec.Job.Name, err)
		}
	}

	return flow.Complete(ctx)
}

func statementStep(
	logger *slog.Logger,
	extractor sqllineage.Extractor,
	script SQLScript,
	index int,
	stmt string,
	nominal time.Time,
) (emitter.StepSpec, error) {
	name := "script.sql." + strconv.Itoa(index)

	job, err := lineage.NewJob(script.Namespace, name, lineage.Facets{
		lineage.FacetSQL: lineage.SQLJobFacet{Query: stmt},
	})
	if err != nil {
		return emitter.StepSpec{}, err
	}

	spec := emitter.StepSpec{
		Job:       job,
		RunFacets: nominalTime(nominal),
		Duration:  bigSQLStepDuration,
	}

	result, err := extractor.Extract(stmt, script.Options)
	if err != nil {
		logger.Warn("SQL lineage extraction failed",
			slog.String("job_name", name),
			slog.String("error", err.Error()),
		)

		return spec, nil
	}

	if spec.Inputs, err = result.InputDatasets(script.Namespace); err != nil {
		return emitter.StepSpec{}, err
	}

	if spec.Outputs, err = result.OutputDatasets(script.Namespace); err != nil {
		return emitter.StepSpec{}, err
	}

	return spec, nil
}
