package scenarios

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const (
	housingNamespace = "house_regression"
	housingFlow      = "housing_regression_flow"
	housingRepoURL   = "https://github.com/your-org/pipelines/housing_regression_flow.py"

	housingStepDuration = 5 * time.Second
	housingSQLDuration  = 2 * time.Second

	// the flow reports at least this much wall time
	housingFlowDuration = time.Minute
)

type sqlStatement struct {
	table   string
	inputs  []string
	query   string
	outputs lineage.Facets
}

var (
	cleanedSalesSchema = schemaFacet(
		field("house_id", "INT", ""),
		field("price", "FLOAT", ""),
		field("sqft", "FLOAT", ""),
		field("bedrooms", "INT", ""),
		field("bathrooms", "FLOAT", ""),
	)

	enrichedSalesSchema = schemaFacet(
		field("house_id", "INT", ""),
		field("price", "FLOAT", ""),
		field("sqft", "FLOAT", ""),
		field("bedrooms", "INT", ""),
		field("bathrooms", "FLOAT", ""),
		field("zipcode", "STRING", ""),
		field("school_rating", "INT", ""),
	)

	featuresSchema = schemaFacet(
		field("sqft", "FLOAT", ""),
		field("bedrooms", "INT", ""),
		field("bathrooms", "FLOAT", ""),
		field("school_rating", "INT", ""),
		field("price", "FLOAT", ""),
	)

	trainedModelSchema = schemaFacet(
		field("model_type", "STRING", ""),
		field("framework", "STRING", ""),
		field("version", "STRING", ""),
	)

	prepareDataStatements = []sqlStatement{
		{
			table:   "cleaned_sales",
			inputs:  []string{"house_sales"},
			outputs: cleanedSalesSchema,
			query: `CREATE OR REPLACE TABLE cleaned_sales AS
SELECT * FROM house_sales WHERE price BETWEEN 10000 AND 1000000;`,
		},
		{
			table:   "enriched_sales",
			inputs:  []string{"cleaned_sales", "location_info"},
			outputs: enrichedSalesSchema,
			query: `CREATE OR REPLACE TABLE enriched_sales AS
SELECT s.*, l.zipcode, l.school_rating
FROM cleaned_sales s
JOIN location_info l ON s.house_id = l.house_id;`,
		},
		{
			table:   "features",
			inputs:  []string{"enriched_sales"},
			outputs: featuresSchema,
			query: `CREATE OR REPLACE TABLE features AS
SELECT sqft, bedrooms, bathrooms, school_rating, price
FROM enriched_sales
WHERE sqft IS NOT NULL
  AND bedrooms IS NOT NULL
  AND bathrooms IS NOT NULL
  AND school_rating IS NOT NULL;`,
		},
	}
)

// housingDatasets knows the facets of every dataset of the flow.
var housingDatasets = map[string]lineage.Facets{
	"house_sales":       nil,
	"location_info":     nil,
	"cleaned_sales":     cleanedSalesSchema,
	"enriched_sales":    enrichedSalesSchema,
	"features":          featuresSchema,
	"trained_model.pkl": trainedModelSchema,
}

func housingInput(name string) (lineage.InputDataset, error) {
	return lineage.NewInputDataset(housingNamespace, name, housingDatasets[name], nil)
}

func housingOutput(name string) (lineage.OutputDataset, error) {
	return lineage.NewOutputDataset(housingNamespace, name, housingDatasets[name], nil)
}

func housingInputs(names ...string) ([]lineage.InputDataset, error) {
	inputs := make([]lineage.InputDataset, 0, len(names))

	for _, name := range names {
		in, err := housingInput(name)
		if err != nil {
			return nil, err
		}

		inputs = append(inputs, in)
	}

	return inputs, nil
}

func housingOutputs(names ...string) ([]lineage.OutputDataset, error) {
	outputs := make([]lineage.OutputDataset, 0, len(names))

	for _, name := range names {
		out, err := housingOutput(name)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, out)
	}

	return outputs, nil
}

// housingJob builds the job of a step or SQL sub-job. An empty query leaves
// the sql facet out.
func housingJob(name, query string) (lineage.Job, error) {
	facets := lineage.Facets{lineage.FacetSourceCodeLocation: sourceCodeLocation(housingRepoURL)}
	if query != "" {
		facets[lineage.FacetSQL] = lineage.SQLJobFacet{Query: query}
	}

	return lineage.NewJob(housingNamespace, name, facets)
}

// runHousingRegression emits the events an instrumented HousingRegressionFlow
// would: flow START, steps start, prepare_data (with one sub-job per SQL
// statement), train_model and end, then flow COMPLETE.
func runHousingRegression(ctx context.Context, em *emitter.Emitter) error {
	base := em.Assembler().CurrentTime()

	flowJob, err := housingJob(housingFlow, "")
	if err != nil {
		return err
	}

	flowRun, err := em.NewRun(nominalTime(base))
	if err != nil {
		return err
	}

	flow, err := em.StartFlow(ctx, flowJob, flowRun, emitter.At(base))
	if err != nil {
		return err
	}

	steps := []func() (emitter.StepSpec, error){
		func() (emitter.StepSpec, error) { return housingStep("start", "", nil, nil, base) },
		func() (emitter.StepSpec, error) { return prepareDataStep(base) },
		func() (emitter.StepSpec, error) {
			return housingStep("train_model", "", []string{"features"}, []string{"trained_model.pkl"}, base)
		},
		func() (emitter.StepSpec, error) { return housingStep("end", "", nil, nil, base) },
	}

	for _, build := range steps {
		spec, err := build()
		if err != nil {
			return err
		}

		if err := flow.Step(ctx, spec); err != nil {
			return fmt.Errorf("%s: %w", spec.Job.Name, err)
		}
	}

	end := base.Add(housingFlowDuration)
	if cursor := flow.Cursor(); cursor.After(end) {
		end = cursor
	}

	return flow.Complete(ctx, emitter.At(end))
}

func housingStep(step, query string, inputs, outputs []string, nominal time.Time) (emitter.StepSpec, error) {
	job, err := housingJob(housingFlow+"."+step, query)
	if err != nil {
		return emitter.StepSpec{}, err
	}

	ins, err := housingInputs(inputs...)
	if err != nil {
		return emitter.StepSpec{}, err
	}

	outs, err := housingOutputs(outputs...)
	if err != nil {
		return emitter.StepSpec{}, err
	}

	return emitter.StepSpec{
		Job:       job,
		Inputs:    ins,
		Outputs:   outs,
		RunFacets: nominalTime(nominal),
		Duration:  housingStepDuration,
	}, nil
}

func prepareDataStep(nominal time.Time) (emitter.StepSpec, error) {
	queries := make([]string, len(prepareDataStatements))
	for i, stmt := range prepareDataStatements {
		queries[i] = stmt.query
	}

	spec, err := housingStep("prepare_data", strings.Join(queries, "\n\n"),
		[]string{"house_sales", "location_info"},
		[]string{"cleaned_sales", "enriched_sales", "features"},
		nominal,
	)
	if err != nil {
		return emitter.StepSpec{}, err
	}

	spec.Children = func(ctx context.Context, step *emitter.Flow) error {
		for _, stmt := range prepareDataStatements {
			sub, err := sqlSubJob(stmt, nominal)
			if err != nil {
				return err
			}

			if err := step.Step(ctx, sub); err != nil {
				return err
			}
		}

		return nil
	}

	return spec, nil
}

func sqlSubJob(stmt sqlStatement, nominal time.Time) (emitter.StepSpec, error) {
	job, err := housingJob("execute_sql."+stmt.table, stmt.query)
	if err != nil {
		return emitter.StepSpec{}, err
	}

	inputs, err := housingInputs(stmt.inputs...)
	if err != nil {
		return emitter.StepSpec{}, err
	}

	output, err := lineage.NewOutputDataset(housingNamespace, stmt.table, stmt.outputs, nil)
	if err != nil {
		return emitter.StepSpec{}, err
	}

	return emitter.StepSpec{
		Job:       job,
		Inputs:    inputs,
		Outputs:   []lineage.OutputDataset{output},
		RunFacets: nominalTime(nominal),
		Duration:  housingSQLDuration,
	}, nil
}
