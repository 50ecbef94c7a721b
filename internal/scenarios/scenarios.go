// Package scenarios holds simulated pipelines that emit OpenLineage events.
//
// None of them executes anything: each one reproduces the events an
// instrumented pipeline would send, through an emitter.Emitter, so backends
// and transports can be exercised without running Airflow or Metaflow.
package scenarios

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

// ErrUnknownScenario is returned by Lookup for a name no scenario has.
var ErrUnknownScenario = errors.New("unknown scenario")

// Scenario is one simulated pipeline.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, em *emitter.Emitter) error
}

// All returns every scenario ordered by name.
func All() []Scenario {
	all := []Scenario{
		{
			Name:        "big-sql-query",
			Description: "Snowflake script split into statements, one child job per statement with column lineage",
			Run:         runBigSQLQuery,
		},
		{
			Name:        "housing-regression",
			Description: "Metaflow-style flow with steps and nested SQL sub-jobs",
			Run:         runHousingRegression,
		},
		{
			Name:        "train-flow",
			Description: "Single TrainFlow run: START, then COMPLETE five minutes later",
			Run:         runTrainFlow,
		},
		{
			Name:        "user-trends",
			Description: "Five hourly runs of an Airflow SQL task scheduled at minute 12",
			Run:         runUserTrends,
		},
	}

	slices.SortFunc(all, func(a, b Scenario) int {
		return strings.Compare(a.Name, b.Name)
	})

	return all
}

// Names returns the names of all scenarios.
func Names() []string {
	all := All()
	names := make([]string, len(all))

	for i, s := range all {
		names[i] = s.Name
	}

	return names
}

// Lookup returns the scenario called name.
func Lookup(name string) (Scenario, error) {
	for _, s := range All() {
		if s.Name == name {
			return s, nil
		}
	}

	return Scenario{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownScenario, name, strings.Join(Names(), ", "))
}

func sourceCodeLocation(url string) lineage.SourceCodeLocationJobFacet {
	return lineage.SourceCodeLocationJobFacet{Type: "git", URL: url}
}

func schemaFacet(fields ...lineage.SchemaField) lineage.Facets {
	return lineage.Facets{lineage.FacetSchema: lineage.SchemaDatasetFacet{Fields: fields}}
}

func nominalTime(t time.Time) lineage.Facets {
	return lineage.Facets{lineage.FacetNominalTime: lineage.NominalTimeRunFacet{NominalStartTime: t}}
}

// jitter spreads event times by 20 to 30 seconds. It is a fixed function of
// i so that a fixed clock gives reproducible events.
func jitter(i int) time.Duration {
	return time.Duration(20+(i*7)%11) * time.Second
}

func field(name, typ, description string) lineage.SchemaField {
	return lineage.SchemaField{Name: name, Type: typ, Description: description}
}

func int64Ptr(v int64) *int64 {
	return &v
}
