package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

const (
	userTrendsNamespace = "python_client"
	userTrendsJob       = "user_trends.create_user_counts"
	userTrendsSchedule  = "12 * * * *"
	userTrendsRuns      = 5
	userTrendsLocation  = "https://github.com/some/airflow/dags/example/user_trends.py"

	createUserCountsSQL = `CREATE OR REPLACE TABLE TMP_DEMO.USER_COUNTS AS (
    SELECT DATE_TRUNC(DAY, created_at) date, COUNT(id) as user_count
    FROM TMP_DEMO.USER_HISTORY
    GROUP BY date
)`
)

var userHistoryFields = []lineage.SchemaField{
	field("id", "BIGINT", "the user id"),
	field("email_domain", "VARCHAR", "the user email domain"),
	field("status", "BIGINT", "the user status"),
	field("created_at", "DATETIME", "date and time of creation of the user"),
	field("updated_at", "DATETIME", "the last time this row was updated"),
	field("fetch_time_utc", "DATETIME", "the time the data was fetched"),
	field("load_filename", "VARCHAR", "the original file this data was ingested from"),
	field("load_filerow", "INT", "the row number in the original file"),
	field("load_timestamp", "DATETIME", "the time the data was ingested"),
}

// runUserTrends simulates an Airflow DAG task with a Snowflake operator. Each
// run's nominal time is the next tick of the DAG schedule, starting at the
// day of the emitter's clock.
func runUserTrends(ctx context.Context, em *emitter.Emitter) error {
	schedule, err := cron.ParseStandard(userTrendsSchedule)
	if err != nil {
		return fmt.Errorf("parse user_trends schedule: %w", err)
	}

	job, err := lineage.NewJob(userTrendsNamespace, userTrendsJob, lineage.Facets{
		lineage.FacetSQL:                lineage.SQLJobFacet{Query: createUserCountsSQL},
		lineage.FacetSourceCodeLocation: sourceCodeLocation(userTrendsLocation),
	})
	if err != nil {
		return err
	}

	history, err := lineage.NewDataset("snowflake://", "temp_demo.user_history", schemaFacet(userHistoryFields...))
	if err != nil {
		return err
	}

	counts, err := lineage.NewDataset(userTrendsNamespace, "tmp_demo.user_counts", nil)
	if err != nil {
		return err
	}

	base := em.Assembler().CurrentTime()
	nominal := base.Truncate(24 * time.Hour).Add(-time.Nanosecond)

	for i := range userTrendsRuns {
		nominal = schedule.Next(nominal)

		run, err := em.NewRun(nominalTime(nominal))
		if err != nil {
			return err
		}

		inputs := []lineage.InputDataset{history.AsInput(nil)}
		outputs := []lineage.OutputDataset{counts.AsOutput(lineage.Facets{
			lineage.FacetOutputStatistics: lineage.OutputStatisticsOutputDatasetFacet{
				RowCount: int64Ptr(int64(1000 + 37*i)),
			},
		})}

		start := base.Add(time.Duration(i)*time.Hour + 11*time.Minute + jitter(i))
		duration := 2*time.Minute + jitter(i+userTrendsRuns)

		if err := em.EmitLifecycle(ctx, job, run, inputs, outputs, start, duration); err != nil {
			return fmt.Errorf("user_trends run %d: %w", i, err)
		}
	}

	return nil
}
