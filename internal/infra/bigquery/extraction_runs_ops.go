package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/google/uuid"
)

// StartExtractionRunWithClient inserts row with status=RUNNING and returns the
// generated run id.
func StartExtractionRunWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *ExtractionRunRow) (string, error) {
	if row.RunID == "" {
		row.RunID = uuid.NewString()
	}
	if row.StartedTS.IsZero() {
		row.StartedTS = time.Now()
	}
	row.Status = RunStatusRunning

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			run_id, job_id, group_id, owner_id, kind,
			file_id, file_name, started_ts, extractor, model, status
		)
		VALUES (
			@run_id, @job_id, @group_id, @owner_id, @kind,
			@file_id, @file_name, @started_ts, @extractor, @model, @status
		)
	`, ds.Table(extractionRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "job_id", Value: row.JobID},
		{Name: "group_id", Value: row.GroupID},
		{Name: "owner_id", Value: row.OwnerID},
		{Name: "kind", Value: row.Kind},
		{Name: "file_id", Value: row.FileID},
		{Name: "file_name", Value: row.FileName},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "extractor", Value: row.Extractor},
		{Name: "model", Value: row.Model},
		{Name: "status", Value: row.Status},
	}

	if err := runDML(ctx, q, "StartExtractionRun"); err != nil {
		return "", err
	}
	return row.RunID, nil
}

// MarkExtractionRunFailedWithClient sets status=FAILED, finished_ts and
// error_message. Failures to record are logged, not returned.
func MarkExtractionRunFailedWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = truncate(runErr.Error(), maxErrorLen)
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, ds.Table(extractionRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "run_id", Value: runID},
	}

	if err := runDML(ctx, q, "MarkExtractionRunFailed"); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkExtractionRunFailed: could not record failure")
	}
}

// MarkExtractionRunSucceededWithClient sets status=SUCCESS and finished_ts and
// clears error_message.
func MarkExtractionRunSucceededWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = ""
		WHERE run_id = @run_id
	`, ds.Table(extractionRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "run_id", Value: runID},
	}

	return runDML(ctx, q, "MarkExtractionRunSucceeded")
}
