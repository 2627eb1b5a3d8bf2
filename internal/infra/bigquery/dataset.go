// Package bigquery mirrors extraction runs, raw model outputs and approved
// ledger rows into BigQuery for analytics.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	extractionRunsTable = "extraction_runs"
	modelOutputsTable   = "model_outputs"
	transactionsTable   = "ledger_transactions"
	maxErrorLen         = 2000
)

// Dataset names the project and dataset every table lives in.
type Dataset struct {
	Project string
	ID      string
}

// Table returns the fully qualified, backquoted table name for use in SQL.
func (d Dataset) Table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.Project, d.ID, name)
}

// runDML runs a statement and waits for the job to finish.
func runDML(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
