package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// InsertModelOutputWithClient inserts a single ModelOutputRow. Uses DML INSERT
// to avoid streaming buffer issues.
func InsertModelOutputWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *ModelOutputRow) error {
	q := client.Query(fmt.Sprintf(`
		INSERT INTO %s (
			output_id, run_id, file_id,
			model_name, prompt, raw_json,
			extracted_text, created_ts, notes
		)
		VALUES (
			@output_id, @run_id, @file_id,
			@model_name, @prompt, @raw_json,
			@extracted_text, @created_ts, @notes
		)
	`, ds.Table(modelOutputsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "file_id", Value: row.FileID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "prompt", Value: row.Prompt},
		{Name: "raw_json", Value: row.RawJSON},
		{Name: "extracted_text", Value: row.ExtractedText},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "notes", Value: row.Notes},
	}

	return runDML(ctx, q, "InsertModelOutput")
}
