package bigquery

import "cloud.google.com/go/bigquery"

type ModelOutputRow struct {
	OutputID string `bigquery:"output_id"` // REQUIRED
	RunID    string `bigquery:"run_id"`    // REQUIRED
	FileID   string `bigquery:"file_id"`   // REQUIRED

	ModelName string `bigquery:"model_name"` // REQUIRED
	Prompt    string `bigquery:"prompt"`     // NULLABLE, prompt registry name

	RawJSON       bigquery.NullJSON   `bigquery:"raw_json"`       // NULLABLE (JSON)
	ExtractedText bigquery.NullString `bigquery:"extracted_text"` // NULLABLE, OCR text

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"` // REQUIRED (default CURRENT_TIMESTAMP)
	Notes     bigquery.NullString    `bigquery:"notes"`      // NULLABLE
}
