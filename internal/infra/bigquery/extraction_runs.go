package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// Extraction run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

type ExtractionRunRow struct {
	RunID   string `bigquery:"run_id"`   // REQUIRED
	JobID   string `bigquery:"job_id"`   // REQUIRED
	GroupID string `bigquery:"group_id"` // NULLABLE
	OwnerID string `bigquery:"owner_id"` // REQUIRED
	Kind    string `bigquery:"kind"`     // REQUIRED

	FileID   string `bigquery:"file_id"`   // REQUIRED
	FileName string `bigquery:"file_name"` // NULLABLE

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Extractor string `bigquery:"extractor"` // NULLABLE, e.g. GEMINI_VISION, MISTRAL_OCR+GEMINI
	Model     string `bigquery:"model"`     // NULLABLE

	Status       string `bigquery:"status"`        // NULLABLE
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	Metadata bigquery.NullJSON `bigquery:"metadata"` // NULLABLE
}
