package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"google.golang.org/api/option"
)

// Sink receives best-effort analytics records from ingestion and review.
type Sink interface {
	StartExtractionRun(ctx context.Context, row *ExtractionRunRow) (string, error)
	MarkExtractionRunFailed(ctx context.Context, runID string, runErr error)
	MarkExtractionRunSucceeded(ctx context.Context, runID string) error
	InsertModelOutput(ctx context.Context, row *ModelOutputRow) error
	InsertLedgerTransactions(ctx context.Context, txs []domain.Transaction) error
}

// NoopSink discards everything. Used when BigQuery is not configured.
type NoopSink struct{}

func (NoopSink) StartExtractionRun(ctx context.Context, row *ExtractionRunRow) (string, error) {
	return "", nil
}

func (NoopSink) MarkExtractionRunFailed(ctx context.Context, runID string, runErr error) {}

func (NoopSink) MarkExtractionRunSucceeded(ctx context.Context, runID string) error {
	return nil
}

func (NoopSink) InsertModelOutput(ctx context.Context, row *ModelOutputRow) error {
	return nil
}

func (NoopSink) InsertLedgerTransactions(ctx context.Context, txs []domain.Transaction) error {
	return nil
}

// Repository is the BigQuery-backed Sink. It holds a shared client to avoid
// creating a new connection for each operation.
type Repository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewRepository creates a Repository for the given project and dataset.
func NewRepository(ctx context.Context, project, dataset string, opts ...option.ClientOption) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, ds: Dataset{Project: project, ID: dataset}}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Repository) StartExtractionRun(ctx context.Context, row *ExtractionRunRow) (string, error) {
	return StartExtractionRunWithClient(ctx, r.client, r.ds, row)
}

func (r *Repository) MarkExtractionRunFailed(ctx context.Context, runID string, runErr error) {
	MarkExtractionRunFailedWithClient(ctx, r.client, r.ds, runID, runErr)
}

func (r *Repository) MarkExtractionRunSucceeded(ctx context.Context, runID string) error {
	return MarkExtractionRunSucceededWithClient(ctx, r.client, r.ds, runID)
}

func (r *Repository) InsertModelOutput(ctx context.Context, row *ModelOutputRow) error {
	return InsertModelOutputWithClient(ctx, r.client, r.ds, row)
}

func (r *Repository) InsertLedgerTransactions(ctx context.Context, txs []domain.Transaction) error {
	rows := make([]*TransactionRow, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, TransactionRowFrom(tx))
	}
	return InsertLedgerTransactionsWithClient(ctx, r.client, r.ds, rows)
}

// QueryTransactionsByDateRange returns mirrored transactions for the owner.
func (r *Repository) QueryTransactionsByDateRange(ctx context.Context, ownerID string, startDate, endDate time.Time) ([]domain.Transaction, error) {
	rows, err := QueryTransactionsByDateRangeWithClient(ctx, r.client, r.ds, ownerID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Transaction())
	}
	return out, nil
}

var (
	_ Sink = NoopSink{}
	_ Sink = (*Repository)(nil)
)
