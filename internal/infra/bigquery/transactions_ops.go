package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
)

// InsertLedgerTransactionsWithClient streams a batch of rows into the ledger
// mirror table.
func InsertLedgerTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	table := client.DatasetInProject(ds.Project, ds.ID).Table(transactionsTable)
	inserter := table.Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertLedgerTransactions: inserting rows: %w", err)
	}
	return nil
}

// QueryTransactionsByDateRangeWithClient returns the owner's mirrored
// transactions dated within [startDate, endDate]. An empty owner matches all.
func QueryTransactionsByDateRangeWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, ownerID string, startDate, endDate time.Time) ([]*TransactionRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			t.transaction_id,
			t.owner_id,
			t.pending_id,
			t.transaction_date,
			t.amount,
			t.currency,
			t.type,
			t.description,
			t.category_name,
			t.source_account,
			t.dest_account,
			t.loan_ref,
			t.created_ts,
			t.extra
		FROM %s t
		WHERE t.transaction_date >= @start_date
		  AND t.transaction_date <= @end_date
		  AND (@owner_id = "" OR t.owner_id = @owner_id)
		ORDER BY t.transaction_date, t.created_ts
	`, ds.Table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: civil.DateOf(startDate)},
		{Name: "end_date", Value: civil.DateOf(endDate)},
		{Name: "owner_id", Value: ownerID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
