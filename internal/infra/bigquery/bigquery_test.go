package bigquery

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetTable(t *testing.T) {
	ds := Dataset{Project: "proj", ID: "finance"}
	assert.Equal(t, "`proj.finance.extraction_runs`", ds.Table(extractionRunsTable))
}

func TestTransactionRowRoundTrip(t *testing.T) {
	tx := domain.Transaction{
		ID:            "t1",
		OwnerID:       "o1",
		PendingID:     "p1",
		Date:          time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Description:   "OXXO",
		Category:      "Comida",
		Amount:        decimal.RequireFromString("123.45"),
		Type:          domain.TransactionExpense,
		SourceAccount: "BBVA",
		Extra:         json.RawMessage(`{"total":"123.45"}`),
		CreatedAt:     time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
	}

	row := TransactionRowFrom(tx)
	assert.Equal(t, "2025-03-14", row.TransactionDate.String())
	assert.True(t, row.CategoryName.Valid)
	assert.False(t, row.DestAccount.Valid)
	assert.True(t, row.Extra.Valid)

	back := row.Transaction()
	require.True(t, back.Amount.Equal(tx.Amount), "amount %s", back.Amount)
	assert.Equal(t, tx.Date, back.Date)
	assert.Equal(t, tx.Category, back.Category)
	assert.Equal(t, tx.Type, back.Type)
	assert.JSONEq(t, string(tx.Extra), string(back.Extra))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
}
