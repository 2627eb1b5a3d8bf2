package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	OwnerID       string `bigquery:"owner_id"`       // REQUIRED
	PendingID     string `bigquery:"pending_id"`     // NULLABLE

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED STRING
	Type     string   `bigquery:"type"`     // REQUIRED: INGRESO, GASTO, TRANSFERENCIA

	Description  string              `bigquery:"description"`   // REQUIRED STRING
	CategoryName bigquery.NullString `bigquery:"category_name"` // NULLABLE

	SourceAccount string              `bigquery:"source_account"` // NULLABLE
	DestAccount   bigquery.NullString `bigquery:"dest_account"`   // NULLABLE
	LoanRef       bigquery.NullString `bigquery:"loan_ref"`       // NULLABLE

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED

	Extra bigquery.NullJSON `bigquery:"extra"` // NULLABLE JSON
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// TransactionRowFrom converts a ledger transaction into its analytics row.
func TransactionRowFrom(tx domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   tx.ID,
		OwnerID:         tx.OwnerID,
		PendingID:       tx.PendingID,
		TransactionDate: civil.DateOf(tx.Date),
		Amount:          tx.Amount.Rat(),
		Currency:        "MXN",
		Type:            string(tx.Type),
		Description:     tx.Description,
		CategoryName:    nullString(tx.Category),
		SourceAccount:   tx.SourceAccount,
		DestAccount:     nullString(tx.DestAccount),
		LoanRef:         nullString(tx.LoanRef),
		CreatedTS:       tx.CreatedAt,
	}
	if len(tx.Extra) > 0 {
		row.Extra = bigquery.NullJSON{JSONVal: string(tx.Extra), Valid: true}
	}
	return row
}

// Transaction converts the row back into a ledger transaction.
func (r *TransactionRow) Transaction() domain.Transaction {
	tx := domain.Transaction{
		ID:            r.TransactionID,
		OwnerID:       r.OwnerID,
		PendingID:     r.PendingID,
		Date:          r.TransactionDate.In(time.UTC),
		Type:          domain.TransactionType(r.Type),
		Description:   r.Description,
		Category:      r.CategoryName.StringVal,
		SourceAccount: r.SourceAccount,
		DestAccount:   r.DestAccount.StringVal,
		LoanRef:       r.LoanRef.StringVal,
		CreatedAt:     r.CreatedTS,
	}
	if r.Amount != nil {
		tx.Amount, _ = decimal.NewFromString(r.Amount.FloatString(9))
	}
	if r.Extra.Valid {
		tx.Extra = []byte(r.Extra.JSONVal)
	}
	return tx
}
