package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger transaction.
type TransactionType string

const (
	TransactionIncome   TransactionType = "INGRESO"
	TransactionExpense  TransactionType = "GASTO"
	TransactionTransfer TransactionType = "TRANSFERENCIA"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionIncome, TransactionExpense, TransactionTransfer:
		return true
	}
	return false
}

// Transaction is one ledger row. Approved tickets and direct submissions both land here.
type Transaction struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Type          TransactionType `json:"type"`
	SourceAccount string          `json:"source_account"`
	DestAccount   string          `json:"dest_account,omitempty"`
	LoanRef       string          `json:"loan_ref,omitempty"`    // debt the payment applies to
	PendingID     string          `json:"pending_id,omitempty"`  // set when created from a review
	Extra         json.RawMessage `json:"extra,omitempty"`       // raw extraction payload
	CreatedAt     time.Time       `json:"created_at"`
}

// Investment is a held position.
type Investment struct {
	ID            string           `json:"id"`
	OwnerID       string           `json:"owner_id"`
	Kind          string           `json:"kind"`
	Ticker        string           `json:"ticker"`
	Name          string           `json:"name"`
	Quantity      decimal.Decimal  `json:"quantity"`
	PurchaseDate  time.Time        `json:"purchase_date"`
	PurchasePrice decimal.Decimal  `json:"purchase_price"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	Currency      string           `json:"currency"`
	FXRate        *decimal.Decimal `json:"fx_rate,omitempty"`
	PendingID     string           `json:"pending_id,omitempty"`
	PriceUpdated  *time.Time       `json:"price_updated,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Invoice is a purchase the owner intends to request a tax invoice for.
type Invoice struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	Store         string            `json:"store"`
	TaxID         string            `json:"tax_id,omitempty"`
	Folio         string            `json:"folio,omitempty"`
	Date          time.Time         `json:"date"`
	Total         decimal.Decimal   `json:"total"`
	PortalURL     string            `json:"portal_url,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
	MissingFields []string          `json:"missing_fields,omitempty"`
	PendingID     string            `json:"pending_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// StoreBillingConfig is reference data describing how a known store issues invoices.
type StoreBillingConfig struct {
	Store          string   `json:"store"`
	RequiredFields []string `json:"required_fields"`
	PortalURL      string   `json:"portal_url,omitempty"`
}
