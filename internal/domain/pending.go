package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PendingKind identifies what a pending extraction turns into once approved.
type PendingKind string

const (
	KindTicket       PendingKind = "ticket"
	KindInvestment   PendingKind = "investment"
	KindAmortization PendingKind = "amortization"
	KindInvoice      PendingKind = "invoice"
)

// Kinds lists every ingestion kind.
var Kinds = []PendingKind{KindTicket, KindInvestment, KindAmortization, KindInvoice}

// ParseKind validates a kind name.
func ParseKind(s string) (PendingKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// PendingStatus is the review state of a pending extraction.
type PendingStatus string

const (
	StatusPending  PendingStatus = "pending"
	StatusApproved PendingStatus = "approved"
	StatusRejected PendingStatus = "rejected"
)

// PendingExtraction holds AI-extracted data until a human approves or rejects it.
// Workers create it; only the review step mutates it.
type PendingExtraction struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Kind           PendingKind     `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Status         PendingStatus   `json:"status"`
	SourceFileID   string          `json:"source_file_id,omitempty"`
	SourceFileName string          `json:"source_file_name,omitempty"`
	DebtID         string          `json:"debt_id,omitempty"`
	LedgerRef      string          `json:"ledger_ref,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
}

// Data decodes the payload into a generic map.
func (p *PendingExtraction) Data() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(p.Payload, &m); err != nil {
		return nil, fmt.Errorf("decoding pending payload %s: %w", p.ID, err)
	}
	return m, nil
}
