// Package review turns pending extractions into ledger rows once a person
// approves them.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	infra "github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/market"
	"github.com/dvloznov/finance-ingest/internal/store"
)

// Service reviews pending extractions. Every approval runs in one store
// transaction with the pending row locked, so a record converts at most once.
type Service struct {
	store  store.Store
	prices market.PriceSource
	sink   infra.Sink
	now    func() time.Time
}

// NewService creates a review service. prices and sink may be nil.
func NewService(st store.Store, prices market.PriceSource, sink infra.Sink) *Service {
	if sink == nil {
		sink = infra.NoopSink{}
	}
	return &Service{store: st, prices: prices, sink: sink, now: time.Now}
}

// ListPending returns the owner's records still awaiting review. An empty kind
// lists every kind.
func (s *Service) ListPending(ctx context.Context, ownerID string, kind domain.PendingKind) ([]domain.PendingExtraction, error) {
	list, err := s.store.ListPending(ctx, store.PendingFilter{OwnerID: ownerID, Kind: kind, Status: domain.StatusPending})
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	if list == nil {
		list = []domain.PendingExtraction{}
	}
	return list, nil
}

// Get returns one of the owner's pending records in any status.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*domain.PendingExtraction, error) {
	p, err := s.store.GetPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, fmt.Errorf("pending extraction %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// Reject marks the record rejected without creating anything.
func (s *Service) Reject(ctx context.Context, ownerID, id string) error {
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		p, err := lockPending(ctx, tx, ownerID, id, "")
		if err != nil {
			return err
		}
		return tx.UpdatePendingStatus(ctx, p.ID, domain.StatusRejected, "", s.now())
	})
	if err != nil {
		return fmt.Errorf("Reject: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("pending_id", id).Msg("Pending record rejected")
	return nil
}

// approveFunc converts a locked pending record and returns the ledger reference
// recorded on it.
type approveFunc func(tx store.Store, p *domain.PendingExtraction, data map[string]any) (string, error)

// approve locks the record, runs fn and marks the record approved, all in one
// transaction.
func (s *Service) approve(ctx context.Context, ownerID, id string, kind domain.PendingKind, fn approveFunc) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		p, err := lockPending(ctx, tx, ownerID, id, kind)
		if err != nil {
			return err
		}
		data, err := p.Data()
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrSemantic, err)
		}
		ref, err := fn(tx, p, data)
		if err != nil {
			return err
		}
		return tx.UpdatePendingStatus(ctx, p.ID, domain.StatusApproved, ref, s.now())
	})
}

// lockPending loads the record for update and checks ownership, status and kind.
// Records of other owners are reported as not found.
func lockPending(ctx context.Context, tx store.Store, ownerID, id string, kind domain.PendingKind) (*domain.PendingExtraction, error) {
	p, err := tx.GetPendingForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, fmt.Errorf("pending extraction %s: %w", id, domain.ErrNotFound)
	}
	if p.Status != domain.StatusPending {
		return nil, fmt.Errorf("pending extraction %s is %s: %w", id, p.Status, domain.ErrAlreadyReviewed)
	}
	if kind != "" && p.Kind != kind {
		return nil, fmt.Errorf("%w: pending extraction %s is a %s, not a %s", domain.ErrInvalidInput, id, p.Kind, kind)
	}
	return p, nil
}

// Approval is the outcome of Approve. Exactly one of the ledger fields is set,
// matching Kind.
type Approval struct {
	Kind        domain.PendingKind       `json:"kind"`
	Transaction *domain.Transaction      `json:"transaction,omitempty"`
	Investment  *domain.Investment       `json:"investment,omitempty"`
	Invoice     *domain.Invoice          `json:"invoice,omitempty"`
	Schedule    []domain.AmortizationRow `json:"schedule,omitempty"`
}

// Approve dispatches on the record's kind. in is only read for tickets.
func (s *Service) Approve(ctx context.Context, ownerID, id string, in ApproveTicketInput) (*Approval, error) {
	p, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("Approve: %w", err)
	}

	out := &Approval{Kind: p.Kind}
	switch p.Kind {
	case domain.KindTicket:
		out.Transaction, err = s.ApproveTicket(ctx, ownerID, id, in)
	case domain.KindInvestment:
		out.Investment, err = s.ApproveInvestment(ctx, ownerID, id)
	case domain.KindInvoice:
		out.Invoice, err = s.ApproveInvoice(ctx, ownerID, id)
	case domain.KindAmortization:
		out.Schedule, err = s.ApproveAmortization(ctx, ownerID, id)
	default:
		err = fmt.Errorf("%w: unknown kind %q", domain.ErrSemantic, p.Kind)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsClientError reports whether err was caused by the request rather than the
// system.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrSemantic)
}

func upperOr(s, fallback string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	return s
}
