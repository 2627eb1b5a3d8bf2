package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ingest/internal/amortization"
	"github.com/dvloznov/finance-ingest/internal/billing"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/normalize"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ticket document types reported by the ticket prompt.
const (
	docPurchaseTicket  = "TICKET_COMPRA"
	defaultDescription = "Sin descripción"
)

// ApproveTicketInput is what the reviewer adds to an extracted ticket.
type ApproveTicketInput struct {
	Account     string                 `json:"account"`
	Category    string                 `json:"category"`
	Type        domain.TransactionType `json:"type"`
	DestAccount string                 `json:"dest_account,omitempty"`
	LoanRef     string                 `json:"loan_ref,omitempty"`
}

func (in *ApproveTicketInput) normalize() error {
	in.Account = strings.TrimSpace(in.Account)
	in.Category = strings.TrimSpace(in.Category)
	in.DestAccount = strings.TrimSpace(in.DestAccount)
	in.Type = domain.TransactionType(upperOr(string(in.Type), string(domain.TransactionExpense)))

	if in.Account == "" {
		return fmt.Errorf("%w: account is required", domain.ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", domain.ErrInvalidInput, in.Type)
	}
	if in.Type == domain.TransactionTransfer && in.DestAccount == "" {
		return fmt.Errorf("%w: transfers need a destination account", domain.ErrInvalidInput)
	}
	return nil
}

// ticketDescription names the merchant for purchase tickets and falls back to
// the model's short description for everything else.
func ticketDescription(data map[string]any) string {
	var desc string
	if normalize.Upper(normalize.FirstString(data, "tipo_documento")) == docPurchaseTicket {
		desc = normalize.FirstString(data, "establecimiento")
	}
	if desc == "" {
		desc = normalize.FirstString(data, "descripcion_corta")
	}
	return upperOr(desc, strings.ToUpper(defaultDescription))
}

// ApproveTicket creates one ledger transaction from a ticket and mirrors it to
// the analytics sink after commit.
func (s *Service) ApproveTicket(ctx context.Context, ownerID, id string, in ApproveTicketInput) (*domain.Transaction, error) {
	if err := in.normalize(); err != nil {
		return nil, fmt.Errorf("ApproveTicket: %w", err)
	}

	var created *domain.Transaction
	err := s.approve(ctx, ownerID, id, domain.KindTicket, func(tx store.Store, p *domain.PendingExtraction, data map[string]any) (string, error) {
		amount, err := normalize.FirstDecimal(data, "total", "total_pagado")
		if err != nil {
			return "", err
		}
		t := &domain.Transaction{
			ID:            uuid.NewString(),
			OwnerID:       ownerID,
			Date:          normalize.ParseDateSafely(normalize.FirstString(data, "fecha", "fecha_emision"), s.now()),
			Description:   ticketDescription(data),
			Category:      in.Category,
			Amount:        amount,
			Type:          in.Type,
			SourceAccount: in.Account,
			DestAccount:   in.DestAccount,
			LoanRef:       in.LoanRef,
			PendingID:     p.ID,
			Extra:         p.Payload,
			CreatedAt:     s.now(),
		}
		if err := tx.CreateTransaction(ctx, t); err != nil {
			return "", err
		}
		created = t
		return t.ID, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ApproveTicket: %w", err)
	}

	log := logger.FromContext(ctx)
	if err := s.sink.InsertLedgerTransactions(ctx, []domain.Transaction{*created}); err != nil {
		log.Warn().Err(err).Str("transaction_id", created.ID).Msg("Failed to mirror transaction")
	}
	log.Info().Str("pending_id", id).Str("transaction_id", created.ID).Msg("Ticket approved")
	return created, nil
}

// ApproveInvestment records the position. When the extraction carried no
// current price one is fetched after commit, best effort.
func (s *Service) ApproveInvestment(ctx context.Context, ownerID, id string) (*domain.Investment, error) {
	var (
		created *domain.Investment
		priced  bool
	)
	err := s.approve(ctx, ownerID, id, domain.KindInvestment, func(tx store.Store, p *domain.PendingExtraction, data map[string]any) (string, error) {
		quantity, err := normalize.RequiredDecimal(data, "cantidad_titulos")
		if err != nil {
			return "", err
		}
		if !quantity.IsPositive() {
			return "", fmt.Errorf("%w: cantidad_titulos must be positive", domain.ErrSemantic)
		}
		price, err := normalize.RequiredDecimal(data, "precio_por_titulo")
		if err != nil {
			return "", err
		}
		current, err := normalize.FirstDecimal(data, "precio_actual")
		if err != nil {
			return "", err
		}
		priced = current.IsPositive()
		if !priced {
			current = price
		}

		ticker := normalize.Upper(normalize.FirstString(data, "emisora_ticker"))
		inv := &domain.Investment{
			ID:            uuid.NewString(),
			OwnerID:       ownerID,
			Kind:          upperOr(normalize.FirstString(data, "tipo_inversion"), "ACCION"),
			Ticker:        ticker,
			Name:          normalize.FirstString(data, "nombre_activo"),
			Quantity:      quantity,
			PurchaseDate:  normalize.ParseDateSafely(normalize.FirstString(data, "fecha_compra", "fecha"), s.now()),
			PurchasePrice: price,
			CurrentPrice:  current,
			Currency:      upperOr(normalize.FirstString(data, "moneda"), "MXN"),
			PendingID:     p.ID,
			CreatedAt:     s.now(),
		}
		if inv.Name == "" {
			inv.Name = ticker
		}
		if rate, err := normalize.FirstDecimal(data, "tipo_cambio"); err == nil && rate.IsPositive() {
			inv.FXRate = &rate
		}
		if priced {
			at := s.now()
			inv.PriceUpdated = &at
		}
		if err := tx.CreateInvestment(ctx, inv); err != nil {
			return "", err
		}
		created = inv
		return inv.ID, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ApproveInvestment: %w", err)
	}

	if !priced {
		s.refreshPrice(ctx, created)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("pending_id", id).Str("investment_id", created.ID).Msg("Investment approved")
	return created, nil
}

func (s *Service) refreshPrice(ctx context.Context, inv *domain.Investment) {
	if s.prices == nil || inv.Ticker == "" {
		return
	}
	log := logger.FromContext(ctx).With().Str("ticker", inv.Ticker).Logger()

	price, err := s.prices.CurrentPrice(ctx, inv.Ticker)
	if err != nil {
		log.Warn().Err(err).Msg("Current price unavailable")
		return
	}
	if price == nil {
		return
	}
	at := s.now()
	if err := s.store.UpdateInvestmentPrice(ctx, inv.ID, *price, at); err != nil {
		log.Warn().Err(err).Msg("Failed to store current price")
		return
	}
	inv.CurrentPrice = *price
	inv.PriceUpdated = &at
}

// invoiceData flattens the "campos" object into the top level so a store's
// required fields are found wherever the model put them.
func invoiceData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	if campos, ok := data["campos"].(map[string]any); ok {
		for k, v := range campos {
			out[k] = v
		}
	}
	for k, v := range data {
		out[k] = v
	}
	return out
}

// ApproveInvoice records a purchase to be invoiced, with the fields the store
// asks for and the ones still missing.
func (s *Service) ApproveInvoice(ctx context.Context, ownerID, id string) (*domain.Invoice, error) {
	var created *domain.Invoice
	err := s.approve(ctx, ownerID, id, domain.KindInvoice, func(tx store.Store, p *domain.PendingExtraction, data map[string]any) (string, error) {
		total, err := normalize.FirstDecimal(data, "total")
		if err != nil {
			return "", err
		}

		name := upperOr(normalize.FirstString(data, "tienda"), "DESCONOCIDO")
		cfg, err := billing.NewMatcher(tx).Match(ctx, name)
		if err != nil {
			return "", err
		}

		inv := &domain.Invoice{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Store:     name,
			TaxID:     normalize.Upper(normalize.FirstString(data, "rfc")),
			Folio:     normalize.FirstString(data, "folio"),
			Date:      normalize.ParseDateSafely(normalize.FirstString(data, "fecha"), s.now()),
			Total:     total,
			PendingID: p.ID,
			CreatedAt: s.now(),
		}
		if cfg != nil {
			inv.Store = cfg.Store
			inv.PortalURL = cfg.PortalURL
		}
		inv.Fields, inv.MissingFields = billing.MergeInvoiceFields(cfg, invoiceData(data))

		if err := tx.CreateInvoice(ctx, inv); err != nil {
			return "", err
		}
		created = inv
		return inv.ID, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ApproveInvoice: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("pending_id", id).
		Str("store", created.Store).
		Strs("missing_fields", created.MissingFields).
		Msg("Invoice approved")
	return created, nil
}

// ApproveAmortization replaces the unpaid part of the debt's schedule with the
// extracted table. Paid installments are left untouched.
func (s *Service) ApproveAmortization(ctx context.Context, ownerID, id string) ([]domain.AmortizationRow, error) {
	var merged []domain.AmortizationRow
	err := s.approve(ctx, ownerID, id, domain.KindAmortization, func(tx store.Store, p *domain.PendingExtraction, data map[string]any) (string, error) {
		if p.DebtID == "" {
			return "", fmt.Errorf("%w: schedule is not linked to a debt", domain.ErrInvalidInput)
		}
		debt, err := tx.GetDebt(ctx, ownerID, p.DebtID)
		if err != nil {
			return "", err
		}
		tabla, ok := data["tabla"].([]any)
		if !ok {
			return "", fmt.Errorf("%w: extracted schedule has no tabla", domain.ErrSemantic)
		}
		existing, err := tx.ScheduleRows(ctx, debt.ID)
		if err != nil {
			return "", err
		}
		extracted, err := amortization.FromExtracted(debt.ID, tabla, openingBalance(debt, existing), s.now().Location())
		if err != nil {
			return "", err
		}

		merged = amortization.MergeExtracted(existing, extracted)
		if err := tx.ReplaceSchedule(ctx, debt.ID, merged); err != nil {
			return "", err
		}
		if err := tx.UpdateDebtOutstanding(ctx, debt.ID, unpaidCapital(merged)); err != nil {
			return "", err
		}
		return debt.ID, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ApproveAmortization: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("pending_id", id).Int("rows", len(merged)).Msg("Amortization schedule approved")
	return merged, nil
}

// openingBalance reports the balance before an installment as the capital the
// current schedule still assigns from that installment on. Without a schedule
// it falls back to the debt's outstanding balance.
func openingBalance(debt *domain.Debt, existing []domain.AmortizationRow) amortization.OpeningFunc {
	return func(number int) decimal.NullDecimal {
		var from []domain.AmortizationRow
		for _, r := range existing {
			if r.Number >= number {
				from = append(from, r)
			}
		}
		if total := amortization.TotalCapital(from); total.IsPositive() {
			return decimal.NewNullDecimal(total)
		}
		if len(existing) == 0 && debt.Outstanding.IsPositive() {
			return decimal.NewNullDecimal(debt.Outstanding)
		}
		return decimal.NullDecimal{}
	}
}

func unpaidCapital(rows []domain.AmortizationRow) decimal.Decimal {
	var unpaid []domain.AmortizationRow
	for _, r := range rows {
		if !r.Paid {
			unpaid = append(unpaid, r)
		}
	}
	return amortization.TotalCapital(unpaid)
}
