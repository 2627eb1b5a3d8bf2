// Package postgres implements store.Store on PostgreSQL through lib/pq.
//
// Money columns are NUMERIC and travel as decimal strings via
// decimal.Decimal's Scanner/Valuer. Extraction payloads are JSONB.
// The schema lives in migrations/postgres and is applied by cmd/migrate.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store on a *sql.DB.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// Open connects to dsn with the postgres driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w: %v", domain.ErrConnection, err)
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a database transaction. Nested calls reuse the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithTx: begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithTx: commit: %w", err)
	}
	return nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
}

func mustAffect(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func jsonOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Pending

const pendingColumns = `id, owner_id, kind, payload, status, source_file_id, source_file_name, debt_id, ledger_ref, created_at, reviewed_at`

func scanPending(row interface{ Scan(...any) error }) (*domain.PendingExtraction, error) {
	var (
		p        domain.PendingExtraction
		payload  []byte
		reviewed sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Kind, &payload, &p.Status, &p.SourceFileID,
		&p.SourceFileName, &p.DebtID, &p.LedgerRef, &p.CreatedAt, &reviewed); err != nil {
		return nil, err
	}
	p.Payload = json.RawMessage(payload)
	p.ReviewedAt = timePtr(reviewed)
	return &p, nil
}

func (s *Store) CreatePending(ctx context.Context, p *domain.PendingExtraction) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if !json.Valid(p.Payload) {
		return fmt.Errorf("CreatePending: %w: payload is not valid JSON", domain.ErrInvalidInput)
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO pending_extractions (`+pendingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.OwnerID, p.Kind, []byte(p.Payload), p.Status, p.SourceFileID,
		p.SourceFileName, p.DebtID, p.LedgerRef, p.CreatedAt, nullTime(p.ReviewedAt))
	if err != nil {
		return fmt.Errorf("CreatePending: %w", err)
	}
	return nil
}

func (s *Store) getPending(ctx context.Context, id, suffix string) (*domain.PendingExtraction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_extractions WHERE id = $1`+suffix, id)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("pending extraction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	return p, nil
}

func (s *Store) GetPending(ctx context.Context, id string) (*domain.PendingExtraction, error) {
	return s.getPending(ctx, id, "")
}

// GetPendingForUpdate takes a row lock that is held until the transaction ends.
// Outside WithTx the lock is released immediately.
func (s *Store) GetPendingForUpdate(ctx context.Context, id string) (*domain.PendingExtraction, error) {
	return s.getPending(ctx, id, " FOR UPDATE")
}

func (s *Store) ListPending(ctx context.Context, filter store.PendingFilter) ([]domain.PendingExtraction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	query := `SELECT ` + pendingColumns + ` FROM pending_extractions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	defer rows.Close()

	out := []domain.PendingExtraction{}
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("ListPending: scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePendingStatus(ctx context.Context, id string, status domain.PendingStatus, ledgerRef string, reviewedAt time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE pending_extractions SET status = $2, ledger_ref = $3, reviewed_at = $4
		WHERE id = $1`, id, status, ledgerRef, reviewedAt)
	if err != nil {
		return fmt.Errorf("UpdatePendingStatus: %w", err)
	}
	return mustAffect(res, "pending extraction", id)
}

// Ledger

func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, date, description, category, amount, type,
			source_account, dest_account, loan_ref, pending_id, extra, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tx.ID, tx.OwnerID, tx.Date, tx.Description, tx.Category, tx.Amount, tx.Type,
		tx.SourceAccount, tx.DestAccount, tx.LoanRef, tx.PendingID, jsonOrNull(tx.Extra), tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateTransaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, from, to time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT id, owner_id, date, description, category, amount, type, source_account,
			dest_account, loan_ref, pending_id, extra, created_at
		FROM transactions
		WHERE ($1::text = '' OR owner_id = $1)
			AND ($2::date IS NULL OR date >= $2)
			AND ($3::date IS NULL OR date <= $3)
		ORDER BY date, id`

	rows, err := s.q.QueryContext(ctx, query, ownerID, nullTime(optional(from)), nullTime(optional(to)))
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	defer rows.Close()

	out := []domain.Transaction{}
	for rows.Next() {
		var (
			tx    domain.Transaction
			extra []byte
		)
		if err := rows.Scan(&tx.ID, &tx.OwnerID, &tx.Date, &tx.Description, &tx.Category, &tx.Amount,
			&tx.Type, &tx.SourceAccount, &tx.DestAccount, &tx.LoanRef, &tx.PendingID, &extra, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListTransactions: scan: %w", err)
		}
		if len(extra) > 0 {
			tx.Extra = json.RawMessage(extra)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func optional(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Store) CreateInvestment(ctx context.Context, inv *domain.Investment) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	fx := decimal.NullDecimal{}
	if inv.FXRate != nil {
		fx = decimal.NewNullDecimal(*inv.FXRate)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO investments (id, owner_id, kind, ticker, name, quantity, purchase_date,
			purchase_price, current_price, currency, fx_rate, pending_id, price_updated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inv.ID, inv.OwnerID, inv.Kind, inv.Ticker, inv.Name, inv.Quantity, inv.PurchaseDate,
		inv.PurchasePrice, inv.CurrentPrice, inv.Currency, fx, inv.PendingID,
		nullTime(inv.PriceUpdated), inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateInvestment: %w", err)
	}
	return nil
}

func (s *Store) ListInvestments(ctx context.Context, ownerID string) ([]domain.Investment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, owner_id, kind, ticker, name, quantity, purchase_date, purchase_price,
			current_price, currency, fx_rate, pending_id, price_updated, created_at
		FROM investments
		WHERE ($1::text = '' OR owner_id = $1)
		ORDER BY purchase_date, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListInvestments: %w", err)
	}
	defer rows.Close()

	out := []domain.Investment{}
	for rows.Next() {
		var (
			inv     domain.Investment
			fx      decimal.NullDecimal
			updated sql.NullTime
		)
		if err := rows.Scan(&inv.ID, &inv.OwnerID, &inv.Kind, &inv.Ticker, &inv.Name, &inv.Quantity,
			&inv.PurchaseDate, &inv.PurchasePrice, &inv.CurrentPrice, &inv.Currency, &fx,
			&inv.PendingID, &updated, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListInvestments: scan: %w", err)
		}
		if fx.Valid {
			rate := fx.Decimal
			inv.FXRate = &rate
		}
		inv.PriceUpdated = timePtr(updated)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInvestmentPrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE investments SET current_price = $2, price_updated = $3 WHERE id = $1`, id, price, at)
	if err != nil {
		return fmt.Errorf("UpdateInvestmentPrice: %w", err)
	}
	return mustAffect(res, "investment", id)
}

func (s *Store) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	fields, err := json.Marshal(inv.Fields)
	if err != nil {
		return fmt.Errorf("CreateInvoice: encoding fields: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO invoices (id, owner_id, store, tax_id, folio, date, total, portal_url,
			fields, missing_fields, pending_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inv.ID, inv.OwnerID, inv.Store, inv.TaxID, inv.Folio, inv.Date, inv.Total, inv.PortalURL,
		fields, pq.Array(inv.MissingFields), inv.PendingID, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateInvoice: %w", err)
	}
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, ownerID string) ([]domain.Invoice, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, owner_id, store, tax_id, folio, date, total, portal_url, fields,
			missing_fields, pending_id, created_at
		FROM invoices
		WHERE ($1::text = '' OR owner_id = $1)
		ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListInvoices: %w", err)
	}
	defer rows.Close()

	out := []domain.Invoice{}
	for rows.Next() {
		var (
			inv    domain.Invoice
			fields []byte
		)
		if err := rows.Scan(&inv.ID, &inv.OwnerID, &inv.Store, &inv.TaxID, &inv.Folio, &inv.Date,
			&inv.Total, &inv.PortalURL, &fields, pq.Array(&inv.MissingFields), &inv.PendingID,
			&inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListInvoices: scan: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &inv.Fields); err != nil {
				return nil, fmt.Errorf("ListInvoices: decoding fields of %s: %w", inv.ID, err)
			}
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Debts

func (s *Store) CreateDebt(ctx context.Context, debt *domain.Debt) error {
	if debt.ID == "" {
		debt.ID = uuid.New().String()
	}
	if debt.CreatedAt.IsZero() {
		debt.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO debts (id, owner_id, name, principal, annual_rate, term_months, start_date,
			outstanding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		debt.ID, debt.OwnerID, debt.Name, debt.Principal, debt.AnnualRate, debt.TermMonths,
		debt.StartDate, debt.Outstanding, debt.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateDebt: %w", err)
	}
	return nil
}

const debtColumns = `id, owner_id, name, principal, annual_rate, term_months, start_date, outstanding, created_at`

func scanDebt(row interface{ Scan(...any) error }) (*domain.Debt, error) {
	var d domain.Debt
	err := row.Scan(&d.ID, &d.OwnerID, &d.Name, &d.Principal, &d.AnnualRate, &d.TermMonths,
		&d.StartDate, &d.Outstanding, &d.CreatedAt)
	return &d, err
}

func (s *Store) GetDebt(ctx context.Context, ownerID, id string) (*domain.Debt, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE id = $1 AND ($2::text = '' OR owner_id = $2)`, id, ownerID)
	d, err := scanDebt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("debt", id)
	}
	if err != nil {
		return nil, fmt.Errorf("GetDebt: %w", err)
	}
	return d, nil
}

func (s *Store) ListDebts(ctx context.Context, ownerID string) ([]domain.Debt, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE ($1::text = '' OR owner_id = $1) ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListDebts: %w", err)
	}
	defer rows.Close()

	out := []domain.Debt{}
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDebts: scan: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDebtOutstanding(ctx context.Context, id string, outstanding decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx, `UPDATE debts SET outstanding = $2 WHERE id = $1`, id, outstanding)
	if err != nil {
		return fmt.Errorf("UpdateDebtOutstanding: %w", err)
	}
	return mustAffect(res, "debt", id)
}

func (s *Store) ScheduleRows(ctx context.Context, debtID string) ([]domain.AmortizationRow, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT debt_id, number, due_date, payment, interest, capital, balance, paid, paid_at
		FROM amortization_rows WHERE debt_id = $1 ORDER BY number`, debtID)
	if err != nil {
		return nil, fmt.Errorf("ScheduleRows: %w", err)
	}
	defer rows.Close()

	out := []domain.AmortizationRow{}
	for rows.Next() {
		var (
			r      domain.AmortizationRow
			paidAt sql.NullTime
			due    sql.NullTime
		)
		if err := rows.Scan(&r.DebtID, &r.Number, &due, &r.Payment, &r.Interest, &r.Capital,
			&r.Balance, &r.Paid, &paidAt); err != nil {
			return nil, fmt.Errorf("ScheduleRows: scan: %w", err)
		}
		r.DueDate = due.Time
		r.PaidAt = timePtr(paidAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceSchedule deletes and re-inserts the debt's rows. Call it inside WithTx.
func (s *Store) ReplaceSchedule(ctx context.Context, debtID string, rows []domain.AmortizationRow) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM amortization_rows WHERE debt_id = $1`, debtID); err != nil {
		return fmt.Errorf("ReplaceSchedule: delete: %w", err)
	}
	for _, r := range rows {
		var due sql.NullTime
		if !r.DueDate.IsZero() {
			due = sql.NullTime{Time: r.DueDate, Valid: true}
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO amortization_rows (debt_id, number, due_date, payment, interest, capital,
				balance, paid, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			debtID, r.Number, due, r.Payment, r.Interest, r.Capital, r.Balance, r.Paid, nullTime(r.PaidAt))
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
				return notFound("debt", debtID)
			}
			return fmt.Errorf("ReplaceSchedule: insert row %d: %w", r.Number, err)
		}
	}
	return nil
}

// Billing reference data

func scanStore(row interface{ Scan(...any) error }) (*domain.StoreBillingConfig, error) {
	var cfg domain.StoreBillingConfig
	err := row.Scan(&cfg.Store, pq.Array(&cfg.RequiredFields), &cfg.PortalURL)
	return &cfg, err
}

func (s *Store) StoreByName(ctx context.Context, name string) (*domain.StoreBillingConfig, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT store, required_fields, portal_url FROM billing_stores WHERE store = upper($1)`,
		strings.TrimSpace(name))
	cfg, err := scanStore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("store", name)
	}
	if err != nil {
		return nil, fmt.Errorf("StoreByName: %w", err)
	}
	return cfg, nil
}

func (s *Store) StoresByInitial(ctx context.Context, initial string) ([]domain.StoreBillingConfig, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT store, required_fields, portal_url FROM billing_stores
		WHERE store LIKE upper($1) || '%' ORDER BY store`, strings.TrimSpace(initial))
	if err != nil {
		return nil, fmt.Errorf("StoresByInitial: %w", err)
	}
	defer rows.Close()

	out := []domain.StoreBillingConfig{}
	for rows.Next() {
		cfg, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("StoresByInitial: scan: %w", err)
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func (s *Store) AllStores(ctx context.Context) ([]domain.StoreBillingConfig, error) {
	return s.StoresByInitial(ctx, "")
}

func (s *Store) UpsertStore(ctx context.Context, cfg *domain.StoreBillingConfig) error {
	name := strings.ToUpper(strings.TrimSpace(cfg.Store))
	if name == "" {
		return fmt.Errorf("UpsertStore: %w: store name is required", domain.ErrInvalidInput)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO billing_stores (store, required_fields, portal_url) VALUES ($1, $2, $3)
		ON CONFLICT (store) DO UPDATE SET required_fields = EXCLUDED.required_fields,
			portal_url = EXCLUDED.portal_url`,
		name, pq.Array(cfg.RequiredFields), cfg.PortalURL)
	if err != nil {
		return fmt.Errorf("UpsertStore: %w", err)
	}
	return nil
}

// Accounts

func (s *Store) UpsertUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, google_subject, active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email,
			google_subject = EXCLUDED.google_subject, active = EXCLUDED.active`,
		u.ID, u.Email, u.GoogleSubject, u.Active)
	if err != nil {
		return fmt.Errorf("UpsertUser: %w", err)
	}
	return nil
}

func (s *Store) getUser(ctx context.Context, where string, arg string) (*domain.User, error) {
	var u domain.User
	err := s.q.QueryRowContext(ctx,
		`SELECT id, email, google_subject, active FROM users WHERE `+where+` LIMIT 1`, arg).
		Scan(&u.ID, &u.Email, &u.GoogleSubject, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("getUser: %w", err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id = $1", id)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "lower(email) = lower($1)", email)
}

func (s *Store) UserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	if subject == "" {
		return nil, notFound("user", subject)
	}
	return s.getUser(ctx, "google_subject = $1", subject)
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := s.q.ExecContext(ctx, `UPDATE users SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("SetUserActive: %w", err)
	}
	return mustAffect(res, "user", id)
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at) VALUES ($1, $2, $3)`,
		sess.ID, sess.UserID, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("CreateSession: %w", err)
	}
	return nil
}

func (s *Store) DeleteSessions(ctx context.Context, userID string) (int, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("DeleteSessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteSessions: %w", err)
	}
	return int(n), nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	if sub.OwnerID == "" {
		return fmt.Errorf("UpsertSubscription: %w: owner is required", domain.ErrInvalidInput)
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO subscriptions (owner_id, provider_id, plan_id, status, payer_email, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET provider_id = EXCLUDED.provider_id,
			plan_id = EXCLUDED.plan_id, status = EXCLUDED.status,
			payer_email = EXCLUDED.payer_email, updated_at = EXCLUDED.updated_at`,
		sub.OwnerID, sub.ProviderID, sub.PlanID, sub.Status, sub.PayerEmail, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertSubscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, ownerID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.q.QueryRowContext(ctx, `
		SELECT owner_id, provider_id, plan_id, status, payer_email, updated_at
		FROM subscriptions WHERE owner_id = $1`, ownerID).
		Scan(&sub.OwnerID, &sub.ProviderID, &sub.PlanID, &sub.Status, &sub.PayerEmail, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("subscription for", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) SaveGoogleCredentials(ctx context.Context, c *domain.GoogleCredentials) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO google_credentials (owner_id, access_token, refresh_token, expiry, scopes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id) DO UPDATE SET access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), google_credentials.refresh_token),
			expiry = EXCLUDED.expiry, scopes = EXCLUDED.scopes`,
		c.OwnerID, c.AccessToken, c.RefreshToken, c.Expiry, pq.Array(c.Scopes))
	if err != nil {
		return fmt.Errorf("SaveGoogleCredentials: %w", err)
	}
	return nil
}

func (s *Store) GoogleCredentials(ctx context.Context, ownerID string) (*domain.GoogleCredentials, error) {
	var c domain.GoogleCredentials
	err := s.q.QueryRowContext(ctx, `
		SELECT owner_id, access_token, refresh_token, expiry, scopes
		FROM google_credentials WHERE owner_id = $1`, ownerID).
		Scan(&c.OwnerID, &c.AccessToken, &c.RefreshToken, &c.Expiry, pq.Array(&c.Scopes))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("google credentials for", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("GoogleCredentials: %w", err)
	}
	return &c, nil
}

var _ store.Store = (*Store)(nil)
