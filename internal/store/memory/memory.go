// Package memory is a map-backed Store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	pending       map[string]domain.PendingExtraction
	transactions  map[string]domain.Transaction
	investments   map[string]domain.Investment
	invoices      map[string]domain.Invoice
	debts         map[string]domain.Debt
	schedules     map[string][]domain.AmortizationRow
	stores        map[string]domain.StoreBillingConfig
	users         map[string]domain.User
	sessions      map[string]domain.Session
	subscriptions map[string]domain.Subscription
	credentials   map[string]domain.GoogleCredentials
}

func newState() state {
	return state{
		pending:       make(map[string]domain.PendingExtraction),
		transactions:  make(map[string]domain.Transaction),
		investments:   make(map[string]domain.Investment),
		invoices:      make(map[string]domain.Invoice),
		debts:         make(map[string]domain.Debt),
		schedules:     make(map[string][]domain.AmortizationRow),
		stores:        make(map[string]domain.StoreBillingConfig),
		users:         make(map[string]domain.User),
		sessions:      make(map[string]domain.Session),
		subscriptions: make(map[string]domain.Subscription),
		credentials:   make(map[string]domain.GoogleCredentials),
	}
}

// clone copies every map. Values are never mutated in place, so a shallow copy
// is a full snapshot.
func (s state) clone() state {
	return state{
		pending:       cloneMap(s.pending),
		transactions:  cloneMap(s.transactions),
		investments:   cloneMap(s.investments),
		invoices:      cloneMap(s.invoices),
		debts:         cloneMap(s.debts),
		schedules:     cloneMap(s.schedules),
		stores:        cloneMap(s.stores),
		users:         cloneMap(s.users),
		sessions:      cloneMap(s.sessions),
		subscriptions: cloneMap(s.subscriptions),
		credentials:   cloneMap(s.credentials),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type core struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data state
	now  func() time.Time
}

// Store is an in-memory implementation of store.Store.
// Writers are serialised with transactions, which roll back by restoring a
// snapshot.
type Store struct {
	*core
	inTx bool
}

// New creates an empty store.
func New() *Store {
	return &Store{core: &core{data: newState(), now: time.Now}}
}

// WithTx runs fn while holding the store's transaction lock. On error every
// change made by fn is discarded.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&Store{core: s.core, inTx: true}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// write excludes open transactions for the duration of a single write.
func (s *Store) write() func() {
	if s.inTx {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
}

// Pending

func (s *Store) CreatePending(ctx context.Context, p *domain.PendingExtraction) error {
	defer s.write()()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.pending[p.ID]; exists {
		return fmt.Errorf("CreatePending: duplicate id %s", p.ID)
	}
	s.data.pending[p.ID] = *p
	return nil
}

func (s *Store) GetPending(ctx context.Context, id string) (*domain.PendingExtraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.pending[id]
	if !ok {
		return nil, notFound("pending extraction", id)
	}
	return &p, nil
}

// GetPendingForUpdate is GetPending; WithTx already serialises writers.
func (s *Store) GetPendingForUpdate(ctx context.Context, id string) (*domain.PendingExtraction, error) {
	return s.GetPending(ctx, id)
}

func (s *Store) ListPending(ctx context.Context, filter store.PendingFilter) ([]domain.PendingExtraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.PendingExtraction{}
	for _, p := range s.data.pending {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdatePendingStatus(ctx context.Context, id string, status domain.PendingStatus, ledgerRef string, reviewedAt time.Time) error {
	defer s.write()()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.pending[id]
	if !ok {
		return notFound("pending extraction", id)
	}
	p.Status = status
	p.LedgerRef = ledgerRef
	p.ReviewedAt = &reviewedAt
	s.data.pending[id] = p
	return nil
}

// Ledger

func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	defer s.write()()

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.transactions[tx.ID] = *tx
	return nil
}

// ListTransactions returns the owner's transactions dated within [from, to].
// A zero bound is open.
func (s *Store) ListTransactions(ctx context.Context, ownerID string, from, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Transaction{}
	for _, tx := range s.data.transactions {
		if ownerID != "" && tx.OwnerID != ownerID {
			continue
		}
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Date.After(to) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *Store) CreateInvestment(ctx context.Context, inv *domain.Investment) error {
	defer s.write()()

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.investments[inv.ID] = *inv
	return nil
}

func (s *Store) ListInvestments(ctx context.Context, ownerID string) ([]domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Investment{}
	for _, inv := range s.data.investments {
		if ownerID != "" && inv.OwnerID != ownerID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PurchaseDate.Equal(out[j].PurchaseDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].PurchaseDate.Before(out[j].PurchaseDate)
	})
	return out, nil
}

func (s *Store) UpdateInvestmentPrice(ctx context.Context, id string, price decimal.Decimal, at time.Time) error {
	defer s.write()()

	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.data.investments[id]
	if !ok {
		return notFound("investment", id)
	}
	inv.CurrentPrice = price
	inv.PriceUpdated = &at
	s.data.investments[id] = inv
	return nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	defer s.write()()

	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.invoices[inv.ID] = *inv
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, ownerID string) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Invoice{}
	for _, inv := range s.data.invoices {
		if ownerID != "" && inv.OwnerID != ownerID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Debts

func (s *Store) CreateDebt(ctx context.Context, debt *domain.Debt) error {
	defer s.write()()

	if debt.ID == "" {
		debt.ID = uuid.New().String()
	}
	if debt.CreatedAt.IsZero() {
		debt.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.debts[debt.ID] = *debt
	return nil
}

func (s *Store) GetDebt(ctx context.Context, ownerID, id string) (*domain.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data.debts[id]
	if !ok || (ownerID != "" && d.OwnerID != ownerID) {
		return nil, notFound("debt", id)
	}
	return &d, nil
}

func (s *Store) ListDebts(ctx context.Context, ownerID string) ([]domain.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Debt{}
	for _, d := range s.data.debts {
		if ownerID != "" && d.OwnerID != ownerID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateDebtOutstanding(ctx context.Context, id string, outstanding decimal.Decimal) error {
	defer s.write()()

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.debts[id]
	if !ok {
		return notFound("debt", id)
	}
	d.Outstanding = outstanding
	s.data.debts[id] = d
	return nil
}

func (s *Store) ScheduleRows(ctx context.Context, debtID string) ([]domain.AmortizationRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.data.schedules[debtID]
	out := make([]domain.AmortizationRow, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) ReplaceSchedule(ctx context.Context, debtID string, rows []domain.AmortizationRow) error {
	defer s.write()()

	stored := make([]domain.AmortizationRow, len(rows))
	copy(stored, rows)
	for i := range stored {
		stored[i].DebtID = debtID
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Number < stored[j].Number })

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.debts[debtID]; !ok {
		return notFound("debt", debtID)
	}
	s.data.schedules[debtID] = stored
	return nil
}

// Billing reference data

func storeKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func (s *Store) StoreByName(ctx context.Context, name string) (*domain.StoreBillingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.data.stores[storeKey(name)]
	if !ok {
		return nil, notFound("store", name)
	}
	return &cfg, nil
}

func (s *Store) StoresByInitial(ctx context.Context, initial string) ([]domain.StoreBillingConfig, error) {
	prefix := storeKey(initial)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.StoreBillingConfig{}
	for key, cfg := range s.data.stores {
		if strings.HasPrefix(key, prefix) {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Store < out[j].Store })
	return out, nil
}

func (s *Store) AllStores(ctx context.Context) ([]domain.StoreBillingConfig, error) {
	return s.StoresByInitial(ctx, "")
}

func (s *Store) UpsertStore(ctx context.Context, cfg *domain.StoreBillingConfig) error {
	defer s.write()()

	stored := *cfg
	stored.Store = storeKey(cfg.Store)
	if stored.Store == "" {
		return fmt.Errorf("UpsertStore: %w: store name is required", domain.ErrInvalidInput)
	}
	stored.RequiredFields = append([]string(nil), cfg.RequiredFields...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.stores[stored.Store] = stored
	return nil
}

// Accounts

func (s *Store) UpsertUser(ctx context.Context, u *domain.User) error {
	defer s.write()()

	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, notFound("user with email", email)
}

func (s *Store) UserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.data.users {
		if subject != "" && u.GoogleSubject == subject {
			return &u, nil
		}
	}
	return nil, notFound("user with subject", subject)
}

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	defer s.write()()

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.Active = active
	s.data.users[id] = u
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	defer s.write()()

	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) DeleteSessions(ctx context.Context, userID string) (int, error) {
	defer s.write()()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.data.sessions {
		if sess.UserID == userID {
			delete(s.data.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	defer s.write()()

	if sub.OwnerID == "" {
		return fmt.Errorf("UpsertSubscription: %w: owner is required", domain.ErrInvalidInput)
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.subscriptions[sub.OwnerID] = *sub
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, ownerID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.data.subscriptions[ownerID]
	if !ok {
		return nil, notFound("subscription for", ownerID)
	}
	return &sub, nil
}

func (s *Store) SaveGoogleCredentials(ctx context.Context, c *domain.GoogleCredentials) error {
	defer s.write()()

	stored := *c
	stored.Scopes = append([]string(nil), c.Scopes...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.credentials[c.OwnerID] = stored
	return nil
}

func (s *Store) GoogleCredentials(ctx context.Context, ownerID string) (*domain.GoogleCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.credentials[ownerID]
	if !ok {
		return nil, notFound("google credentials for", ownerID)
	}
	return &c, nil
}

var _ store.Store = (*Store)(nil)
