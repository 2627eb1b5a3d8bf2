package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreatePending(ctx, &domain.PendingExtraction{ID: "p1", OwnerID: "o1", Kind: domain.KindTicket}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Store) error {
		require.NoError(t, tx.CreateTransaction(ctx, &domain.Transaction{ID: "t1", OwnerID: "o1", Amount: decimal.NewFromInt(10)}))
		require.NoError(t, tx.UpdatePendingStatus(ctx, "p1", domain.StatusApproved, "t1", time.Now()))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := s.GetPending(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, p.Status)
	txs, err := s.ListTransactions(ctx, "o1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestWithTx_Commits(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.WithTx(ctx, func(tx store.Store) error {
		return tx.WithTx(ctx, func(inner store.Store) error {
			return inner.CreateTransaction(ctx, &domain.Transaction{ID: "t1", OwnerID: "o1"})
		})
	})
	require.NoError(t, err)

	txs, err := s.ListTransactions(ctx, "o1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestListPending_Filters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []domain.PendingExtraction{
		{ID: "a", OwnerID: "o1", Kind: domain.KindTicket},
		{ID: "b", OwnerID: "o1", Kind: domain.KindInvoice},
		{ID: "c", OwnerID: "o2", Kind: domain.KindTicket},
		{ID: "d", OwnerID: "o1", Kind: domain.KindTicket, Status: domain.StatusRejected},
	} {
		p.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.CreatePending(ctx, &p))
	}

	got, err := s.ListPending(ctx, store.PendingFilter{OwnerID: "o1", Kind: domain.KindTicket, Status: domain.StatusPending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	got, err = s.ListPending(ctx, store.PendingFilter{OwnerID: "o1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "d", got[0].ID, "newest first")
}

func TestBillingStores(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"walmart", "Soriana", "SANBORNS", "OXXO"} {
		require.NoError(t, s.UpsertStore(ctx, &domain.StoreBillingConfig{Store: name, RequiredFields: []string{"rfc"}}))
	}

	cfg, err := s.StoreByName(ctx, "Walmart")
	require.NoError(t, err)
	assert.Equal(t, "WALMART", cfg.Store)

	byS, err := s.StoresByInitial(ctx, "s")
	require.NoError(t, err)
	require.Len(t, byS, 2)
	assert.Equal(t, "SANBORNS", byS[0].Store)

	all, err := s.AllStores(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = s.StoreByName(ctx, "COSTCO")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := &domain.User{Email: "ana@example.com", GoogleSubject: "sub-1", Active: true}
	require.NoError(t, s.UpsertUser(ctx, u))
	require.NoError(t, s.CreateSession(ctx, &domain.Session{UserID: u.ID}))
	require.NoError(t, s.CreateSession(ctx, &domain.Session{UserID: u.ID}))
	require.NoError(t, s.CreateSession(ctx, &domain.Session{UserID: "someone-else"}))

	found, err := s.UserBySubject(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	found, err = s.UserByEmail(ctx, "ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	n, err := s.DeleteSessions(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.SetUserActive(ctx, u.ID, false))
	found, err = s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, found.Active)
}

func TestReplaceSchedule(t *testing.T) {
	ctx := context.Background()
	s := New()
	debt := &domain.Debt{OwnerID: "o1", Name: "Auto"}
	require.NoError(t, s.CreateDebt(ctx, debt))

	rows := []domain.AmortizationRow{{Number: 2}, {Number: 1}}
	require.NoError(t, s.ReplaceSchedule(ctx, debt.ID, rows))

	got, err := s.ScheduleRows(ctx, debt.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, debt.ID, got[0].DebtID)

	assert.ErrorIs(t, s.ReplaceSchedule(ctx, "missing", rows), domain.ErrNotFound)

	_, err = s.GetDebt(ctx, "other-owner", debt.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
