package billing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStoreRepository is a mock implementation of StoreRepository.
type MockStoreRepository struct {
	StoreByNameFunc     func(ctx context.Context, name string) (*domain.StoreBillingConfig, error)
	StoresByInitialFunc func(ctx context.Context, initial string) ([]domain.StoreBillingConfig, error)
	AllStoresFunc       func(ctx context.Context) ([]domain.StoreBillingConfig, error)

	initialCalls []string
}

func (m *MockStoreRepository) StoreByName(ctx context.Context, name string) (*domain.StoreBillingConfig, error) {
	return m.StoreByNameFunc(ctx, name)
}

func (m *MockStoreRepository) StoresByInitial(ctx context.Context, initial string) ([]domain.StoreBillingConfig, error) {
	m.initialCalls = append(m.initialCalls, initial)
	return m.StoresByInitialFunc(ctx, initial)
}

func (m *MockStoreRepository) AllStores(ctx context.Context) ([]domain.StoreBillingConfig, error) {
	return m.AllStoresFunc(ctx)
}

func newReferenceRepo(stores ...string) *MockStoreRepository {
	ref := make([]domain.StoreBillingConfig, 0, len(stores))
	for _, s := range stores {
		ref = append(ref, domain.StoreBillingConfig{Store: s, RequiredFields: []string{"ticket", "fecha"}})
	}
	return &MockStoreRepository{
		StoreByNameFunc: func(ctx context.Context, name string) (*domain.StoreBillingConfig, error) {
			for i := range ref {
				if strings.ToUpper(ref[i].Store) == name {
					return &ref[i], nil
				}
			}
			return nil, domain.ErrNotFound
		},
		StoresByInitialFunc: func(ctx context.Context, initial string) ([]domain.StoreBillingConfig, error) {
			var out []domain.StoreBillingConfig
			for _, s := range ref {
				if strings.HasPrefix(strings.ToUpper(s.Store), strings.ToUpper(initial)) {
					out = append(out, s)
				}
			}
			return out, nil
		},
		AllStoresFunc: func(ctx context.Context) ([]domain.StoreBillingConfig, error) {
			return ref, nil
		},
	}
}

func TestMatch_ExactShortCircuits(t *testing.T) {
	repo := newReferenceRepo("OXXO", "OXXA", "Walmart")
	m := NewMatcher(repo)

	got, err := m.Match(context.Background(), "  oxxo ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "OXXO", got.Store)
	assert.Empty(t, repo.initialCalls, "similarity search must not run on exact match")
}

func TestMatch(t *testing.T) {
	repo := newReferenceRepo("WALMART", "SORIANA", "SANBORNS", "LIVERPOOL", "ZARA", "H-E-B")

	tests := []struct {
		name     string
		detected string
		want     string
	}{
		{"correction dictionary", "Wal-Mart", "WALMART"},
		{"correction after noise removal", "Tienda Wal Mart", "WALMART"},
		{"noise word and typo", "SUPERMERCADO SORIANNA", "SORIANA"},
		{"typo only", "LIVERPOL", "LIVERPOOL"},
		{"abbreviation", "heb", "H-E-B"},
		{"too different", "ZARA HOME", ""},
		{"no candidates for initial", "QUALITAS", ""},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewMatcher(repo).Match(context.Background(), tt.detected)
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Store)
		})
	}
}

func TestMatch_NarrowsByInitial(t *testing.T) {
	repo := newReferenceRepo("SORIANA", "LIVERPOOL")
	_, err := NewMatcher(repo).Match(context.Background(), "SORIAN")
	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, repo.initialCalls)
}

func TestMatch_RepositoryError(t *testing.T) {
	repo := newReferenceRepo("OXXO")
	repo.StoreByNameFunc = func(ctx context.Context, name string) (*domain.StoreBillingConfig, error) {
		return nil, errors.New("db down")
	}

	_, err := NewMatcher(repo).Match(context.Background(), "OXXO")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("OXXO", "OXXO"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.InDelta(t, 0.875, Similarity("SORIANNA", "SORIANA"), 1e-9)
	assert.Equal(t, 0.0, Similarity("ABC", "XYZ"))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "GUADALAJARA", Clean("Farmacias Guadalajara S.A. de C.V."))
	assert.Equal(t, "WALMART", Clean("wal-mart"))
	assert.Equal(t, "", Clean("TIENDA"))
}

func TestBuildContext(t *testing.T) {
	repo := newReferenceRepo("Walmart", "OXXO")

	got, err := BuildContext(context.Background(), repo)
	require.NoError(t, err)
	assert.Contains(t, got, "- OXXO (campos: ticket, fecha)")
	assert.Less(t, strings.Index(got, "OXXO"), strings.Index(got, "WALMART"))

	empty := newReferenceRepo()
	got, err = BuildContext(context.Background(), empty)
	require.NoError(t, err)
	assert.Contains(t, got, "No hay tiendas")
}

func TestMergeInvoiceFields(t *testing.T) {
	cfg := &domain.StoreBillingConfig{Store: "OXXO", RequiredFields: []string{"folio", "total", "rfc"}}
	data := map[string]any{
		"folio":             "A-123",
		"total":             99.5,
		"datos_facturacion": map[string]any{"rfc": ""},
	}

	fields, missing := MergeInvoiceFields(cfg, data)
	assert.Equal(t, map[string]string{"folio": "A-123", "total": "99.5"}, fields)
	assert.Equal(t, []string{"rfc"}, missing)

	fields, missing = MergeInvoiceFields(nil, data)
	assert.Empty(t, fields)
	assert.Nil(t, missing)
}
