package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-ingest/internal/config"
	infra "github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/store/memory"
)

func TestBuild_Defaults(t *testing.T) {
	a, err := Build(context.Background(), config.Default(), zerolog.Nop(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.Store{}, a.Store)
	assert.Equal(t, infra.NoopSink{}, a.Sink)
	assert.NotNil(t, a.Review)
	assert.NotNil(t, a.Debts)
	assert.NotNil(t, a.Portfolio)
	assert.Nil(t, a.Queue, "ingest wiring is opt-in")
}

func TestBuild_IngestNeedsDriveCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Extraction.GeminiAPIKey = "key"

	_, err := Build(context.Background(), cfg, zerolog.Nop(), Options{Ingest: true})
	assert.ErrorContains(t, err, "GOOGLE_CLIENT_ID")
}

func TestBuild_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "dropbox"

	_, err := Build(context.Background(), cfg, zerolog.Nop(), Options{Ingest: true})
	assert.ErrorContains(t, err, `unknown storage backend "dropbox"`)
}

func TestClose_RunsNewestFirst(t *testing.T) {
	var order []int
	a := &App{}
	a.closers = append(a.closers,
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return assert.AnError },
	)

	assert.ErrorIs(t, a.Close(), assert.AnError)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, a.Close(), "second close is a no-op")
}
