// Package app wires configuration into the services shared by the API server
// and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-ingest/internal/cloudfiles"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/debts"
	"github.com/dvloznov/finance-ingest/internal/extraction"
	infra "github.com/dvloznov/finance-ingest/internal/infra/bigquery"
	"github.com/dvloznov/finance-ingest/internal/ingest"
	"github.com/dvloznov/finance-ingest/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ingest/internal/market"
	"github.com/dvloznov/finance-ingest/internal/portfolio"
	"github.com/dvloznov/finance-ingest/internal/review"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/dvloznov/finance-ingest/internal/store/memory"
	"github.com/dvloznov/finance-ingest/internal/store/postgres"
	"github.com/rs/zerolog"
)

// Options selects optional parts of the wiring.
type Options struct {
	// Ingest builds the file sources, extraction clients, queue and workers.
	Ingest bool
}

// App holds the wired services. Fields for parts not selected in Options are nil.
type App struct {
	Config *config.Config
	Store  store.Store
	Sink   infra.Sink
	Prices *market.PriceClient
	Rates  *market.FXClient

	Review    *review.Service
	Debts     *debts.Service
	Portfolio *portfolio.Service

	Files       cloudfiles.Factory
	Jobs        *inmemory.Store
	Queue       *inmemory.Queue
	Coordinator *ingest.Coordinator
	Worker      *ingest.Worker

	closers []func() error
}

// Build connects to the configured backends. Without a database URL the
// in-memory store is used; without a BigQuery project the sink discards.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg}

	if cfg.Database.URL != "" {
		pg, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("Build: %w", err)
		}
		a.Store = pg
		a.closers = append(a.closers, pg.Close)
	} else {
		log.Warn().Msg("No database configured - using the in-memory store")
		a.Store = memory.New()
	}

	if cfg.BigQuery.Project != "" {
		repo, err := infra.NewRepository(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("Build: %w", err)
		}
		a.Sink = repo
		a.closers = append(a.closers, repo.Close)
	} else {
		a.Sink = infra.NoopSink{}
	}

	a.Prices = market.NewPriceClient(cfg.Market.TwelveDataURL, cfg.Market.TwelveDataAPIKey, cfg.Market.CacheSize, cfg.Market.CacheTTL)
	a.Rates = market.NewFXClient(cfg.Market.CurrencyAPIURL, cfg.Market.CurrencyAPIKey, cfg.Market.CacheSize, cfg.Market.CacheTTL)

	a.Review = review.NewService(a.Store, a.Prices, a.Sink)
	a.Debts = debts.NewService(a.Store, a.Sink)
	a.Portfolio = portfolio.NewService(a.Store, a.Prices)

	if opts.Ingest {
		if err := a.buildIngest(ctx, log); err != nil {
			a.Close()
			return nil, fmt.Errorf("Build: %w", err)
		}
	}
	return a, nil
}

func (a *App) buildIngest(ctx context.Context, log zerolog.Logger) error {
	cfg := a.Config

	files, err := a.fileFactory(ctx)
	if err != nil {
		return err
	}
	a.Files = files

	gemini, err := extraction.NewGeminiClient(ctx, cfg.Extraction)
	if err != nil {
		return err
	}
	if cfg.Extraction.MistralAPIKey == "" {
		log.Warn().Msg("No Mistral API key - invoice OCR will fail")
	}

	a.Jobs = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(inmemory.Config{
		BufferSize: cfg.Queue.BufferSize,
		Workers:    cfg.Queue.Workers,
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
	}, a.Jobs)
	a.closers = append(a.closers, a.Queue.Close)

	a.Coordinator = ingest.NewCoordinator(a.Files, a.Queue, a.Store, cfg.Folders)
	a.Worker = ingest.NewWorker(ingest.Deps{
		Files:     a.Files,
		Extractor: gemini,
		OCR:       extraction.NewMistralOCR(cfg.Extraction.MistralBaseURL, cfg.Extraction.MistralAPIKey),
		Stores:    a.Store,
		Pending:   a.Store,
		Prices:    a.Prices,
		Rates:     a.Rates,
		Sink:      a.Sink,
	}, ingest.WorkerConfig{
		ImageMaxWidth: cfg.Extraction.ImageMaxWidth,
		JPEGQuality:   cfg.Extraction.JPEGQuality,
		MoveProcessed: cfg.Storage.MoveProcessed,
		Folders:       cfg.Folders,
	})
	return nil
}

// fileFactory selects the Drive or GCS document source.
func (a *App) fileFactory(ctx context.Context) (cloudfiles.Factory, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "gcs":
		src, err := cloudfiles.NewGCSSource(ctx, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, src.Close)
		return src, nil
	case "drive", "":
		if cfg.GoogleClientID == "" {
			return nil, errors.New("drive storage needs GOOGLE_CLIENT_ID")
		}
		return cloudfiles.NewDriveFactory(cfg.GoogleClientID, cfg.GoogleClientSecret, a.Store), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// Close releases every connection Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
