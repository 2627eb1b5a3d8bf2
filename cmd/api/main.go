package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ingest/internal/api"
	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/dvloznov/finance-ingest/internal/webhooks"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("FINANCE_INGEST_CONFIG"), "Path to the YAML config file (or set FINANCE_INGEST_CONFIG env)")
		port       = flag.String("port", "", "HTTP server port (overrides the config)")
	)
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	// Initialize logger
	log := logger.NewWithLevel(cfg.LogLevel)
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.Build(ctx, cfg, log, app.Options{Ingest: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	defer a.Close()

	// Start workers in background to process file jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", cfg.Queue.Workers).Msg("Starting job workers")
		if err := a.Queue.Start(workerCtx, a.Worker.Handle); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	deps := api.Deps{
		Coordinator: a.Coordinator,
		Jobs:        a.Jobs,
		Reviewer:    a.Review,
		Debts:       a.Debts,
		Portfolio:   a.Portfolio,
	}
	if cfg.Webhooks.MercadoPagoToken != "" {
		client := webhooks.NewMercadoPagoClient(cfg.Webhooks.MercadoPagoURL, cfg.Webhooks.MercadoPagoToken)
		deps.MercadoPago = webhooks.NewMercadoPagoHandler(client, a.Store, cfg.Webhooks.MercadoPagoPlanID, log)
	} else {
		log.Warn().Msg("No Mercado Pago token configured - payment webhook disabled")
	}
	if cfg.Webhooks.RISCConfigURL != "" {
		keys := webhooks.NewRemoteKeys(cfg.Webhooks.RISCConfigURL, time.Hour)
		verifier := webhooks.NewVerifier(keys, cfg.Webhooks.RISCIssuer, cfg.Webhooks.RISCAudience)
		deps.RISC = webhooks.NewRISCHandler(verifier, a.Store, log)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(deps, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs, then cancel the workers
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
