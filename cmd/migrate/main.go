package main

import (
	"context"
	"flag"
	"os"

	"github.com/dvloznov/finance-ingest/internal/logger"
)

var (
	targetName    = flag.String("target", "postgres", "Database to migrate: postgres or bigquery")
	databaseURL   = flag.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection string (or set DATABASE_URL env)")
	projectID     = flag.String("project", os.Getenv("BIGQUERY_PROJECT"), "GCP project ID (bigquery target)")
	datasetID     = flag.String("dataset", "finance", "BigQuery dataset ID")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (default migrations/<target>)")
	dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
)

func main() {
	flag.Parse()

	log := logger.New().With().Str("target", *targetName).Logger()
	ctx := context.Background()

	var (
		t    target
		vars map[string]string
		err  error
	)
	switch *targetName {
	case "postgres":
		if *databaseURL == "" {
			log.Fatal().Msg("-database-url (or DATABASE_URL) is required for the postgres target")
		}
		t, err = newPostgresTarget(ctx, *databaseURL)
	case "bigquery":
		if *projectID == "" {
			log.Fatal().Msg("-project (or BIGQUERY_PROJECT) is required for the bigquery target")
		}
		vars = map[string]string{"PROJECT_ID": *projectID, "DATASET_ID": *datasetID}
		t, err = newBigQueryTarget(ctx, *projectID, *datasetID)
	default:
		log.Fatal().Msg("-target must be postgres or bigquery")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer t.Close()

	dir := *migrationsDir
	if dir == "" {
		dir = "migrations/" + t.Name()
	}
	dir, err = findDir(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to locate migrations")
	}

	migrations, err := readMigrations(dir, vars, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	n, err := run(ctx, t, migrations, *appliedBy, *dryRun, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if n == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
		return
	}
	log.Info().Int("count", n).Bool("dry_run", *dryRun).Msg("Migrations complete")
}
