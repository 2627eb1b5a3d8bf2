package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

type bigQueryTarget struct {
	client  *bigquery.Client
	project string
	dataset string
}

func newBigQueryTarget(ctx context.Context, project, dataset string) (*bigQueryTarget, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating BigQuery client: %w", err)
	}
	return &bigQueryTarget{client: client, project: project, dataset: dataset}, nil
}

func (b *bigQueryTarget) Name() string { return "bigquery" }

func (b *bigQueryTarget) Close() error { return b.client.Close() }

func (b *bigQueryTarget) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", b.project, b.dataset)
}

// exec runs a statement and waits for the job to finish.
func (b *bigQueryTarget) exec(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func (b *bigQueryTarget) EnsureSchemaMigrations(ctx context.Context) error {
	return b.exec(ctx, b.client.Query(`
		CREATE TABLE IF NOT EXISTS `+b.table()+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`))
}

func (b *bigQueryTarget) Applied(ctx context.Context) ([]AppliedMigration, error) {
	it, err := b.client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + b.table() + `
		ORDER BY version ASC`).Read(ctx)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt bigquery.NullTimestamp
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt.Timestamp,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Apply runs the migration, then records it. BigQuery DDL is not
// transactional, so a failed insert leaves an applied but unrecorded
// migration; migrations use IF NOT EXISTS to make a rerun safe.
func (b *bigQueryTarget) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := b.exec(ctx, b.client.Query(m.SQL)); err != nil {
		return err
	}

	q := b.client.Query(`
		INSERT INTO ` + b.table() + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := b.exec(ctx, q); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}
