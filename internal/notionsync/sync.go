// Package notionsync mirrors the ledger into a Notion database.
package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-ingest/internal/logger"
	"github.com/jomei/notionapi"
)

const (
	// BatchSize defines the number of transactions to process in a single batch
	BatchSize = 100
)

// Result counts what a sync did, or would do in a dry run.
type Result struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// SyncTransactions mirrors the owner's ledger transactions dated within
// [from, to] into the Notion database. Pages are matched on the "Transaction ID"
// property, so repeated runs create nothing new; a page whose description or
// amount drifted from the ledger is rewritten. Pages in the range whose
// transaction no longer exists, and pages without an id, are archived. Pages
// dated outside the range are left alone.
func SyncTransactions(ctx context.Context, source TransactionSource, notionClient NotionService, notionDBID, ownerID string, from, to time.Time, dryRun bool) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("owner_id", ownerID).Bool("dry_run", dryRun).Logger()

	log.Info().
		Time("from", from).
		Time("to", to).
		Msg("Starting transaction sync to Notion")

	transactions, err := source.ListTransactions(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: querying transactions: %w", err)
	}
	log.Info().Int("transaction_count", len(transactions)).Msg("Retrieved ledger transactions")

	valid := make(map[string]bool, len(transactions))
	for _, tx := range transactions {
		valid[tx.ID] = true
	}

	pages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: %w", err)
	}
	log.Info().Int("notion_page_count", len(pages)).Msg("Retrieved existing Notion pages")

	res := &Result{}
	existing := make(map[string]notionapi.Page, len(pages))
	for _, page := range pages {
		txID := extractTransactionID(page)
		if txID != "" && valid[txID] {
			existing[txID] = page
			continue
		}
		if txID != "" {
			if d, ok := extractDate(page); ok && !inRange(d, from, to) {
				continue
			}
		}

		pageLog := log.With().Str("transaction_id", txID).Str("page_id", string(page.ID)).Logger()
		if dryRun {
			pageLog.Info().Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := notionClient.ArchivePage(ctx, string(page.ID)); err != nil {
			pageLog.Warn().Err(err).Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		pageLog.Info().Msg("Archived stale Notion page")
		res.Archived++
	}

	// Process transactions in batches
	for i := 0; i < len(transactions); i += BatchSize {
		end := i + BatchSize
		if end > len(transactions) {
			end = len(transactions)
		}

		batch := transactions[i:end]
		log.Debug().
			Int("batch_start", i).
			Int("batch_end", end).
			Msg("Processing batch")

		for _, tx := range batch {
			if page, ok := existing[tx.ID]; ok {
				if !drifted(page, tx) {
					res.Skipped++
					continue
				}
				if dryRun {
					log.Info().Str("transaction_id", tx.ID).Msg("[DRY RUN] Would update Notion page")
					res.Updated++
					continue
				}
				if _, err := notionClient.UpdatePage(ctx, string(page.ID), TransactionToNotionProperties(tx)); err != nil {
					log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to update Notion page")
					res.Failed++
					continue
				}
				res.Updated++
				continue
			}
			if dryRun {
				log.Info().Str("transaction_id", tx.ID).Msg("[DRY RUN] Would create Notion page")
				res.Created++
				continue
			}

			page, err := notionClient.CreatePage(ctx, notionDBID, TransactionToNotionProperties(tx))
			if err != nil {
				// Continue processing other transactions
				log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			log.Debug().Str("transaction_id", tx.ID).Str("page_id", string(page.ID)).Msg("Created Notion page")
			existing[tx.ID] = *page
			res.Created++
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Transaction sync completed")
	return res, nil
}

// inRange compares calendar days in UTC. Zero bounds are open.
func inRange(d, from, to time.Time) bool {
	day := dayOf(d)
	if !from.IsZero() && day.Before(dayOf(from)) {
		return false
	}
	if !to.IsZero() && day.After(dayOf(to)) {
		return false
	}
	return true
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
