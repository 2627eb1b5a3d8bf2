// Package ingest fans a cloud folder out into per-file extraction jobs and
// turns each file into a pending record awaiting review.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-ingest/internal/cloudfiles"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/logger"
)

// StartStatus is the coordinator's answer to an ingestion request.
type StartStatus string

const (
	StatusStarted StartStatus = "STARTED"
	StatusNoFiles StartStatus = "NO_FILES"
)

// Retry budgets per kind. Invoices go through two paid providers per attempt.
const (
	DefaultMaxRetries = 3
	InvoiceMaxRetries = 2
)

// StartResult reports what the coordinator scheduled.
type StartResult struct {
	Status     StartStatus `json:"status"`
	GroupID    string      `json:"group_id,omitempty"`
	TotalTasks int         `json:"total_tasks"`
}

// StartOptions carries per-kind parameters.
type StartOptions struct {
	// DebtID selects the debt whose schedule files are ingested. Required for amortizations.
	DebtID string
}

// DebtLookup resolves the debt an amortization run belongs to.
type DebtLookup interface {
	GetDebt(ctx context.Context, ownerID, id string) (*domain.Debt, error)
}

// Coordinator lists a kind's folder and publishes one job per file.
type Coordinator struct {
	files     cloudfiles.Factory
	publisher jobs.Publisher
	debts     DebtLookup
	folders   config.FoldersConfig
}

// NewCoordinator creates a coordinator.
func NewCoordinator(files cloudfiles.Factory, publisher jobs.Publisher, debts DebtLookup, folders config.FoldersConfig) *Coordinator {
	return &Coordinator{files: files, publisher: publisher, debts: debts, folders: folders}
}

// FolderFor returns the configured source folder of kind.
func FolderFor(folders config.FoldersConfig, kind domain.PendingKind) (string, error) {
	switch kind {
	case domain.KindTicket:
		return folders.Tickets, nil
	case domain.KindInvestment:
		return folders.Investments, nil
	case domain.KindAmortization:
		return folders.Amortizations, nil
	case domain.KindInvoice:
		return folders.Invoices, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidInput, kind)
}

// MaxAttempts is the attempt budget of one job of kind.
func MaxAttempts(kind domain.PendingKind) int {
	if kind == domain.KindInvoice {
		return InvoiceMaxRetries + 1
	}
	return DefaultMaxRetries + 1
}

// Start lists the owner's folder for kind and publishes every matching file as
// one group. An empty folder reports NO_FILES and publishes nothing.
func (c *Coordinator) Start(ctx context.Context, kind domain.PendingKind, ownerID string, opts StartOptions) (*StartResult, error) {
	log := logger.FromContext(ctx).With().Str("kind", string(kind)).Str("owner_id", ownerID).Logger()

	if ownerID == "" {
		return nil, fmt.Errorf("Start: %w: owner is required", domain.ErrInvalidInput)
	}
	folder, err := FolderFor(c.folders, kind)
	if err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}

	var debt *domain.Debt
	if kind == domain.KindAmortization {
		if opts.DebtID == "" {
			return nil, fmt.Errorf("Start: %w: debt id is required for amortizations", domain.ErrInvalidInput)
		}
		if debt, err = c.debts.GetDebt(ctx, ownerID, opts.DebtID); err != nil {
			return nil, fmt.Errorf("Start: loading debt %s: %w", opts.DebtID, err)
		}
	}

	src, err := c.files.For(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("Start: opening file source: %w", err)
	}
	files, err := src.ListFiles(ctx, folder, cloudfiles.DocumentMIMETypes)
	if err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	if debt != nil {
		files = filterByName(files, debt.Name)
	}

	if len(files) == 0 {
		log.Info().Str("folder", folder).Msg("No files to ingest")
		return &StartResult{Status: StatusNoFiles}, nil
	}

	group := &jobs.Group{Kind: kind, OwnerID: ownerID, CreatedAt: time.Now()}
	batch := make([]*jobs.Job, 0, len(files))
	for _, f := range files {
		job := &jobs.Job{
			Kind:        kind,
			OwnerID:     ownerID,
			FileID:      f.ID,
			FileName:    f.Name,
			MIMEType:    f.MIMEType,
			MaxAttempts: MaxAttempts(kind),
		}
		if debt != nil {
			job.DebtID = debt.ID
		}
		batch = append(batch, job)
	}

	if err := c.publisher.PublishGroup(ctx, group, batch); err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}

	log.Info().
		Str("group_id", group.GroupID).
		Int("total_tasks", len(batch)).
		Msg("Ingestion started")
	return &StartResult{Status: StatusStarted, GroupID: group.GroupID, TotalTasks: len(batch)}, nil
}

// filterByName keeps files whose name contains name, ignoring case.
func filterByName(files []cloudfiles.File, name string) []cloudfiles.File {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return files
	}
	out := make([]cloudfiles.File, 0, len(files))
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			out = append(out, f)
		}
	}
	return out
}
