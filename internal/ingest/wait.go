package ingest

import (
	"context"
	"time"

	"github.com/dvloznov/finance-ingest/internal/jobs"
)

// ProgressReader reports a group's progress.
type ProgressReader interface {
	GroupProgress(ctx context.Context, groupID string) (*jobs.GroupProgress, error)
}

// Wait polls until the group completes or ctx ends. onProgress, when set, sees
// every poll result.
func Wait(ctx context.Context, store ProgressReader, groupID string, interval time.Duration, onProgress func(*jobs.GroupProgress)) (*jobs.GroupProgress, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p, err := store.GroupProgress(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(p)
		}
		if p.Status == jobs.GroupStatusCompleted {
			return p, nil
		}

		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}
