package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/ingest"
	"github.com/dvloznov/finance-ingest/internal/jobs"
	"github.com/dvloznov/finance-ingest/internal/logger"
)

func newIngestCommand(g *globals) *cobra.Command {
	var debtID string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:       "ingest <ticket|investment|amortization|invoice>",
		Short:     "Extract every file in a kind's folder into pending review records",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"ticket", "investment", "amortization", "invoice"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseKind(args[0])
			if err != nil {
				return err
			}
			if err := g.requireOwner(); err != nil {
				return err
			}
			return runIngest(cmd, g, kind, debtID, interval)
		},
	}

	cmd.Flags().StringVar(&debtID, "debt", "", "debt the schedule files belong to (amortization only)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "progress polling interval")

	return cmd
}

// runIngest runs the workers in-process and blocks until the group finishes.
func runIngest(cmd *cobra.Command, g *globals, kind domain.PendingKind, debtID string, interval time.Duration) error {
	ctx, a, err := g.load(cmd, app.Options{Ingest: true})
	if err != nil {
		return err
	}
	defer a.Close()
	log := logger.FromContext(ctx)

	go func() {
		if err := a.Queue.Start(ctx, a.Worker.Handle); err != nil {
			log.Error().Err(err).Msg("Job workers stopped with error")
		}
	}()

	res, err := a.Coordinator.Start(ctx, kind, g.owner, ingest.StartOptions{DebtID: debtID})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Status == ingest.StatusNoFiles {
		return g.print(out, res, func(w io.Writer) {
			fmt.Fprintf(w, "No %s files to process.\n", kind)
		})
	}

	progress, err := ingest.Wait(ctx, a.Jobs, res.GroupID, interval, func(p *jobs.GroupProgress) {
		log.Info().
			Int("completed", p.Completed).
			Int("failed", p.Failed).
			Int("total", p.Total).
			Msg("Ingestion progress")
	})
	if err != nil {
		return err
	}

	return g.print(out, progress, func(w io.Writer) {
		fmt.Fprintf(w, "Group %s %s: %d of %d files extracted, %d failed, %d throttled.\n",
			progress.GroupID, progress.Status, progress.Succeeded, progress.Total, progress.Failed, progress.Throttled)
		fmt.Fprintln(w, "Review the results with 'finance-ingest pending list'.")
	})
}
