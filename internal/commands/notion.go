package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/notionsync"
)

func newNotionCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notion",
		Short: "Mirror the ledger into Notion",
	}
	cmd.AddCommand(newNotionSyncCommand(g))
	return cmd
}

func newNotionSyncCommand(g *globals) *cobra.Command {
	var from, to string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Create, update and archive Notion pages to match the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			start, err := parseDate("from", from)
			if err != nil {
				return err
			}
			end, err := parseDate("to", to)
			if err != nil {
				return err
			}
			if !start.IsZero() && !end.IsZero() && end.Before(start) {
				return errors.New("--to is before --from")
			}

			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Config.Notion
			if cfg.Token == "" || cfg.DatabaseID == "" {
				return errors.New("NOTION_TOKEN and notion.database_id must be configured")
			}

			res, err := notionsync.SyncTransactions(ctx, a.Store, notionsync.NewNotionClient(cfg.Token),
				cfg.DatabaseID, g.owner, start, end, dryRun)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				prefix := ""
				if dryRun {
					prefix = "[DRY RUN] "
				}
				fmt.Fprintf(w, "%s%d created, %d updated, %d unchanged, %d archived, %d failed\n",
					prefix, res.Created, res.Updated, res.Skipped, res.Archived, res.Failed)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first ledger day to sync, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last ledger day to sync, YYYY-MM-DD")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing to Notion")

	return cmd
}
