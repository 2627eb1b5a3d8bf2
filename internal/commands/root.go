// Package commands implements the finance-ingest command line.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/config"
	"github.com/dvloznov/finance-ingest/internal/logger"
)

const dateLayout = "2006-01-02"

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	owner      string
	jsonOutput bool
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "finance-ingest",
		Short: "Ingest receipts, statements and invoices into a reviewed ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("FINANCE_INGEST_CONFIG"), "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&g.owner, "owner", os.Getenv("FINANCE_INGEST_OWNER"), "user the command acts for")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(
		newIngestCommand(g),
		newPendingCommand(g),
		newDebtsCommand(g),
		newScheduleCommand(g),
		newPricesCommand(g),
		newPortfolioCommand(g),
		newNotionCommand(g),
		newUploadCommand(g),
	)

	return rootCmd
}

// load reads the config and wires the services. The returned context carries
// a logger writing to the command's stderr.
func (g *globals) load(cmd *cobra.Command, opts app.Options) (context.Context, *app.App, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewConsole(cmd.ErrOrStderr(), cfg.LogLevel)
	ctx := logger.WithContext(cmd.Context(), log)

	a, err := app.Build(ctx, cfg, log, opts)
	if err != nil {
		return nil, nil, err
	}
	return ctx, a, nil
}

func (g *globals) requireOwner() error {
	if g.owner == "" {
		return errors.New("--owner (or FINANCE_INGEST_OWNER) is required")
	}
	return nil
}

// print writes v as indented JSON when --json is set, otherwise calls text.
func (g *globals) print(w io.Writer, v any, text func(io.Writer)) error {
	if g.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return t, nil
}
