package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/dvloznov/finance-ingest/internal/review"
)

func newPendingCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Review extracted records before they reach the ledger",
	}
	cmd.AddCommand(
		newPendingListCommand(g),
		newPendingApproveCommand(g),
		newPendingRejectCommand(g),
	)
	return cmd
}

func newPendingListCommand(g *globals) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records awaiting review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			var k domain.PendingKind
			if kind != "" {
				var err error
				if k, err = domain.ParseKind(kind); err != nil {
					return err
				}
			}

			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.Review.ListPending(ctx, g.owner, k)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), pending, func(w io.Writer) {
				printPending(w, pending)
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only list records of this kind")

	return cmd
}

func printPending(w io.Writer, pending []domain.PendingExtraction) {
	if len(pending) == 0 {
		fmt.Fprintln(w, "Nothing to review.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tFILE\tCREATED")
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Kind, p.SourceFileName, p.CreatedAt.Format(dateLayout))
	}
	tw.Flush()
}

func newPendingApproveCommand(g *globals) *cobra.Command {
	var in review.ApproveTicketInput
	var txType string

	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a record and write it to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			in.Type = domain.TransactionType(txType)

			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			approval, err := a.Review.Approve(ctx, g.owner, args[0], in)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), approval, func(w io.Writer) {
				printApproval(w, args[0], approval)
			})
		},
	}

	cmd.Flags().StringVar(&in.Account, "account", "", "account the ticket was paid from (tickets)")
	cmd.Flags().StringVar(&in.Category, "category", "", "ledger category (tickets)")
	cmd.Flags().StringVar(&txType, "type", "", "GASTO, INGRESO or TRANSFERENCIA (tickets, default GASTO)")
	cmd.Flags().StringVar(&in.DestAccount, "dest", "", "destination account (transfers)")
	cmd.Flags().StringVar(&in.LoanRef, "loan", "", "debt the ticket pays (tickets)")

	return cmd
}

func printApproval(w io.Writer, id string, a *review.Approval) {
	switch {
	case a.Transaction != nil:
		fmt.Fprintf(w, "Approved %s: %s %s %s on %s\n", id, a.Transaction.Type,
			a.Transaction.Amount.StringFixed(2), a.Transaction.Description, a.Transaction.Date.Format(dateLayout))
	case a.Investment != nil:
		fmt.Fprintf(w, "Approved %s: %s x %s at %s\n", id, a.Investment.Quantity.String(),
			a.Investment.Ticker, a.Investment.PurchasePrice.StringFixed(2))
	case a.Invoice != nil:
		fmt.Fprintf(w, "Approved %s: %s invoice for %s\n", id, a.Invoice.Store, a.Invoice.Total.StringFixed(2))
		if a.Invoice.PortalURL != "" {
			fmt.Fprintf(w, "Request it at %s\n", a.Invoice.PortalURL)
		}
	default:
		fmt.Fprintf(w, "Approved %s: %d installments scheduled\n", id, len(a.Schedule))
	}
}

func newPendingRejectCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a record without writing to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Review.Reject(ctx, g.owner, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s\n", args[0])
			return nil
		},
	}
}
