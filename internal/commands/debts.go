package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-ingest/internal/amortization"
	"github.com/dvloznov/finance-ingest/internal/app"
	"github.com/dvloznov/finance-ingest/internal/debts"
	"github.com/dvloznov/finance-ingest/internal/domain"
)

func newDebtsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debts",
		Short: "Register loans and record payments against them",
	}
	cmd.AddCommand(
		newDebtsCreateCommand(g),
		newDebtsShowCommand(g),
		newDebtsPayCommand(g),
	)
	return cmd
}

func parseDecimal(flag, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s must be a number: %w", flag, err)
	}
	return d, nil
}

func newDebtsCreateCommand(g *globals) *cobra.Command {
	var name, principal, rate, start string
	var term int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a debt and generate its French amortization schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			in := debts.CreateInput{Name: name, TermMonths: term}
			var err error
			if in.Principal, err = parseDecimal("principal", principal); err != nil {
				return err
			}
			if in.AnnualRate, err = parseDecimal("rate", rate); err != nil {
				return err
			}
			if in.StartDate, err = parseDate("start", start); err != nil {
				return err
			}

			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			debt, rows, err := a.Debts.Create(ctx, g.owner, in)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), map[string]any{"debt": debt, "schedule": rows}, func(w io.Writer) {
				fmt.Fprintf(w, "Created debt %s (%s)\n", debt.ID, debt.Name)
				printSchedule(w, rows)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "debt name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&principal, "principal", "", "amount borrowed (required)")
	_ = cmd.MarkFlagRequired("principal")
	cmd.Flags().StringVar(&rate, "rate", "0", "annual interest rate in percent")
	cmd.Flags().IntVar(&term, "term", 0, "term in months (required)")
	_ = cmd.MarkFlagRequired("term")
	cmd.Flags().StringVar(&start, "start", "", "first installment month, YYYY-MM-DD (default today)")

	return cmd
}

func newDebtsShowCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <debt-id>",
		Short: "Print a debt's current schedule",
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

			debt, rows, err := a.Debts.Schedule(ctx, g.owner, args[0])
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), map[string]any{"debt": debt, "schedule": rows}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s outstanding of %s\n", debt.Name, debt.Outstanding.StringFixed(2), debt.Principal.StringFixed(2))
				printSchedule(w, rows)
			})
		},
	}
}

func newDebtsPayCommand(g *globals) *cobra.Command {
	var amount, date string
	var in debts.PaymentInput

	cmd := &cobra.Command{
		Use:   "pay <debt-id>",
		Short: "Apply a payment or a capital prepayment to a debt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			var err error
			if in.Amount, err = parseDecimal("amount", amount); err != nil {
				return err
			}
			if in.Date, err = parseDate("date", date); err != nil {
				return err
			}

			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Debts.Pay(ctx, g.owner, args[0], in)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				if len(res.Paid) > 0 {
					fmt.Fprintf(w, "Settled installments %v\n", res.Paid)
				}
				if res.Prepaid.IsPositive() {
					fmt.Fprintf(w, "Prepaid %s to capital\n", res.Prepaid.StringFixed(2))
				}
				fmt.Fprintf(w, "Outstanding: %s\n", res.Outstanding.StringFixed(2))
				if res.Transaction != nil {
					fmt.Fprintf(w, "Booked %s %s from %s\n", res.Transaction.Description,
						res.Transaction.Amount.StringFixed(2), res.Transaction.SourceAccount)
				}
			})
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "amount paid (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&date, "date", "", "payment date, YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&in.Prepay, "prepay", false, "apply the whole amount to capital")
	cmd.Flags().StringVar(&in.Account, "account", "", "book the payment as an expense from this account")
	cmd.Flags().StringVar(&in.Category, "category", "", "category of the booked expense")

	return cmd
}

func newScheduleCommand(g *globals) *cobra.Command {
	var principal, rate, start string
	var months int

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print a French amortization schedule without saving anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseDecimal("principal", principal)
			if err != nil {
				return err
			}
			r, err := parseDecimal("rate", rate)
			if err != nil {
				return err
			}
			first, err := parseDate("start", start)
			if err != nil {
				return err
			}
			if first.IsZero() {
				first = time.Now().UTC()
			}

			rows, err := amortization.Schedule("", p, r, months, first)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), rows, func(w io.Writer) {
				printSchedule(w, rows)
			})
		},
	}

	cmd.Flags().StringVar(&principal, "principal", "", "amount borrowed (required)")
	_ = cmd.MarkFlagRequired("principal")
	cmd.Flags().StringVar(&rate, "rate", "0", "annual interest rate in percent")
	cmd.Flags().IntVar(&months, "months", 0, "term in months (required)")
	_ = cmd.MarkFlagRequired("months")
	cmd.Flags().StringVar(&start, "start", "", "first installment month, YYYY-MM-DD (default today)")

	return cmd
}

func printSchedule(w io.Writer, rows []domain.AmortizationRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tDUE\tPAYMENT\tINTEREST\tCAPITAL\tBALANCE\tPAID\t")
	for _, row := range rows {
		paid := ""
		if row.Paid {
			paid = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n", row.Number, row.DueDate.Format(dateLayout),
			row.Payment.StringFixed(2), row.Interest.StringFixed(2), row.Capital.StringFixed(2),
			row.Balance.StringFixed(2), paid)
	}
	tw.Flush()
}
