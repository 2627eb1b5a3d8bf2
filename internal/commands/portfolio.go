package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-ingest/internal/app"
)

func newPricesCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Maintain investment prices",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch the current price of every investment the owner holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Portfolio.RefreshPrices(ctx, g.owner)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), map[string]int{"updated": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Updated %d prices\n", n)
			})
		},
	})
	return cmd
}

func newPortfolioCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Report on investments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "profit",
		Short: "Print unrealised profit per month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireOwner(); err != nil {
				return err
			}
			ctx, a, err := g.load(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			months, err := a.Portfolio.MonthlyProfit(ctx, g.owner)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), months, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintln(tw, "MONTH\tPROFIT\t")
				for _, m := range months {
					fmt.Fprintf(tw, "%s\t%s\t\n", m.Month, m.Total.StringFixed(2))
				}
				tw.Flush()
			})
		},
	})
	return cmd
}
