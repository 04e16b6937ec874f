package cmd

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <wallet>",
	Short: "Show a wallet balance and its latest transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			bal, err := a.ledger.GetBalance(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wallet:    %s\n", bal.WalletAddress)
			fmt.Fprintf(out, "credits:   %d\n", bal.Credits)
			fmt.Fprintf(out, "reserved:  %d\n", bal.Reserved)
			fmt.Fprintf(out, "available: %d\n", bal.Available)
			fmt.Fprintf(out, "purchased: %d  consumed: %d\n\n", bal.TotalPurchased, bal.TotalConsumed)

			txs, err := a.ledger.ListTransactions(ctx, args[0], limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tTYPE\tAMOUNT\tBALANCE\tREFERENCE")
			for _, tx := range txs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Type, tx.Amount, tx.BalanceAfter, tx.Reference)
			}
			return tw.Flush()
		})
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant <wallet> <amount>",
	Short: "Grant credits to a wallet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		reference, _ := cmd.Flags().GetString("reference")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entry, err := a.ledger.GrantCredits(ctx, args[0], amount, reference)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entry)
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay <wallet>",
	Short: "Recompute a wallet's credits from its transaction log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.ledger.ReplayBalance(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Consistent {
				return fmt.Errorf("wallet %s: stored %d, log replays to %d", args[0], report.Stored, report.Replayed)
			}
			return nil
		})
	},
}

func init() {
	balanceCmd.Flags().Int("limit", 20, "number of transactions to show (0 for all)")
	grantCmd.Flags().String("reference", "admin_grant", "reference recorded on the grant")
}
