package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a background sweep once",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var sweepEscrowCmd = &cobra.Command{
	Use:   "escrow",
	Short: "Release DELIVERED escrows past the auto-release window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			settled, err := a.escrow.ProcessAutoReleases(ctx)
			for _, e := range settled {
				fmt.Fprintf(cmd.OutOrStdout(), "released %s  %d credits to %s\n", e.ID, e.AmountCredits, e.SellerID)
			}
			if err != nil {
				return fmt.Errorf("sweep stopped after %d releases: %w", len(settled), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d escrows released\n", len(settled))
			return nil
		})
	},
}

var sweepReservationsCmd = &cobra.Command{
	Use:   "reservations",
	Short: "Release group reservations older than the TTL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl := viper.GetDuration("reservation.ttl")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			released, err := a.ledger.ExpireStaleReservations(ctx, ttl)
			for _, e := range released {
				fmt.Fprintf(cmd.OutOrStdout(), "released %d reserved credits on %s\n", e.Amount, e.WalletAddress)
			}
			if err != nil {
				return fmt.Errorf("sweep stopped after %d wallets: %w", len(released), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d wallets released (ttl %s)\n", len(released), ttl)
			return nil
		})
	},
}

func init() {
	sweepReservationsCmd.Flags().Duration("ttl", 0, "reservation age limit (default from config, 1h)")
	_ = viper.BindPFlag("reservation.ttl", sweepReservationsCmd.Flags().Lookup("ttl"))

	sweepCmd.AddCommand(sweepEscrowCmd)
	sweepCmd.AddCommand(sweepReservationsCmd)
}
