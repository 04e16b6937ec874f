package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/registry"
)

var tierCmd = &cobra.Command{
	Use:   "tier",
	Short: "Inspect and change agent trust tiers",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var tierGetCmd = &cobra.Command{
	Use:   "get <agent-id>",
	Short: "Show an agent's tier and escrow cap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.registry.GetIdentity(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), registry.ToTierResponse(id))
		})
	},
}

var tierSetCmd = &cobra.Command{
	Use:   "set <agent-id> <tier>",
	Short: "Upgrade an agent's tier (downgrades are ignored)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier := models.Tier(strings.ToUpper(args[1]))
		hash, _ := cmd.Flags().GetString("hash")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.registry.SetTier(ctx, args[0], tier, hash)
			if err != nil {
				return err
			}
			if id.Tier != tier {
				fmt.Fprintf(cmd.ErrOrStderr(), "downgrade ignored: %s stays %s\n", args[0], id.Tier)
			}
			return printJSON(cmd.OutOrStdout(), registry.ToTierResponse(id))
		})
	},
}

var tierEvaluateCmd = &cobra.Command{
	Use:   "evaluate <agent-id>",
	Short: "Promote an agent to ESTABLISHED if its track record qualifies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			tier, err := a.registry.EvaluateEstablished(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], tier)
			return nil
		})
	},
}

func init() {
	tierSetCmd.Flags().String("hash", "", "verification data hash")

	tierCmd.AddCommand(tierGetCmd)
	tierCmd.AddCommand(tierSetCmd)
	tierCmd.AddCommand(tierEvaluateCmd)
}
