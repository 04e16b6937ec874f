package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/dashboard"
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage console operators",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var operatorCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Create an operator (password from CREDITCTL_PASSWORD)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		password := os.Getenv("CREDITCTL_PASSWORD")
		if password == "" {
			return errors.New("CREDITCTL_PASSWORD must be set")
		}
		if name == "" {
			name = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			op, err := a.auth.CreateOperator(ctx, args[0], password, name, role)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), op)
		})
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage platform service API keys",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create <caller-name>",
	Short: "Issue an API key; the raw key is printed once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			k, raw, err := dashboard.NewAPIKey(args[0])
			if err != nil {
				return err
			}
			if err := a.apiKeys.Create(ctx, k); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "key %s for %s, store it now:\n", k.ID, k.CallerName)
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		})
	},
}

func init() {
	operatorCreateCmd.Flags().String("name", "", "display name (defaults to the email)")
	operatorCreateCmd.Flags().String("role", auth.RoleAdmin, "admin or viewer")
	operatorCmd.AddCommand(operatorCreateCmd)

	apikeyCmd.AddCommand(apikeyCreateCmd)
}
