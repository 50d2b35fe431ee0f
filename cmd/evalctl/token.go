package main

import (
	"time"

	"github.com/spf13/cobra"

	"tovus.net/evalflow/internal/auth"
)

var (
	tokenRoles    []string
	tokenName     string
	tokenEmployee string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token signed with EVALFLOW_AUTH_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := auth.Principal{UserID: args[0], Name: tokenName, EmployeeID: tokenEmployee, Roles: tokenRoles}
		token, err := auth.GenerateToken(p, tokenTTL)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"token":      token,
			"expires_at": time.Now().UTC().Add(tokenTTL).Format(time.RFC3339),
		})
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{auth.RoleApprover}, "role to grant (repeatable)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenEmployee, "employee", "", "linked employee id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
