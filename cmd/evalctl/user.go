package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"tovus.net/evalflow/internal/auth"
)

var (
	userEmail    string
	userName     string
	userEmployee string
	userRoles    []string
	userPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage login accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a login account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(userEmail) == "" || userPassword == "" {
			return errors.New("--email and --password are required")
		}
		hash, err := auth.HashPassword(userPassword)
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		u := auth.User{
			Email:        userEmail,
			Name:         userName,
			EmployeeID:   userEmployee,
			PasswordHash: hash,
			Roles:        userRoles,
			Active:       true,
		}
		saved, err := store.Users().Put(cmd.Context(), u)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": saved.ID, "email": saved.Email, "roles": saved.Roles})
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "login email")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "initial password")
	userAddCmd.Flags().StringVar(&userName, "name", "", "display name")
	userAddCmd.Flags().StringVar(&userEmployee, "employee", "", "linked employee id")
	userAddCmd.Flags().StringSliceVar(&userRoles, "role", []string{auth.RoleApprover}, "role (repeatable)")
	userCmd.AddCommand(userAddCmd)
}
