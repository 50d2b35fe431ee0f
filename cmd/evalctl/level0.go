package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tovus.net/evalflow/internal/level0"
)

var level0Cmd = &cobra.Command{
	Use:   "level0",
	Short: "Manage level-0 (department head) authorities",
}

var level0MigrateCmd = &cobra.Command{
	Use:   "migrate <assignments.yaml>",
	Short: "Convert legacy assignments into scoped authorities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in, err := readAssignments(f)
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		res, err := level0.NewResolver(store).Migrate(cmd.Context(), in)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var level0ResolveCmd = &cobra.Command{
	Use:   "resolve <project> <department>",
	Short: "List who approves level 0 for a placement",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		approvers, err := level0.NewResolver(store).ResolveApprovers(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), approvers)
	},
}

func readAssignments(r io.Reader) ([]level0.Assignment, error) {
	var doc struct {
		Assignments []level0.Assignment `yaml:"assignments"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}
	return doc.Assignments, nil
}

func init() {
	level0Cmd.AddCommand(level0MigrateCmd, level0ResolveCmd)
}
