package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/levelconfig"
)

var levelsModule string

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Inspect and load approval level configuration",
}

var levelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show active levels of a module",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		rows, err := levelconfig.NewRegistry(store).GetActiveForModule(cmd.Context(), approval.Module(levelsModule))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rows)
	},
}

var levelsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Upsert levels from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		rows, err := readLevels(f, approval.Module(levelsModule))
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		reg := levelconfig.NewRegistry(store)
		saved := make([]levelconfig.Configuration, 0, len(rows))
		for _, c := range rows {
			out, err := reg.Upsert(cmd.Context(), c)
			if err != nil {
				return fmt.Errorf("level %d: %w", c.Level, err)
			}
			saved = append(saved, out)
		}
		return printJSON(cmd.OutOrStdout(), saved)
	},
}

type levelsFile struct {
	Module approval.Module             `yaml:"module"`
	Levels []levelconfig.Configuration `yaml:"levels"`
}

// readLevels decodes a levels file; rows without a module take the file's
// module, then fallback.
func readLevels(r io.Reader, fallback approval.Module) ([]levelconfig.Configuration, error) {
	var doc levelsFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode levels: %w", err)
	}
	if doc.Module == "" {
		doc.Module = fallback
	}
	if len(doc.Levels) == 0 {
		return nil, fmt.Errorf("no levels in file")
	}
	for i := range doc.Levels {
		if doc.Levels[i].Module == "" {
			doc.Levels[i].Module = doc.Module
		}
	}
	return doc.Levels, nil
}

func init() {
	levelsCmd.PersistentFlags().StringVar(&levelsModule, "module", string(approval.ModuleEvaluationAppraisal), "workflow module")
	levelsCmd.AddCommand(levelsListCmd, levelsImportCmd)
}
