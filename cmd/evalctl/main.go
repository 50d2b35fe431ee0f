// Command evalctl administers approval levels, level-0 authorities and users.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tovus.net/evalflow/internal/config"
	"tovus.net/evalflow/internal/store/pg"
)

var dsn string

var rootCmd = &cobra.Command{
	Use:           "evalctl",
	Short:         "Administer the evaluation approval workflow",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to EVALFLOW_PG_DSN)")
	rootCmd.AddCommand(tokenCmd, levelsCmd, level0Cmd, userCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore connects to the configured database; every mutating command needs one.
func openStore() (*pg.Store, error) {
	if dsn == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		dsn = cfg.Database.DSN
	}
	if dsn == "" {
		return nil, errors.New("database DSN is required (--dsn or EVALFLOW_PG_DSN)")
	}
	return pg.Open(dsn)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
