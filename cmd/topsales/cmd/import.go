package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/config"
	"mit.edu/dsg/topsales/lakehouse"
)

func importCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import table file.jsonl",
		Short: "Replace the contents of a lakehouse table with the rows of a JSON Lines file",
		Long: `Reads one JSON object per line, keyed by column name. Every row is checked against the table schema
before anything is written, so a bad file leaves the table unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLakehouse(a, cmd, func(cfg *config.Config, s *lakehouse.Session) error {
				id, err := cfg.Identifier(args[0])
				if err != nil {
					return err
				}
				f, err := os.Open(args[1])
				if err != nil {
					return common.NewError(common.ConnectivityError, "opening %s: %v", args[1], err)
				}
				defer f.Close()
				table, rows, err := s.Import(cmd.Context(), id, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %s (version %d)\n", rows, id, table.Version)
				return nil
			})
		},
	}
}
