package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/config"
	"mit.edu/dsg/topsales/lakehouse"
)

func catalogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the lakehouse catalog",
	}
	cmd.AddCommand(
		catalogInitCmd(a),
		catalogRegisterCmd(a),
		catalogListCmd(a),
	)
	return cmd
}

// withLakehouse runs f on a lakehouse session of the configured warehouse.
func withLakehouse(a *app, cmd *cobra.Command, f func(cfg *config.Config, s *lakehouse.Session) error) (err error) {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	s, err := lakehouse.Open(cmd.Context(), lakehouseOptions(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()
	return f(cfg, s)
}

func catalogInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the warehouse directory and an empty catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if err := lakehouse.Init(lakehouseOptions(cfg)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized catalog %s in %s\n", cfg.Catalog, cfg.Lakehouse.Warehouse)
			return nil
		},
	}
}

func catalogRegisterCmd(a *app) *cobra.Command {
	var columns []string
	cmd := &cobra.Command{
		Use:   "register table",
		Short: "Register an empty table",
		Example: `  topsales catalog register orders \
    --columns order_id:int,delivery_city:string,created_at:timestamp,item_id:int,quantity:int`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := parseColumns(columns)
			if err != nil {
				return err
			}
			return withLakehouse(a, cmd, func(cfg *config.Config, s *lakehouse.Session) error {
				id, err := cfg.Identifier(args[0])
				if err != nil {
					return err
				}
				table, err := s.RegisterTable(id, cols)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s (oid %d)\n", id, table.Oid)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "columns as name:type, type one of int, string, timestamp")
	_ = cmd.MarkFlagRequired("columns")
	return cmd
}

func parseColumns(specs []string) ([]catalog.Column, error) {
	cols := make([]catalog.Column, 0, len(specs))
	for _, spec := range specs {
		name, typ, ok := strings.Cut(spec, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, common.NewError(common.ConfigurationError, "column '%s' must have the form name:type", spec)
		}
		t, err := common.ParseType(typ)
		if err != nil {
			return nil, err
		}
		cols = append(cols, catalog.Column{Name: strings.TrimSpace(name), Type: t})
	}
	return cols, nil
}

func catalogListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tables of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLakehouse(a, cmd, func(cfg *config.Config, s *lakehouse.Session) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TABLE\tVERSION\tCOLUMNS")
				for _, t := range s.Catalog().ListTables() {
					cols := make([]string, len(t.Columns))
					for i, c := range t.Columns {
						cols[i] = c.Name + ":" + c.Type.String()
					}
					id := catalog.Identifier{Catalog: s.Catalog().Name(), Namespace: t.Namespace, Table: t.Name}
					fmt.Fprintf(w, "%s\t%d\t%s\n", id, t.Version, strings.Join(cols, ","))
				}
				return w.Flush()
			})
		},
	}
}
