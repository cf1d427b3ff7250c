package cmd

import (
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mit.edu/dsg/topsales/config"
	"mit.edu/dsg/topsales/lakehouse"
	"mit.edu/dsg/topsales/logging"
	"mit.edu/dsg/topsales/pipeline"
	"mit.edu/dsg/topsales/sqlengine"
)

// app is the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	now     func() time.Time
	logOut  io.Writer
}

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	return rootCmd(&app{v: config.New(), now: time.Now, logOut: os.Stderr})
}

func rootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "topsales",
		Short:         "topsales computes the best-selling items per delivery city over a recent window.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./topsales.yaml when present)")
	flags.String("engine", "", "execution engine: lakehouse or sql")
	flags.String("catalog", "", "catalog name")
	flags.String("namespace", "", "namespace of unqualified table names")
	flags.String("warehouse", "", "lakehouse warehouse directory")
	flags.String("sql-driver", "", "SQL driver: sqlite or pgx")
	flags.String("sql-dsn", "", "SQL data source: a directory for sqlite, a connection string for pgx")
	flags.String("log-level", "", "log level")
	flags.String("log-format", "", "log format: text or json")
	a.bind(flags, map[string]string{
		"engine":              "engine",
		"catalog":             "catalog",
		"namespace":           "namespace",
		"lakehouse.warehouse": "warehouse",
		"sql.driver":          "sql-driver",
		"sql.dsn":             "sql-dsn",
		"log.level":           "log-level",
		"log.format":          "log-format",
	})

	cmd.AddCommand(
		runCmd(a),
		catalogCmd(a),
		importCmd(a),
	)
	return cmd
}

// bind makes flags override the configuration keys they map to, but only when given on the command line.
func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// load reads the configuration and configures logging from it.
func (a *app) load() (*config.Config, error) {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(a.v, a.now)
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format, a.logOut); err != nil {
		return nil, err
	}
	return cfg, nil
}

func lakehouseOptions(cfg *config.Config) lakehouse.Options {
	return lakehouse.Options{Warehouse: cfg.Lakehouse.Warehouse, Catalog: cfg.Catalog, Logger: log.StandardLogger()}
}

func opener(cfg *config.Config) pipeline.Opener {
	if cfg.Engine == config.EngineSQL {
		return sqlengine.Opener(sqlengine.Options{Driver: cfg.SQL.Driver, DSN: cfg.SQL.DSN, Logger: log.StandardLogger()})
	}
	return lakehouse.Opener(lakehouseOptions(cfg))
}
