// Package config loads the job configuration from defaults, an optional YAML file, TOPSALES_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/pipeline"
	"mit.edu/dsg/topsales/sqlengine"
)

// Engines.
const (
	EngineLakehouse = "lakehouse"
	EngineSQL       = "sql"
)

// EnvPrefix prefixes every environment variable the job reads: lakehouse.warehouse is TOPSALES_LAKEHOUSE_WAREHOUSE.
const EnvPrefix = "TOPSALES"

// ReferenceTimeNow selects the wall clock as the reference time.
const ReferenceTimeNow = "now"

type Config struct {
	Engine    string       `mapstructure:"engine"`
	Catalog   string       `mapstructure:"catalog"`
	Namespace string       `mapstructure:"namespace"`
	Tables    TablesConfig `mapstructure:"tables"`

	ReferenceTime time.Time     `mapstructure:"reference_time"`
	Window        time.Duration `mapstructure:"window"`
	TopN          int           `mapstructure:"top_n"`
	DataQuality   string        `mapstructure:"data_quality"`

	Lakehouse LakehouseConfig `mapstructure:"lakehouse"`
	SQL       SQLConfig       `mapstructure:"sql"`
	Log       LogConfig       `mapstructure:"log"`
	// MetricsFile, when set, receives the job metrics in the Prometheus text format after every run.
	MetricsFile string `mapstructure:"metrics_file"`
}

// TablesConfig names the tables of a job. A name without dots lives in the configured catalog and namespace;
// otherwise it must be a full <catalog>.<namespace>.<table> identifier.
type TablesConfig struct {
	Orders     string `mapstructure:"orders"`
	OrderItems string `mapstructure:"order_items"`
	Output     string `mapstructure:"output"`
	// OrdersColumns and OrderItemsColumns map canonical column names to source column names.
	OrdersColumns     map[string]string `mapstructure:"orders_columns"`
	OrderItemsColumns map[string]string `mapstructure:"order_items_columns"`
}

type LakehouseConfig struct {
	Warehouse string `mapstructure:"warehouse"`
}

type SQLConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults installs the defaults of every key. They reproduce the historical job: catalog bqms, namespace
// ecommerce, a one hour window ending at 2005-09-23 10:55:00 and the top 10 items.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("engine", EngineLakehouse)
	v.SetDefault("catalog", "bqms")
	v.SetDefault("namespace", "ecommerce")
	v.SetDefault("tables.orders", "orders")
	v.SetDefault("tables.order_items", "order_items")
	v.SetDefault("tables.output", pipeline.OutputTableName)
	v.SetDefault("tables.orders_columns", map[string]string{})
	v.SetDefault("tables.order_items_columns", map[string]string{})
	v.SetDefault("reference_time", "2005-09-23 10:55:00")
	v.SetDefault("window", "1h")
	v.SetDefault("top_n", 10)
	v.SetDefault("data_quality", string(pipeline.RejectInvalid))
	v.SetDefault("lakehouse.warehouse", "warehouse")
	v.SetDefault("sql.driver", sqlengine.DriverSQLite)
	v.SetDefault("sql.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics_file", "")
}

// New returns a viper instance with defaults and environment binding in place.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile merges a YAML configuration file into v. With an empty path, topsales.yaml is looked up in the
// working directory and then the home directory, and a missing file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("topsales")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return common.NewError(common.ConfigurationError, "reading config file %s: %v", path, err)
	}
	return nil
}

// Load decodes v into a validated Config. now supplies the wall clock for reference_time "now".
func Load(v *viper.Viper, now func() time.Time) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		TimestampHookFunc(now),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, common.NewError(common.ConfigurationError, "decoding configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TimestampHookFunc decodes strings into UTC timestamps, accepting any layout dateparse recognizes and "now".
func TimestampHookFunc(now func() time.Time) mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if strings.EqualFold(s, ReferenceTimeNow) {
			return now().UTC(), nil
		}
		ts, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid timestamp '%s'", s)
		}
		return ts.UTC(), nil
	}
}

// Validate checks settings that do not depend on any table.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineLakehouse:
		if c.Lakehouse.Warehouse == "" {
			return common.NewError(common.ConfigurationError, "lakehouse.warehouse must be set")
		}
	case EngineSQL:
		if c.SQL.Driver != sqlengine.DriverSQLite && c.SQL.Driver != sqlengine.DriverPostgres {
			return common.NewError(common.ConfigurationError, "unsupported sql.driver '%s' (want %s or %s)",
				c.SQL.Driver, sqlengine.DriverSQLite, sqlengine.DriverPostgres)
		}
		if c.SQL.DSN == "" {
			return common.NewError(common.ConfigurationError, "sql.dsn must be set")
		}
	default:
		return common.NewError(common.ConfigurationError, "unknown engine '%s' (want %s or %s)", c.Engine, EngineLakehouse, EngineSQL)
	}
	if c.Catalog == "" || c.Namespace == "" {
		return common.NewError(common.ConfigurationError, "catalog and namespace must be set")
	}
	if _, err := pipeline.ParseDataQualityPolicy(c.DataQuality); err != nil {
		return err
	}
	if _, err := c.Job(); err != nil {
		return err
	}
	return c.Params().Validate()
}

// Params returns the run parameters.
func (c *Config) Params() pipeline.Params {
	return pipeline.Params{ReferenceTime: c.ReferenceTime, Window: c.Window, TopN: c.TopN}
}

// Identifier qualifies a configured table name.
func (c *Config) Identifier(name string) (catalog.Identifier, error) {
	if strings.Contains(name, ".") {
		return catalog.ParseIdentifier(name)
	}
	if name == "" {
		return catalog.Identifier{}, common.NewError(common.ConfigurationError, "empty table name")
	}
	return catalog.Identifier{Catalog: c.Catalog, Namespace: c.Namespace, Table: name}, nil
}

// Job builds the pipeline job the configuration describes.
func (c *Config) Job() (pipeline.Job, error) {
	policy, err := pipeline.ParseDataQualityPolicy(c.DataQuality)
	if err != nil {
		return pipeline.Job{}, err
	}
	job := pipeline.Job{
		OrdersColumns:     mapping(c.Tables.OrdersColumns),
		OrderItemsColumns: mapping(c.Tables.OrderItemsColumns),
		DataQuality:       policy,
		Params:            c.Params(),
	}
	for _, t := range []struct {
		name string
		id   *catalog.Identifier
	}{
		{c.Tables.Orders, &job.Orders},
		{c.Tables.OrderItems, &job.OrderItems},
		{c.Tables.Output, &job.Output},
	} {
		if *t.id, err = c.Identifier(t.name); err != nil {
			return pipeline.Job{}, err
		}
	}
	return job, nil
}

func mapping(m map[string]string) pipeline.ColumnMapping {
	if len(m) == 0 {
		return nil
	}
	out := make(pipeline.ColumnMapping, len(m))
	for canonical, physical := range m {
		out[strings.ToLower(canonical)] = physical
	}
	return out
}
