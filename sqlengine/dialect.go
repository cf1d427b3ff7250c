package sqlengine

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "modernc.org/sqlite"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
)

// Supported database/sql drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const (
	sqliteDialect   = "topsales_sqlite3"
	postgresDialect = "topsales_postgres"
)

// Timestamps are interpolated as fixed-width UTC literals so that generated SQL is stable across runs.
func init() {
	lite := sqlite3.DialectOptions()
	lite.SupportsWindowFunction = true
	lite.TimeFormat = common.TimestampLayout
	goqu.RegisterDialect(sqliteDialect, lite)

	pg := postgres.DialectOptions()
	pg.SupportsWindowFunction = true
	pg.TimeFormat = common.TimestampLayout
	goqu.RegisterDialect(postgresDialect, pg)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialect holds what differs between the supported databases.
type dialect struct {
	driver string
	goqu   goqu.DialectWrapper

	// catalogName reports the name the database answers to.
	catalogName func(ctx context.Context, conn *sql.Conn, dsn string) (string, error)
	// attach makes a namespace addressable as a schema on conn.
	attach func(ctx context.Context, conn *sql.Conn, dsn, namespace string) error
	// tableExists builds a query counting tables or views named table in namespace.
	tableExists func(namespace, table string) *goqu.SelectDataset
	// createdAtSince is the recency predicate on a timestamp column.
	createdAtSince func(col exp.IdentifierExpression, bound string) exp.Expression
	// boundLayout formats the lower bound of the recency window.
	boundLayout string
	// valueChecks flags stored values the column's type cannot hold, for databases that do not enforce
	// column types.
	valueChecks func(column catalog.Column) []qualityCheck
}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialectImpl(), nil
	case DriverPostgres:
		return postgresDialectImpl(), nil
	}
	return nil, common.NewError(common.ConfigurationError, "unsupported SQL driver '%s' (want %s or %s)",
		driver, DriverSQLite, DriverPostgres)
}

// With SQLite the DSN is a directory. Each namespace is a database file <namespace>.db inside it, attached
// under the namespace name, and the catalog is named after the directory.
func sqliteDialectImpl() *dialect {
	return &dialect{
		driver: DriverSQLite,
		goqu:   goqu.Dialect(sqliteDialect),
		catalogName: func(_ context.Context, _ *sql.Conn, dsn string) (string, error) {
			return filepath.Base(filepath.Clean(dsn)), nil
		},
		attach: func(ctx context.Context, conn *sql.Conn, dsn, namespace string) error {
			path := filepath.Join(dsn, strings.ToLower(namespace)+".db")
			if _, err := os.Stat(path); err != nil {
				return common.NewError(common.NoSuchObjectError, "namespace '%s' does not exist (no %s)", namespace, path)
			}
			_, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS "`+strings.ToLower(namespace)+`"`, path)
			return err
		},
		tableExists: func(namespace, table string) *goqu.SelectDataset {
			return goqu.Dialect(sqliteDialect).
				From(goqu.S(namespace).Table("sqlite_master")).
				Select(goqu.COUNT("*")).
				Where(
					goqu.C("type").In("table", "view"),
					goqu.Func("lower", goqu.C("name")).Eq(table))
		},
		// strftime normalizes any textual timestamp SQLite understands, zone suffixes included, to UTC at
		// millisecond precision.
		createdAtSince: func(col exp.IdentifierExpression, bound string) exp.Expression {
			return goqu.Func("strftime", sqliteTimeFormat, col).Gte(bound)
		},
		boundLayout: "2006-01-02 15:04:05.000",
		valueChecks: sqliteValueChecks,
	}
}

const sqliteTimeFormat = "%Y-%m-%d %H:%M:%f"

// SQLite keeps whatever value it is given. Timestamps must be time strings strftime can read, since numbers
// would be taken as Julian days, and integer columns must hold integers.
func sqliteValueChecks(column catalog.Column) []qualityCheck {
	col := goqu.C(column.Name)
	switch column.Type {
	case common.TimestampType:
		return []qualityCheck{{
			column:  column.Name,
			problem: "is not a timestamp",
			cond: goqu.And(col.IsNotNull(), goqu.Or(
				goqu.Func("typeof", col).Neq("text"),
				goqu.Func("strftime", sqliteTimeFormat, col).IsNull())),
		}}
	case common.IntType:
		return []qualityCheck{{
			column:  column.Name,
			problem: "is not an integer",
			cond:    goqu.And(col.IsNotNull(), goqu.Func("typeof", col).Neq("integer")),
		}}
	}
	return nil
}

// With PostgreSQL the catalog is the database and namespaces are schemas.
func postgresDialectImpl() *dialect {
	return &dialect{
		driver: DriverPostgres,
		goqu:   goqu.Dialect(postgresDialect),
		catalogName: func(ctx context.Context, conn *sql.Conn, _ string) (string, error) {
			var name string
			err := conn.QueryRowContext(ctx, "SELECT current_database()").Scan(&name)
			return name, err
		},
		attach: func(context.Context, *sql.Conn, string, string) error {
			return nil
		},
		tableExists: func(namespace, table string) *goqu.SelectDataset {
			return goqu.Dialect(postgresDialect).
				From(goqu.S("information_schema").Table("tables")).
				Select(goqu.COUNT("*")).
				Where(
					goqu.C("table_schema").Eq(namespace),
					goqu.C("table_name").Eq(table))
		},
		createdAtSince: func(col exp.IdentifierExpression, bound string) exp.Expression {
			return col.Gte(goqu.L("?::timestamp", bound))
		},
		boundLayout: common.TimestampLayout,
		valueChecks: func(catalog.Column) []qualityCheck {
			return nil
		},
	}
}

// sqlType maps a database type name to the value type it holds. Unknown names map to DefaultType, which
// matches any required type.
func sqlType(dbType string) common.Type {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "INT"):
		return common.IntType
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"), strings.Contains(t, "STRING"):
		return common.StringType
	case strings.Contains(t, "TIME"), strings.Contains(t, "DATE"):
		return common.TimestampType
	}
	return common.DefaultType
}
