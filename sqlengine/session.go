// Package sqlengine runs the pipeline inside a SQL database. Every step is a temporary view on one pinned
// connection and the output table is replaced inside a transaction.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/pipeline"
)

const (
	connectAttempts = 3
	connectDelay    = 200 * time.Millisecond
)

type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is a directory for SQLite and a connection string for PostgreSQL.
	DSN    string
	Logger log.FieldLogger
}

// Session is a pipeline.Session over one database connection.
type Session struct {
	dialect *dialect
	dsn     string
	db      *sql.DB
	conn    *sql.Conn
	catalog string
	// attached tracks the namespaces made addressable on conn.
	attached map[string]bool
	// views tracks the temporary views created on conn, so that Close can drop them.
	views map[string]bool
	log   log.FieldLogger
}

var _ pipeline.Session = (*Session)(nil)

// Open connects to the database and pins the connection every statement of the session runs on.
func Open(ctx context.Context, opts Options) (s *Session, err error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	dsn := opts.DSN
	if d.driver == DriverSQLite {
		// Namespaces are attached to an in-memory main database.
		dsn = ":memory:"
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, common.NewError(common.ConnectivityError, "opening %s database: %v", d.driver, err)
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	err = retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(connectDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).WithField("attempt", n+1).Warn("Database not reachable, retrying")
		}),
	)
	if err != nil {
		return nil, common.NewError(common.ConnectivityError, "connecting to %s database: %v", d.driver, err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, common.NewError(common.ConnectivityError, "acquiring %s connection: %v", d.driver, err)
	}
	name, err := d.catalogName(ctx, conn, opts.DSN)
	if err != nil {
		_ = conn.Close()
		return nil, common.NewError(common.ConnectivityError, "reading database name: %v", err)
	}
	return &Session{
		dialect:  d,
		dsn:      opts.DSN,
		db:       db,
		conn:     conn,
		catalog:  name,
		attached: make(map[string]bool),
		views:    make(map[string]bool),
		log:      logger.WithFields(log.Fields{"driver": d.driver, "catalog": name}),
	}, nil
}

// Opener adapts Open to pipeline.Opener.
func Opener(opts Options) pipeline.Opener {
	return func(ctx context.Context) (pipeline.Session, error) {
		return Open(ctx, opts)
	}
}

// CatalogName is the name identifiers must use to address this database.
func (s *Session) CatalogName() string {
	return s.catalog
}

// table checks that id names a table of this database and returns its identifier. Names are folded to lower
// case, the way both databases treat unquoted identifiers.
func (s *Session) table(ctx context.Context, id catalog.Identifier, mustExist bool) (exp.IdentifierExpression, error) {
	if !strings.EqualFold(id.Catalog, s.catalog) {
		return nil, common.NewError(common.NoSuchObjectError, "catalog '%s' does not exist (this is '%s')", id.Catalog, s.catalog)
	}
	namespace, table := strings.ToLower(id.Namespace), strings.ToLower(id.Table)
	if !identifierPattern.MatchString(namespace) || !identifierPattern.MatchString(table) {
		return nil, common.NewError(common.ConfigurationError, "'%s' is not a plain SQL identifier", id)
	}
	if !s.attached[namespace] {
		if err := s.dialect.attach(ctx, s.conn, s.dsn, namespace); err != nil {
			return nil, wrapQueryError(err, "attaching namespace %s", namespace)
		}
		s.attached[namespace] = true
	}
	if mustExist {
		query, _, err := s.dialect.tableExists(namespace, table).ToSQL()
		if err != nil {
			return nil, err
		}
		var n int64
		if err := s.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, wrapQueryError(err, "looking up %s", id)
		}
		if n == 0 {
			return nil, common.NewError(common.NoSuchObjectError, "table '%s' does not exist", id)
		}
	}
	return goqu.S(namespace).Table(table), nil
}

// describe reads the column names and types of a table without reading any rows.
func (s *Session) describe(ctx context.Context, id catalog.Identifier) (exp.IdentifierExpression, []catalog.Column, error) {
	table, err := s.table(ctx, id, true)
	if err != nil {
		return nil, nil, err
	}
	query, _, err := s.dialect.goqu.From(table).Where(goqu.L("1 = 0")).ToSQL()
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, wrapQueryError(err, "reading schema of %s", id)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, wrapQueryError(err, "reading schema of %s", id)
	}
	columns := make([]catalog.Column, len(types))
	for i, ct := range types {
		columns[i] = catalog.Column{Name: ct.Name(), Type: sqlType(ct.DatabaseTypeName())}
	}
	return table, columns, rows.Err()
}

// resolve finds the canonical columns of a source.
func (s *Session) resolve(ctx context.Context, id catalog.Identifier, required []catalog.Column, mapping pipeline.ColumnMapping) (resolvedSource, error) {
	table, columns, err := s.describe(ctx, id)
	if err != nil {
		return resolvedSource{}, err
	}
	positions, err := pipeline.ResolveColumns(id.Table, columns, required, mapping)
	if err != nil {
		return resolvedSource{}, err
	}
	src := resolvedSource{
		id:       id,
		table:    table,
		physical: make([]string, len(required)),
		columns:  required,
	}
	for i, pos := range positions {
		src.physical[i] = columns[pos].Name
	}
	return src, nil
}

func (s *Session) resolveSources(ctx context.Context, job pipeline.Job) (orders, items resolvedSource, output exp.IdentifierExpression, err error) {
	if strings.EqualFold(job.Orders.String(), job.OrderItems.String()) {
		return orders, items, nil, common.NewError(common.ConfigurationError, "orders and order items both name table '%s'", job.Orders)
	}
	if orders, err = s.resolve(ctx, job.Orders, pipeline.OrdersColumns, job.OrdersColumns); err != nil {
		return orders, items, nil, err
	}
	if items, err = s.resolve(ctx, job.OrderItems, pipeline.OrderItemsColumns, job.OrderItemsColumns); err != nil {
		return orders, items, nil, err
	}
	if output, err = s.table(ctx, job.Output, false); err != nil {
		return orders, items, nil, err
	}
	return orders, items, output, nil
}

// Execute implements pipeline.Session.
func (s *Session) Execute(ctx context.Context, job pipeline.Job) (*pipeline.Result, error) {
	if s.conn == nil {
		return nil, errors.New("sql session is closed")
	}
	orders, items, output, err := s.resolveSources(ctx, job)
	if err != nil {
		return nil, err
	}
	result := &pipeline.Result{RunID: job.RunID, Output: job.Output}
	if result.Orders, err = s.checkQuality(ctx, orders, job.DataQuality); err != nil {
		return nil, err
	}
	if result.OrderItems, err = s.checkQuality(ctx, items, job.DataQuality); err != nil {
		return nil, err
	}

	views, err := s.buildViews(orders, items, job.Params, job.DataQuality == pipeline.FilterInvalid)
	if err != nil {
		return nil, err
	}
	if err := s.createViews(ctx, views); err != nil {
		return nil, err
	}
	if result.RowsWritten, err = s.replace(ctx, output, job.Params); err != nil {
		return nil, err
	}
	s.log.WithFields(log.Fields{"table": job.Output.String(), "rows": result.RowsWritten}).Info("Replaced output table")
	return result, nil
}

func (s *Session) createViews(ctx context.Context, views []statement) error {
	for i := len(viewNames) - 1; i >= 0; i-- {
		if _, err := s.conn.ExecContext(ctx, "DROP VIEW IF EXISTS "+viewNames[i]); err != nil {
			return wrapQueryError(err, "dropping view %s", viewNames[i])
		}
		delete(s.views, viewNames[i])
	}
	for _, v := range views {
		s.log.WithField("view", v.name).Debug(v.sql)
		if _, err := s.conn.ExecContext(ctx, v.sql); err != nil {
			return wrapQueryError(err, "creating view %s", v.name)
		}
		s.views[v.name] = true
	}
	return nil
}

// replace recreates the output table in one transaction and returns its row count. Any failure rolls back, so
// the previous output survives.
func (s *Session) replace(ctx context.Context, output exp.IdentifierExpression, params pipeline.Params) (written int, err error) {
	stmts, err := s.replaceStatements(output, params)
	if err != nil {
		return 0, err
	}
	count, _, err := s.dialect.goqu.From(output).Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return 0, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapQueryError(err, "starting transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = multierror.Append(err, errors.Wrap(rbErr, "rolling back"))
			}
		}
	}()
	for _, stmt := range stmts {
		s.log.WithField("statement", stmt.name).Debug(stmt.sql)
		if _, err := tx.ExecContext(ctx, stmt.sql); err != nil {
			return 0, wrapQueryError(err, "executing %s", stmt.name)
		}
	}
	if err := tx.QueryRowContext(ctx, count).Scan(&written); err != nil {
		return 0, wrapQueryError(err, "counting output rows")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapQueryError(err, "committing")
	}
	return written, nil
}

// Explain implements pipeline.Session.
func (s *Session) Explain(job pipeline.Job) (string, error) {
	if s.conn == nil {
		return "", errors.New("sql session is closed")
	}
	ctx := context.Background()
	orders, items, output, err := s.resolveSources(ctx, job)
	if err != nil {
		return "", err
	}
	views, err := s.buildViews(orders, items, job.Params, job.DataQuality == pipeline.FilterInvalid)
	if err != nil {
		return "", err
	}
	replace, err := s.replaceStatements(output, job.Params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, stmt := range append(views, replace...) {
		fmt.Fprintf(&sb, "-- %s\n%s;\n", stmt.name, stmt.sql)
	}
	return sb.String(), nil
}

// Close drops the views of the session and releases the connection and the pool.
func (s *Session) Close() error {
	if s.conn == nil {
		return errors.New("sql session closed twice")
	}
	var result *multierror.Error
	for i := len(viewNames) - 1; i >= 0; i-- {
		if !s.views[viewNames[i]] {
			continue
		}
		if _, err := s.conn.ExecContext(context.Background(), "DROP VIEW IF EXISTS "+viewNames[i]); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "dropping view %s", viewNames[i]))
		}
	}
	if err := s.conn.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing connection"))
	}
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "closing database"))
	}
	s.conn = nil
	return result.ErrorOrNil()
}

// wrapQueryError marks database failures as connectivity errors unless they already carry a code or come from
// cancellation.
func wrapQueryError(err error, format string, args ...any) error {
	var coded common.Error
	if errors.As(err, &coded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedTable, pgerrcode.InvalidSchemaName:
			return common.NewError(common.NoSuchObjectError, "%s: %s", fmt.Sprintf(format, args...), pgErr.Message)
		case pgerrcode.UndefinedColumn, pgerrcode.DatatypeMismatch:
			return common.NewError(common.SchemaMismatchError, "%s: %s", fmt.Sprintf(format, args...), pgErr.Message)
		}
	}
	return common.NewError(common.ConnectivityError, "%s: %v", fmt.Sprintf(format, args...), err)
}
