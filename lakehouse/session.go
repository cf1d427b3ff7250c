// Package lakehouse runs the pipeline against a local warehouse: a directory holding the catalog file and one
// JSON Lines data file per table version.
package lakehouse

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/pipeline"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

type Options struct {
	// Warehouse is the root directory of the warehouse.
	Warehouse string
	// Catalog is the name the warehouse catalog must carry.
	Catalog string
	Logger  log.FieldLogger
}

// Session is a pipeline.Session over a warehouse.
type Session struct {
	warehouse *storage.Warehouse
	name      string
	catalog   *catalog.Catalog
	log       log.FieldLogger
	closed    bool
}

var _ pipeline.Session = (*Session)(nil)

// Init creates the warehouse directory and an empty catalog in it. Initializing an existing warehouse with the
// same catalog name is a no-op.
func Init(opts Options) error {
	if err := os.MkdirAll(opts.Warehouse, 0o755); err != nil {
		return errors.Wrapf(err, "creating warehouse %s", opts.Warehouse)
	}
	wh := storage.NewWarehouse(opts.Warehouse)
	cat, err := catalog.NewCatalog(opts.Catalog, wh.CatalogManager())
	if err != nil {
		return err
	}
	if _, err := wh.CatalogManager().LoadCatalogState(); errors.Is(err, os.ErrNotExist) {
		jsonData := cat.String()
		return wh.CatalogManager().SaveCatalogState(jsonData)
	}
	return nil
}

// Open opens the warehouse at opts.Warehouse, which must already exist.
func Open(_ context.Context, opts Options) (*Session, error) {
	info, err := os.Stat(opts.Warehouse)
	if err != nil || !info.IsDir() {
		return nil, common.NewError(common.ConnectivityError, "warehouse %s is not a directory (run 'catalog init' first)", opts.Warehouse)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Session{
		warehouse: storage.NewWarehouse(opts.Warehouse),
		name:      opts.Catalog,
		log:       logger.WithField("warehouse", opts.Warehouse),
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Opener adapts Open to pipeline.Opener.
func Opener(opts Options) pipeline.Opener {
	return func(ctx context.Context) (pipeline.Session, error) {
		return Open(ctx, opts)
	}
}

// refresh reloads the catalog so that the session sees commits made since it was opened.
func (s *Session) refresh() error {
	cat, err := catalog.NewCatalog(s.name, s.warehouse.CatalogManager())
	if err != nil {
		return err
	}
	s.catalog = cat
	return nil
}

func (s *Session) checkOpen() error {
	if s.closed {
		return errors.New("lakehouse session is closed")
	}
	return nil
}

// Catalog returns the catalog as of the last refresh.
func (s *Session) Catalog() *catalog.Catalog {
	return s.catalog
}

type source struct {
	table   *catalog.Table
	columns []catalog.Column
	mapping pipeline.ColumnMapping
}

// resolveSources finds both inputs in the catalog and checks their schemas before any data is read.
func (s *Session) resolveSources(job pipeline.Job) (orders, items source, err error) {
	if !strings.EqualFold(job.Output.Catalog, s.catalog.Name()) {
		return source{}, source{}, common.NewError(common.NoSuchObjectError, "catalog '%s' does not exist (this is '%s')",
			job.Output.Catalog, s.catalog.Name())
	}
	orders = source{columns: pipeline.OrdersColumns, mapping: job.OrdersColumns}
	items = source{columns: pipeline.OrderItemsColumns, mapping: job.OrderItemsColumns}
	if orders.table, err = s.catalog.Resolve(job.Orders); err != nil {
		return source{}, source{}, err
	}
	if items.table, err = s.catalog.Resolve(job.OrderItems); err != nil {
		return source{}, source{}, err
	}
	if orders.table.Oid == items.table.Oid {
		return source{}, source{}, common.NewError(common.ConfigurationError, "orders and order items both name table '%s'", job.Orders)
	}
	for _, src := range []source{orders, items} {
		if _, err := pipeline.ResolveColumns(src.table.Name, src.table.Columns, src.columns, src.mapping); err != nil {
			return source{}, source{}, err
		}
	}
	return orders, items, nil
}

// load reads one source and brings it into canonical shape under the data-quality policy.
func (s *Session) load(ctx context.Context, src source, policy pipeline.DataQualityPolicy) (*storage.TableHeap, pipeline.SourceStats, error) {
	var stats pipeline.SourceStats
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	raw, err := s.warehouse.Load(src.table)
	if err != nil {
		return nil, stats, err
	}
	stats.RowsRead = raw.NumRows()
	heap, err := pipeline.Conform(raw, src.columns, src.mapping)
	if err != nil {
		return nil, stats, err
	}
	heap, stats.RowsFiltered, err = pipeline.ApplyDataQuality(heap, policy)
	if err != nil {
		return nil, stats, err
	}
	if stats.RowsFiltered > 0 {
		s.log.WithFields(log.Fields{"table": src.table.Name, "rows_filtered": stats.RowsFiltered}).
			Warn("Dropped rows that violate data quality rules")
	}
	return heap, stats, nil
}

// Execute implements pipeline.Session.
func (s *Session) Execute(ctx context.Context, job pipeline.Job) (*pipeline.Result, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.refresh(); err != nil {
		return nil, err
	}
	orders, items, err := s.resolveSources(job)
	if err != nil {
		return nil, err
	}

	result := &pipeline.Result{RunID: job.RunID, Output: job.Output}
	var rel pipeline.Relations
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rel.Orders, result.Orders, err = s.load(gctx, orders, job.DataQuality)
		return errors.WithMessagef(err, "loading %s", job.Orders)
	})
	g.Go(func() error {
		var err error
		rel.OrderItems, result.OrderItems, err = s.load(gctx, items, job.DataQuality)
		return errors.WithMessagef(err, "loading %s", job.OrderItems)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := pipeline.Execute(ctx, rel, job.Params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	committed, err := s.replace(job.Output, out)
	if err != nil {
		return nil, err
	}
	result.RowsWritten = out.NumRows()
	result.Version = committed.Version
	return result, nil
}

// replace writes heap as the next version of the table named id and commits it. Until the commit succeeds
// readers keep seeing the previous version; after it, the previous data file is removed.
func (s *Session) replace(id catalog.Identifier, heap *storage.TableHeap) (*catalog.Table, error) {
	if !strings.EqualFold(id.Catalog, s.catalog.Name()) {
		return nil, common.NewError(common.NoSuchObjectError, "catalog '%s' does not exist (this is '%s')", id.Catalog, s.catalog.Name())
	}
	previous := ""
	if existing, err := s.catalog.GetTableMetadata(id.Namespace, id.Table); err == nil {
		previous = existing.Location
	}

	snap := s.catalog.NextSnapshot(id.Namespace, id.Table)
	if err := s.warehouse.Write(snap.Location, heap); err != nil {
		return nil, common.NewError(common.ConnectivityError, "writing %s: %v", id, err)
	}
	committed, err := s.catalog.CreateOrReplaceTable(id.Namespace, id.Table, heap.Columns(), snap, s.warehouse.CatalogManager())
	if err != nil {
		if rmErr := s.warehouse.Remove(snap.Location); rmErr != nil {
			s.log.WithError(rmErr).Warnf("Could not remove uncommitted data file %s", snap.Location)
		}
		return nil, errors.WithMessagef(err, "committing %s", id)
	}
	if previous != "" && previous != committed.Location {
		if err := s.warehouse.Remove(previous); err != nil {
			s.log.WithError(err).Warnf("Could not remove superseded data file %s", previous)
		}
	}
	s.log.WithFields(log.Fields{"table": id.String(), "version": committed.Version, "rows": heap.NumRows()}).
		Info("Committed table version")
	return committed, nil
}

// Explain implements pipeline.Session.
func (s *Session) Explain(job pipeline.Job) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	orders, items, err := s.resolveSources(job)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, src := range []source{orders, items} {
		fmt.Fprintf(&sb, "source %s.%s version %d (%d columns)\n", src.table.Namespace, src.table.Name, src.table.Version, len(src.table.Columns))
	}
	next := s.catalog.NextSnapshot(job.Output.Namespace, job.Output.Table)
	fmt.Fprintf(&sb, "replace %s with version %d at %s\n", job.Output, next.Version, next.Location)
	sb.WriteString(planner.Explain(pipeline.BuildPlan(orders.table.Oid, items.table.Oid, orders.table.Name, items.table.Name, job.Params)))
	return sb.String(), nil
}

// Close implements pipeline.Session.
func (s *Session) Close() error {
	if s.closed {
		return errors.New("lakehouse session closed twice")
	}
	s.closed = true
	return nil
}

// RegisterTable adds an empty table to the catalog.
func (s *Session) RegisterTable(id catalog.Identifier, columns []catalog.Column) (*catalog.Table, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !strings.EqualFold(id.Catalog, s.catalog.Name()) {
		return nil, common.NewError(common.NoSuchObjectError, "catalog '%s' does not exist (this is '%s')", id.Catalog, s.catalog.Name())
	}
	return s.catalog.AddTable(id.Namespace, id.Table, columns, s.warehouse.CatalogManager())
}

// Import replaces the contents of a registered table with the rows read from r. The rows are fully decoded and
// checked against the table schema before anything is written.
func (s *Session) Import(ctx context.Context, id catalog.Identifier, r io.Reader) (*catalog.Table, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	table, err := s.catalog.Resolve(id)
	if err != nil {
		return nil, 0, err
	}
	heap, err := storage.ReadTableFile(r, table)
	if err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	committed, err := s.replace(id, heap)
	if err != nil {
		return nil, 0, err
	}
	return committed, heap.NumRows(), nil
}
