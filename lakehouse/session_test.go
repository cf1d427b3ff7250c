package lakehouse

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/pipeline"
	"mit.edu/dsg/topsales/storage"
)

const ordersData = `{"order_id": 1, "delivery_city": "Leeds", "created_at": "2005-09-23 10:15:00", "item_id": 10, "quantity": 3}
{"order_id": 2, "delivery_city": "Leeds", "created_at": "2005-09-23 10:20:00", "item_id": 11, "quantity": 5}
{"order_id": 3, "delivery_city": "York", "created_at": "2005-09-23 10:54:59", "item_id": 10, "quantity": 4}
{"order_id": 4, "delivery_city": "York", "created_at": "2005-09-23 09:00:00", "item_id": 12, "quantity": 90}
`

// Order items name the item column "id"; jobs map it back to item_id.
const itemsData = `{"order_id": 1, "id": 10}
{"order_id": 1, "id": 10}
{"order_id": 2, "id": 11}
{"order_id": 3, "id": 10}
{"order_id": 4, "id": 12}
`

func id(table string) catalog.Identifier {
	return catalog.Identifier{Catalog: "bqms", Namespace: "ecommerce", Table: table}
}

func testJob() pipeline.Job {
	return pipeline.Job{
		Orders:            id("orders"),
		OrderItems:        id("order_items"),
		Output:            id(pipeline.OutputTableName),
		OrderItemsColumns: pipeline.ColumnMapping{pipeline.ColItemID: "id"},
		DataQuality:       pipeline.RejectInvalid,
		Params: pipeline.Params{
			ReferenceTime: time.Date(2005, 9, 23, 10, 55, 0, 0, time.UTC),
			Window:        time.Hour,
			TopN:          10,
		},
	}
}

// setupWarehouse initializes a warehouse holding both sources and returns its options.
func setupWarehouse(t *testing.T, orders, items string) Options {
	t.Helper()
	logger, _ := test.NewNullLogger()
	opts := Options{Warehouse: t.TempDir(), Catalog: "bqms", Logger: logger}
	require.NoError(t, Init(opts))

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	_, err = s.RegisterTable(id("orders"), pipeline.OrdersColumns)
	require.NoError(t, err)
	_, err = s.RegisterTable(id("order_items"), []catalog.Column{
		{Name: "order_id", Type: common.IntType},
		{Name: "id", Type: common.IntType},
	})
	require.NoError(t, err)

	_, n, err := s.Import(context.Background(), id("orders"), strings.NewReader(orders))
	require.NoError(t, err)
	assert.Equal(t, strings.Count(orders, "\n"), n)
	_, _, err = s.Import(context.Background(), id("order_items"), strings.NewReader(items))
	require.NoError(t, err)
	return opts
}

func run(t *testing.T, opts Options, job pipeline.Job) (*pipeline.Result, error) {
	t.Helper()
	return pipeline.NewRunner("lakehouse", Opener(opts), opts.Logger).Run(context.Background(), job)
}

func readOutput(t *testing.T, opts Options) (*catalog.Table, []pipeline.TopNRow, []byte) {
	t.Helper()
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	table, err := s.Catalog().Resolve(id(pipeline.OutputTableName))
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(opts.Warehouse, filepath.FromSlash(table.Location)))
	require.NoError(t, err)
	heap, err := storage.ReadTableFile(bytes.NewReader(raw), table)
	require.NoError(t, err)
	return table, pipeline.OutputRows(heap), raw
}

func TestSession_RunReplacesOutput(t *testing.T) {
	opts := setupWarehouse(t, ordersData, itemsData)

	result, err := run(t, opts, testJob())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Orders.RowsRead)
	assert.Equal(t, 5, result.OrderItems.RowsRead)
	assert.Equal(t, 3, result.RowsWritten)
	assert.Equal(t, int64(1), result.Version)
	assert.NotEmpty(t, result.RunID)

	table, rows, first := readOutput(t, opts)
	assert.Equal(t, pipeline.OutputColumns, table.Columns)
	assert.Equal(t, []pipeline.TopNRow{
		{DeliveryCity: "Leeds", ItemID: 11, TotalQuantitySold: 5, SalesRank: 1},
		{DeliveryCity: "Leeds", ItemID: 10, TotalQuantitySold: 3, SalesRank: 2},
		{DeliveryCity: "York", ItemID: 10, TotalQuantitySold: 4, SalesRank: 1},
	}, rows)

	result, err = run(t, opts, testJob())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Version)
	_, _, second := readOutput(t, opts)
	assert.Equal(t, first, second, "rerunning on unchanged inputs writes identical bytes")

	entries, err := os.ReadDir(filepath.Join(opts.Warehouse, "ecommerce", pipeline.OutputTableName))
	require.NoError(t, err)
	require.Len(t, entries, 1, "superseded versions are removed")
	assert.Equal(t, "v000002.jsonl", entries[0].Name())
}

func TestSession_FailuresLeaveOutputUntouched(t *testing.T) {
	opts := setupWarehouse(t, ordersData, itemsData)
	_, err := run(t, opts, testJob())
	require.NoError(t, err)
	_, before, _ := readOutput(t, opts)

	t.Run("schema mismatch", func(t *testing.T) {
		job := testJob()
		job.OrderItemsColumns = nil
		_, err := run(t, opts, job)
		require.Error(t, err)
		assert.True(t, common.IsErrorCode(err, common.SchemaMismatchError))
		assert.Contains(t, err.Error(), "has no column 'item_id'")
	})
	t.Run("missing table", func(t *testing.T) {
		job := testJob()
		job.Orders = id("orderz")
		_, err := run(t, opts, job)
		assert.True(t, common.IsErrorCode(err, common.NoSuchObjectError))
	})
	t.Run("wrong catalog", func(t *testing.T) {
		job := testJob()
		job.Output.Catalog = "other"
		_, err := run(t, opts, job)
		assert.True(t, common.IsErrorCode(err, common.NoSuchObjectError))
	})
	t.Run("same source twice", func(t *testing.T) {
		job := testJob()
		job.OrderItems = job.Orders
		_, err := run(t, opts, job)
		assert.True(t, common.IsErrorCode(err, common.ConfigurationError))
	})

	table, after, _ := readOutput(t, opts)
	assert.Equal(t, int64(1), table.Version)
	assert.Equal(t, before, after)
}

func TestSession_DataQuality(t *testing.T) {
	orders := ordersData + `{"order_id": 5, "delivery_city": null, "created_at": "2005-09-23 10:30:00", "item_id": 10, "quantity": 1}
{"order_id": 6, "delivery_city": "York", "created_at": "2005-09-23 10:30:00", "item_id": 10, "quantity": -2}
`
	opts := setupWarehouse(t, orders, itemsData)

	_, err := run(t, opts, testJob())
	require.Error(t, err)
	assert.True(t, common.IsErrorCode(err, common.ValidationError))
	assert.Contains(t, err.Error(), "2 rows of 'orders' violate data quality rules")
	assert.Contains(t, err.Error(), "column 'quantity' is negative (-2)")

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	_, err = s.Catalog().Resolve(id(pipeline.OutputTableName))
	assert.True(t, common.IsErrorCode(err, common.NoSuchObjectError), "a rejected run creates no output")
	require.NoError(t, s.Close())

	job := testJob()
	job.DataQuality = pipeline.FilterInvalid
	result, err := run(t, opts, job)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Orders.RowsRead)
	assert.Equal(t, 2, result.Orders.RowsFiltered)
	assert.Equal(t, 3, result.RowsWritten)
}

func TestSession_Explain(t *testing.T) {
	opts := setupWarehouse(t, ordersData, itemsData)
	plan, err := pipeline.NewRunner("lakehouse", Opener(opts), opts.Logger).Explain(context.Background(), testJob())
	require.NoError(t, err)
	assert.Contains(t, plan, "source ecommerce.orders version 1")
	assert.Contains(t, plan, "replace bqms.ecommerce.top_n_items_per_city_recent with version 1")
	assert.Contains(t, plan, "HashJoin")
	assert.Contains(t, plan, "RANK()")
}

func TestSession_CanceledRunWritesNothing(t *testing.T) {
	opts := setupWarehouse(t, ordersData, itemsData)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.NewRunner("lakehouse", Opener(opts), opts.Logger).Run(ctx, testJob())
	require.ErrorIs(t, err, context.Canceled)
	_, err = os.Stat(filepath.Join(opts.Warehouse, "ecommerce", pipeline.OutputTableName))
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Options{Warehouse: filepath.Join(t.TempDir(), "missing"), Catalog: "bqms"})
	assert.True(t, common.IsErrorCode(err, common.ConnectivityError))

	opts := setupWarehouse(t, ordersData, itemsData)
	opts.Catalog = "other"
	_, err = Open(context.Background(), opts)
	assert.True(t, common.IsErrorCode(err, common.ConfigurationError))
	require.NoError(t, Init(Options{Warehouse: opts.Warehouse, Catalog: "bqms"}), "init is idempotent")
}

func TestSession_ImportRejectsBadFile(t *testing.T) {
	opts := setupWarehouse(t, ordersData, itemsData)
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	_, _, err = s.Import(context.Background(), id("orders"), strings.NewReader(`{"order_id": "x"}`))
	assert.True(t, common.IsErrorCode(err, common.ValidationError))
	table, err := s.Catalog().Resolve(id("orders"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), table.Version)
}
