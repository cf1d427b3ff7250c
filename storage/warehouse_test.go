package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
)

func TestWarehouse_WriteThenLoad(t *testing.T) {
	w := NewWarehouse(t.TempDir())
	table := ordersTable()

	heap := NewTableHeap(table)
	require.NoError(t, heap.InsertTuple(FromValues(common.NewIntValue(1), common.NewStringValue("Leeds"),
		common.NewTimestampValue(time.Date(2005, 9, 23, 10, 0, 0, 0, time.UTC)))))

	empty, err := w.Load(table)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumRows())

	table.Version = 1
	table.Location = catalog.DataLocation(table.Namespace, table.Name, table.Version)
	require.NoError(t, w.Write(table.Location, heap))

	loaded, err := w.Load(table)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.NumRows())
	assert.Equal(t, "Leeds", loaded.Row(0).GetValue(1).StringValue())

	again, err := w.Load(table)
	require.NoError(t, err)
	assert.Same(t, loaded, again, "a committed version is served from the cache")

	entries, err := os.ReadDir(filepath.Join(w.Root(), "ecommerce", "orders"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")
	assert.Equal(t, "v000001.jsonl", entries[0].Name())

	require.NoError(t, w.Remove(table.Location))
	require.NoError(t, w.Remove(table.Location), "removing a missing file is not an error")
}

func TestWarehouse_LoadMissingFile(t *testing.T) {
	w := NewWarehouse(t.TempDir())
	table := ordersTable()
	table.Version = 3
	table.Location = catalog.DataLocation(table.Namespace, table.Name, table.Version)

	_, err := w.Load(table)
	require.Error(t, err)
	assert.True(t, common.IsErrorCode(err, common.ConnectivityError))
}

func TestWarehouse_CatalogManagerSharesRoot(t *testing.T) {
	w := NewWarehouse(t.TempDir())
	cat, err := catalog.NewCatalog("bqms", w.CatalogManager())
	require.NoError(t, err)
	_, err = cat.AddTable("ecommerce", "orders", ordersTable().Columns, w.CatalogManager())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(w.Root(), catalog.CatalogFileName))
	assert.NoError(t, err)
}
