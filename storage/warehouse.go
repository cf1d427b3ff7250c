package storage

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
)

type heapKey struct {
	oid     common.ObjectID
	version int64
}

// Warehouse owns the directory that holds the catalog file and every table's data files.
//
// Loaded tables are cached by (oid, version). A committed version is never rewritten, so a cached heap stays valid
// until the catalog moves the table to a new version. The cache is safe for concurrent loads.
type Warehouse struct {
	root  string
	cache *xsync.MapOf[heapKey, *TableHeap]
}

func NewWarehouse(root string) *Warehouse {
	return &Warehouse{
		root:  root,
		cache: xsync.NewMapOf[heapKey, *TableHeap](),
	}
}

// Root returns the warehouse directory.
func (w *Warehouse) Root() string {
	return w.root
}

// CatalogManager returns the persistence provider for the catalog stored in this warehouse.
func (w *Warehouse) CatalogManager() *catalog.DiskCatalogManager {
	return catalog.NewDiskCatalogManager(w.root)
}

// Load returns the current contents of table. A table that has never been written is empty.
func (w *Warehouse) Load(table *catalog.Table) (*TableHeap, error) {
	if table.Location == "" {
		return NewTableHeap(table), nil
	}
	key := heapKey{oid: table.Oid, version: table.Version}
	if heap, ok := w.cache.Load(key); ok {
		return heap, nil
	}

	path := w.path(table.Location)
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewError(common.ConnectivityError, "cannot open data file of '%s.%s' at %s: %v",
			table.Namespace, table.Name, path, err)
	}
	defer f.Close()

	heap, err := ReadTableFile(f, table)
	if err != nil {
		return nil, err
	}
	heap, _ = w.cache.LoadOrStore(key, heap)
	return heap, nil
}

// Write stores heap at location. The file is written under a temporary name and renamed into place, so the path
// either holds the complete new file or nothing.
func (w *Warehouse) Write(location string, heap *TableHeap) (err error) {
	path := w.path(location)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", location)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for %s", location)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = WriteTableFile(tmp, heap); err != nil {
		return errors.Wrapf(err, "writing %s", location)
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %s", location)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", location)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "publishing %s", location)
}

// Remove deletes a data file that no committed version refers to any more.
func (w *Warehouse) Remove(location string) error {
	err := os.Remove(w.path(location))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Warehouse) path(location string) string {
	return filepath.Join(w.root, filepath.FromSlash(location))
}
