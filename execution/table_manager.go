package execution

import (
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/storage"
)

// TableManager maps the table oids that scan nodes refer to onto the relations loaded for the current run.
type TableManager struct {
	tables map[common.ObjectID]*storage.TableHeap
}

func NewTableManager(heaps ...*storage.TableHeap) *TableManager {
	tm := &TableManager{
		tables: make(map[common.ObjectID]*storage.TableHeap, len(heaps)),
	}
	for _, heap := range heaps {
		tm.Register(heap)
	}
	return tm
}

// Register makes heap available under its oid, replacing any heap registered before with the same oid.
func (tm *TableManager) Register(heap *storage.TableHeap) {
	common.Assert(heap.Oid() != common.InvalidObjectID, "cannot register table '%s' without an oid", heap.Name())
	tm.tables[heap.Oid()] = heap
}

// GetTable retrieves the TableHeap for a given table oid.
func (tm *TableManager) GetTable(oid common.ObjectID) (*storage.TableHeap, error) {
	if heap, exists := tm.tables[oid]; exists {
		return heap, nil
	}
	return nil, common.NewError(common.NoSuchObjectError, "table oid %d is not loaded", oid)
}
