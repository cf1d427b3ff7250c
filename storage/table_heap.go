package storage

import (
	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
)

// TableHeap holds every row of one relation in memory, in insertion order.
//
// Heaps handed out by the Warehouse are shared through its cache and must be treated as read-only.
type TableHeap struct {
	oid     common.ObjectID
	name    string
	columns []catalog.Column
	schema  []common.Type
	rows    []Tuple
}

// NewTableHeap creates an empty heap shaped like the catalog table.
func NewTableHeap(table *catalog.Table) *TableHeap {
	h := NewTableHeapWithColumns(table.Name, table.Columns)
	h.oid = table.Oid
	return h
}

// NewTableHeapWithColumns creates an empty heap for a relation that is not registered in a catalog, such as an
// intermediate or in-memory input.
func NewTableHeapWithColumns(name string, columns []catalog.Column) *TableHeap {
	schema := make([]common.Type, len(columns))
	for i, c := range columns {
		schema[i] = c.Type
	}
	return &TableHeap{
		name:    name,
		columns: columns,
		schema:  schema,
	}
}

func (h *TableHeap) Oid() common.ObjectID {
	return h.oid
}

func (h *TableHeap) Name() string {
	return h.name
}

func (h *TableHeap) Columns() []catalog.Column {
	return h.columns
}

// StorageSchema returns the column types in order.
func (h *TableHeap) StorageSchema() []common.Type {
	return h.schema
}

func (h *TableHeap) NumRows() int {
	return len(h.rows)
}

// Row returns the i-th row. The tuple must not be modified.
func (h *TableHeap) Row(i int) Tuple {
	return h.rows[i]
}

// InsertTuple appends a copy of the tuple after checking it against the schema.
func (h *TableHeap) InsertTuple(t Tuple) error {
	if !t.Conforms(h.schema) {
		return common.NewError(common.SchemaMismatchError, "row %s does not match the schema %v of '%s'", t, h.schema, h.name)
	}
	h.rows = append(h.rows, t.DeepCopy())
	return nil
}

// Iterator returns a cursor positioned before the first row.
func (h *TableHeap) Iterator() *TableHeapIterator {
	return &TableHeapIterator{heap: h, pos: -1}
}

// TableHeapIterator walks a heap in insertion order.
type TableHeapIterator struct {
	heap *TableHeap
	pos  int
}

// Next advances to the next row, returning false once the heap is exhausted.
func (it *TableHeapIterator) Next() bool {
	if it.pos < len(it.heap.rows) {
		it.pos++
	}
	return it.pos < len(it.heap.rows)
}

// CurrentTuple returns the row the iterator is positioned on.
func (it *TableHeapIterator) CurrentTuple() Tuple {
	return it.heap.rows[it.pos]
}
