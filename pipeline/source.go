package pipeline

import (
	"strings"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/storage"
)

// ColumnMapping maps a canonical column name to the physical column that holds it in a source table. Columns
// without an entry are read under their canonical name. Keys are canonical names in lower case.
type ColumnMapping map[string]string

// Physical returns the source column that holds the canonical column.
func (m ColumnMapping) Physical(canonical string) string {
	if p, ok := m[strings.ToLower(canonical)]; ok && p != "" {
		return p
	}
	return canonical
}

// ResolveColumns returns, for each required column, its position among the columns of tableName. A column is
// found by name, case-insensitively. A column of DefaultType matches any required type; engines that only report
// column names describe their columns this way.
func ResolveColumns(tableName string, columns []catalog.Column, required []catalog.Column, mapping ColumnMapping) ([]int, error) {
	positions := make([]int, len(required))
	for i, req := range required {
		physical := mapping.Physical(req.Name)
		positions[i] = -1
		for j, col := range columns {
			if strings.EqualFold(col.Name, physical) {
				positions[i] = j
				break
			}
		}
		if positions[i] < 0 {
			return nil, common.NewError(common.SchemaMismatchError, "table '%s' has no column '%s' (needed as %s)",
				tableName, physical, req.Name)
		}
		if got := columns[positions[i]].Type; got != common.DefaultType && got != req.Type {
			return nil, common.NewError(common.SchemaMismatchError, "column '%s' of table '%s' is %s, expected %s",
				physical, tableName, got, req.Type)
		}
	}
	return positions, nil
}

// Conform copies the required columns out of heap into a new relation shaped exactly like required, in that order.
// The new relation keeps the oid of heap, so plans built over the source table can scan it.
func Conform(heap *storage.TableHeap, required []catalog.Column, mapping ColumnMapping) (*storage.TableHeap, error) {
	positions, err := ResolveColumns(heap.Name(), heap.Columns(), required, mapping)
	if err != nil {
		return nil, err
	}
	out := storage.NewTableHeap(&catalog.Table{Oid: heap.Oid(), Name: heap.Name(), Columns: required})
	values := make([]common.Value, len(required))
	it := heap.Iterator()
	for it.Next() {
		row := it.CurrentTuple()
		for i, pos := range positions {
			values[i] = row.GetValue(pos)
		}
		if err := out.InsertTuple(storage.FromValues(values...)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// tableOf describes heap as a catalog table, for building relations of the same shape.
func tableOf(heap *storage.TableHeap) *catalog.Table {
	return &catalog.Table{Oid: heap.Oid(), Name: heap.Name(), Columns: heap.Columns()}
}
