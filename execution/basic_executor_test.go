package execution

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// setupTestHeap creates a table with columns (id int, name string) and populates it with 'n' tuples.
func setupTestHeap(t *testing.T, n int) *storage.TableHeap {
	tableSchema := &catalog.Table{
		Oid:  1,
		Name: "test_table",
		Columns: []catalog.Column{
			{Name: "id", Type: common.IntType},
			{Name: "name", Type: common.StringType},
		},
	}

	th := storage.NewTableHeap(tableSchema)
	for i := 0; i < n; i++ {
		tup := storage.FromValues(
			common.NewIntValue(int64(i)),
			common.NewStringValue(fmt.Sprintf("row-%d", i)),
		)
		require.NoError(t, th.InsertTuple(tup))
	}
	return th
}

func newHeap(t *testing.T, oid common.ObjectID, columns []catalog.Column, rows ...[]common.Value) *storage.TableHeap {
	th := storage.NewTableHeap(&catalog.Table{Oid: oid, Name: fmt.Sprintf("t%d", oid), Columns: columns})
	for _, row := range rows {
		require.NoError(t, th.InsertTuple(storage.FromValues(row...)))
	}
	return th
}

func testContext() *ExecutorContext {
	return NewExecutorContext(context.Background(), NewTableManager())
}

func scanOf(th *storage.TableHeap) (*planner.SeqScanNode, *SeqScanExecutor) {
	node := planner.NewSeqScanNode(th.Oid(), th.Name(), th.StorageSchema())
	return node, NewSeqScanExecutor(node, th)
}

func intRow(values ...int64) []common.Value {
	row := make([]common.Value, len(values))
	for i, v := range values {
		row[i] = common.NewIntValue(v)
	}
	return row
}

func TestBasicExecutor_SeqScan(t *testing.T) {
	th := setupTestHeap(t, 10)

	_, scanExec := scanOf(th)
	ctx := testContext()

	require.NoError(t, scanExec.Init(ctx))

	count1 := 0
	for scanExec.Next() {
		tup := scanExec.Current()

		// Verify ID Column (Index 0)
		assert.Equal(t, int64(count1), tup.GetValue(0).IntValue(), "Pass 1: Tuple ID mismatch at row %d", count1)

		// Verify Name Column (Index 1)
		assert.Equal(t, fmt.Sprintf("row-%d", count1), tup.GetValue(1).StringValue(), "Pass 1: Tuple Name mismatch at row %d", count1)

		count1++
	}
	require.NoError(t, scanExec.Error())
	assert.Equal(t, 10, count1, "Pass 1: SeqScan failed to return all tuples")

	// Calling init again should reset the cursor and scan multiple times
	require.NoError(t, scanExec.Init(ctx))

	count2 := 0
	for scanExec.Next() {
		assert.Equal(t, int64(count2), scanExec.Current().GetValue(0).IntValue(), "Pass 2: Tuple ID mismatch at row %d", count2)
		count2++
	}
	assert.Equal(t, 10, count2, "Pass 2: Re-initialized SeqScan failed to return all tuples")
}

func TestBasicExecutor_SeqScanStopsWhenCancelled(t *testing.T) {
	th := setupTestHeap(t, 10)
	_, scanExec := scanOf(th)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, scanExec.Init(NewExecutorContext(ctx, NewTableManager())))
	assert.False(t, scanExec.Next())
	assert.ErrorIs(t, scanExec.Error(), context.Canceled)
}

func TestBasicExecutor_Filter(t *testing.T) {
	th := setupTestHeap(t, 10)

	scanNode, scanExec := scanOf(th)

	colExpr := planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "id")
	constExpr := planner.NewConstantValueExpression(common.NewIntValue(5))
	predicate := planner.NewComparisonExpression(colExpr, constExpr, planner.GreaterThan)

	filterExec := NewFilter(planner.NewFilterNode(scanNode, predicate), scanExec)

	require.NoError(t, filterExec.Init(testContext()))

	count := 0
	for filterExec.Next() {
		assert.True(t, filterExec.Current().GetValue(0).IntValue() > 5)
		count++
	}
	assert.Equal(t, 4, count, "Should match IDs 6, 7, 8, 9")
}

func TestBasicExecutor_FilterDropsUnknown(t *testing.T) {
	columns := []catalog.Column{{Name: "qty", Type: common.IntType}}
	th := newHeap(t, 2, columns, intRow(3), []common.Value{common.NewNullInt()}, intRow(-1))

	scanNode, scanExec := scanOf(th)
	qty := planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "qty")
	nonNegative := planner.NewComparisonExpression(qty, planner.NewConstantValueExpression(common.NewIntValue(0)), planner.GreaterThanOrEqual)

	filterExec := NewFilter(planner.NewFilterNode(scanNode, nonNegative), scanExec)
	rows, err := Drain(testContext(), filterExec)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].GetValue(0).IntValue())
	assert.Equal(t, 2, filterExec.Dropped())
}

func TestBasicExecutor_FilterAttributesErrors(t *testing.T) {
	th := setupTestHeap(t, 3)
	scanNode, scanExec := scanOf(th)

	name := planner.NewColumnValueExpression(1, scanNode.OutputSchema(), "name")
	err := NewFilter(planner.NewFilterNode(scanNode, name).Labeled("named rows"), scanExec).Init(testContext())
	assert.True(t, common.IsErrorCode(err, common.SchemaMismatchError))
	assert.ErrorContains(t, err, "filter named rows")

	id := planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "id")
	node := planner.NewFilterNode(scanNode, planner.NewNullCheckExpression(id, planner.IsNotNull)).Labeled("recent orders")
	assert.Equal(t, "Filter recent orders: (id IS NOT NULL)", node.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	filterExec := NewFilter(node, scanExec)
	require.NoError(t, filterExec.Init(NewExecutorContext(ctx, NewTableManager())))
	assert.False(t, filterExec.Next())
	assert.ErrorIs(t, filterExec.Error(), context.Canceled)
	assert.ErrorContains(t, filterExec.Error(), "filter recent orders")
}

func TestBasicExecutor_Projection(t *testing.T) {
	th := setupTestHeap(t, 5)

	scanNode, scanExec := scanOf(th)

	idCol := planner.NewColumnValueExpression(0, th.StorageSchema(), "id")
	nameCol := planner.NewColumnValueExpression(1, th.StorageSchema(), "name")
	constVal := planner.NewConstantValueExpression(common.NewStringValue("static"))

	// Project: ["static", name, id, id]
	exprs := []planner.Expr{constVal, nameCol, idCol, idCol}

	projExec := NewProjectionExecutor(planner.NewProjectionNode(scanNode, exprs), scanExec)
	require.NoError(t, projExec.Init(testContext()))

	count := 0
	for projExec.Next() {
		tup := projExec.Current()
		require.Equal(t, 4, tup.NumColumns())
		assert.Equal(t, "static", tup.GetValue(0).StringValue())
		assert.Contains(t, tup.GetValue(1).StringValue(), "row-")
		assert.Equal(t, tup.GetValue(2).IntValue(), tup.GetValue(3).IntValue())
		count++
	}
	assert.Equal(t, 5, count)
}

func TestBasicExecutor_ProjectionErrors(t *testing.T) {
	th := setupTestHeap(t, 3)
	scanNode, scanExec := scanOf(th)

	err := NewProjectionExecutor(planner.NewProjectionNode(scanNode, nil), scanExec).Init(testContext())
	assert.True(t, common.IsErrorCode(err, common.SchemaMismatchError))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id := planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "id")
	projExec := NewProjectionExecutor(planner.NewProjectionNode(scanNode, []planner.Expr{id}), scanExec)
	require.NoError(t, projExec.Init(NewExecutorContext(ctx, NewTableManager())))
	assert.False(t, projExec.Next())
	assert.ErrorIs(t, projExec.Error(), context.Canceled)
	assert.ErrorContains(t, projExec.Error(), "projecting rows")
}

func TestBasicExecutor_BasicPipeline(t *testing.T) {
	th := setupTestHeap(t, 20)

	scanNode, scanExec := scanOf(th)

	// 1. Filter: id > 5
	idCol := planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "id")
	filter1 := planner.NewFilterNode(scanNode,
		planner.NewComparisonExpression(idCol, planner.NewConstantValueExpression(common.NewIntValue(5)), planner.GreaterThan))
	f1 := NewFilter(filter1, scanExec)

	// 2. Project: Swap to (name, id)
	nameCol := planner.NewColumnValueExpression(1, scanNode.OutputSchema(), "name")
	projNode := planner.NewProjectionNode(filter1, []planner.Expr{nameCol, idCol})
	projExec := NewProjectionExecutor(projNode, f1)

	// 3. Filter: id < 9 (Note: id is now index 1)
	idProjCol := planner.NewColumnValueExpression(1, projNode.OutputSchema(), "id")
	f2 := NewFilter(planner.NewFilterNode(projNode,
		planner.NewComparisonExpression(idProjCol, planner.NewConstantValueExpression(common.NewIntValue(9)), planner.LessThan)),
		projExec)

	rows, err := Drain(testContext(), f2)
	require.NoError(t, err)

	// Matches > 5 and < 9: 6, 7, 8.
	var results []int64
	for _, row := range rows {
		// Output is (name, id)
		results = append(results, row.GetValue(1).IntValue())
	}
	assert.Equal(t, []int64{6, 7, 8}, results)
}

func TestBasicExecutor_HashJoin(t *testing.T) {
	columns := []catalog.Column{{Name: "order_id", Type: common.IntType}, {Name: "item_id", Type: common.IntType}}
	left := newHeap(t, 1, columns,
		intRow(1, 10),
		intRow(2, 11),
		intRow(3, 12),
		[]common.Value{common.NewNullInt(), common.NewIntValue(13)},
	)
	right := newHeap(t, 2, columns,
		intRow(1, 10),
		intRow(1, 10), // duplicate probe row joins twice
		intRow(2, 99), // same order, different item
		intRow(4, 12),
		[]common.Value{common.NewNullInt(), common.NewIntValue(13)}, // NULL never matches NULL
	)

	leftScan, leftExec := scanOf(left)
	rightScan, rightExec := scanOf(right)
	keys := func(schema []common.Type) []planner.Expr {
		return []planner.Expr{
			planner.NewColumnValueExpression(0, schema, "order_id"),
			planner.NewColumnValueExpression(1, schema, "item_id"),
		}
	}
	node := planner.NewHashJoinNode(leftScan, rightScan, keys(leftScan.OutputSchema()), keys(rightScan.OutputSchema()))
	assert.Len(t, node.OutputSchema(), 4)

	rows, err := Drain(testContext(), NewHashJoinExecutor(node, leftExec, rightExec))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "(1, 10, 1, 10)", row.String())
	}
}

func TestBasicExecutor_Aggregate(t *testing.T) {
	columns := []catalog.Column{{Name: "city", Type: common.StringType}, {Name: "qty", Type: common.IntType}}
	str := common.NewStringValue
	th := newHeap(t, 1, columns,
		[]common.Value{str("A"), common.NewIntValue(3)},
		[]common.Value{str("B"), common.NewIntValue(1)},
		[]common.Value{str("A"), common.NewIntValue(5)},
		[]common.Value{str("A"), common.NewNullInt()},
		[]common.Value{str("C"), common.NewNullInt()},
	)

	scanNode, scanExec := scanOf(th)
	city := planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "city")
	qty := planner.NewColumnValueExpression(1, scanNode.OutputSchema(), "qty")
	node := planner.NewAggregateNode(scanNode, []planner.Expr{city}, []planner.AggregateClause{
		{Type: planner.AggSum, Expr: qty},
		{Type: planner.AggCount, Expr: qty},
		{Type: planner.AggMin, Expr: qty},
		{Type: planner.AggMax, Expr: qty},
	})

	rows, err := Drain(testContext(), NewAggregateExecutor(node, scanExec))
	require.NoError(t, err)

	got := make([]string, len(rows))
	for i, row := range rows {
		got[i] = row.String()
	}
	sort.Strings(got)
	assert.Equal(t, []string{
		"('A', 8, 2, 3, 5)",
		"('B', 1, 1, 1, 1)",
		"('C', NULL, NULL, NULL, NULL)",
	}, got)
}

func TestBasicExecutor_AggregateWithoutClausesIsDistinct(t *testing.T) {
	columns := []catalog.Column{{Name: "order_id", Type: common.IntType}, {Name: "item_id", Type: common.IntType}}
	th := newHeap(t, 1, columns, intRow(1, 10), intRow(1, 10), intRow(1, 11), intRow(2, 10), intRow(1, 10))

	scanNode, scanExec := scanOf(th)
	node := planner.NewAggregateNode(scanNode, []planner.Expr{
		planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "order_id"),
		planner.NewColumnValueExpression(1, scanNode.OutputSchema(), "item_id"),
	}, nil)

	rows, err := Drain(testContext(), NewAggregateExecutor(node, scanExec))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestBasicExecutor_SortIsStableAndMultiKey(t *testing.T) {
	columns := []catalog.Column{{Name: "a", Type: common.IntType}, {Name: "b", Type: common.IntType}, {Name: "seq", Type: common.IntType}}
	th := newHeap(t, 1, columns, intRow(1, 5, 0), intRow(2, 5, 1), intRow(1, 7, 2), intRow(1, 5, 3))

	scanNode, scanExec := scanOf(th)
	schema := scanNode.OutputSchema()
	node := planner.NewSortNode(scanNode, []planner.OrderByClause{
		{Expr: planner.NewColumnValueExpression(0, schema, "a"), Direction: planner.SortOrderAscending},
		{Expr: planner.NewColumnValueExpression(1, schema, "b"), Direction: planner.SortOrderDescending},
	})

	rows, err := Drain(testContext(), NewSortExecutor(node, scanExec))
	require.NoError(t, err)
	var seqs []int64
	for _, row := range rows {
		seqs = append(seqs, row.GetValue(2).IntValue())
	}
	assert.Equal(t, []int64{2, 0, 3, 1}, seqs)
}

func TestBasicExecutor_SortEmptyInput(t *testing.T) {
	th := setupTestHeap(t, 0)
	scanNode, scanExec := scanOf(th)
	node := planner.NewSortNode(scanNode, []planner.OrderByClause{
		{Expr: planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "id")},
	})
	rows, err := Drain(testContext(), NewSortExecutor(node, scanExec))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBasicExecutor_WindowRank(t *testing.T) {
	columns := []catalog.Column{{Name: "city", Type: common.StringType}, {Name: "item", Type: common.IntType}, {Name: "total", Type: common.IntType}}
	row := func(city string, item, total int64) []common.Value {
		return []common.Value{common.NewStringValue(city), common.NewIntValue(item), common.NewIntValue(total)}
	}
	th := newHeap(t, 1, columns,
		row("B", 1, 4),
		row("A", 10, 3),
		row("A", 11, 5),
		row("A", 12, 5),
		row("A", 13, 1),
		row("B", 2, 4),
	)

	tests := []struct {
		function planner.RankFunction
		expected []string
	}{
		{planner.Rank, []string{"('A', 11, 5, 1)", "('A', 12, 5, 1)", "('A', 10, 3, 3)", "('A', 13, 1, 4)", "('B', 1, 4, 1)", "('B', 2, 4, 1)"}},
		{planner.DenseRank, []string{"('A', 11, 5, 1)", "('A', 12, 5, 1)", "('A', 10, 3, 2)", "('A', 13, 1, 3)", "('B', 1, 4, 1)", "('B', 2, 4, 1)"}},
		{planner.RowNumber, []string{"('A', 11, 5, 1)", "('A', 12, 5, 2)", "('A', 10, 3, 3)", "('A', 13, 1, 4)", "('B', 1, 4, 1)", "('B', 2, 4, 2)"}},
	}
	for _, tt := range tests {
		t.Run(tt.function.String(), func(t *testing.T) {
			scanNode, scanExec := scanOf(th)
			schema := scanNode.OutputSchema()
			node := planner.NewWindowRankNode(scanNode, tt.function,
				[]planner.Expr{planner.NewColumnValueExpression(0, schema, "city")},
				[]planner.OrderByClause{{Expr: planner.NewColumnValueExpression(2, schema, "total"), Direction: planner.SortOrderDescending}})
			exec := NewWindowRankExecutor(node, scanExec)

			// Run twice to check that Init restarts the executor.
			for pass := 0; pass < 2; pass++ {
				rows, err := Drain(testContext(), exec)
				require.NoError(t, err)
				got := make([]string, len(rows))
				for i, r := range rows {
					got[i] = r.String()
				}
				assert.Equal(t, tt.expected, got, "pass %d", pass)
			}
		})
	}
}

func TestBuildExecutor(t *testing.T) {
	th := setupTestHeap(t, 10)
	tables := NewTableManager(th)

	scanNode := planner.NewSeqScanNode(th.Oid(), th.Name(), th.StorageSchema())
	idCol := planner.NewColumnValueExpression(0, scanNode.OutputSchema(), "id")
	filter := planner.NewFilterNode(scanNode,
		planner.NewComparisonExpression(idCol, planner.NewConstantValueExpression(common.NewIntValue(7)), planner.GreaterThanOrEqual))
	sorted := planner.NewSortNode(filter, []planner.OrderByClause{{Expr: idCol, Direction: planner.SortOrderDescending}})

	exec, err := BuildExecutor(sorted, tables)
	require.NoError(t, err)
	rows, err := Drain(NewExecutorContext(context.Background(), tables), exec)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(9), rows[0].GetValue(0).IntValue())

	missing := planner.NewSeqScanNode(42, "missing", th.StorageSchema())
	_, err = BuildExecutor(missing, tables)
	assert.True(t, common.IsErrorCode(err, common.NoSuchObjectError))
}
