package pipeline

import (
	"context"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/execution"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// Relations are the two inputs of a run in canonical shape (OrdersColumns and OrderItemsColumns). They must
// carry distinct, valid oids.
type Relations struct {
	Orders     *storage.TableHeap
	OrderItems *storage.TableHeap
}

// BuildPlan returns the plan that computes the output table from the orders and order items tables with the
// given oids:
//
//	orders          = scan orders WHERE created_at >= reference_time - window
//	order_items     = SELECT DISTINCT order_id, item_id FROM order items
//	joined          = order_items JOIN orders USING (order_id, item_id)
//	item_sales      = SELECT delivery_city, item_id, SUM(quantity) GROUP BY delivery_city, item_id
//	ranked          = item_sales + RANK() OVER (PARTITION BY delivery_city ORDER BY total DESC)
//	output          = ranked WHERE sales_rank <= top_n ORDER BY delivery_city, sales_rank, item_id
//
// Item and quantity come from the order. Joining on both keys against distinct pairs means a line is counted at
// most once, however many times it appears in order items.
func BuildPlan(ordersOid, itemsOid common.ObjectID, ordersName, itemsName string, params Params) planner.PlanNode {
	ordersSchema := schemaOf(OrdersColumns)
	orders := planner.NewSeqScanNode(ordersOid, ordersName, ordersSchema)
	col := func(schema []common.Type, i int, name string) planner.Expr {
		return planner.NewColumnValueExpression(i, schema, name)
	}
	recent := planner.NewFilterNode(orders, planner.NewComparisonExpression(
		col(ordersSchema, 2, ColCreatedAt),
		planner.NewArithmeticExpression(
			planner.NewConstantValueExpression(common.NewTimestampValue(params.ReferenceTime)),
			planner.NewIntervalExpression(params.Window),
			planner.Sub),
		planner.GreaterThanOrEqual)).Labeled("recent orders")

	itemsSchema := schemaOf(OrderItemsColumns)
	items := planner.NewSeqScanNode(itemsOid, itemsName, itemsSchema)
	distinctItems := planner.NewAggregateNode(items,
		[]planner.Expr{col(itemsSchema, 0, ColOrderID), col(itemsSchema, 1, ColItemID)}, nil)

	// Build on the deduplicated items, probe with the recent orders.
	joined := planner.NewHashJoinNode(distinctItems, recent,
		[]planner.Expr{col(itemsSchema, 0, ColOrderID), col(itemsSchema, 1, ColItemID)},
		[]planner.Expr{col(ordersSchema, 0, ColOrderID), col(ordersSchema, 3, ColItemID)})
	joinedSchema := joined.OutputSchema()
	offset := len(itemsSchema)
	joinedRecords := planner.NewProjectionNode(joined, []planner.Expr{
		col(joinedSchema, offset+0, ColOrderID),
		col(joinedSchema, offset+1, ColDeliveryCity),
		col(joinedSchema, offset+2, ColCreatedAt),
		col(joinedSchema, offset+3, ColItemID),
		col(joinedSchema, offset+4, ColQuantity),
	})

	recordSchema := joinedRecords.OutputSchema()
	itemSales := planner.NewAggregateNode(joinedRecords,
		[]planner.Expr{col(recordSchema, 1, ColDeliveryCity), col(recordSchema, 3, ColItemID)},
		[]planner.AggregateClause{{Type: planner.AggSum, Expr: col(recordSchema, 4, ColQuantity)}})

	salesSchema := itemSales.OutputSchema()
	// Items whose recent quantities sum to zero were not sold.
	sold := planner.NewFilterNode(itemSales, planner.NewComparisonExpression(
		col(salesSchema, 2, ColTotalQuantitySold),
		planner.NewConstantValueExpression(common.NewIntValue(0)),
		planner.GreaterThan)).Labeled("sold items")

	ranked := planner.NewWindowRankNode(sold, planner.Rank,
		[]planner.Expr{col(salesSchema, 0, ColDeliveryCity)},
		[]planner.OrderByClause{{Expr: col(salesSchema, 2, ColTotalQuantitySold), Direction: planner.SortOrderDescending}})

	rankedSchema := ranked.OutputSchema()
	topN := planner.NewFilterNode(ranked, planner.NewComparisonExpression(
		col(rankedSchema, 3, ColSalesRank),
		planner.NewConstantValueExpression(common.NewIntValue(int64(params.TopN))),
		planner.LessThanOrEqual)).Labeled("top n")

	return planner.NewSortNode(topN, []planner.OrderByClause{
		{Expr: col(rankedSchema, 0, ColDeliveryCity), Direction: planner.SortOrderAscending},
		{Expr: col(rankedSchema, 3, ColSalesRank), Direction: planner.SortOrderAscending},
		{Expr: col(rankedSchema, 1, ColItemID), Direction: planner.SortOrderAscending},
	})
}

// Execute runs the pipeline over rel and returns the output relation, rows in output order.
func Execute(ctx context.Context, rel Relations, params Params) (*storage.TableHeap, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	common.Assert(rel.Orders.Oid() != rel.OrderItems.Oid(), "orders and order items share oid %d", rel.Orders.Oid())

	tables := execution.NewTableManager(rel.Orders, rel.OrderItems)
	plan := BuildPlan(rel.Orders.Oid(), rel.OrderItems.Oid(), rel.Orders.Name(), rel.OrderItems.Name(), params)
	exec, err := execution.BuildExecutor(plan, tables)
	if err != nil {
		return nil, err
	}
	rows, err := execution.Drain(execution.NewExecutorContext(ctx, tables), exec)
	if err != nil {
		return nil, err
	}

	out := storage.NewTableHeapWithColumns(OutputTableName, OutputColumns)
	for _, row := range rows {
		if err := out.InsertTuple(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func schemaOf(columns []catalog.Column) []common.Type {
	schema := make([]common.Type, len(columns))
	for i, c := range columns {
		schema[i] = c.Type
	}
	return schema
}
