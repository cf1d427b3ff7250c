package pipeline

import (
	"context"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/storage"
)

const (
	ordersOid common.ObjectID = iota + 1
	orderItemsOid
)

// ComputeTopN is the in-memory form of the job: it computes the output rows for the given orders and order items
// without touching any catalog. Invalid rows (a zero CreatedAt, a negative Quantity) are handled by policy.
func ComputeTopN(ctx context.Context, orders []Order, items []OrderItem, params Params, policy DataQualityPolicy) ([]TopNRow, error) {
	rel := Relations{
		Orders:     OrdersRelation(orders),
		OrderItems: OrderItemsRelation(items),
	}
	var err error
	if rel.Orders, _, err = ApplyDataQuality(rel.Orders, policy); err != nil {
		return nil, err
	}
	if rel.OrderItems, _, err = ApplyDataQuality(rel.OrderItems, policy); err != nil {
		return nil, err
	}
	out, err := Execute(ctx, rel, params)
	if err != nil {
		return nil, err
	}
	return OutputRows(out), nil
}

// OrdersRelation builds an orders relation in canonical shape.
func OrdersRelation(orders []Order) *storage.TableHeap {
	heap := storage.NewTableHeap(&catalog.Table{Oid: ordersOid, Name: "orders", Columns: OrdersColumns})
	for _, o := range orders {
		createdAt := common.NewNullValue(common.TimestampType)
		if !o.CreatedAt.IsZero() {
			createdAt = common.NewTimestampValue(o.CreatedAt)
		}
		common.Assert(heap.InsertTuple(storage.FromValues(
			common.NewIntValue(o.OrderID),
			common.NewStringValue(o.DeliveryCity),
			createdAt,
			common.NewIntValue(o.ItemID),
			common.NewIntValue(o.Quantity),
		)) == nil, "order row does not match the orders schema")
	}
	return heap
}

// OrderItemsRelation builds an order items relation in canonical shape.
func OrderItemsRelation(items []OrderItem) *storage.TableHeap {
	heap := storage.NewTableHeap(&catalog.Table{Oid: orderItemsOid, Name: "order_items", Columns: OrderItemsColumns})
	for _, item := range items {
		common.Assert(heap.InsertTuple(storage.FromValues(
			common.NewIntValue(item.OrderID),
			common.NewIntValue(item.ItemID),
		)) == nil, "order item row does not match the order items schema")
	}
	return heap
}

// OutputRows converts an output relation into rows.
func OutputRows(out *storage.TableHeap) []TopNRow {
	rows := make([]TopNRow, 0, out.NumRows())
	it := out.Iterator()
	for it.Next() {
		t := it.CurrentTuple()
		rows = append(rows, TopNRow{
			DeliveryCity:      t.GetValue(0).StringValue(),
			ItemID:            t.GetValue(1).IntValue(),
			TotalQuantitySold: t.GetValue(2).IntValue(),
			SalesRank:         t.GetValue(3).IntValue(),
		})
	}
	return rows
}
