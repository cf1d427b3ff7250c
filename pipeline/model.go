package pipeline

import (
	"time"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/common"
)

// Canonical column names. Source tables are matched against these case-insensitively, after applying the
// column mapping of the job.
const (
	ColOrderID           = "order_id"
	ColDeliveryCity      = "delivery_city"
	ColCreatedAt         = "created_at"
	ColItemID            = "item_id"
	ColQuantity          = "quantity"
	ColTotalQuantitySold = "total_quantity_sold"
	ColSalesRank         = "sales_rank"
)

// OutputTableName is the table every run fully replaces.
const OutputTableName = "top_n_items_per_city_recent"

var (
	// OrdersColumns is the shape of the orders relation the pipeline consumes.
	OrdersColumns = []catalog.Column{
		{Name: ColOrderID, Type: common.IntType},
		{Name: ColDeliveryCity, Type: common.StringType},
		{Name: ColCreatedAt, Type: common.TimestampType},
		{Name: ColItemID, Type: common.IntType},
		{Name: ColQuantity, Type: common.IntType},
	}
	// OrderItemsColumns is the shape of the order items relation. Each line counts once, so no quantity is read.
	OrderItemsColumns = []catalog.Column{
		{Name: ColOrderID, Type: common.IntType},
		{Name: ColItemID, Type: common.IntType},
	}
	// OutputColumns is the schema of the output table.
	OutputColumns = []catalog.Column{
		{Name: ColDeliveryCity, Type: common.StringType},
		{Name: ColItemID, Type: common.IntType},
		{Name: ColTotalQuantitySold, Type: common.IntType},
		{Name: ColSalesRank, Type: common.IntType},
	}
)

// Order is one row of the orders relation. A zero CreatedAt stands for a missing timestamp.
type Order struct {
	OrderID      int64
	DeliveryCity string
	CreatedAt    time.Time
	ItemID       int64
	Quantity     int64
}

// OrderItem is one row of the order items relation.
type OrderItem struct {
	OrderID int64
	ItemID  int64
}

// TopNRow is one row of the output table.
type TopNRow struct {
	DeliveryCity      string
	ItemID            int64
	TotalQuantitySold int64
	SalesRank         int64
}
