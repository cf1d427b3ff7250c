package pipeline

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
)

var refTime = time.Date(2005, 9, 23, 10, 55, 0, 0, time.UTC)

func defaultParams(topN int) Params {
	return Params{ReferenceTime: refTime, Window: time.Hour, TopN: topN}
}

// linesOf returns one order item per order, the usual shape of the sources.
func linesOf(orders []Order) []OrderItem {
	items := make([]OrderItem, len(orders))
	for i, o := range orders {
		items[i] = OrderItem{OrderID: o.OrderID, ItemID: o.ItemID}
	}
	return items
}

func compute(t *testing.T, orders []Order, items []OrderItem, params Params) []TopNRow {
	t.Helper()
	rows, err := ComputeTopN(context.Background(), orders, items, params, RejectInvalid)
	require.NoError(t, err)
	return rows
}

func TestComputeTopN_TwoOrderScenario(t *testing.T) {
	orders := []Order{
		{OrderID: 1, DeliveryCity: "A", ItemID: 10, Quantity: 3, CreatedAt: refTime},
		{OrderID: 2, DeliveryCity: "A", ItemID: 11, Quantity: 5, CreatedAt: refTime},
	}

	got := compute(t, orders, linesOf(orders), defaultParams(1))
	assert.Equal(t, []TopNRow{{DeliveryCity: "A", ItemID: 11, TotalQuantitySold: 5, SalesRank: 1}}, got)

	got = compute(t, orders, linesOf(orders), defaultParams(2))
	assert.Equal(t, []TopNRow{
		{DeliveryCity: "A", ItemID: 11, TotalQuantitySold: 5, SalesRank: 1},
		{DeliveryCity: "A", ItemID: 10, TotalQuantitySold: 3, SalesRank: 2},
	}, got)
}

func TestComputeTopN_ZeroQuantitiesAreNotSales(t *testing.T) {
	orders := []Order{
		{OrderID: 1, DeliveryCity: "A", ItemID: 10, Quantity: 0, CreatedAt: refTime},
		{OrderID: 2, DeliveryCity: "A", ItemID: 11, Quantity: 5, CreatedAt: refTime},
		{OrderID: 3, DeliveryCity: "A", ItemID: 12, Quantity: 0, CreatedAt: refTime},
		{OrderID: 4, DeliveryCity: "A", ItemID: 12, Quantity: 2, CreatedAt: refTime},
		{OrderID: 5, DeliveryCity: "B", ItemID: 10, Quantity: 0, CreatedAt: refTime},
	}

	got := compute(t, orders, linesOf(orders), defaultParams(10))
	assert.Equal(t, []TopNRow{
		{DeliveryCity: "A", ItemID: 11, TotalQuantitySold: 5, SalesRank: 1},
		{DeliveryCity: "A", ItemID: 12, TotalQuantitySold: 2, SalesRank: 2},
	}, got)
}

func TestComputeTopN_WindowBounds(t *testing.T) {
	lower := refTime.Add(-time.Hour)
	orders := []Order{
		{OrderID: 1, DeliveryCity: "A", ItemID: 10, Quantity: 2, CreatedAt: lower},
		{OrderID: 2, DeliveryCity: "A", ItemID: 11, Quantity: 7, CreatedAt: lower.Add(-time.Second)},
		{OrderID: 3, DeliveryCity: "B", ItemID: 10, Quantity: 1, CreatedAt: lower.Add(-time.Microsecond)},
		// No upper bound: orders after the reference time still count.
		{OrderID: 4, DeliveryCity: "B", ItemID: 12, Quantity: 4, CreatedAt: refTime.Add(time.Minute)},
	}

	got := compute(t, orders, linesOf(orders), defaultParams(10))
	assert.Equal(t, []TopNRow{
		{DeliveryCity: "A", ItemID: 10, TotalQuantitySold: 2, SalesRank: 1},
		{DeliveryCity: "B", ItemID: 12, TotalQuantitySold: 4, SalesRank: 1},
	}, got)
}

func TestComputeTopN_DuplicateLinesCountOnce(t *testing.T) {
	orders := []Order{
		{OrderID: 1, DeliveryCity: "A", ItemID: 10, Quantity: 3, CreatedAt: refTime},
		{OrderID: 2, DeliveryCity: "A", ItemID: 10, Quantity: 4, CreatedAt: refTime},
		// Has no order item line at all.
		{OrderID: 3, DeliveryCity: "A", ItemID: 10, Quantity: 100, CreatedAt: refTime},
		// Its line names a different item.
		{OrderID: 4, DeliveryCity: "A", ItemID: 10, Quantity: 50, CreatedAt: refTime},
	}
	items := []OrderItem{
		{OrderID: 1, ItemID: 10},
		{OrderID: 1, ItemID: 10},
		{OrderID: 1, ItemID: 10},
		{OrderID: 2, ItemID: 10},
		{OrderID: 4, ItemID: 99},
	}

	got := compute(t, orders, items, defaultParams(10))
	assert.Equal(t, []TopNRow{{DeliveryCity: "A", ItemID: 10, TotalQuantitySold: 7, SalesRank: 1}}, got)
}

func TestComputeTopN_TiesShareRankAndSkip(t *testing.T) {
	var orders []Order
	add := func(city string, item, qty int64) {
		orders = append(orders, Order{OrderID: int64(len(orders) + 1), DeliveryCity: city, ItemID: item, Quantity: qty, CreatedAt: refTime})
	}
	add("A", 3, 5)
	add("A", 1, 5)
	add("A", 2, 4)
	add("A", 4, 1)
	add("A", 5, 1)

	got := compute(t, orders, linesOf(orders), defaultParams(3))
	// Item ids break ties in the output order. Rank 4 exceeds top_n.
	assert.Equal(t, []TopNRow{
		{DeliveryCity: "A", ItemID: 1, TotalQuantitySold: 5, SalesRank: 1},
		{DeliveryCity: "A", ItemID: 3, TotalQuantitySold: 5, SalesRank: 1},
		{DeliveryCity: "A", ItemID: 2, TotalQuantitySold: 4, SalesRank: 3},
	}, got)

	got = compute(t, orders, linesOf(orders), defaultParams(4))
	assert.Len(t, got, 5, "a tie at the cut-off keeps every tied item")
}

func TestComputeTopN_EmptyInputs(t *testing.T) {
	assert.Empty(t, compute(t, nil, nil, defaultParams(10)))

	orders := []Order{{OrderID: 1, DeliveryCity: "A", ItemID: 10, Quantity: 3, CreatedAt: refTime}}
	assert.Empty(t, compute(t, orders, nil, defaultParams(10)))
}

func TestComputeTopN_DataQuality(t *testing.T) {
	orders := []Order{
		{OrderID: 1, DeliveryCity: "A", ItemID: 10, Quantity: 3, CreatedAt: refTime},
		{OrderID: 2, DeliveryCity: "A", ItemID: 10, Quantity: -2, CreatedAt: refTime},
		{OrderID: 3, DeliveryCity: "A", ItemID: 10, Quantity: 1},
	}

	_, err := ComputeTopN(context.Background(), orders, linesOf(orders), defaultParams(10), RejectInvalid)
	require.Error(t, err)
	assert.True(t, common.IsErrorCode(err, common.ValidationError))
	assert.Contains(t, err.Error(), "2 rows of 'orders' violate")
	assert.Contains(t, err.Error(), "row 2 column 'quantity' is negative (-2)")
	assert.Contains(t, err.Error(), "row 3 column 'created_at' is NULL")

	got, err := ComputeTopN(context.Background(), orders, linesOf(orders), defaultParams(10), FilterInvalid)
	require.NoError(t, err)
	assert.Equal(t, []TopNRow{{DeliveryCity: "A", ItemID: 10, TotalQuantitySold: 3, SalesRank: 1}}, got)
}

func TestComputeTopN_RejectsBadParams(t *testing.T) {
	for _, params := range []Params{
		{Window: time.Hour, TopN: 10},
		{ReferenceTime: refTime, TopN: 10},
		{ReferenceTime: refTime, Window: time.Hour},
	} {
		_, err := ComputeTopN(context.Background(), nil, nil, params, RejectInvalid)
		assert.True(t, common.IsErrorCode(err, common.ConfigurationError), "params %+v", params)
	}
}

// randomOrders generates orders spread over a few cities and items, some outside the window or with zero
// quantity, with order items that duplicate, omit or mislabel lines.
func randomOrders(seed int64, n int) ([]Order, []OrderItem) {
	r := rand.New(rand.NewSource(seed))
	cities := []string{"Leeds", "York", "Hull", "Bath"}
	var orders []Order
	var items []OrderItem
	for i := 1; i <= n; i++ {
		o := Order{
			OrderID:      int64(i),
			DeliveryCity: cities[r.Intn(len(cities))],
			ItemID:       int64(r.Intn(12)),
			Quantity:     int64(r.Intn(6)),
			CreatedAt:    refTime.Add(-time.Duration(r.Intn(7200)) * time.Second),
		}
		orders = append(orders, o)
		switch r.Intn(5) {
		case 0:
		case 1:
			items = append(items, OrderItem{OrderID: o.OrderID, ItemID: o.ItemID}, OrderItem{OrderID: o.OrderID, ItemID: o.ItemID})
		case 2:
			items = append(items, OrderItem{OrderID: o.OrderID, ItemID: o.ItemID + 100})
		default:
			items = append(items, OrderItem{OrderID: o.OrderID, ItemID: o.ItemID})
		}
	}
	r.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
	return orders, items
}

// referenceTopN computes the expected output by brute force.
func referenceTopN(orders []Order, items []OrderItem, params Params) []TopNRow {
	type pair struct{ order, item int64 }
	lines := map[pair]bool{}
	for _, it := range items {
		lines[pair{it.OrderID, it.ItemID}] = true
	}
	type cityItem struct {
		city string
		item int64
	}
	totals := map[cityItem]int64{}
	for _, o := range orders {
		if o.CreatedAt.Before(params.LowerBound()) || !lines[pair{o.OrderID, o.ItemID}] {
			continue
		}
		totals[cityItem{o.DeliveryCity, o.ItemID}] += o.Quantity
	}
	byCity := map[string][]TopNRow{}
	for k, total := range totals {
		if total == 0 {
			continue
		}
		byCity[k.city] = append(byCity[k.city], TopNRow{DeliveryCity: k.city, ItemID: k.item, TotalQuantitySold: total})
	}
	var out []TopNRow
	for _, rows := range byCity {
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].TotalQuantitySold != rows[j].TotalQuantitySold {
				return rows[i].TotalQuantitySold > rows[j].TotalQuantitySold
			}
			return rows[i].ItemID < rows[j].ItemID
		})
		for i := range rows {
			rows[i].SalesRank = int64(i + 1)
			if i > 0 && rows[i].TotalQuantitySold == rows[i-1].TotalQuantitySold {
				rows[i].SalesRank = rows[i-1].SalesRank
			}
			if rows[i].SalesRank <= int64(params.TopN) {
				out = append(out, rows[i])
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeliveryCity != out[j].DeliveryCity {
			return out[i].DeliveryCity < out[j].DeliveryCity
		}
		if out[i].SalesRank != out[j].SalesRank {
			return out[i].SalesRank < out[j].SalesRank
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

func TestComputeTopN_MatchesBruteForce(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		orders, items := randomOrders(seed, 400)
		for _, topN := range []int{1, 3, 10} {
			params := defaultParams(topN)
			got := compute(t, orders, items, params)
			if diff := cmp.Diff(referenceTopN(orders, items, params), got); diff != "" {
				t.Fatalf("seed %d top_n %d: unexpected output (-want +got):\n%s", seed, topN, diff)
			}

			// Invariants of the output itself.
			ranksPerCity := map[string]map[int64]bool{}
			for i, row := range got {
				assert.Positive(t, row.TotalQuantitySold)
				assert.LessOrEqual(t, row.SalesRank, int64(topN))
				if i > 0 && got[i-1].DeliveryCity == row.DeliveryCity {
					prev := got[i-1]
					assert.LessOrEqual(t, prev.SalesRank, row.SalesRank)
					assert.GreaterOrEqual(t, prev.TotalQuantitySold, row.TotalQuantitySold)
				}
				if ranksPerCity[row.DeliveryCity] == nil {
					ranksPerCity[row.DeliveryCity] = map[int64]bool{}
				}
				ranksPerCity[row.DeliveryCity][row.SalesRank] = true
			}
			for city, ranks := range ranksPerCity {
				assert.LessOrEqual(t, len(ranks), topN, "city %s", city)
			}

			again := compute(t, orders, items, params)
			assert.Empty(t, cmp.Diff(got, again), "runs over identical inputs must agree")
		}
	}
}

func TestBuildPlan_Explain(t *testing.T) {
	plan := planner.Explain(BuildPlan(1, 2, "orders", "order_items", defaultParams(10)))
	assert.Contains(t, plan, "Sort: delivery_city ASC, sales_rank ASC, item_id ASC")
	assert.Contains(t, plan, "Filter top n: (sales_rank <= 10)")
	assert.Contains(t, plan, "Filter sold items: (total_quantity_sold > 0)")
	assert.Contains(t, plan, "Window: RANK() OVER (PARTITION BY [delivery_city] ORDER BY total_quantity_sold DESC)")
	assert.Contains(t, plan, "Distinct: [order_id item_id]")
	assert.Contains(t, plan, "Filter recent orders: (created_at >= (TIMESTAMP '2005-09-23 10:55:00.000000' - INTERVAL '1h0m0s'))")
	assert.Contains(t, plan, "SeqScan: order_items TableOID(2)")
}
