package sqlengine

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"mit.edu/dsg/topsales/catalog"
	"mit.edu/dsg/topsales/pipeline"
)

// Temporary views, in creation order. Each one reads only from views before it.
const (
	ordersView      = "orders_view"
	orderItemsView  = "order_items_view"
	joinedView      = "joined_recent_orders_items_view"
	salesPerCity    = "item_sales_per_city_view"
	rankedItemsView = "ranked_items_view"
)

var viewNames = []string{ordersView, orderItemsView, joinedView, salesPerCity, rankedItemsView}

// statement is one SQL statement of a run.
type statement struct {
	name string
	sql  string
}

// resolvedSource is a source table whose canonical columns have been found.
type resolvedSource struct {
	id    catalog.Identifier
	table exp.IdentifierExpression
	// physical holds the source column name of each canonical column.
	physical []string
	columns  []catalog.Column
}

// selectCanonical projects the source onto its canonical columns.
func (s resolvedSource) selectCanonical() []interface{} {
	cols := make([]interface{}, len(s.columns))
	for i, c := range s.columns {
		cols[i] = goqu.C(s.physical[i]).As(c.Name)
	}
	return cols
}

// buildViews renders the view statements of a job. With filter set, rows that break the data-quality rules are
// left out of the source views.
func (s *Session) buildViews(orders, items resolvedSource, params pipeline.Params, filter bool) ([]statement, error) {
	d := s.dialect.goqu
	var stmts []statement
	add := func(name string, ds *goqu.SelectDataset) error {
		query, _, err := ds.ToSQL()
		if err != nil {
			return err
		}
		stmts = append(stmts, statement{name: name, sql: fmt.Sprintf("CREATE TEMP VIEW %s AS %s", name, query)})
		return nil
	}

	canonical := func(src resolvedSource) *goqu.SelectDataset {
		ds := d.From(d.From(src.table).Select(src.selectCanonical()...).As("src")).
			Select(columnNames(src.columns)...)
		if filter {
			ds = ds.Where(goqu.L("NOT (?)", invalidRow(s.qualityChecks(src.columns))))
		}
		return ds
	}
	if err := add(ordersView, canonical(orders)); err != nil {
		return nil, err
	}
	if err := add(orderItemsView, canonical(items).Distinct()); err != nil {
		return nil, err
	}

	o, oi := goqu.T(ordersView).As("o"), goqu.T(orderItemsView).As("oi")
	bound := params.LowerBound().Format(s.dialect.boundLayout)
	joined := d.From(o).
		InnerJoin(oi, goqu.On(
			goqu.I("o."+pipeline.ColOrderID).Eq(goqu.I("oi."+pipeline.ColOrderID)),
			goqu.I("o."+pipeline.ColItemID).Eq(goqu.I("oi."+pipeline.ColItemID)))).
		Select(
			goqu.I("o."+pipeline.ColOrderID),
			goqu.I("o."+pipeline.ColDeliveryCity),
			goqu.I("o."+pipeline.ColCreatedAt),
			goqu.I("o."+pipeline.ColItemID),
			goqu.I("o."+pipeline.ColQuantity)).
		Where(s.dialect.createdAtSince(goqu.I("o."+pipeline.ColCreatedAt), bound))
	if err := add(joinedView, joined); err != nil {
		return nil, err
	}

	perCity := d.From(joinedView).
		Select(
			goqu.C(pipeline.ColDeliveryCity),
			goqu.C(pipeline.ColItemID),
			goqu.SUM(goqu.C(pipeline.ColQuantity)).As(pipeline.ColTotalQuantitySold)).
		GroupBy(goqu.C(pipeline.ColDeliveryCity), goqu.C(pipeline.ColItemID)).
		Having(goqu.SUM(goqu.C(pipeline.ColQuantity)).Gt(0))
	if err := add(salesPerCity, perCity); err != nil {
		return nil, err
	}

	ranked := d.From(salesPerCity).
		Select(
			goqu.C(pipeline.ColDeliveryCity),
			goqu.C(pipeline.ColItemID),
			goqu.C(pipeline.ColTotalQuantitySold),
			goqu.RANK().Over(goqu.W().
				PartitionBy(goqu.C(pipeline.ColDeliveryCity)).
				OrderBy(goqu.C(pipeline.ColTotalQuantitySold).Desc())).As(pipeline.ColSalesRank))
	if err := add(rankedItemsView, ranked); err != nil {
		return nil, err
	}
	return stmts, nil
}

// topN selects the output rows in their stored order.
func (s *Session) topN(params pipeline.Params) *goqu.SelectDataset {
	return s.dialect.goqu.From(rankedItemsView).
		Select(columnNames(pipeline.OutputColumns)...).
		Where(goqu.C(pipeline.ColSalesRank).Lte(params.TopN)).
		Order(
			goqu.C(pipeline.ColDeliveryCity).Asc(),
			goqu.C(pipeline.ColSalesRank).Asc(),
			goqu.C(pipeline.ColItemID).Asc())
}

// replaceStatements drops the output table and recreates it from the ranked view.
func (s *Session) replaceStatements(output exp.IdentifierExpression, params pipeline.Params) ([]statement, error) {
	d := s.dialect.goqu
	target, _, err := d.From(output).Select(goqu.L("1")).ToSQL()
	if err != nil {
		return nil, err
	}
	// The rendered FROM clause is the quoted table name.
	name := strings.TrimPrefix(target, "SELECT 1 FROM ")
	query, _, err := s.topN(params).ToSQL()
	if err != nil {
		return nil, err
	}
	return []statement{
		{name: "drop output", sql: "DROP TABLE IF EXISTS " + name},
		{name: "create output", sql: "CREATE TABLE " + name + " AS " + query},
	}, nil
}

func columnNames(columns []catalog.Column) []interface{} {
	cols := make([]interface{}, len(columns))
	for i, c := range columns {
		cols[i] = goqu.C(c.Name)
	}
	return cols
}
