package planner

import (
	"fmt"

	"mit.edu/dsg/topsales/common"
)

type AggregatorType int

const (
	AggCount AggregatorType = iota
	AggSum
	AggMin
	AggMax
)

func (a AggregatorType) String() string {
	switch a {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	}
	return "???"
}

type AggregateClause struct {
	Type AggregatorType
	Expr Expr
}

func (c AggregateClause) String() string {
	return fmt.Sprintf("%s(%s)", c.Type, c.Expr)
}

// OutputType is the type of the aggregated value. COUNT and SUM produce integers; MIN and MAX keep the type of
// their input.
func (c AggregateClause) OutputType() common.Type {
	switch c.Type {
	case AggCount, AggSum:
		return common.IntType
	}
	return c.Expr.OutputType()
}

// AggregateNode represents a group-by and aggregation operation. With no aggregate clauses it produces the distinct
// group-by values, like SELECT DISTINCT.
type AggregateNode struct {
	Child         PlanNode
	GroupByClause []Expr
	AggClauses    []AggregateClause
	outputSchema  []common.Type
}

func NewAggregateNode(child PlanNode, groupBy []Expr, aggregates []AggregateClause) *AggregateNode {
	for _, agg := range aggregates {
		if agg.Type == AggSum {
			common.Assert(agg.Expr.OutputType() == common.IntType, "SUM needs an integer input")
		}
	}
	outputSchema := make([]common.Type, len(groupBy)+len(aggregates))
	for i, expr := range groupBy {
		outputSchema[i] = expr.OutputType()
	}
	for i, agg := range aggregates {
		outputSchema[len(groupBy)+i] = agg.OutputType()
	}

	return &AggregateNode{
		Child:         child,
		GroupByClause: groupBy,
		AggClauses:    aggregates,
		outputSchema:  outputSchema,
	}
}

func (n *AggregateNode) OutputSchema() []common.Type {
	return n.outputSchema
}

func (n *AggregateNode) Children() []PlanNode {
	return []PlanNode{n.Child}
}

func (n *AggregateNode) String() string {
	if len(n.AggClauses) == 0 {
		return fmt.Sprintf("Distinct: %v", n.GroupByClause)
	}
	return fmt.Sprintf("Aggregate: GroupBy(%v) %v", n.GroupByClause, n.AggClauses)
}
