package planner

import (
	"fmt"
	"strings"

	"mit.edu/dsg/topsales/common"
)

type SortDirection int

const (
	SortOrderAscending SortDirection = iota
	SortOrderDescending
)

func (d SortDirection) String() string {
	if d == SortOrderDescending {
		return "DESC"
	}
	return "ASC"
}

type OrderByClause struct {
	Expr      Expr
	Direction SortDirection
}

func (c OrderByClause) String() string {
	return fmt.Sprintf("%s %s", c.Expr, c.Direction)
}

func orderByString(clauses []OrderByClause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// SortNode sorts the input tuples.
type SortNode struct {
	Child   PlanNode
	OrderBy []OrderByClause
}

func NewSortNode(child PlanNode, orderBy []OrderByClause) *SortNode {
	return &SortNode{
		Child:   child,
		OrderBy: orderBy,
	}
}

func (n *SortNode) OutputSchema() []common.Type {
	return n.Child.OutputSchema()
}

func (n *SortNode) Children() []PlanNode {
	return []PlanNode{n.Child}
}

func (n *SortNode) String() string {
	return fmt.Sprintf("Sort: %s", orderByString(n.OrderBy))
}
