package planner

import (
	"fmt"

	"mit.edu/dsg/topsales/common"
)

type RankFunction int

const (
	// Rank gives ties the same rank and skips the following ranks, so 1, 1, 3.
	Rank RankFunction = iota
	// DenseRank gives ties the same rank without gaps, so 1, 1, 2.
	DenseRank
	// RowNumber numbers rows consecutively; ties are broken by input order.
	RowNumber
)

func (f RankFunction) String() string {
	switch f {
	case Rank:
		return "RANK"
	case DenseRank:
		return "DENSE_RANK"
	case RowNumber:
		return "ROW_NUMBER"
	}
	return "???"
}

// WindowRankNode appends a ranking column to every input row, computed within the partition the row belongs to
// according to OrderBy. The output keeps all child columns followed by the rank.
type WindowRankNode struct {
	Child        PlanNode
	Function     RankFunction
	PartitionBy  []Expr
	OrderBy      []OrderByClause
	outputSchema []common.Type
}

func NewWindowRankNode(child PlanNode, function RankFunction, partitionBy []Expr, orderBy []OrderByClause) *WindowRankNode {
	outputSchema := make([]common.Type, 0, len(child.OutputSchema())+1)
	outputSchema = append(outputSchema, child.OutputSchema()...)
	outputSchema = append(outputSchema, common.IntType)
	return &WindowRankNode{
		Child:        child,
		Function:     function,
		PartitionBy:  partitionBy,
		OrderBy:      orderBy,
		outputSchema: outputSchema,
	}
}

func (n *WindowRankNode) OutputSchema() []common.Type {
	return n.outputSchema
}

func (n *WindowRankNode) Children() []PlanNode {
	return []PlanNode{n.Child}
}

func (n *WindowRankNode) String() string {
	return fmt.Sprintf("Window: %s() OVER (PARTITION BY %v ORDER BY %s)", n.Function, n.PartitionBy, orderByString(n.OrderBy))
}
