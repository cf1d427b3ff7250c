package planner

import (
	"fmt"

	"mit.edu/dsg/topsales/common"
)

// HashJoinNode represents an inner equi-join between two children. The left child is the build side.
type HashJoinNode struct {
	Left         PlanNode
	Right        PlanNode
	LeftKeys     []Expr
	RightKeys    []Expr
	outputSchema []common.Type
}

func NewHashJoinNode(left, right PlanNode, leftKeys, rightKeys []Expr) *HashJoinNode {
	common.Assert(len(leftKeys) == len(rightKeys), "join key lists must have the same length")
	outputSchema := make([]common.Type, 0, len(left.OutputSchema())+len(right.OutputSchema()))
	outputSchema = append(outputSchema, left.OutputSchema()...)
	outputSchema = append(outputSchema, right.OutputSchema()...)
	return &HashJoinNode{
		Left:         left,
		Right:        right,
		LeftKeys:     leftKeys,
		RightKeys:    rightKeys,
		outputSchema: outputSchema,
	}
}

func (n *HashJoinNode) OutputSchema() []common.Type {
	return n.outputSchema
}

func (n *HashJoinNode) Children() []PlanNode {
	return []PlanNode{n.Left, n.Right}
}

func (n *HashJoinNode) String() string {
	return fmt.Sprintf("HashJoin: %v = %v", n.LeftKeys, n.RightKeys)
}
