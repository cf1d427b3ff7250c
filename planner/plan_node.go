package planner

import (
	"strings"

	"mit.edu/dsg/topsales/common"
)

// PlanNode represents the static structure of a query plan.
// It is immutable and contains schema information and the plan tree structure.
type PlanNode interface {
	// OutputSchema returns the schema of the tuples produced by this node.
	OutputSchema() []common.Type

	// Children returns the child plan nodes.
	Children() []PlanNode

	// String returns a string representation of the plan node.
	String() string
}

// Explain renders the plan tree rooted at node, one node per line, children indented below their parent.
func Explain(node PlanNode) string {
	var sb strings.Builder
	explain(&sb, node, 0)
	return sb.String()
}

func explain(sb *strings.Builder, node PlanNode, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	if depth > 0 {
		sb.WriteString("-> ")
	}
	sb.WriteString(node.String())
	sb.WriteByte('\n')
	for _, child := range node.Children() {
		explain(sb, child, depth+1)
	}
}
