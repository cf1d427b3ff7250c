package planner

import (
	"fmt"

	"mit.edu/dsg/topsales/common"
)

// FilterNode keeps the child rows for which Predicate is true. Label names the step in plans and errors.
type FilterNode struct {
	Child     PlanNode
	Predicate Expr
	Label     string
}

func NewFilterNode(child PlanNode, predicate Expr) *FilterNode {
	return &FilterNode{
		Child:     child,
		Predicate: predicate,
	}
}

// Labeled sets the step name and returns n.
func (n *FilterNode) Labeled(label string) *FilterNode {
	n.Label = label
	return n
}

// Step is the label, or the predicate for unlabeled filters.
func (n *FilterNode) Step() string {
	if n.Label != "" {
		return n.Label
	}
	return n.Predicate.String()
}

func (n *FilterNode) OutputSchema() []common.Type {
	return n.Child.OutputSchema()
}

func (n *FilterNode) Children() []PlanNode {
	return []PlanNode{n.Child}
}

func (n *FilterNode) String() string {
	if n.Label == "" {
		return fmt.Sprintf("Filter: %s", n.Predicate)
	}
	return fmt.Sprintf("Filter %s: %s", n.Label, n.Predicate)
}
