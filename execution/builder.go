package execution

import (
	"fmt"

	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// BuildExecutor turns a plan tree into the matching executor tree. Scans are bound to the heaps registered in
// tables under their oid.
func BuildExecutor(plan planner.PlanNode, tables *TableManager) (Executor, error) {
	switch node := plan.(type) {
	case *planner.SeqScanNode:
		heap, err := tables.GetTable(node.TableOid)
		if err != nil {
			return nil, err
		}
		return NewSeqScanExecutor(node, heap), nil
	case *planner.FilterNode:
		child, err := BuildExecutor(node.Child, tables)
		if err != nil {
			return nil, err
		}
		return NewFilter(node, child), nil
	case *planner.ProjectionNode:
		child, err := BuildExecutor(node.Child, tables)
		if err != nil {
			return nil, err
		}
		return NewProjectionExecutor(node, child), nil
	case *planner.HashJoinNode:
		left, err := BuildExecutor(node.Left, tables)
		if err != nil {
			return nil, err
		}
		right, err := BuildExecutor(node.Right, tables)
		if err != nil {
			return nil, err
		}
		return NewHashJoinExecutor(node, left, right), nil
	case *planner.AggregateNode:
		child, err := BuildExecutor(node.Child, tables)
		if err != nil {
			return nil, err
		}
		return NewAggregateExecutor(node, child), nil
	case *planner.WindowRankNode:
		child, err := BuildExecutor(node.Child, tables)
		if err != nil {
			return nil, err
		}
		return NewWindowRankExecutor(node, child), nil
	case *planner.SortNode:
		child, err := BuildExecutor(node.Child, tables)
		if err != nil {
			return nil, err
		}
		return NewSortExecutor(node, child), nil
	}
	return nil, fmt.Errorf("no executor for plan node %T", plan)
}

// Drain initializes exec, collects every tuple it produces and closes it. Returned tuples do not alias any
// executor buffer.
func Drain(ctx *ExecutorContext, exec Executor) (rows []storage.Tuple, err error) {
	if err := exec.Init(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := exec.Close(); err == nil {
			err = closeErr
		}
	}()
	for exec.Next() {
		rows = append(rows, exec.Current().DeepCopy())
	}
	if err := exec.Error(); err != nil {
		return nil, err
	}
	return rows, nil
}
