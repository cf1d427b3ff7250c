package execution

import (
	"sort"

	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// SortExecutor sorts the input tuples based on the provided ordering expressions.
// It is a blocking operator but uses lazy evaluation (sorts on first Next). The sort is stable, so rows that
// compare equal keep their input order.
type SortExecutor struct {
	plan  *planner.SortNode
	child Executor

	// Runtime state
	sortedTuples []storage.Tuple
	sorted       bool
	currentIndex int
	ctx          *ExecutorContext
}

func NewSortExecutor(plan *planner.SortNode, child Executor) *SortExecutor {
	return &SortExecutor{
		plan:  plan,
		child: child,
	}
}

func (e *SortExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *SortExecutor) Init(ctx *ExecutorContext) error {
	e.sortedTuples = nil
	e.sorted = false
	e.currentIndex = -1
	e.ctx = ctx
	return e.child.Init(ctx)
}

// compareTuples orders two tuples by a list of ORDER BY clauses, returning <0, 0 or >0.
func compareTuples(t1, t2 storage.Tuple, orderBy []planner.OrderByClause) int {
	for _, order := range orderBy {
		cmp := order.Expr.Eval(t1).Compare(order.Expr.Eval(t2))
		if cmp == 0 {
			continue
		}
		if order.Direction == planner.SortOrderAscending {
			// ASC: Smaller values come first.
			return cmp
		}
		// DESC: Larger values come first.
		return -cmp
	}
	return 0
}

func (e *SortExecutor) sortAllRows() bool {
	for e.child.Next() {
		e.sortedTuples = append(e.sortedTuples, e.child.Current().DeepCopy())
	}

	if e.child.Error() != nil {
		return false
	}

	sort.SliceStable(e.sortedTuples, func(i, j int) bool {
		return compareTuples(e.sortedTuples[i], e.sortedTuples[j], e.plan.OrderBy) < 0
	})
	return true
}

func (e *SortExecutor) Next() bool {
	if !e.sorted {
		if !e.sortAllRows() {
			return false
		}
		e.sorted = true
	}
	e.currentIndex++
	return e.currentIndex < len(e.sortedTuples)
}

func (e *SortExecutor) Current() storage.Tuple {
	return e.sortedTuples[e.currentIndex]
}

func (e *SortExecutor) Error() error {
	return e.child.Error()
}

func (e *SortExecutor) Close() error {
	e.sortedTuples = nil
	return e.child.Close()
}
