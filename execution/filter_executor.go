package execution

import (
	"github.com/pkg/errors"

	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// FilterExecutor passes on the child rows for which the predicate is true. Rows for which it is NULL are
// dropped, as in a SQL WHERE clause.
type FilterExecutor struct {
	plan  *planner.FilterNode
	child Executor

	dropped int
	err     error
}

func NewFilter(plan *planner.FilterNode, child Executor) *FilterExecutor {
	return &FilterExecutor{
		plan:  plan,
		child: child,
	}
}

func (e *FilterExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

// Init checks that the predicate is a condition and initializes the child.
func (e *FilterExecutor) Init(context *ExecutorContext) error {
	if t := e.plan.Predicate.OutputType(); t != common.IntType {
		return common.NewError(common.SchemaMismatchError, "filter %s: predicate %s yields %s, not a condition",
			e.plan.Step(), e.plan.Predicate, t)
	}
	e.dropped = 0
	e.err = nil
	return e.child.Init(context)
}

func (e *FilterExecutor) Next() bool {
	for e.child.Next() {
		if planner.ExprIsTrue(e.plan.Predicate.Eval(e.child.Current())) {
			return true
		}
		e.dropped++
	}
	if err := e.child.Error(); err != nil {
		e.err = errors.WithMessagef(err, "filter %s", e.plan.Step())
	}
	return false
}

func (e *FilterExecutor) Current() storage.Tuple {
	return e.child.Current()
}

// Dropped counts the rows the predicate has rejected so far.
func (e *FilterExecutor) Dropped() int {
	return e.dropped
}

func (e *FilterExecutor) Error() error {
	return e.err
}

func (e *FilterExecutor) Close() error {
	return e.child.Close()
}
