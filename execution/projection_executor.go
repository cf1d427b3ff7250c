package execution

import (
	"github.com/pkg/errors"

	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// ProjectionExecutor evaluates a list of expressions on each child row. The output row is rebuilt on every
// Next, so callers that keep it across calls must copy it.
type ProjectionExecutor struct {
	plan  *planner.ProjectionNode
	child Executor

	values  []common.Value
	current storage.Tuple
	err     error
}

func NewProjectionExecutor(plan *planner.ProjectionNode, child Executor) *ProjectionExecutor {
	return &ProjectionExecutor{
		child: child,
		plan:  plan,
	}
}

func (e *ProjectionExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *ProjectionExecutor) Init(ctx *ExecutorContext) error {
	if len(e.plan.Expressions) == 0 {
		return common.NewError(common.SchemaMismatchError, "projection of %s has no columns", e.plan.Child)
	}
	e.values = make([]common.Value, len(e.plan.Expressions))
	e.current = storage.Tuple{}
	e.err = nil
	return e.child.Init(ctx)
}

func (e *ProjectionExecutor) Next() bool {
	if !e.child.Next() {
		if err := e.child.Error(); err != nil {
			e.err = errors.WithMessage(err, "projecting rows")
		}
		e.current = storage.Tuple{}
		return false
	}

	row := e.child.Current()
	for i, expr := range e.plan.Expressions {
		e.values[i] = expr.Eval(row)
	}
	e.current = storage.FromValues(e.values...)
	return true
}

func (e *ProjectionExecutor) Current() storage.Tuple {
	return e.current
}

func (e *ProjectionExecutor) Error() error {
	return e.err
}

func (e *ProjectionExecutor) Close() error {
	return e.child.Close()
}
