package execution

import (
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// AggregateExecutor implements hash-based aggregation. Output rows come out in no particular order.
type AggregateExecutor struct {
	plan  *planner.AggregateNode
	child Executor

	// Runtime state
	tuples       []storage.Tuple
	currentIndex int
	ctx          *ExecutorContext
	err          error
}

func NewAggregateExecutor(plan *planner.AggregateNode, child Executor) *AggregateExecutor {
	return &AggregateExecutor{
		child:        child,
		plan:         plan,
		currentIndex: -1,
	}
}

func (e *AggregateExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *AggregateExecutor) Init(ctx *ExecutorContext) error {
	e.tuples = nil
	e.currentIndex = -1
	e.ctx = ctx
	e.err = nil
	return e.child.Init(ctx)
}

func (e *AggregateExecutor) updateAggregateState(state []common.Value, tuple storage.Tuple) {
	for i, agg := range e.plan.AggClauses {
		val := agg.Expr.Eval(tuple)

		// Standard SQL aggregate rules: ignore NULLs
		if val.IsNull() {
			continue
		}

		switch agg.Type {
		case planner.AggCount:
			if state[i].IsNil() {
				state[i] = common.NewIntValue(1)
			} else {
				state[i] = common.NewIntValue(state[i].IntValue() + 1)
			}
		case planner.AggSum:
			if state[i].IsNil() {
				state[i] = val
			} else {
				state[i] = common.NewIntValue(state[i].IntValue() + val.IntValue())
			}
		case planner.AggMin:
			if state[i].IsNil() || val.Compare(state[i]) < 0 {
				state[i] = val
			}
		case planner.AggMax:
			if state[i].IsNil() || val.Compare(state[i]) > 0 {
				state[i] = val
			}
		}
	}
}

func (e *AggregateExecutor) buildHashTable() bool {
	hashTable := NewExecutionHashTable[[]common.Value]()

	keyTupleBuffer := make([]common.Value, len(e.plan.GroupByClause))
	for e.child.Next() {
		tuple := e.child.Current()
		for i, expr := range e.plan.GroupByClause {
			keyTupleBuffer[i] = expr.Eval(tuple)
		}
		// If group by is empty, every row lands in the same group and we perform a global aggregation.
		state, found := hashTable.Get(keyTupleBuffer)
		if !found {
			state = make([]common.Value, len(e.plan.AggClauses))
			hashTable.Insert(keyTupleBuffer, state)
		}

		e.updateAggregateState(state, tuple)
	}

	if err := e.child.Error(); err != nil {
		e.err = err
		return false
	}

	e.tuples = make([]storage.Tuple, 0, hashTable.Len())
	hashTable.Iterate(func(t storage.Tuple, values []common.Value) {
		for i, v := range values {
			if v.IsNil() {
				// Convert sentinel IsNil to actual SQL NULL of the correct type
				values[i] = common.NewNullValue(e.plan.AggClauses[i].OutputType())
			}
		}
		e.tuples = append(e.tuples, t.Extend(values))
	})
	return true
}

func (e *AggregateExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	if e.tuples == nil {
		if !e.buildHashTable() {
			return false
		}
	}
	e.currentIndex++
	return e.currentIndex < len(e.tuples)
}

func (e *AggregateExecutor) Current() storage.Tuple {
	return e.tuples[e.currentIndex]
}

func (e *AggregateExecutor) Error() error {
	return e.err
}

func (e *AggregateExecutor) Close() error {
	e.tuples = nil
	return e.child.Close()
}
