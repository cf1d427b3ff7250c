package execution

import (
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// HashJoinExecutor implements the hash join algorithm.
// It builds a hash table from the left child and probes it with the right child.
// It only supports inner equi-joins; rows with a NULL key never match.
type HashJoinExecutor struct {
	plan        *planner.HashJoinNode
	left, right Executor

	// Runtime State
	keyBuffer         []common.Value
	joinedTupleBuffer []common.Value
	joined            storage.Tuple
	leftHashTable     *ExecutionHashTable[[]storage.Tuple]
	currentMatches    []storage.Tuple // The matching tuples from the left side for the current right tuple
	matchIndex        int             // The index of the next match to emit
	ctx               *ExecutorContext
	err               error
}

// NewHashJoinExecutor creates a new HashJoinExecutor.
func NewHashJoinExecutor(plan *planner.HashJoinNode, left Executor, right Executor) *HashJoinExecutor {
	return &HashJoinExecutor{
		plan:  plan,
		left:  left,
		right: right,
	}
}

func (e *HashJoinExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *HashJoinExecutor) Init(ctx *ExecutorContext) error {
	e.keyBuffer = make([]common.Value, len(e.plan.LeftKeys))
	e.joinedTupleBuffer = make([]common.Value, 0, len(e.plan.OutputSchema()))
	e.leftHashTable = nil
	e.currentMatches = nil
	e.matchIndex = 0
	e.ctx = ctx
	e.err = nil
	if err := e.left.Init(ctx); err != nil {
		return err
	}
	return e.right.Init(ctx)
}

// evalKeys fills keyBuffer from tuple and reports false if any key is NULL.
func (e *HashJoinExecutor) evalKeys(keys []planner.Expr, tuple storage.Tuple) bool {
	for i, expr := range keys {
		val := expr.Eval(tuple)
		if val.IsNull() {
			return false
		}
		e.keyBuffer[i] = val
	}
	return true
}

// buildPhase consumes the entire left child and builds the hash table.
func (e *HashJoinExecutor) buildPhase() error {
	e.leftHashTable = NewExecutionHashTable[[]storage.Tuple]()
	for e.left.Next() {
		tuple := e.left.Current()
		if !e.evalKeys(e.plan.LeftKeys, tuple) {
			continue
		}

		// Insert into the table (handling duplicates by appending to the slice)
		existing, _ := e.leftHashTable.Get(e.keyBuffer)
		e.leftHashTable.Insert(e.keyBuffer, append(existing, tuple.DeepCopy()))
	}
	return e.left.Error()
}

func (e *HashJoinExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	if e.leftHashTable == nil {
		if err := e.buildPhase(); err != nil {
			e.err = err
			return false
		}
	}

	for {
		if e.matchIndex == len(e.currentMatches) {
			// no more matches left in the last scan, need to fetch the next right tuple
			if !e.right.Next() {
				if e.right.Error() != nil {
					e.err = e.right.Error()
				}
				return false
			}
			if !e.evalKeys(e.plan.RightKeys, e.right.Current()) {
				continue
			}
			matches, found := e.leftHashTable.Get(e.keyBuffer)
			if !found {
				continue
			}
			e.currentMatches = matches
			e.matchIndex = 0
		}
		leftTuple := e.currentMatches[e.matchIndex]
		e.matchIndex++
		e.joined = storage.MergeTuples(e.joinedTupleBuffer, leftTuple, e.right.Current())
		return true
	}
}

func (e *HashJoinExecutor) Current() storage.Tuple {
	return e.joined
}

func (e *HashJoinExecutor) Error() error {
	return e.err
}

func (e *HashJoinExecutor) Close() error {
	err1 := e.right.Close()
	err2 := e.left.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
