package execution

import (
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// cancelCheckInterval is how many rows a scan produces between checks of the run's context.
const cancelCheckInterval = 1024

// SeqScanExecutor implements a sequential scan over a table.
type SeqScanExecutor struct {
	plan      *planner.SeqScanNode
	tableHeap *storage.TableHeap

	// Runtime state
	iterator *storage.TableHeapIterator
	produced int
	ctx      *ExecutorContext
	err      error
}

// NewSeqScanExecutor creates a new SeqScanExecutor.
func NewSeqScanExecutor(plan *planner.SeqScanNode, tableHeap *storage.TableHeap) *SeqScanExecutor {
	return &SeqScanExecutor{
		plan:      plan,
		tableHeap: tableHeap,
	}
}

func (e *SeqScanExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *SeqScanExecutor) Init(context *ExecutorContext) error {
	e.ctx = context
	e.iterator = e.tableHeap.Iterator()
	e.produced = 0
	e.err = nil
	return nil
}

func (e *SeqScanExecutor) Next() bool {
	common.Assert(e.iterator != nil, "SeqScanExecutor.Init() must be called before calling Next()")
	if e.err != nil {
		return false
	}
	if e.produced%cancelCheckInterval == 0 && e.ctx.Context() != nil {
		if err := e.ctx.Context().Err(); err != nil {
			e.err = err
			return false
		}
	}
	e.produced++
	return e.iterator.Next()
}

func (e *SeqScanExecutor) Current() storage.Tuple {
	return e.iterator.CurrentTuple()
}

func (e *SeqScanExecutor) Error() error {
	return e.err
}

func (e *SeqScanExecutor) Close() error {
	e.iterator = nil
	return nil
}
