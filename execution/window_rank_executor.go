package execution

import (
	"bytes"

	"github.com/tidwall/btree"
	"mit.edu/dsg/topsales/common"
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

type windowItem struct {
	partition []byte // storage.AppendKey encoding of the PARTITION BY values
	tuple     storage.Tuple
	seq       int // input position, keeps equal rows distinct and in arrival order
}

// WindowRankExecutor computes a ranking window function. It consumes the child completely, keeps the rows in a
// B-tree ordered by partition and then by the ORDER BY clauses, and emits them in that order with the rank
// appended.
type WindowRankExecutor struct {
	plan  *planner.WindowRankNode
	child Executor

	// Runtime state
	tree          *btree.BTreeG[windowItem]
	iter          btree.IterG[windowItem]
	built         bool
	hasMore       bool
	firstCall     bool
	prev          windowItem
	rowInPart     int64
	rank          int64
	outputBuffer  []common.Value
	current       storage.Tuple
	partitionKeys []common.Value
	ctx           *ExecutorContext
	err           error
}

func NewWindowRankExecutor(plan *planner.WindowRankNode, child Executor) *WindowRankExecutor {
	return &WindowRankExecutor{
		plan:  plan,
		child: child,
	}
}

func (e *WindowRankExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *WindowRankExecutor) Init(ctx *ExecutorContext) error {
	e.releaseIter()
	e.tree = nil
	e.built = false
	e.hasMore = false
	e.prev = windowItem{}
	e.rowInPart, e.rank = 0, 0
	e.outputBuffer = make([]common.Value, 0, len(e.plan.OutputSchema()))
	e.partitionKeys = make([]common.Value, len(e.plan.PartitionBy))
	e.ctx = ctx
	e.err = nil
	return e.child.Init(ctx)
}

func (e *WindowRankExecutor) less(a, b windowItem) bool {
	if cmp := bytes.Compare(a.partition, b.partition); cmp != 0 {
		return cmp < 0
	}
	if cmp := compareTuples(a.tuple, b.tuple, e.plan.OrderBy); cmp != 0 {
		return cmp < 0
	}
	return a.seq < b.seq
}

func (e *WindowRankExecutor) build() error {
	e.tree = btree.NewBTreeGOptions(e.less, btree.Options{NoLocks: true})
	seq := 0
	for e.child.Next() {
		tuple := e.child.Current().DeepCopy()
		for i, expr := range e.plan.PartitionBy {
			e.partitionKeys[i] = expr.Eval(tuple)
		}
		e.tree.Set(windowItem{
			partition: storage.AppendKey(nil, e.partitionKeys...),
			tuple:     tuple,
			seq:       seq,
		})
		seq++
	}
	if err := e.child.Error(); err != nil {
		return err
	}
	e.iter = e.tree.Iter()
	e.hasMore = e.iter.First()
	e.firstCall = true
	return nil
}

func (e *WindowRankExecutor) Next() bool {
	if e.err != nil {
		return false
	}
	if !e.built {
		if err := e.build(); err != nil {
			e.err = err
			return false
		}
		e.built = true
	}
	if !e.firstCall && e.hasMore {
		e.hasMore = e.iter.Next()
	}
	e.firstCall = false
	if !e.hasMore {
		return false
	}

	item := e.iter.Item()
	newPartition := e.rowInPart == 0 || !bytes.Equal(item.partition, e.prev.partition)
	if newPartition {
		e.rowInPart, e.rank = 1, 1
	} else {
		e.rowInPart++
		tied := compareTuples(item.tuple, e.prev.tuple, e.plan.OrderBy) == 0
		switch e.plan.Function {
		case planner.Rank:
			if !tied {
				e.rank = e.rowInPart
			}
		case planner.DenseRank:
			if !tied {
				e.rank++
			}
		case planner.RowNumber:
			e.rank = e.rowInPart
		}
	}
	e.prev = item

	e.current = storage.MergeTuples(e.outputBuffer, item.tuple, storage.FromValues(common.NewIntValue(e.rank)))
	return true
}

func (e *WindowRankExecutor) Current() storage.Tuple {
	return e.current
}

func (e *WindowRankExecutor) Error() error {
	return e.err
}

func (e *WindowRankExecutor) releaseIter() {
	if e.built && e.tree != nil {
		e.iter.Release()
	}
}

func (e *WindowRankExecutor) Close() error {
	e.releaseIter()
	e.tree = nil
	e.built = false
	return e.child.Close()
}
