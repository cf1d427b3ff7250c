package execution

import (
	"mit.edu/dsg/topsales/planner"
	"mit.edu/dsg/topsales/storage"
)

// Executor is the interface that all physical execution nodes must implement.
type Executor interface {
	PlanNode() planner.PlanNode

	// Init initializes the executor with a specific execution context.
	// Calling Init again restarts the executor from the beginning.
	Init(ctx *ExecutorContext) error

	// Next retrieves the next tuple from the executor.
	Next() bool

	// Current returns the tuple most recently read by Next().
	Current() storage.Tuple

	// Error returns the last error encountered by the executor, if any.
	Error() error

	// Close cleans up any resources held by the executor.
	Close() error
}
