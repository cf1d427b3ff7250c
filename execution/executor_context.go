package execution

import (
	"context"
)

// ExecutorContext holds all the state and resources required for query execution.
// It is passed to every Executor during Init.
type ExecutorContext struct {
	ctx    context.Context
	tables *TableManager
}

func NewExecutorContext(ctx context.Context, tables *TableManager) *ExecutorContext {
	return &ExecutorContext{
		ctx:    ctx,
		tables: tables,
	}
}

// Context returns the context of the run. Scans stop early once it is cancelled.
func (ctx *ExecutorContext) Context() context.Context {
	return ctx.ctx
}

func (ctx *ExecutorContext) Tables() *TableManager {
	return ctx.tables
}
