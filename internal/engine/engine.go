package engine

import (
	"context"

	"weft/internal/pipeline"
)

type Engine struct {
	runner *pipeline.Runner
}

// Run executes the compiled pipeline to completion and releases its
// drivers. Cancellation aborts in-flight partition work through ctx.
func (e *Engine) Run(ctx context.Context) error {
	defer e.runner.Close()
	return e.runner.Run(ctx)
}
