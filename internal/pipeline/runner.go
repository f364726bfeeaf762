package pipeline

import (
	"context"
	"fmt"

	"weft/internal/coder"
	"weft/internal/dataset"
	"weft/internal/graph"
	"weft/internal/logging"
	"weft/internal/telemetry"
	"weft/internal/translate"
	"weft/sink"
	"weft/source"
)

type sideBinding struct {
	col *graph.Collection
	src source.Adapter
}

// Runner executes one compiled batch pipeline: validate, load, translate,
// drain every registered output into its sink.
type Runner struct {
	tier        translate.Tier
	parallelism int
	spillDir    string
	compression coder.Compression
	options     map[string]any
	metrics     *telemetry.Metrics

	graph  *graph.Graph
	pardo  *graph.ParDo
	source source.Adapter
	sides  []sideBinding
	sinks  map[graph.Tag]sink.Adapter
}

func (r *Runner) Run(ctx context.Context) error {
	// The translatability verdict gates everything: nothing is read or
	// scheduled before it.
	if err := translate.CanTranslate(r.pardo); err != nil {
		return err
	}

	sess := translate.NewSession(r.graph, r.tier, r.parallelism, r.spillDir, r.metrics)
	sess.Compression = r.compression
	sess.Options = func() map[string]any { return r.options }
	defer sess.Close()

	parts, err := r.source.Read(ctx)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	sess.PutDataset(r.pardo.Input, dataset.FromSlices("input", parts), true)

	for _, sb := range r.sides {
		parts, err := sb.src.Read(ctx)
		if err != nil {
			return fmt.Errorf("side source %s: %w", sb.col.Name, err)
		}
		sess.PutDataset(sb.col, dataset.FromSlices(sb.col.Name, parts), true)
	}

	if err := translate.ParDo(ctx, sess, r.pardo); err != nil {
		return err
	}

	for tag, drv := range r.sinks {
		col := r.pardo.Outputs[tag]
		ds, err := sess.Dataset(col)
		if err != nil {
			return err
		}
		outParts, err := ds.Collect(ctx, r.parallelism)
		if err != nil {
			return err
		}
		n := 0
		for _, part := range outParts {
			for _, e := range part {
				if err := drv.Push(e); err != nil {
					return fmt.Errorf("sink for tag %q: %w", tag, err)
				}
				n++
			}
		}
		logging.L().Info("output drained", "transform", r.pardo.Name, "tag", string(tag), "elements", n)
	}
	return nil
}

// Close releases the source and sinks. Idempotent like the drivers.
func (r *Runner) Close() error {
	var first error
	if err := r.source.Close(); err != nil {
		first = err
	}
	for _, sb := range r.sides {
		if err := sb.src.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, drv := range r.sinks {
		if err := drv.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
