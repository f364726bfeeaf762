// Package exec builds the per-partition functions that actually apply a
// DoFn: one pass over each input partition, emissions routed by tag.
package exec

import (
	"context"

	"weft/internal/dataset"
	"weft/internal/element"
	"weft/internal/graph"
	"weft/internal/telemetry"
)

// OptionsSupplier defers engine option resolution until a partition
// actually runs, so late-bound settings reach every worker.
type OptionsSupplier func() map[string]any

// optionsAware DoFns receive the deferred options before the first
// element of each partition.
type optionsAware interface {
	Configure(opts map[string]any)
}

// SingleOutput runs fn over in producing the main output directly, with
// no tag envelope. Emissions to any other tag are discarded: when only
// one output survives filtering there is nothing downstream to read them.
func SingleOutput(name string, fn graph.DoFn, opts OptionsSupplier, in *dataset.Dataset[element.Windowed], side graph.SideReader, m *telemetry.Metrics, mainTag graph.Tag) *dataset.Dataset[element.Windowed] {
	return dataset.New(name, in.NumPartitions(), func(ctx context.Context, p int) ([]element.Windowed, error) {
		elems, err := in.Partition(ctx, p)
		if err != nil {
			return nil, err
		}
		configure(fn, opts)

		var out []element.Windowed
		emit := func(tag graph.Tag, e element.Windowed) {
			if tag == mainTag {
				out = append(out, e)
			}
		}
		for _, e := range elems {
			if err := fn.Process(ctx, e, side, emit); err != nil {
				return nil, err
			}
		}
		count(m, name, len(elems))
		return out, nil
	})
}

// MultiOutput runs fn over in producing the combined tagged stream:
// every emission becomes a (column, element) record. Emissions to tags
// without a column index belong to filtered-out leaf outputs and are
// discarded in the same pass.
func MultiOutput(name string, fn graph.DoFn, opts OptionsSupplier, in *dataset.Dataset[element.Windowed], side graph.SideReader, m *telemetry.Metrics, tagCol map[graph.Tag]int) *dataset.Dataset[element.Tagged] {
	return dataset.New(name, in.NumPartitions(), func(ctx context.Context, p int) ([]element.Tagged, error) {
		elems, err := in.Partition(ctx, p)
		if err != nil {
			return nil, err
		}
		configure(fn, opts)

		var out []element.Tagged
		emit := func(tag graph.Tag, e element.Windowed) {
			if col, ok := tagCol[tag]; ok {
				out = append(out, element.Tagged{Col: col, Elem: e})
			}
		}
		for _, e := range elems {
			if err := fn.Process(ctx, e, side, emit); err != nil {
				return nil, err
			}
		}
		count(m, name, len(elems))
		return out, nil
	})
}

func configure(fn graph.DoFn, opts OptionsSupplier) {
	if opts == nil {
		return
	}
	if oa, ok := fn.(optionsAware); ok {
		oa.Configure(opts())
	}
}

func count(m *telemetry.Metrics, name string, elems int) {
	if m == nil {
		return
	}
	m.Elements.WithLabelValues(name).Add(float64(elems))
	m.Partitions.Inc()
}
