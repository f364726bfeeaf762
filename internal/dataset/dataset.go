// Package dataset is the physical layer of the batch engine: lazy,
// partitioned collections evaluated partition-parallel, with a single
// persist point per translated node.
package dataset

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Dataset is a lazy partitioned collection. Evaluating a partition runs
// the whole upstream chain for that partition; nothing is cached unless
// the dataset is persisted.
type Dataset[T any] struct {
	name  string
	parts int
	fn    func(ctx context.Context, part int) ([]T, error)
}

func New[T any](name string, parts int, fn func(ctx context.Context, part int) ([]T, error)) *Dataset[T] {
	return &Dataset[T]{name: name, parts: parts, fn: fn}
}

// FromSlices wraps already-loaded partitions, one slice per partition.
func FromSlices[T any](name string, parts [][]T) *Dataset[T] {
	return New(name, len(parts), func(_ context.Context, p int) ([]T, error) {
		return parts[p], nil
	})
}

func (d *Dataset[T]) Name() string       { return d.name }
func (d *Dataset[T]) NumPartitions() int { return d.parts }

// Partition evaluates a single partition.
func (d *Dataset[T]) Partition(ctx context.Context, p int) ([]T, error) {
	if p < 0 || p >= d.parts {
		return nil, fmt.Errorf("dataset %s: partition %d out of range [0,%d)", d.name, p, d.parts)
	}
	return d.fn(ctx, p)
}

// Collect evaluates every partition, at most parallelism at a time.
func (d *Dataset[T]) Collect(ctx context.Context, parallelism int) ([][]T, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	out := make([][]T, d.parts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for p := 0; p < d.parts; p++ {
		p := p
		g.Go(func() error {
			rows, err := d.fn(gctx, p)
			if err != nil {
				return fmt.Errorf("dataset %s: partition %d: %w", d.name, p, err)
			}
			out[p] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MapPartitions derives a dataset by transforming whole partitions.
func MapPartitions[T, U any](d *Dataset[T], name string, f func(part int, in []T) ([]U, error)) *Dataset[U] {
	return New(name, d.parts, func(ctx context.Context, p int) ([]U, error) {
		in, err := d.fn(ctx, p)
		if err != nil {
			return nil, err
		}
		return f(p, in)
	})
}

// FlatMapFiltered derives a dataset keeping only elements f maps to
// (kept=true), projecting them in the same pass.
func FlatMapFiltered[T, U any](d *Dataset[T], name string, f func(T) (U, bool)) *Dataset[U] {
	return MapPartitions(d, name, func(_ int, in []T) ([]U, error) {
		var out []U
		for _, v := range in {
			if u, keep := f(v); keep {
				out = append(out, u)
			}
		}
		return out, nil
	})
}
