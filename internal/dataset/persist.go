package dataset

import (
	"context"
	"sync"
	"sync/atomic"
)

// Persisted caches a dataset's partitions after one evaluation. All
// downstream reads share the cached slices; the upstream chain runs at
// most once no matter how many projections are split from it.
type Persisted[T any] struct {
	src         *Dataset[T]
	parallelism int

	once  sync.Once
	parts [][]T
	err   error

	computes atomic.Int64
}

func Persist[T any](src *Dataset[T], parallelism int) *Persisted[T] {
	return &Persisted[T]{src: src, parallelism: parallelism}
}

// Materialize triggers the one evaluation. Safe to call repeatedly and
// from the lazy view below.
func (p *Persisted[T]) Materialize(ctx context.Context) error {
	p.once.Do(func() {
		p.computes.Add(1)
		p.parts, p.err = p.src.Collect(ctx, p.parallelism)
	})
	return p.err
}

// Dataset returns the cached view. Reading any partition materializes
// the whole cache first.
func (p *Persisted[T]) Dataset() *Dataset[T] {
	return New(p.src.name+":persisted", p.src.parts, func(ctx context.Context, part int) ([]T, error) {
		if err := p.Materialize(ctx); err != nil {
			return nil, err
		}
		return p.parts[part], nil
	})
}

// Computes reports how many times the upstream chain ran (0 or 1).
func (p *Persisted[T]) Computes() int64 { return p.computes.Load() }
