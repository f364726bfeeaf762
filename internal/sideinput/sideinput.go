// Package sideinput provides the broadcast distribution of auxiliary
// datasets: fully materialized, read-only snapshots every partition
// worker reads without re-fetching from the source.
package sideinput

import (
	"errors"
	"fmt"
	"sync"

	"weft/internal/element"
	"weft/internal/graph"
)

// ErrUnregistered marks a lookup for a side input tag that was never
// wired into the reader. This is a translation defect, not bad input.
var ErrUnregistered = errors.New("side input not registered")

// Values is the materialized snapshot of one collection, grouped by
// window. Read-only after construction.
type Values struct {
	byWindow map[string][]element.Windowed
}

// Materialize builds a snapshot from evaluated partitions.
func Materialize(parts [][]element.Windowed) *Values {
	v := &Values{byWindow: make(map[string][]element.Windowed)}
	for _, part := range parts {
		for _, e := range part {
			v.byWindow[e.Window] = append(v.byWindow[e.Window], e)
		}
	}
	return v
}

// Get returns the elements of one window. A window with no elements is
// an empty, valid view.
func (v *Values) Get(window string) []element.Windowed {
	return v.byWindow[window]
}

// Broadcast wraps Values with consumer reference counting. Every
// translated node reading the view retains it; the last release drops
// the snapshot.
type Broadcast struct {
	id string

	mu       sync.Mutex
	refs     int
	vals     *Values
	released bool
}

func NewBroadcast(id string, vals *Values) *Broadcast {
	return &Broadcast{id: id, vals: vals}
}

func (b *Broadcast) ID() string { return b.id }

func (b *Broadcast) Retain() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

// Release drops one consumer reference; at zero the snapshot is freed.
func (b *Broadcast) Release() {
	b.mu.Lock()
	if b.refs > 0 {
		b.refs--
	}
	if b.refs == 0 {
		b.vals = nil
		b.released = true
	}
	b.mu.Unlock()
}

func (b *Broadcast) Values() (*Values, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, fmt.Errorf("broadcast %s: already released", b.id)
	}
	return b.vals, nil
}

// Reader resolves side input lookups by view tag. Implements
// graph.SideReader.
type Reader struct {
	broadcasts map[graph.Tag]*Broadcast
}

// EmptyReader serves transforms without side inputs.
func EmptyReader() *Reader {
	return &Reader{}
}

func NewReader(broadcasts map[graph.Tag]*Broadcast) *Reader {
	return &Reader{broadcasts: broadcasts}
}

func (r *Reader) Get(tag graph.Tag, window string) ([]element.Windowed, error) {
	b, ok := r.broadcasts[tag]
	if !ok {
		return nil, fmt.Errorf("tag %q: %w", tag, ErrUnregistered)
	}
	vals, err := b.Values()
	if err != nil {
		return nil, err
	}
	return vals.Get(window), nil
}

// ValidateAccess checks every view can be served by batch broadcast:
// only fully-materialized iterable or multimap access qualifies.
func ValidateAccess(views []graph.View) error {
	for _, v := range views {
		switch v.Access {
		case graph.AccessIterable, graph.AccessMultimap:
		default:
			return fmt.Errorf("side input %q: access pattern %q not supported for batch broadcast", v.Tag, v.Access)
		}
	}
	return nil
}
