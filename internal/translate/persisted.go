package translate

import (
	"fmt"

	"weft/internal/coder"
	"weft/internal/dataset"
	"weft/internal/element"
)

// persisted is the union over the two physical representations of the
// combined tagged stream. A third representation is one new variant and
// one new Split, not a rewrite of the tier selection.
type persisted interface {
	// Split projects the column's elements into an independent dataset.
	Split(col int) *dataset.Dataset[element.Windowed]
}

// rawStream is the in-memory raw-value representation: native tagged
// records, no encoding anywhere. Splitting filters on the column index
// and unwraps.
type rawStream struct {
	per *dataset.Persisted[element.Tagged]
}

func (r *rawStream) Split(col int) *dataset.Dataset[element.Windowed] {
	name := fmt.Sprintf("%s:col%d", r.per.Dataset().Name(), col)
	return dataset.FlatMapFiltered(r.per.Dataset(), name, func(t element.Tagged) (element.Windowed, bool) {
		return t.Elem, t.Col == col
	})
}

// columnarStream is the encoded row representation: one cell per column,
// exactly one populated per row. Splitting decodes only the selected
// column's cells; the other columns' payloads are never touched.
type columnarStream struct {
	rows   *dataset.Dataset[dataset.Row]
	coders []coder.Coder
}

func (c *columnarStream) Split(col int) *dataset.Dataset[element.Windowed] {
	name := fmt.Sprintf("%s:col%d", c.rows.Name(), col)
	dec := c.coders[col]
	return dataset.MapPartitions(c.rows, name, func(_ int, in []dataset.Row) ([]element.Windowed, error) {
		var out []element.Windowed
		for _, row := range in {
			cell := row.Cell(col)
			if cell == nil {
				continue
			}
			e, err := coder.UnmarshalWindowed(dec, cell)
			if err != nil {
				return nil, fmt.Errorf("column %d: %w", col, err)
			}
			out = append(out, e)
		}
		return out, nil
	})
}
