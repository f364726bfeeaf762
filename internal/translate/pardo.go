// Package translate turns one multi-output ParDo node into executable
// datasets: one combined pass over the input, persisted once, split into
// one independent output collection per surviving tag.
package translate

import (
	"context"
	"fmt"
	"path/filepath"

	"weft/internal/coder"
	"weft/internal/dataset"
	"weft/internal/element"
	"weft/internal/exec"
	"weft/internal/graph"
	"weft/internal/sideinput"
)

// CanTranslate inspects the transform's signature and rejects anything
// the batch engine cannot run. Each check is a hard failure; the caller
// must not schedule execution before an affirmative verdict.
func CanTranslate(p *graph.ParDo) error {
	sig := p.Fn.Signature()
	if sig.Splittable {
		return fmt.Errorf("%w: splittable DoFn in transform %s", ErrUnsupportedFeature, p.Name)
	}
	if sig.UsesState || sig.UsesTimers {
		return fmt.Errorf("%w: state/timers in transform %s", ErrUnsupportedFeature, p.Name)
	}
	if sig.OnWindowExpiration {
		return fmt.Errorf("%w: onWindowExpiration in transform %s", ErrUnsupportedFeature, p.Name)
	}
	if sig.RequiresTimeSortedInput {
		return fmt.Errorf("%w: time-sorted input required by transform %s", ErrUnsupportedFeature, p.Name)
	}
	if err := sideinput.ValidateAccess(p.SideInputs); err != nil {
		return fmt.Errorf("%w: transform %s: %v", ErrUnsupportedFeature, p.Name, err)
	}
	return nil
}

// ParDo translates one node within the session. Output collections with
// no downstream consumer are dropped up front (except the main output);
// with more than one survivor the combined stream is persisted once in
// the tier-selected representation and split per tag.
func ParDo(ctx context.Context, sess *Session, p *graph.ParDo) error {
	input, err := sess.Dataset(p.Input)
	if err != nil {
		return err
	}
	side, err := resolveSideInputs(ctx, sess, p)
	if err != nil {
		return err
	}

	outputs, tags, err := filterOutputs(sess, p)
	if err != nil {
		return err
	}

	if len(tags) > 1 {
		return translateMulti(ctx, sess, p, input, side, outputs, tags)
	}
	return translateSingle(sess, p, input, side)
}

// filterOutputs retains the main output unconditionally and any other
// tag with at least one downstream consumer. Iteration order is the
// declaration order, which pins the column index assignment.
func filterOutputs(sess *Session, p *graph.ParDo) (map[graph.Tag]*graph.Collection, []graph.Tag, error) {
	outputs := make(map[graph.Tag]*graph.Collection, len(p.Outputs))
	var tags []graph.Tag
	for _, tag := range p.OutputTags() {
		col, ok := p.Outputs[tag]
		if !ok {
			return nil, nil, fmt.Errorf("%w: transform %s declares tag %q without a collection", ErrInvariant, p.Name, tag)
		}
		if tag != p.MainOut && sess.Graph.IsLeaf(col) {
			continue
		}
		outputs[tag] = col
		tags = append(tags, tag)
	}
	return outputs, tags, nil
}

// translateSingle is the fast path: exactly one surviving output, so the
// DoFn output feeds the collection directly, no tag envelope, no
// persist point, no split.
func translateSingle(sess *Session, p *graph.ParDo, input *dataset.Dataset[element.Windowed], side graph.SideReader) error {
	out := p.Outputs[p.MainOut]
	if _, err := coder.ByName(out.Coder); err != nil {
		return fmt.Errorf("transform %s: output %q: %w", p.Name, p.MainOut, err)
	}
	ds := exec.SingleOutput(p.Name, p.Fn, sess.Options, input, side, sess.Metrics, p.MainOut)
	sess.PutDataset(out, ds, true)
	return nil
}

func translateMulti(ctx context.Context, sess *Session, p *graph.ParDo, input *dataset.Dataset[element.Windowed], side graph.SideReader, outputs map[graph.Tag]*graph.Collection, tags []graph.Tag) error {
	tagCol := tagColumnIndex(tags)
	coders, err := columnCoders(p, outputs, tagCol)
	if err != nil {
		return err
	}

	combined := exec.MultiOutput(p.Name, p.Fn, sess.Options, input, side, sess.Metrics, tagCol)

	rep, err := persist(ctx, sess, p, combined, coders)
	if err != nil {
		return err
	}

	// Divide into separate output datasets, one per surviving tag. The
	// projections are not cacheable: the one cache point is the combined
	// stream, caching a projection would hold the same bytes twice.
	for _, tag := range tags {
		col, ok := tagCol[tag]
		if !ok {
			return fmt.Errorf("%w: tag %q missing from column index of transform %s", ErrInvariant, tag, p.Name)
		}
		sess.PutDataset(outputs[tag], rep.Split(col), false)
	}
	return nil
}

// tagColumnIndex assigns each surviving tag a dense column index in
// iteration order.
func tagColumnIndex(tags []graph.Tag) map[graph.Tag]int {
	idx := make(map[graph.Tag]int, len(tags))
	for _, tag := range tags {
		idx[tag] = len(idx)
	}
	return idx
}

// columnCoders resolves one coder per surviving tag, ordered by column
// index. A tag absent from the index map here means the filter and the
// index builder disagreed.
func columnCoders(p *graph.ParDo, outputs map[graph.Tag]*graph.Collection, tagCol map[graph.Tag]int) ([]coder.Coder, error) {
	coders := make([]coder.Coder, len(outputs))
	for tag, col := range outputs {
		idx, ok := tagCol[tag]
		if !ok {
			return nil, fmt.Errorf("%w: tag %q missing from column index of transform %s", ErrInvariant, tag, p.Name)
		}
		c, err := coder.ByName(col.Coder)
		if err != nil {
			return nil, fmt.Errorf("transform %s: output %q: %w", p.Name, tag, err)
		}
		coders[idx] = c
	}
	return coders, nil
}

// persist materializes the combined stream exactly once in the
// representation the tier selects. The raw in-memory tier keeps native
// records: values already live as objects there and a row encoder would
// be pure overhead. Every other tier encodes one cell per row so a
// single column can later be selected without decoding the rest.
func persist(ctx context.Context, sess *Session, p *graph.ParDo, combined *dataset.Dataset[element.Tagged], coders []coder.Coder) (persisted, error) {
	if !sess.Tier.Encoded() {
		per := dataset.Persist(combined, sess.Parallelism)
		if err := per.Materialize(ctx); err != nil {
			return nil, err
		}
		return &rawStream{per: per}, nil
	}

	rows := dataset.MapPartitions(combined, p.Name+":rows", func(_ int, in []element.Tagged) ([]dataset.Row, error) {
		out := make([]dataset.Row, 0, len(in))
		for _, t := range in {
			cell, err := coder.MarshalWindowed(coders[t.Col], t.Elem)
			if err != nil {
				return nil, fmt.Errorf("column %d: %w", t.Col, err)
			}
			row := make(dataset.Row, len(coders))
			row[t.Col] = cell
			out = append(out, row)
		}
		return out, nil
	})

	if sess.Tier.Spills() {
		root, err := sess.spillRoot()
		if err != nil {
			return nil, err
		}
		sp, err := dataset.NewSpill(filepath.Join(root, p.Name), sess.spillCompression())
		if err != nil {
			return nil, err
		}
		sess.trackSpill(sp)
		spilled, err := dataset.SpillDataset(ctx, rows, sp, sess.Parallelism)
		if err != nil {
			return nil, err
		}
		if sess.Metrics != nil {
			sess.Metrics.SpilledBytes.Add(float64(sp.Bytes()))
		}
		return &columnarStream{rows: spilled, coders: coders}, nil
	}

	per := dataset.Persist(rows, sess.Parallelism)
	if err := per.Materialize(ctx); err != nil {
		return nil, err
	}
	return &columnarStream{rows: per.Dataset(), coders: coders}, nil
}

// resolveSideInputs obtains (or materializes) the broadcast handle of
// every referenced view and wires them into a tag-keyed reader. The
// session caches handles by collection ID, so the same auxiliary
// dataset backing multiple views materializes once.
func resolveSideInputs(ctx context.Context, sess *Session, p *graph.ParDo) (graph.SideReader, error) {
	if len(p.SideInputs) == 0 {
		return sideinput.EmptyReader(), nil
	}
	broadcasts := make(map[graph.Tag]*sideinput.Broadcast, len(p.SideInputs))
	for _, view := range p.SideInputs {
		b, err := sess.GetOrCreateBroadcast(ctx, view.Source, valuesLoader(sess, view.Source))
		if err != nil {
			return nil, err
		}
		sess.retain(b)
		broadcasts[view.Tag] = b
	}
	return sideinput.NewReader(broadcasts), nil
}

func valuesLoader(sess *Session, col *graph.Collection) func(context.Context) (*sideinput.Values, error) {
	return func(ctx context.Context) (*sideinput.Values, error) {
		ds, err := sess.Dataset(col)
		if err != nil {
			return nil, err
		}
		parts, err := ds.Collect(ctx, sess.Parallelism)
		if err != nil {
			return nil, err
		}
		return sideinput.Materialize(parts), nil
	}
}
