package translate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"weft/internal/coder"
	"weft/internal/dataset"
	"weft/internal/element"
	"weft/internal/graph"
	"weft/internal/sideinput"
	"weft/internal/telemetry"
)

type fakeFn struct {
	sig   graph.Signature
	calls atomic.Int64
	route func(e element.Windowed, side graph.SideReader, emit graph.Emit) error
}

func (f *fakeFn) Signature() graph.Signature { return f.sig }

func (f *fakeFn) Process(_ context.Context, e element.Windowed, side graph.SideReader, emit graph.Emit) error {
	f.calls.Add(1)
	if f.route == nil {
		emit("main", e)
		return nil
	}
	return f.route(e, side, emit)
}

func wv(v any) element.Windowed {
	return element.Windowed{Value: v, Window: element.GlobalWindow}
}

func newSession(t *testing.T, g *graph.Graph, tier Tier) *Session {
	t.Helper()
	m := telemetry.New(prometheus.NewRegistry())
	return NewSession(g, tier, 2, t.TempDir(), m)
}

// evenOddFn routes even values to "main", odd to "odd".
func evenOddFn() *fakeFn {
	return &fakeFn{route: func(e element.Windowed, _ graph.SideReader, emit graph.Emit) error {
		if int(e.Value.(float64))%2 == 0 {
			emit("main", e)
		} else {
			emit("odd", e)
		}
		return nil
	}}
}

func inputCollection(sess *Session, vals ...float64) *graph.Collection {
	col := graph.NewCollection("input", "json")
	parts := [][]element.Windowed{nil, nil}
	for i, v := range vals {
		parts[i%2] = append(parts[i%2], wv(v))
	}
	sess.PutDataset(col, dataset.FromSlices("input", parts), true)
	return col
}

func collectValues(t *testing.T, sess *Session, col *graph.Collection) []float64 {
	t.Helper()
	ds, err := sess.Dataset(col)
	if err != nil {
		t.Fatalf("dataset for %s: %v", col.Name, err)
	}
	parts, err := ds.Collect(context.Background(), 2)
	if err != nil {
		t.Fatalf("collect %s: %v", col.Name, err)
	}
	var out []float64
	for _, p := range parts {
		for _, e := range p {
			out = append(out, e.Value.(float64))
		}
	}
	return out
}

func TestCanTranslateRejections(t *testing.T) {
	cases := []struct {
		name string
		sig  graph.Signature
	}{
		{"splittable", graph.Signature{Splittable: true}},
		{"state", graph.Signature{UsesState: true}},
		{"timers", graph.Signature{UsesTimers: true}},
		{"window-expiration", graph.Signature{OnWindowExpiration: true}},
		{"time-sorted", graph.Signature{RequiresTimeSortedInput: true}},
		{"combined", graph.Signature{Splittable: true, UsesState: true, UsesTimers: true}},
	}
	for _, tc := range cases {
		p := &graph.ParDo{Name: tc.name, Fn: &fakeFn{sig: tc.sig}, MainOut: "main"}
		if err := CanTranslate(p); !errors.Is(err, ErrUnsupportedFeature) {
			t.Errorf("%s: want ErrUnsupportedFeature, got %v", tc.name, err)
		}
	}

	bad := &graph.ParDo{
		Name:       "bad-view",
		Fn:         &fakeFn{},
		MainOut:    "main",
		SideInputs: []graph.View{{Tag: "v", Source: graph.NewCollection("aux", "json"), Access: "streamed"}},
	}
	if err := CanTranslate(bad); !errors.Is(err, ErrUnsupportedFeature) {
		t.Errorf("side input access: want ErrUnsupportedFeature, got %v", err)
	}

	ok := &graph.ParDo{Name: "plain", Fn: &fakeFn{}, MainOut: "main"}
	if err := CanTranslate(ok); err != nil {
		t.Errorf("plain DoFn rejected: %v", err)
	}
}

func TestSingleOutputFastPath(t *testing.T) {
	g := graph.New()
	sess := newSession(t, g, TierMemory)
	in := inputCollection(sess, 1, 2, 3, 4)
	out := graph.NewCollection("out", "json")
	g.AddConsumer(out)

	fn := &fakeFn{}
	p := &graph.ParDo{
		Name:    "identity",
		Fn:      fn,
		Input:   in,
		MainOut: "main",
		Outputs: map[graph.Tag]*graph.Collection{"main": out},
	}
	if err := ParDo(context.Background(), sess, p); err != nil {
		t.Fatalf("translate: %v", err)
	}

	// The fast path is lazy: nothing runs until the output is read.
	if fn.calls.Load() != 0 {
		t.Fatalf("fast path ran the DoFn during translation (%d calls)", fn.calls.Load())
	}
	if !sess.Cacheable(out) {
		t.Fatal("fast path output must stay cacheable downstream")
	}
	got := collectValues(t, sess, out)
	if len(got) != 4 {
		t.Fatalf("want 4 elements, got %v", got)
	}
	if fn.calls.Load() != 4 {
		t.Fatalf("DoFn ran %d times, want 4", fn.calls.Load())
	}
}

func TestMultiOutputSplitRaw(t *testing.T) {
	testMultiOutputSplit(t, TierMemory)
}

func TestMultiOutputSplitColumnar(t *testing.T) {
	testMultiOutputSplit(t, TierMemorySerialized)
}

func TestMultiOutputSplitDisk(t *testing.T) {
	for _, tier := range []Tier{TierDisk, TierDiskLZ4, TierDiskZstd} {
		testMultiOutputSplit(t, tier)
	}
}

func testMultiOutputSplit(t *testing.T, tier Tier) {
	t.Helper()
	g := graph.New()
	sess := newSession(t, g, tier)
	in := inputCollection(sess, 1, 2, 3, 4, 5, 6)
	mainCol := graph.NewCollection("evens", "json")
	oddCol := graph.NewCollection("odds", "json")
	g.AddConsumer(mainCol)
	g.AddConsumer(oddCol)

	fn := evenOddFn()
	p := &graph.ParDo{
		Name:          "even-odd-" + string(tier),
		Fn:            fn,
		Input:         in,
		MainOut:       "main",
		AdditionalOut: []graph.Tag{"odd"},
		Outputs:       map[graph.Tag]*graph.Collection{"main": mainCol, "odd": oddCol},
	}
	if err := ParDo(context.Background(), sess, p); err != nil {
		t.Fatalf("%s: translate: %v", tier, err)
	}

	// The combined stream is the one cache point; the per-tag projections
	// must never be persisted again downstream.
	if sess.Cacheable(mainCol) || sess.Cacheable(oddCol) {
		t.Fatalf("%s: split projections marked cacheable", tier)
	}

	evens := collectValues(t, sess, mainCol)
	odds := collectValues(t, sess, oddCol)
	if len(evens) != 3 || len(odds) != 3 {
		t.Fatalf("%s: want 3+3 elements, got %v / %v", tier, evens, odds)
	}
	for _, v := range evens {
		if int(v)%2 != 0 {
			t.Fatalf("%s: odd value %v leaked into evens", tier, v)
		}
	}
	for _, v := range odds {
		if int(v)%2 != 1 {
			t.Fatalf("%s: even value %v leaked into odds", tier, v)
		}
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("%s: close: %v", tier, err)
	}
}

func TestMaterializeOnce(t *testing.T) {
	for _, tier := range []Tier{TierMemory, TierMemorySerialized, TierDiskZstd} {
		g := graph.New()
		sess := newSession(t, g, tier)
		in := inputCollection(sess, 1, 2, 3, 4)
		mainCol := graph.NewCollection("evens", "json")
		oddCol := graph.NewCollection("odds", "json")
		g.AddConsumer(mainCol)
		g.AddConsumer(oddCol)

		fn := evenOddFn()
		p := &graph.ParDo{
			Name:          "once-" + string(tier),
			Fn:            fn,
			Input:         in,
			MainOut:       "main",
			AdditionalOut: []graph.Tag{"odd"},
			Outputs:       map[graph.Tag]*graph.Collection{"main": mainCol, "odd": oddCol},
		}
		if err := ParDo(context.Background(), sess, p); err != nil {
			t.Fatalf("%s: translate: %v", tier, err)
		}
		// Multi-output persists eagerly during translation.
		if fn.calls.Load() != 4 {
			t.Fatalf("%s: adapter ran %d elements during persist, want 4", tier, fn.calls.Load())
		}
		// Re-splitting and re-reading never re-runs the DoFn.
		for i := 0; i < 3; i++ {
			collectValues(t, sess, mainCol)
			collectValues(t, sess, oddCol)
		}
		if fn.calls.Load() != 4 {
			t.Fatalf("%s: adapter re-ran, %d calls total", tier, fn.calls.Load())
		}
	}
}

func TestLeafTagFiltering(t *testing.T) {
	// End-to-end scenario: {main, sideA, sideB}, only main and sideA
	// consumed, columnar tier. sideB must appear nowhere.
	g := graph.New()
	sess := newSession(t, g, TierMemorySerialized)
	in := inputCollection(sess, 1, 2, 3)
	mainCol := graph.NewCollection("main", "json")
	aCol := graph.NewCollection("sideA", "json")
	bCol := graph.NewCollection("sideB", "json")
	g.AddConsumer(mainCol)
	g.AddConsumer(aCol)

	var emittedB atomic.Int64
	fn := &fakeFn{route: func(e element.Windowed, _ graph.SideReader, emit graph.Emit) error {
		emit("main", e)
		emit("sideA", e)
		emit("sideB", e)
		emittedB.Add(1)
		return nil
	}}
	p := &graph.ParDo{
		Name:          "fanout",
		Fn:            fn,
		Input:         in,
		MainOut:       "main",
		AdditionalOut: []graph.Tag{"sideA", "sideB"},
		Outputs:       map[graph.Tag]*graph.Collection{"main": mainCol, "sideA": aCol, "sideB": bCol},
	}
	if err := ParDo(context.Background(), sess, p); err != nil {
		t.Fatalf("translate: %v", err)
	}

	if got := collectValues(t, sess, mainCol); len(got) != 3 {
		t.Fatalf("main: want 3, got %v", got)
	}
	if got := collectValues(t, sess, aCol); len(got) != 3 {
		t.Fatalf("sideA: want 3, got %v", got)
	}
	if _, err := sess.Dataset(bCol); !errors.Is(err, ErrInvariant) {
		t.Fatalf("sideB must not be registered, got %v", err)
	}
}

func TestPrimaryTagAlwaysSurvives(t *testing.T) {
	// Main output with zero consumers still gets translated (fast path,
	// since the unconsumed additional tag is filtered).
	g := graph.New()
	sess := newSession(t, g, TierMemory)
	in := inputCollection(sess, 1, 2)
	mainCol := graph.NewCollection("main", "json")
	extraCol := graph.NewCollection("extra", "json")

	p := &graph.ParDo{
		Name:          "unconsumed-main",
		Fn:            &fakeFn{},
		Input:         in,
		MainOut:       "main",
		AdditionalOut: []graph.Tag{"extra"},
		Outputs:       map[graph.Tag]*graph.Collection{"main": mainCol, "extra": extraCol},
	}
	if err := ParDo(context.Background(), sess, p); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if _, err := sess.Dataset(mainCol); err != nil {
		t.Fatalf("main output missing: %v", err)
	}
	if _, err := sess.Dataset(extraCol); !errors.Is(err, ErrInvariant) {
		t.Fatalf("leaf output registered: %v", err)
	}
}

func TestTierParsingAndSelection(t *testing.T) {
	for s, want := range map[string]Tier{
		"":           TierMemory,
		"memory":     TierMemory,
		"memory_ser": TierMemorySerialized,
		"disk":       TierDisk,
		"disk_lz4":   TierDiskLZ4,
		"disk_zstd":  TierDiskZstd,
	} {
		got, err := ParseTier(s)
		if err != nil || got != want {
			t.Fatalf("ParseTier(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseTier("offheap"); err == nil {
		t.Fatal("expected error for unknown tier")
	}

	if TierMemory.Encoded() {
		t.Fatal("raw in-memory tier must select the raw representation")
	}
	for _, tier := range []Tier{TierMemorySerialized, TierDisk, TierDiskLZ4, TierDiskZstd} {
		if !tier.Encoded() {
			t.Fatalf("tier %s must select the columnar representation", tier)
		}
	}
}

func TestBroadcastCaching(t *testing.T) {
	g := graph.New()
	sess := newSession(t, g, TierMemory)
	aux := graph.NewCollection("aux", "json")

	var loads atomic.Int64
	sess.PutDataset(aux, dataset.New("aux", 1, func(context.Context, int) ([]element.Windowed, error) {
		loads.Add(1)
		return []element.Windowed{wv(10)}, nil
	}), true)

	loader := valuesLoader(sess, aux)
	b1, err := sess.GetOrCreateBroadcast(context.Background(), aux, loader)
	if err != nil {
		t.Fatalf("first broadcast: %v", err)
	}
	b2, err := sess.GetOrCreateBroadcast(context.Background(), aux, loader)
	if err != nil {
		t.Fatalf("second broadcast: %v", err)
	}
	if b1 != b2 {
		t.Fatal("same collection must yield the same broadcast handle")
	}
	if loads.Load() != 1 {
		t.Fatalf("side input materialized %d times, want 1", loads.Load())
	}
}

func TestSideInputThroughTranslation(t *testing.T) {
	g := graph.New()
	sess := newSession(t, g, TierMemory)
	in := inputCollection(sess, 1, 2)
	aux := graph.NewCollection("aux", "json")

	var loads atomic.Int64
	sess.PutDataset(aux, dataset.New("aux", 1, func(context.Context, int) ([]element.Windowed, error) {
		loads.Add(1)
		return []element.Windowed{wv(100)}, nil
	}), true)

	out := graph.NewCollection("out", "json")
	g.AddConsumer(out)

	fn := &fakeFn{route: func(e element.Windowed, side graph.SideReader, emit graph.Emit) error {
		vals, err := side.Get("lookup", e.Window)
		if err != nil {
			return err
		}
		emit("main", wv(e.Value.(float64)+vals[0].Value.(float64)))
		return nil
	}}
	p := &graph.ParDo{
		Name:    "enrich",
		Fn:      fn,
		Input:   in,
		MainOut: "main",
		Outputs: map[graph.Tag]*graph.Collection{"main": out},
		// Two views over the same auxiliary collection: one materialization.
		SideInputs: []graph.View{
			{Tag: "lookup", Source: aux, Access: graph.AccessIterable},
			{Tag: "lookup2", Source: aux, Access: graph.AccessMultimap},
		},
	}
	if err := CanTranslate(p); err != nil {
		t.Fatalf("can-translate: %v", err)
	}
	if err := ParDo(context.Background(), sess, p); err != nil {
		t.Fatalf("translate: %v", err)
	}

	got := collectValues(t, sess, out)
	if len(got) != 2 || got[0] != 101 && got[0] != 102 {
		t.Fatalf("unexpected enriched values: %v", got)
	}
	if loads.Load() != 1 {
		t.Fatalf("aux materialized %d times, want 1", loads.Load())
	}
}

// thresholdFn drops values below a minimum that arrives through the
// deferred options supplier, not at construction.
type thresholdFn struct {
	fakeFn
	configured atomic.Int64
	min        atomic.Value
}

func (f *thresholdFn) Configure(opts map[string]any) {
	f.configured.Add(1)
	if v, ok := opts["min"].(float64); ok {
		f.min.Store(v)
	}
}

func (f *thresholdFn) Process(_ context.Context, e element.Windowed, _ graph.SideReader, emit graph.Emit) error {
	min, _ := f.min.Load().(float64)
	if e.Value.(float64) >= min {
		emit("main", e)
	}
	return nil
}

func TestDeferredOptionsReachFn(t *testing.T) {
	g := graph.New()
	sess := newSession(t, g, TierMemory)
	sess.Options = func() map[string]any { return map[string]any{"min": 3.0} }
	in := inputCollection(sess, 1, 2, 3, 4)
	out := graph.NewCollection("out", "json")
	g.AddConsumer(out)

	fn := &thresholdFn{}
	p := &graph.ParDo{
		Name:    "threshold",
		Fn:      fn,
		Input:   in,
		MainOut: "main",
		Outputs: map[graph.Tag]*graph.Collection{"main": out},
	}
	if err := ParDo(context.Background(), sess, p); err != nil {
		t.Fatalf("translate: %v", err)
	}

	got := collectValues(t, sess, out)
	if len(got) != 2 {
		t.Fatalf("options not applied before processing: %v", got)
	}
	if fn.configured.Load() == 0 {
		t.Fatal("fn never received the deferred options")
	}
}

func TestSpillCompressionOverride(t *testing.T) {
	g := graph.New()
	sess := newSession(t, g, TierDisk)
	sess.Compression = coder.CompressionZstd
	in := inputCollection(sess, 1, 2, 3, 4, 5, 6)
	mainCol := graph.NewCollection("evens", "json")
	oddCol := graph.NewCollection("odds", "json")
	g.AddConsumer(mainCol)
	g.AddConsumer(oddCol)

	p := &graph.ParDo{
		Name:          "override",
		Fn:            evenOddFn(),
		Input:         in,
		MainOut:       "main",
		AdditionalOut: []graph.Tag{"odd"},
		Outputs:       map[graph.Tag]*graph.Collection{"main": mainCol, "odd": oddCol},
	}
	if err := ParDo(context.Background(), sess, p); err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got := collectValues(t, sess, mainCol); len(got) != 3 {
		t.Fatalf("want 3 evens, got %v", got)
	}

	// The plain disk tier implies no compression; the override must win.
	seg := filepath.Join(sess.SpillDir, "override", "part-00000.seg")
	raw, err := os.ReadFile(seg)
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	zstdMagic := []byte{0x28, 0xb5, 0x2f, 0xfd}
	if len(raw) < 4 || !bytes.Equal(raw[:4], zstdMagic) {
		t.Fatalf("segment not zstd-compressed, starts % x", raw[:min(4, len(raw))])
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDefaultSpillRootIsPerSession(t *testing.T) {
	s1 := NewSession(graph.New(), TierDisk, 1, "", nil)
	s2 := NewSession(graph.New(), TierDisk, 1, "", nil)

	r1, err := s1.spillRoot()
	if err != nil {
		t.Fatalf("spill root: %v", err)
	}
	r2, err := s2.spillRoot()
	if err != nil {
		t.Fatalf("spill root: %v", err)
	}
	if r1 == r2 {
		t.Fatalf("sessions share the default spill root %q", r1)
	}

	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(r1); !os.IsNotExist(err) {
		t.Fatalf("default spill root survived close: %v", err)
	}
	_ = s2.Close()
}

func TestColumnCodersInvariant(t *testing.T) {
	p := &graph.ParDo{Name: "broken", MainOut: "main"}
	outputs := map[graph.Tag]*graph.Collection{"main": graph.NewCollection("main", "json")}
	// Index map disagrees with the filtered set.
	_, err := columnCoders(p, outputs, map[graph.Tag]int{"other": 0})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("want ErrInvariant, got %v", err)
	}
}

func TestExecutionErrorPropagates(t *testing.T) {
	g := graph.New()
	sess := newSession(t, g, TierMemorySerialized)
	in := inputCollection(sess, 1, 2)
	mainCol := graph.NewCollection("main", "json")
	oddCol := graph.NewCollection("odd", "json")
	g.AddConsumer(mainCol)
	g.AddConsumer(oddCol)

	boom := errors.New("user function failed")
	fn := &fakeFn{route: func(element.Windowed, graph.SideReader, graph.Emit) error {
		return boom
	}}
	p := &graph.ParDo{
		Name:          "failing",
		Fn:            fn,
		Input:         in,
		MainOut:       "main",
		AdditionalOut: []graph.Tag{"odd"},
		Outputs:       map[graph.Tag]*graph.Collection{"main": mainCol, "odd": oddCol},
	}
	err := ParDo(context.Background(), sess, p)
	if !errors.Is(err, boom) {
		t.Fatalf("execution error must propagate unchanged, got %v", err)
	}
}

func TestUnknownCoderRejected(t *testing.T) {
	g := graph.New()
	sess := newSession(t, g, TierMemory)
	in := inputCollection(sess, 1)
	out := graph.NewCollection("out", "avro")
	g.AddConsumer(out)

	p := &graph.ParDo{
		Name:    "bad-coder",
		Fn:      &fakeFn{},
		Input:   in,
		MainOut: "main",
		Outputs: map[graph.Tag]*graph.Collection{"main": out},
	}
	if err := ParDo(context.Background(), sess, p); err == nil {
		t.Fatal("expected error for unknown coder")
	}
}

func TestReaderAfterSessionClose(t *testing.T) {
	b := sideinput.NewBroadcast("x", sideinput.Materialize(nil))
	b.Retain()
	b.Release()
	if _, err := b.Values(); err == nil {
		t.Fatal("released broadcast must not serve values")
	}
}
