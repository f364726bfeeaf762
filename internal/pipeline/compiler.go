package pipeline

import (
	"fmt"

	"weft/internal/coder"
	"weft/internal/config"
	"weft/internal/graph"
	"weft/internal/spec"
	"weft/internal/telemetry"
	"weft/internal/translate"
	"weft/sink"
	"weft/source"
)

// Compile loads a pipeline YAML and wires it into a Runner: sources
// configured, graph built with consumer marks for every sunk tag,
// sinks bound per tag.
func Compile(path string, cfg config.Config, m *telemetry.Metrics) (*Runner, error) {
	ps, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, err
	}
	return build(ps, cfg, m)
}

func build(ps spec.File, cfg config.Config, m *telemetry.Metrics) (*Runner, error) {
	tier, err := translate.ParseTier(cfg.Tier)
	if err != nil {
		return nil, err
	}
	var comp coder.Compression
	if cfg.Compression != "" {
		if comp, err = coder.ParseCompression(cfg.Compression); err != nil {
			return nil, err
		}
	}

	src, err := newSource(ps.Source)
	if err != nil {
		return nil, err
	}

	if ps.ParDo.Name == "" || ps.ParDo.Fn == "" {
		return nil, fmt.Errorf("pardo: name and fn are required")
	}
	fn, err := newFn(ps.ParDo.Fn, ps.ParDo.Options)
	if err != nil {
		return nil, fmt.Errorf("pardo %s: %w", ps.ParDo.Name, err)
	}
	if ps.ParDo.MainOutput == "" {
		return nil, fmt.Errorf("pardo %s: main_output is required", ps.ParDo.Name)
	}

	g := graph.New()
	input := graph.NewCollection("input", "json")

	mainTag := graph.Tag(ps.ParDo.MainOutput)
	outputs := make(map[graph.Tag]*graph.Collection, len(ps.ParDo.Outputs))
	var additional []graph.Tag
	for _, o := range ps.ParDo.Outputs {
		tag := graph.Tag(o.Tag)
		if _, dup := outputs[tag]; dup {
			return nil, fmt.Errorf("pardo %s: duplicate output tag %q", ps.ParDo.Name, o.Tag)
		}
		outputs[tag] = graph.NewCollection(o.Tag, o.Coder)
		if tag != mainTag {
			additional = append(additional, tag)
		}
	}
	if _, ok := outputs[mainTag]; !ok {
		return nil, fmt.Errorf("pardo %s: main output %q not declared in outputs", ps.ParDo.Name, ps.ParDo.MainOutput)
	}

	var views []graph.View
	var sides []sideBinding
	for _, si := range ps.ParDo.SideInputs {
		access := graph.AccessPattern(si.Access)
		if access == "" {
			access = graph.AccessIterable
		}
		aux, err := newSource(si.Source)
		if err != nil {
			return nil, fmt.Errorf("side input %s: %w", si.Tag, err)
		}
		col := graph.NewCollection("side:"+si.Tag, "json")
		views = append(views, graph.View{Tag: graph.Tag(si.Tag), Source: col, Access: access})
		sides = append(sides, sideBinding{col: col, src: aux})
	}

	sinks := make(map[graph.Tag]sink.Adapter, len(ps.Sinks))
	for tag, ss := range ps.Sinks {
		col, ok := outputs[graph.Tag(tag)]
		if !ok {
			return nil, fmt.Errorf("sink for undeclared tag %q", tag)
		}
		drv, err := sink.New(ss.Name)
		if err != nil {
			return nil, err
		}
		sinkCfg := ss.Config
		if ss.Name == "stdout" {
			sinkCfg = withDebugDefaults(sinkCfg, ps.Debug)
		}
		if err := drv.Configure(sinkCfg); err != nil {
			return nil, fmt.Errorf("sink %s for tag %q: %w", ss.Name, tag, err)
		}
		g.AddConsumer(col)
		sinks[graph.Tag(tag)] = drv
	}

	pardo := &graph.ParDo{
		Name:          ps.ParDo.Name,
		Fn:            fn,
		Input:         input,
		MainOut:       mainTag,
		AdditionalOut: additional,
		Outputs:       outputs,
		SideInputs:    views,
	}

	return &Runner{
		tier:        tier,
		parallelism: cfg.Parallelism,
		spillDir:    cfg.SpillDir,
		compression: comp,
		options:     ps.ParDo.Options,
		metrics:     m,
		graph:       g,
		pardo:       pardo,
		source:      src,
		sides:       sides,
		sinks:       sinks,
	}, nil
}

// withDebugDefaults folds the pipeline debug section into a stdout sink
// config; keys the sink sets itself win.
func withDebugDefaults(cfg map[string]any, d spec.DebugSpec) map[string]any {
	out := make(map[string]any, len(cfg)+4)
	if d.PerElementDelayMS > 0 {
		out["delay_ms"] = d.PerElementDelayMS
	}
	if d.PrintCounter {
		out["print_counter"] = true
	}
	if d.PrintValue {
		out["print_value"] = true
	}
	if d.ValueMaxBytes > 0 {
		out["value_max_bytes"] = d.ValueMaxBytes
	}
	for k, v := range cfg {
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func newSource(ss spec.SourceSpec) (source.Adapter, error) {
	if ss.Kind == "kafka" && ss.Driver != "" && ss.Driver != "sarama" {
		return nil, fmt.Errorf("unsupported kafka driver %q", ss.Driver)
	}
	src, err := source.New(ss.Kind)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(ss.Config); err != nil {
		return nil, fmt.Errorf("source %s: %w", ss.Kind, err)
	}
	return src, nil
}
