package pipeline

import (
	"context"
	"fmt"

	"weft/internal/element"
	"weft/internal/graph"
)

// FnFactory builds a DoFn from the pipeline options block.
type FnFactory func(options map[string]any) (graph.DoFn, error)

var fnReg = map[string]FnFactory{}

// RegisterFn makes a DoFn available to pipeline YAML by name.
func RegisterFn(name string, f FnFactory) { fnReg[name] = f }

func newFn(name string, options map[string]any) (graph.DoFn, error) {
	f, ok := fnReg[name]
	if !ok {
		return nil, fmt.Errorf("unknown fn %q", name)
	}
	return f(options)
}

/*──────── built-ins ───────*/

// identityFn forwards every element to the main output.
type identityFn struct{ main graph.Tag }

func (f *identityFn) Signature() graph.Signature { return graph.Signature{} }

func (f *identityFn) Process(_ context.Context, e element.Windowed, _ graph.SideReader, emit graph.Emit) error {
	emit(f.main, e)
	return nil
}

// fieldRouterFn routes each object to the tag named by one of its
// fields; objects without the field (or non-objects) go to main.
// Emissions to undeclared or unconsumed tags are dropped downstream.
type fieldRouterFn struct {
	main  graph.Tag
	field string
}

func (f *fieldRouterFn) Signature() graph.Signature { return graph.Signature{} }

func (f *fieldRouterFn) Process(_ context.Context, e element.Windowed, _ graph.SideReader, emit graph.Emit) error {
	if m, ok := e.Value.(map[string]any); ok {
		if tag, ok := m[f.field].(string); ok {
			emit(graph.Tag(tag), e)
			return nil
		}
	}
	emit(f.main, e)
	return nil
}

func init() {
	RegisterFn("identity", func(options map[string]any) (graph.DoFn, error) {
		main, _ := options["main"].(string)
		if main == "" {
			main = "main"
		}
		return &identityFn{main: graph.Tag(main)}, nil
	})
	RegisterFn("field_router", func(options map[string]any) (graph.DoFn, error) {
		field, _ := options["field"].(string)
		if field == "" {
			return nil, fmt.Errorf("field_router: options.field not set")
		}
		main, _ := options["main"].(string)
		if main == "" {
			main = "main"
		}
		return &fieldRouterFn{main: graph.Tag(main), field: field}, nil
	})
}
