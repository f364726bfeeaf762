package source

import (
	"context"
	"fmt"

	"weft/internal/element"
)

// Adapter is a bounded source: one Read returns the complete input,
// already partitioned. Batch translation requires bounded inputs, so
// the contract has no streaming form.
type Adapter interface {
	Configure(configPath string) error // driver-specific YAML
	Read(ctx context.Context) ([][]element.Windowed, error)
	Close() error
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(kind string, f factory) { reg[kind] = f }

func New(kind string) (Adapter, error) {
	if f, ok := reg[kind]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown source %q", kind)
}
