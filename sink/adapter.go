package sink

import (
	"fmt"

	"weft/internal/element"
)

// Adapter is the common behaviour every sink exposes. One adapter
// instance serves one output tag.
type Adapter interface {
	Configure(any) error         // driver-specific config ⇒ struct
	Push(element.Windowed) error // consume one element
	Close() error                // idempotent, flushes
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func New(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
