// Package coder centralizes element encoding.
//
// Every output collection names its coder; the columnar persistence path
// runs each cell through the owning tag's coder, so coder selection is a
// compatibility boundary for spilled data.
package coder

import "fmt"

// Coder encodes/decodes element values.
// Implementations must be safe for concurrent use.
type Coder interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
	Name() string
}

// ByName returns a built-in coder by its stable name.
func ByName(name string) (Coder, error) {
	switch name {
	case "json":
		return JSON{}, nil
	case "gob":
		return Gob{}, nil
	default:
		return nil, fmt.Errorf("coder: unknown coder %q", name)
	}
}
