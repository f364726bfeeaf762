package coder

import (
	"bytes"
	"encoding/gob"
)

// Gob round-trips native Go values. Concrete element types must be
// registered with gob.Register by whoever emits them.
type Gob struct{}

type gobBox struct{ V any }

func (Gob) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobBox{V: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob) Unmarshal(data []byte) (any, error) {
	var box gobBox
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&box); err != nil {
		return nil, err
	}
	return box.V, nil
}

func (Gob) Name() string { return "gob" }
