package coder

import "encoding/json"

// JSON is the standard-library JSON coder. Decoded values come back as the
// generic JSON shapes (map[string]any, []any, float64, string, bool, nil),
// which is what file and Kafka sources produce anyway.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSON) Name() string { return "json" }
