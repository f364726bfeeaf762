package coder

import (
	"encoding/binary"
	"fmt"
	"time"

	"weft/internal/element"
)

// MarshalWindowed frames a windowed element as one cell of a columnar row:
// uvarint window length, window bytes, varint event time (unix nanos),
// uvarint value length, value bytes encoded with the tag's coder.
func MarshalWindowed(c Coder, e element.Windowed) ([]byte, error) {
	vb, err := c.Marshal(e.Value)
	if err != nil {
		return nil, fmt.Errorf("coder %s: %w", c.Name(), err)
	}
	buf := make([]byte, 0, len(e.Window)+len(vb)+2*binary.MaxVarintLen64)
	buf = binary.AppendUvarint(buf, uint64(len(e.Window)))
	buf = append(buf, e.Window...)
	buf = binary.AppendVarint(buf, e.EventTime.UnixNano())
	buf = binary.AppendUvarint(buf, uint64(len(vb)))
	buf = append(buf, vb...)
	return buf, nil
}

// UnmarshalWindowed is the inverse of MarshalWindowed.
func UnmarshalWindowed(c Coder, data []byte) (element.Windowed, error) {
	var e element.Windowed
	wl, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < wl {
		return e, fmt.Errorf("coder: truncated window header")
	}
	data = data[n:]
	e.Window = string(data[:wl])
	data = data[wl:]

	ts, n := binary.Varint(data)
	if n <= 0 {
		return e, fmt.Errorf("coder: truncated event time")
	}
	e.EventTime = time.Unix(0, ts)
	data = data[n:]

	vl, n := binary.Uvarint(data)
	if n <= 0 || uint64(len(data)-n) < vl {
		return e, fmt.Errorf("coder: truncated value")
	}
	v, err := c.Unmarshal(data[n : n+int(vl)])
	if err != nil {
		return e, fmt.Errorf("coder %s: %w", c.Name(), err)
	}
	e.Value = v
	return e, nil
}
