package element

import "time"

// GlobalWindow is the window assigned by bounded sources that carry no
// windowing information of their own.
const GlobalWindow = "global"

// Windowed is one element value together with its windowing metadata.
// The metadata is carried opaquely: nothing in the engine reinterprets it,
// it only travels alongside the value and survives encoding.
type Windowed struct {
	Value     any
	EventTime time.Time
	Window    string
}

// Tagged pairs an element with the output column it was emitted to.
// Produced only by the multi-output partition adapter, consumed only by
// the output splitter.
type Tagged struct {
	Col  int
	Elem Windowed
}
