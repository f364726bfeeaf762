package spec

// SourceSpec names a bounded source driver and its own config file.
type SourceSpec struct {
	Kind   string `yaml:"kind"`   // "file", "kafka"
	Driver string `yaml:"driver"` // driver within the kind, e.g. "sarama"
	Config string `yaml:"config"` // driver config path, relative to this file
}

type OutputSpec struct {
	Tag   string `yaml:"tag"`
	Coder string `yaml:"coder"` // "json", "gob"
}

type SideInputSpec struct {
	Tag    string     `yaml:"tag"`
	Access string     `yaml:"access"` // "iterable" (default) or "multimap"
	Source SourceSpec `yaml:"source"`
}

// ParDoSpec declares the one multi-output transform of the pipeline.
type ParDoSpec struct {
	Name       string          `yaml:"name"`
	Fn         string          `yaml:"fn"` // registered DoFn factory
	Options    map[string]any  `yaml:"options"`
	MainOutput string          `yaml:"main_output"`
	Outputs    []OutputSpec    `yaml:"outputs"`
	SideInputs []SideInputSpec `yaml:"side_inputs"`
}

type SinkSpec struct {
	Name   string         `yaml:"name"` // registered sink driver
	Config map[string]any `yaml:"config"`
}

// DebugSpec holds console-sink defaults applied to every stdout sink
// that does not set the key itself.
type DebugSpec struct {
	PerElementDelayMS int  `yaml:"per_element_delay_ms"`
	PrintCounter      bool `yaml:"print_counter"`
	PrintValue        bool `yaml:"print_value"`
	ValueMaxBytes     int  `yaml:"value_max_bytes"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source SourceSpec `yaml:"source"`
	ParDo  ParDoSpec  `yaml:"pardo"`

	// Sinks keyed by output tag; tags without a sink are translation
	// leaves and get dropped (main excepted).
	Sinks map[string]SinkSpec `yaml:"sinks"`
	Debug DebugSpec           `yaml:"debug"`
}
