package stdout

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"weft/internal/element"
	"weft/sink"
)

/* ────────── public config ────────── */
type Config struct {
	DelayMS       int  `json:"delay_ms" yaml:"delay_ms"`               // artificial per-element delay
	PrintCounter  bool `json:"print_counter" yaml:"print_counter"`     // prepend seq#
	PrintValue    bool `json:"print_value" yaml:"print_value"`         // print the element value
	ValueMaxBytes int  `json:"value_max_bytes" yaml:"value_max_bytes"` // 0 = unlimited
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
}

var seq uint64

func (d *driver) Configure(raw any) error {
	switch c := raw.(type) {
	case nil:
		d.cfg = Config{PrintValue: true}
	case Config:
		d.cfg = c
	case map[string]any:
		if len(c) == 0 {
			d.cfg = Config{PrintValue: true}
			return nil
		}
		// pipeline YAML hands sink config through as a generic map
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &d.cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	return nil
}

func (d *driver) Push(e element.Windowed) error {
	if d.cfg.DelayMS > 0 {
		time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
	}

	prefix := ""
	if d.cfg.PrintCounter {
		prefix = fmt.Sprintf("[sink %06d] ", atomic.AddUint64(&seq, 1))
	}
	if !d.cfg.PrintValue {
		fmt.Printf("%s%s@%d\n", prefix, e.Window, e.EventTime.UnixMilli())
		return nil
	}

	b, err := json.Marshal(e.Value)
	if err != nil {
		return err
	}
	if d.cfg.ValueMaxBytes > 0 && len(b) > d.cfg.ValueMaxBytes {
		b = b[:d.cfg.ValueMaxBytes]
	}
	fmt.Printf("%s%s\n", prefix, b)
	return nil
}

func (d *driver) Close() error { return nil }

/* ────────── auto-register ───────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
