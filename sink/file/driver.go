// Package file provides the JSONL sink: one JSON value per line.
package file

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"weft/internal/element"
	"weft/sink"
)

type Config struct {
	Path string `yaml:"path"`
}

type driver struct {
	cfg Config
	f   *os.File
	w   *bufio.Writer
}

func (d *driver) Configure(raw any) error {
	switch c := raw.(type) {
	case Config:
		d.cfg = c
	case map[string]any:
		p, _ := c["path"].(string)
		d.cfg = Config{Path: p}
	default:
		return fmt.Errorf("file-sink: expected Config, got %T", raw)
	}
	if d.cfg.Path == "" {
		return fmt.Errorf("file-sink: path not set")
	}
	f, err := os.Create(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("file-sink: %w", err)
	}
	d.f = f
	d.w = bufio.NewWriter(f)
	return nil
}

func (d *driver) Push(e element.Windowed) error {
	b, err := json.Marshal(e.Value)
	if err != nil {
		return err
	}
	if _, err := d.w.Write(b); err != nil {
		return err
	}
	return d.w.WriteByte('\n')
}

func (d *driver) Close() error {
	if d.f == nil {
		return nil
	}
	if err := d.w.Flush(); err != nil {
		return err
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func init() {
	sink.Register("file", func() sink.Adapter { return &driver{} })
}
