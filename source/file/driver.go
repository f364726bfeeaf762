// Package file provides the JSONL bounded source: one JSON value per
// line, dealt round-robin into partitions.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"weft/internal/element"
	"weft/source"
)

type Config struct {
	Path       string `koanf:"path"`
	Partitions int    `koanf:"partitions"`
	// TimestampField optionally names a numeric field holding the
	// element's event time as epoch milliseconds.
	TimestampField string `koanf:"timestamp_field"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `WEFT_FILE__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	_ = k.Load(env.Provider("WEFT_FILE__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	return cfg, nil
}

type driver struct {
	cfg Config
}

func (d *driver) Configure(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Path == "" {
		return fmt.Errorf("file-source: path not set")
	}
	d.cfg = cfg
	return nil
}

func (d *driver) Read(ctx context.Context) ([][]element.Windowed, error) {
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("file-source: %w", err)
	}
	defer f.Close()

	parts := make([][]element.Windowed, d.cfg.Partitions)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	now := time.Now()
	i := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("file-source: line %d: %w", i+1, err)
		}
		e := element.Windowed{Value: v, EventTime: now, Window: element.GlobalWindow}
		if d.cfg.TimestampField != "" {
			if m, ok := v.(map[string]any); ok {
				if ms, ok := m[d.cfg.TimestampField].(float64); ok {
					e.EventTime = time.UnixMilli(int64(ms))
				}
			}
		}
		p := i % d.cfg.Partitions
		parts[p] = append(parts[p], e)
		i++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("file-source: %w", err)
	}
	return parts, nil
}

func (d *driver) Close() error { return nil }

func init() {
	source.Register("file", func() source.Adapter { return &driver{} })
}
