package config

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"weft/internal/coder"
	"weft/internal/translate"
)

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Config struct {
	Tier        string `koanf:"tier"`         // persistence tier for combined outputs
	Parallelism int    `koanf:"parallelism"`  // partition workers per dataset evaluation
	SpillDir    string `koanf:"spill_dir"`    // root for disk-tier segments
	Compression string `koanf:"compression"`  // spill codec override for disk tiers
	MetricsPort int    `koanf:"metrics_port"` // /metrics listener
	Log         LogCfg `koanf:"log"`
}

// Load merges YAML (if present) with env-vars
// (prefix `WEFT__`, delimiter `__`).
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("engine schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("WEFT__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)

	if _, err := translate.ParseTier(cfg.Tier); err != nil {
		return cfg, err
	}
	if _, err := coder.ParseCompression(cfg.Compression); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Tier == "" {
		c.Tier = string(translate.TierMemory)
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
