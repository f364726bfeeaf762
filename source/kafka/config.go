package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Brokers   []string `koanf:"brokers"`
	Topic     string   `koanf:"topic"`
	StartFrom string   `koanf:"start_from"` // oldest|newest (default oldest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	// FetchTimeout bounds the wait for each partition to reach the
	// high-water mark snapshot taken at read start.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// LoadConfig merges YAML (if present) with env-vars
// (prefix `WEFT_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
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
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("WEFT_KAFKA__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.StartFrom == "" {
		c.StartFrom = "oldest"
	}
	if c.Version == "" {
		c.Version = "3.6.0"
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 30 * time.Second
	}
}
