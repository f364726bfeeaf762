package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"weft/internal/spec"
)

const SupportedSchema = "v1"

// LoadPipelineSpec parses a pipeline YAML, validates schema_version, and
// resolves driver config paths relative to the pipeline file.
func LoadPipelineSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}

	dir := filepath.Dir(path)
	cfg.Source.Config = resolve(dir, cfg.Source.Config)
	for i := range cfg.ParDo.SideInputs {
		cfg.ParDo.SideInputs[i].Source.Config = resolve(dir, cfg.ParDo.SideInputs[i].Source.Config)
	}
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
