package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"weft/internal/config"
	"weft/internal/logging"
	"weft/internal/pipeline"
	"weft/internal/telemetry"
)

func Bootstrap(_ context.Context, engineCfg, pipelineYml string) (*Engine, error) {
	// 1. engine config + logging
	cfg, err := config.Load(engineCfg)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	// 2. metrics
	m := telemetry.New(prometheus.DefaultRegisterer)
	telemetry.Expose(cfg.MetricsPort)

	// 3. pipeline
	runner, err := pipeline.Compile(pipelineYml, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Engine{runner: runner}, nil
}
