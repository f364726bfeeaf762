package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"weft/internal/engine"
	"weft/internal/logging"

	_ "weft/sink/file"
	_ "weft/sink/stdout"
	_ "weft/source/file"
	_ "weft/source/kafka"
)

func main() {
	cfgPath := flag.String("config", "", "engine config YAML (optional)")
	pipePath := flag.String("pipeline", "pipeline.yml", "pipeline YAML")
	flag.Parse()

	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, *cfgPath, *pipePath)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	if err := e.Run(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}
}
