package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/listenalong/vchamber/config"
	"github.com/listenalong/vchamber/schedule"
)

var sentinel = flag.String("redis", "", "Redis Sentinel address, overrides REDIS_SENTINEL")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator: configuration")
	}
	cfg.SetupLogging()
	if *sentinel != "" {
		cfg.Redis.Sentinel = *sentinel
	}
	if !cfg.Redis.Enabled() {
		log.Fatal().Msg("orchestrator: REDIS_ADDR or REDIS_SENTINEL is required")
	}

	redisc := schedule.NewRedisClient(cfg.Redis)
	defer redisc.Close()
	store, err := schedule.NewStorageBackend(schedule.StorageBackendRedis, redisc)
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator: room registry")
	}

	o, err := schedule.NewOrchestrator(redisc, store, cfg.Cluster)
	if err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := o.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}
}
