package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/listenalong/vchamber/config"
	"github.com/listenalong/vchamber/schedule"
)

var wsaddr = flag.String("ws", "", "WebSocket Service bind address (default ADDR or :PORT)")
var sentinel = flag.String("redis", "", "Redis Sentinel address, overrides REDIS_SENTINEL")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("revproxy: configuration")
	}
	cfg.SetupLogging()
	if *wsaddr != "" {
		cfg.Addr = *wsaddr
	}
	if *sentinel != "" {
		cfg.Redis.Sentinel = *sentinel
	}
	if !cfg.Redis.Enabled() {
		log.Fatal().Msg("revproxy: REDIS_ADDR or REDIS_SENTINEL is required")
	}

	redisc := schedule.NewRedisClient(cfg.Redis)
	defer redisc.Close()
	store, err := schedule.NewStorageBackend(schedule.StorageBackendRedis, redisc)
	if err != nil {
		log.Fatal().Err(err).Msg("revproxy: room registry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// connections without a known room land on a scheduled backend
	sch := schedule.NewScheduler(store, redisc.Subscribe(schedule.SchedulePubSubChannel))
	go sch.RunScheduler(ctx)

	rp := schedule.NewLoadBalancedReverseProxy(store, sch.NextBackend)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           rp.GetProxy(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("revproxy listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("revproxy")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
