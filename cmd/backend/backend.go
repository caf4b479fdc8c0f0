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

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/listenalong/vchamber/config"
	"github.com/listenalong/vchamber/media"
	"github.com/listenalong/vchamber/schedule"
	vserver "github.com/listenalong/vchamber/server"
)

var listenaddr = flag.String("addr", "", "WebSocket Service bind address (default ADDR or :PORT)")

func newSearcher(ctx context.Context, cfg *config.Config) media.Searcher {
	if cfg.Youtube.APIKey == "" {
		log.Warn().Msg("YOUTUBE_API_KEY not set, media search disabled")
		return media.Disabled{}
	}
	yt, err := media.NewYouTube(ctx, cfg.Youtube.APIKey, cfg.Youtube.Limit)
	if err != nil {
		log.Error().Err(err).Msg("youtube client, media search disabled")
		return media.Disabled{}
	}
	return media.NewCached(yt, cfg.Youtube.CacheSize, cfg.Youtube.CacheTTL)
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("vChamber backend: configuration")
	}
	cfg.SetupLogging()
	if *listenaddr != "" {
		cfg.Addr = *listenaddr
	}

	opts := vserver.Options{
		BroadcastPeriod:  cfg.Sync.BroadcastPeriod,
		EmptyRoomTimeout: cfg.Sync.EmptyRoomTimeout,
	}
	if cfg.Redis.Enabled() {
		if cfg.AdvertiseAddr == "" {
			log.Fatal().Msg("vChamber backend: ADVERTISE_ADDR is required with redis")
		}
		store, err := schedule.NewStorageBackend(schedule.StorageBackendRedis, schedule.NewRedisClient(cfg.Redis))
		if err != nil {
			log.Fatal().Err(err).Msg("vChamber backend: room registry")
		}
		opts.Directory = schedule.NewDirectory(store, cfg.AdvertiseAddr)
	}
	server := vserver.NewServer(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := vserver.NewVChamberRestMux(server, newSearcher(ctx, cfg))
	mux.HandleFunc("/ws", vserver.GetVChamberWSHandleFunc(server))

	withCORS := cors.New(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}).Handler(mux)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           withCORS,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Strs("origins", cfg.Origins()).Msg("vChamber backend listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("vChamber backend")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("vChamber backend shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	server.Close()
}
