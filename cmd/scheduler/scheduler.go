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

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/listenalong/vchamber/config"
	"github.com/listenalong/vchamber/schedule"
	vserver "github.com/listenalong/vchamber/server"
)

var restaddr = flag.String("addr", "", "RESTful Service bind address (default ADDR or :PORT)")
var sentinel = flag.String("redis", "", "Redis Sentinel address, overrides REDIS_SENTINEL")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: configuration")
	}
	cfg.SetupLogging()
	if *restaddr != "" {
		cfg.Addr = *restaddr
	}
	if *sentinel != "" {
		cfg.Redis.Sentinel = *sentinel
	}
	if !cfg.Redis.Enabled() {
		log.Fatal().Msg("scheduler: REDIS_ADDR or REDIS_SENTINEL is required")
	}

	redisc := schedule.NewRedisClient(cfg.Redis)
	defer redisc.Close()
	store, err := schedule.NewStorageBackend(schedule.StorageBackendRedis, redisc)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: room registry")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sch := schedule.NewScheduler(store, redisc.Subscribe(schedule.SchedulePubSubChannel))
	go sch.RunScheduler(ctx)

	proxy := sch.GetProxy()
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		vserver.RespondWithJSON(map[string]string{"status": "ok"}, http.StatusOK, w)
	}).Methods("GET")
	router.Handle("/room", proxy).Methods("GET", "POST")
	router.Handle("/room/{rid}", proxy).Methods("GET", "DELETE")
	router.PathPrefix("/api/").Handler(proxy)

	httpServer := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: cors.New(cors.Options{
			AllowedOrigins: cfg.Origins(),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		}).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("scheduler listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("scheduler")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
