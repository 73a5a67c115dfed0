package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clinicore/scheduling/internal/api"
	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
	"github.com/clinicore/scheduling/internal/events"
	"github.com/clinicore/scheduling/internal/scheduling"
)

var version = "dev"

func initLogger(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Str("service", "scheduling-api").Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "scheduling-api").
		Logger()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}
	initLogger(cfg.Env)

	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("version", version).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// Redis carries the audit/notification stream. The API works without it,
	// so a missing address downgrades the sink instead of failing startup.
	sink := events.NewNopPublisher()
	routerCfg := api.RouterConfig{
		PgPool:  pgPool,
		Env:     cfg.Env,
		Version: version,
	}
	if cfg.RedisAddr != "" {
		rdb, err := events.NewRedisClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis")
			}
		}()
		sink = events.NewRedisPublisher(rdb)
		routerCfg.Redis = rdb
		log.Info().Msg("connected to Redis")
	} else {
		log.Warn().Msg("REDIS_ADDR not set, event stream disabled")
	}

	store := scheduling.NewPgStore(pgPool, cfg.LockWait)
	svc := scheduling.NewService(store, sink, cfg)
	routerCfg.Service = svc

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}
