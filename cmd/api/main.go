package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentforge/deployq/internal/job"
	"github.com/agentforge/deployq/internal/storage/postgres"
	"github.com/agentforge/deployq/internal/watch"
	"github.com/agentforge/deployq/middleware"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

type apiConfig struct {
	Addr            string        `env:"API_ADDR,default=:8080"`
	WatchInterval   time.Duration `env:"WATCH_POLL_INTERVAL,default=1s"`
	ShutdownTimeout time.Duration `env:"API_SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
}

func main() {
	ctx := context.Background()

	var cfg apiConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load api config")
	}
	setupLogging(cfg.LogLevel)

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load db config")
	}

	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("db connection failed")
	}

	if err := postgres.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	repo := postgres.NewJobRepository(db)
	service := job.NewJobService(repo)
	watcher := watch.NewPollWatcher(repo, cfg.WatchInterval)
	handler := job.NewJobHandler(service, watcher)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.ErrorHandler())

	v1 := router.Group("/api/v1")
	v1.POST("/jobs", handler.Submit)
	v1.GET("/jobs", handler.List)
	v1.GET("/jobs/:id", handler.Get)
	v1.POST("/jobs/:id/cancel", handler.Cancel)
	v1.GET("/jobs/:id/events", handler.Events)
	v1.GET("/events", handler.TargetEvents)
	v1.GET("/stats", handler.Stats)

	srv := &http.Server{Addr: cfg.Addr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}
	log.Info().Msg("shutdown complete")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
