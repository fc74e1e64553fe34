package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentforge/deployq/internal/pipeline"
	"github.com/agentforge/deployq/internal/processor"
	"github.com/agentforge/deployq/internal/storage/postgres"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

type workerConfig struct {
	Registry       string        `env:"BUILD_REGISTRY,default=registry.local/agents"`
	RuntimeDomain  string        `env:"RUNTIME_DOMAIN,default=agents.local"`
	BuildTimeout   time.Duration `env:"STEP_BUILD_TIMEOUT,default=10m"`
	DeployTimeout  time.Duration `env:"STEP_DEPLOY_TIMEOUT,default=2m"`
	VerifyTimeout  time.Duration `env:"STEP_VERIFY_TIMEOUT,default=3m"`
	VerifyInterval time.Duration `env:"STEP_VERIFY_INTERVAL,default=5s"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
}

func main() {
	ctx := context.Background()

	var cfg workerConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load worker config")
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

	procCfg, err := processor.LoadConfigFromEnv(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load processor config")
	}

	repo := postgres.NewJobRepository(db)
	pipe := pipeline.New(
		&pipeline.LocalBuilder{Registry: cfg.Registry},
		&pipeline.LocalRuntime{Domain: cfg.RuntimeDomain},
		pipeline.Options{
			BuildTimeout:   cfg.BuildTimeout,
			DeployTimeout:  cfg.DeployTimeout,
			VerifyTimeout:  cfg.VerifyTimeout,
			VerifyInterval: cfg.VerifyInterval,
		},
	)

	pool := processor.NewPool(*procCfg, repo, pipe, nil)
	pool.Start()
	log.Info().Int("workers", procCfg.Workers).Msg("processor pool active")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	pool.Stop()
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
