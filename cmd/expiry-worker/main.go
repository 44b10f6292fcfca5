package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-engine/internal/app/bootstrap"
	"github.com/hackgods/appointment-engine/internal/appointment"
	"github.com/hackgods/appointment-engine/internal/config"
	"github.com/hackgods/appointment-engine/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("component", "expiry-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry worker starting up")

	if cfg.StoreBackend == config.StoreMemory {
		// nothing to share with the API process
		logger.Fatal().Msg("the expiry worker needs STORE_BACKEND=postgres")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(rootCtx, 10*time.Second)
	rt, err := bootstrap.BuildRuntime(connectCtx, cfg, logger)
	cancelConnect()
	if err != nil {
		logger.Fatal().Err(err).Msg("build runtime")
	}
	defer rt.Close()

	// Run once at startup
	runOnce(rootCtx, rt.Service, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, rt.Service, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpireStaleRequests(runCtx)
	if err != nil {
		logger.Error().Err(err).Int("expired", n).Msg("expiry run error")
		return
	}
	logger.Info().Int("expired", n).Dur("took", time.Since(start)).Msg("expiry run complete")
}
