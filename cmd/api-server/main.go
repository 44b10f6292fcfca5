package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/appointment-engine/internal/api"
	"github.com/hackgods/appointment-engine/internal/app/bootstrap"
	"github.com/hackgods/appointment-engine/internal/config"
	"github.com/hackgods/appointment-engine/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreBackend).
		Msg("api-server starting up")

	if cfg.IdentitySecret == "" {
		logger.Warn().Msg("IDENTITY_SECRET is empty; every /v1 request will be rejected")
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

	handler := api.NewRouter(api.RouterConfig{
		Service:        rt.Service,
		Changes:        rt.Changes,
		Dependencies:   rt.Dependencies,
		Gatherer:       rt.Registry,
		Logger:         logger,
		IdentitySecret: cfg.IdentitySecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Env:            cfg.Env,
		Version:        version,
	})

	// no WriteTimeout: /v1/changes holds its response open
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}
