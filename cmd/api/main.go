package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"assetdesk.io/internal/app"
	"assetdesk.io/internal/config"
	"assetdesk.io/internal/httpapi"
	"assetdesk.io/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	obs.Init(obs.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	obs.InitMetrics()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	a, err := app.Open(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("open application")
	}

	rps := cfg.RateLimit.RPS
	if !cfg.RateLimit.Enabled {
		rps = 0
	}
	api := httpapi.New(a.Deps, httpapi.ReadyProbe{DB: a.DB}, version,
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithRateLimit(rps, cfg.RateLimit.Burst),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.Info().
		Str("version", version).
		Str("addr", srv.Addr).
		Str("store", cfg.Store.Backend).
		Str("env", cfg.Env).
		Msg("starting assetdesk-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("close store")
	}
	log.Info().Msg("stopped")
}
