package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
	"github.com/agentworkforce/agenthub/internal/httpapi"
	"github.com/agentworkforce/agenthub/internal/metrics"
)

func main() {
	logger := newLogger(os.Getenv("AGENTHUB_LOG_LEVEL"))

	cfg, err := agenthub.LoadEnvConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid environment configuration")
	}

	m := metrics.New()
	store, err := agenthub.NewStore(agenthub.StoreOptions{
		Root:    cfg.Root,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open workspace")
	}

	server := httpapi.NewServerWithConfig(store, m, logger, httpapi.ServerConfig{
		MaxBodyBytes: cfg.MaxPayloadBytes,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info().Str("addr", cfg.ListenAddr).Str("root", store.Root()).Msg("agenthub listening")
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
