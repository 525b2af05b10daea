// Command agenthub-mcp serves the engine's tools over MCP stdio, one
// process per connected agent. The client identity is derived from the
// invoking executable path unless AGENTHUB_CLIENT_ID overrides it.
package main

import (
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/agenthub/internal/agenthub"
	"github.com/agentworkforce/agenthub/internal/mcpapi"
	"github.com/agentworkforce/agenthub/internal/metrics"
)

const version = "0.1.0"

func main() {
	// Stdout carries the MCP protocol; all logging goes to stderr.
	logger := newLogger(os.Getenv("AGENTHUB_LOG_LEVEL"))

	cfg, err := agenthub.LoadEnvConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid environment configuration")
	}

	callerPath, _ := os.Executable()
	clientID := agenthub.DeriveClientID(callerPath, cfg.ClientID)

	store, err := agenthub.NewStore(agenthub.StoreOptions{
		Root:    cfg.Root,
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open workspace")
	}

	s := mcpapi.NewServer(store, logger, "agenthub", version, clientID)
	logger.Info().Str("root", store.Root()).Str("clientId", clientID).Msg("agenthub mcp server starting")
	if err := server.ServeStdio(s); err != nil {
		logger.Fatal().Err(err).Msg("mcp server failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
