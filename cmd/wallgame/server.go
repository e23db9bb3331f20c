package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nmamano/wallgame-sub002/cmd/wallgame/shared"
	"github.com/nmamano/wallgame-sub002/internal/config"
	"github.com/nmamano/wallgame-sub002/internal/persist"
	"github.com/nmamano/wallgame-sub002/internal/server"
)

// ServerCmd runs the game server.
type ServerCmd struct {
	Config     string `kong:"help='Path to an HCL configuration file'"`
	Addr       string `kong:"help='Listen address, overrides the config file'"`
	LogLevel   string `kong:"help='Log level, overrides the config file'"`
	JSONLogs   bool   `kong:"help='Emit structured JSON logs instead of console output'"`
	MongoURI   string `kong:"help='MongoDB connection string, overrides the config file'"`
	Seed       *int64 `kong:"help='Deterministic RNG seed (optional)'"`
}

func (c *ServerCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if c.MongoURI != "" {
		cfg.Server.MongoURI = c.MongoURI
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := shared.SetupLogger(cfg.Server.LogLevel)
	if c.JSONLogs {
		logger = shared.SetupStructuredLogger(cfg.Server.LogLevel)
	}

	opts := []server.Option{}
	if c.Seed != nil {
		logger.Info().Int64("seed", *c.Seed).Msg("using deterministic seed")
		opts = append(opts, server.WithSeed(*c.Seed))
	}

	if cfg.Server.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		recorder, err := persist.NewMongo(ctx, cfg.Server.MongoURI, cfg.Server.MongoDatabase)
		cancel()
		if err != nil {
			return err
		}
		defer recorder.Close(context.Background())
		logger.Info().Str("database", cfg.Server.MongoDatabase).Msg("game persistence enabled")
		opts = append(opts, server.WithRecorder(recorder))
	} else {
		logger.Warn().Msg("no mongo_uri configured, finished games will not be persisted")
	}

	s := server.New(cfg, logger, opts...)

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Int("max_bot_clients", cfg.Limits.MaxBotClients).
		Int("max_bgs_sessions", cfg.Limits.MaxBgsSessions).
		Msg("starting wallgame server")

	ctx := shared.SetupSignalHandler(logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Start(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
