package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"snippet-runner/internal/api"
	"snippet-runner/internal/config"
	"snippet-runner/internal/executor"
	"snippet-runner/internal/monitor"
	"snippet-runner/internal/storage"
	"snippet-runner/internal/toolchain"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Local .env overrides for development; absent in deployments.
	if err := loadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("ignoring unreadable .env file")
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal().Err(err).Msg("invalid environment override")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	registry := toolchain.NewRegistry(toolchain.Options{GoCacheDir: cfg.Executor.GoCacheDir})
	tc, err := registry.Get(cfg.Executor.Toolchain)
	if err != nil {
		log.Fatal().Err(err).Msg("unknown toolchain")
	}
	toolchainReady := func() bool { return toolchain.Available(tc) == nil }
	if err := toolchain.Available(tc); err != nil {
		// Keep serving so health and info work while the compiler is installed.
		log.Warn().Err(err).Str("toolchain", tc.Name()).Msg("compiler not found on PATH, executions will fail")
	}

	// Optional artifact cache
	var cache *executor.ArtifactCache
	if cfg.Cache.Enabled {
		cache, err = executor.NewArtifactCache(cfg.Cache.Dir, cfg.Cache.MaxEntries, metrics)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create artifact cache")
		}
		defer func() {
			if err := cache.Close(); err != nil {
				log.Error().Err(err).Msg("artifact cache cleanup failed")
			}
		}()
	}

	engine := executor.New(cfg.Executor, tc, executor.Options{
		Metrics:  metrics,
		Tracer:   monitor.NewTracer(cfg.Tracing.Enabled),
		Detector: monitor.NewPatternDetector(),
		Cache:    cache,
	})

	// Initialize database (optional, runs without it for development)
	var (
		store api.AuditStore
		audit api.AuditLog
	)
	if cfg.Database.DSN != "" {
		db, err := storage.New(ctx, cfg.Database.DSN, storage.Options{
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()

			auditWriter := storage.NewAuditWriter(db, storage.WriterOptions{
				BufferSize:    cfg.Database.AuditBuffer,
				BatchSize:     cfg.Database.AuditBatchSize,
				FlushInterval: cfg.Database.AuditFlushInterval,
			})
			auditWriter.Start()
			defer auditWriter.Flush(10 * time.Second)

			store, audit = db, auditWriter
		}
	}

	server := api.NewServer(cfg, api.NewHandlers(engine, store, audit, toolchainReady), metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		cancel()
	}()

	info := engine.Info()
	log.Info().
		Str("addr", cfg.Address()).
		Str("toolchain", info.Toolchain).
		Int("default_timeout_s", info.DefaultTimeoutSeconds).
		Int64("memory_limit_mb", info.MemoryLimitMB).
		Bool("memory_enforced", info.MemoryEnforced).
		Bool("cache_enabled", cache != nil).
		Bool("db_enabled", store != nil).
		Msg("server starting")

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

// loadDotEnv applies path when it exists. A missing file is not an error;
// one that exists but cannot be read or parsed is.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
