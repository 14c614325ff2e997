package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/api"
	"github.com/eldtechnologies/staffchat/internal/api/middleware"
	"github.com/eldtechnologies/staffchat/internal/chat"
	"github.com/eldtechnologies/staffchat/internal/config"
	"github.com/eldtechnologies/staffchat/internal/delivery"
	"github.com/eldtechnologies/staffchat/internal/directory"
	"github.com/eldtechnologies/staffchat/internal/handlers"
	"github.com/eldtechnologies/staffchat/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage and directory: PostgreSQL when configured, SQLite otherwise
	var (
		dataStore store.DataStore
		dir       directory.Directory
	)
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")

		gormDir, err := directory.NewGormDirectory(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("user directory connection failed")
		}
		defer gormDir.Close()
		dir = gormDir
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			logger.Fatal().Err(err).Msg("create data directory failed")
		}
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")

		dir = loadStaticDirectory(cfg.DirectoryFile, logger)
	}

	hub := delivery.NewHub(delivery.DefaultBuffer, logger)
	defer hub.Close()

	// Optional Redis
	var (
		redisStore *store.RedisStore
		publisher  chat.Publisher = hub
		limiter    *middleware.RateLimiter
	)
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")

		relay := delivery.NewRedisRelay(redisStore, hub, logger)
		publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()

		dir = directory.NewCached(dir, redisStore, cfg.DirectoryCacheTTL, logger)
		limiter = middleware.NewRateLimiter(redisStore.Client(), logger)
	}

	svc := chat.NewService(dataStore, dir, publisher, logger)
	go delivery.RunHeartbeat(ctx, publisher, cfg.HeartbeatInterval, logger)

	// Create router
	router := api.NewRouter(api.Options{
		Logger:    logger,
		JWTSecret: cfg.JWTSecret,
		Limiter:   limiter,
		Handlers: handlers.Config{
			Service:        svc,
			Store:          dataStore,
			Redis:          redisStore,
			Hub:            hub,
			Logger:         logger,
			AllowedOrigins: cfg.AllowedOrigins,
		},
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting staffchat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// loadStaticDirectory reads the development user directory. A missing file
// yields an empty directory so the server still starts.
func loadStaticDirectory(path string, logger zerolog.Logger) directory.Directory {
	static, err := directory.LoadStatic(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("path", path).Msg("directory file not found, starting with no users")
			return directory.NewStatic(nil)
		}
		logger.Fatal().Err(err).Str("path", path).Msg("load directory file failed")
	}
	logger.Info().Str("path", path).Msg("loaded user directory file")
	return static
}
