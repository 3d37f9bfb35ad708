package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rexproai/rexpro/db"
	"github.com/rexproai/rexpro/internal/api"
	"github.com/rexproai/rexpro/internal/app"
	"github.com/rexproai/rexpro/internal/config"
	"github.com/rexproai/rexpro/internal/gen"
	"github.com/rexproai/rexpro/internal/log"
	"github.com/rexproai/rexpro/internal/observability"
	"github.com/rexproai/rexpro/internal/store"
)

// defaultUserID identifies the single local user until real authentication
// lands in front of the API.
const defaultUserID = "local"

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 10 * time.Minute // SSE video turns can run for minutes
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// newLogger builds the process logger. DEBUG in the environment lowers the
// level.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level})
}

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr()
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	logger.Info("starting HTTP API server", "version", Version)

	if cfg.Tracing.Enabled {
		shutdown, terr := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Tracing.Environment,
			ServiceName: cfg.Tracing.ServiceName,
		}, logger)
		if terr != nil {
			return fmt.Errorf("setting up tracing: %w", terr)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if serr := shutdown(flushCtx); serr != nil {
				logger.Warn("trace flush failed", "error", serr)
			}
		}()
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	st, err := store.NewPostgres(ctx, cfg.PostgresConnectionString(), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	// The key can come from config/env or from a per-user setting saved
	// through the API. The stored one wins.
	apiKey := cfg.APIKey
	if saved, serr := st.GetSetting(ctx, defaultUserID, store.SettingAPIKey); serr == nil && saved != "" {
		apiKey = saved
	}

	newGenerator := func(ctx context.Context, key string) (app.Generator, error) {
		return gen.NewClient(ctx, gen.Config{
			APIKey:       key,
			PollInterval: time.Duration(cfg.VideoPollSeconds) * time.Second,
			Logger:       logger,
		})
	}

	// Without a key the app starts anyway; sends fail until one arrives
	// via PUT /api/v1/settings/api-key.
	var generator app.Generator
	if apiKey != "" {
		generator, err = newGenerator(ctx, apiKey)
		if err != nil {
			return fmt.Errorf("creating generation client: %w", err)
		}
	} else {
		logger.Warn("no Gemini API key configured, generation disabled until one is set")
	}

	a, err := app.New(app.Config{
		Store:     st,
		Generator: generator,
		Logger:    logger,
		Defaults: gen.Options{
			Model:           cfg.ModelName,
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		NewGenerator: newGenerator,
	})
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}
	if err := a.Init(ctx, defaultUserID); err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Teardown()

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		App:         a,
		Pool:        st.Pool(),
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
