// Package internal provides the long-running serve and mcp runtimes.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/nous/internal/api"
	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/mcpserver"
	"github.com/starford/nous/internal/realm"
	"github.com/starford/nous/internal/sse"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.root == "" {
		return nil, fmt.Errorf("realm root is required")
	}
	return app, nil
}

// openRealm opens the realm and brings its index up to date. A locked realm
// is not fatal: the watcher retries once the other writer is done.
func (a *application) openRealm(ctx context.Context) (*realm.Realm, error) {
	rlm, err := realm.Open(a.root, a.config.RealmOptions(a.logger)...)
	if err != nil {
		return nil, fmt.Errorf("open realm: %w", err)
	}
	stats, err := rlm.Reindex(ctx)
	switch {
	case errors.Is(err, apperr.ErrLocked):
		a.logger.Warn("initial reindex skipped", slog.String("error", err.Error()))
	case err != nil:
		rlm.Close()
		return nil, fmt.Errorf("initial reindex: %w", err)
	default:
		a.logger.Info("Realm indexed",
			slog.String("root", rlm.Root()),
			slog.Uint64("generation", stats.Generation),
			slog.Int("nodes", len(rlm.KnownNames())))
	}
	return rlm, nil
}

// Run serves the realm over HTTP until ctx is cancelled or a shutdown signal
// arrives, reindexing on filesystem changes.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("root", app.root),
		slog.Any("extensions", cfg.Realm.Extensions),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rlm, err := app.openRealm(ctx)
	if err != nil {
		return err
	}
	defer rlm.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	rlm.OnReindex(broker.PublishReindex)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           NewHandler(cfg, rlm, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher; subscribers see every committed pass.
	g.Go(func() error {
		return rlm.Watch(gCtx, cfg.Watch.Debounce)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Streaming clients hold their connections open until the broker closes.
		broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the run group once the server has been shut down, so
// the watcher stops too.
var errShutdown = errors.New("shutdown")

// NewHandler builds the HTTP handler: health probes, Prometheus metrics and
// the API under /api.
func NewHandler(cfg *Config, rlm *realm.Realm, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if rlm.Stale() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"indexing"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api; SSE lives at /api/events behind the same auth.
	var events http.Handler
	if broker != nil {
		events = broker
	}
	r.Mount("/api", api.NewRouter(rlm, cfg.Auth.AuthEnabled(), cfg.Auth.Token, events))

	return r
}

// RunMCP serves the realm's MCP tools over stdio until the client disconnects
// or ctx is cancelled. Logs go to stderr; stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}

	rlm, err := app.openRealm(ctx)
	if err != nil {
		return err
	}
	defer rlm.Close()

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gCtx)
	g.Go(func() error {
		return rlm.Watch(watchCtx, app.config.Watch.Debounce)
	})
	g.Go(func() error {
		defer stopWatch()
		return mcpserver.New(rlm, app.version).ServeStdio()
	})
	return g.Wait()
}
