// Package app wires the figma-slides server together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/kataras/figma-slides/internal/api"
	"github.com/kataras/figma-slides/internal/blob"
	"github.com/kataras/figma-slides/internal/config"
	"github.com/kataras/figma-slides/internal/session"
	"github.com/kataras/figma-slides/internal/slides"
	"github.com/kataras/figma-slides/internal/sse"
	"github.com/kataras/figma-slides/internal/store"
	"github.com/kataras/figma-slides/internal/token"
	"github.com/kataras/figma-slides/pkg/contenthash"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/syncer"
)

const (
	retryBackoff    = 2 * time.Second
	shutdownTimeout = 10 * time.Second
	changedThrottle = 2 * time.Second
)

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.ApplicationConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == config.LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewTokenProvider returns the access token source configured in cfg: a
// token endpoint when TokenURL is set, the static token otherwise.
func NewTokenProvider(cfg config.FigmaConfig, logger syncer.Logger) syncer.TokenProvider {
	if cfg.TokenURL != "" {
		return token.NewHTTP(cfg.TokenURL, token.WithLogger(logger))
	}
	return token.NewStatic(cfg.Token)
}

// NewEngine builds the Figma client and the sync engine from cfg.
func NewEngine(cfg config.FigmaConfig, tokens syncer.TokenProvider, logger syncer.Logger) (*syncer.Engine, error) {
	hasher, err := contenthash.New(cfg.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	client := figma.NewClient("",
		figma.WithBaseURL(cfg.APIBase),
		figma.WithRequestTimeout(cfg.RequestTimeout),
		figma.WithRetry(cfg.MaxRetries+1, retryBackoff),
	)

	return syncer.New(client, tokens,
		syncer.WithLogger(logger),
		syncer.WithHasher(hasher),
		syncer.WithNodeDepth(cfg.NodeDepth),
		syncer.WithBatchSize(cfg.BatchSize),
		syncer.WithMinSlideSize(cfg.MinSlideSize()),
		syncer.WithImageFormat(cfg.ImageFormat),
		syncer.WithImageScale(cfg.ImageScale),
		syncer.WithStateHook(func(op, fileKey string, state syncer.State) {
			logger.Debug("sync state", "operation", op, "file", fileKey, "state", string(state))
		}),
	), nil
}

// Run starts the application with the given options and blocks until ctx is
// done or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := NewLogger(cfg.App, app.logOutput)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("blob_type", cfg.Blob.Type),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	engine, err := NewEngine(cfg.Figma, NewTokenProvider(cfg.Figma, logger), logger)
	if err != nil {
		return fmt.Errorf("init sync engine: %w", err)
	}

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	bucket, err := blob.NewFromConfig(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("init blob bucket: %w", err)
	}

	svc := slides.NewService(engine, db, bucket, slides.WithLogger(logger))

	broker := sse.NewBroker(changedThrottle)
	defer broker.Close()

	sessions := session.NewManager(svc, engine,
		session.WithInterval(cfg.Polling.Interval),
		session.WithCooldown(cfg.Polling.Cooldown),
		session.WithPublisher(broker),
		session.WithLogger(logger),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", api.NewRouter(svc, sessions, broker, api.Options{
		AuthEnabled:    cfg.Auth.AuthEnabled(),
		AuthToken:      cfg.Auth.Token,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		SignedURLTTL:   cfg.Blob.SignedURLTTL,
		Logger:         logger,
	}))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Sync sessions of every linked file.
	g.Go(func() error {
		return sessions.Run(gCtx)
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
		// The event stream never ends by itself.
		broker.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
