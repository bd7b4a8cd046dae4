package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mlevan/refetch/internal/config"
	"github.com/mlevan/refetch/internal/engine"
	"github.com/mlevan/refetch/internal/metrics"
	"github.com/mlevan/refetch/internal/repo"
	"github.com/mlevan/refetch/internal/router"
	"github.com/mlevan/refetch/internal/stream"
	"github.com/mlevan/refetch/internal/transport/httptask"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)
	metrics.Register()

	store, pinger, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("init record store", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	tr, err := httptask.New(httptask.Options{
		TmpDir:      cfg.Download.TmpDir,
		JournalPath: cfg.Download.Journal,
		Timeout:     time.Duration(cfg.Download.Timeout) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("init transport", "err", err)
		os.Exit(1)
	}

	events := stream.NewBroadcaster(logger)
	eng := engine.New(logger, store, tr, engine.Options{
		Observer: engine.Tee{events, engine.NewLogObserver(logger)},
		BaseDir:  cfg.Download.Dir,
		OnDrained: func() {
			logger.Info("replayed all events from previous session")
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go tr.Run(ctx)
	go eng.Run(ctx)

	reconcileCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := eng.ReconcileStartup(reconcileCtx); err != nil {
		logger.Error("reconcile surviving tasks", "err", err)
	}
	cancel()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router.New(logger, eng, pinger, events),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("starting refetch API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("received terminate, graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

// buildLogger constructs the slog logger from config: text or JSON,
// stdout and/or a size-rotated file.
func buildLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer
	switch cfg.Log.Output {
	case "file":
		out = rotatingFile(cfg)
	case "both":
		out = io.MultiWriter(os.Stdout, rotatingFile(cfg))
	default:
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func rotatingFile(cfg *config.Config) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
}

func buildStore(cfg *config.Config, logger *slog.Logger) (repo.RecordStore, router.Pinger, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := repo.NewPostgresRecordStoreFromEnv()
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using postgres record store")
		return store, store, func() { _ = store.Close() }, nil
	default:
		store := repo.NewInMemoryRecordStore()
		logger.Info("using in-memory record store")
		return store, store, func() {}, nil
	}
}
