package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	h "github.com/veranemoloko/transfer-tracker/internal/api/http"
	cfgpkg "github.com/veranemoloko/transfer-tracker/internal/config"
	"github.com/veranemoloko/transfer-tracker/internal/registry"
	svc "github.com/veranemoloko/transfer-tracker/internal/service"
	"github.com/veranemoloko/transfer-tracker/internal/storage"
	"github.com/veranemoloko/transfer-tracker/internal/worker"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("storage directory unavailable", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully",
		"strict", cfg.IsDevelopment(),
		"max_tasks", cfg.MaxTasks,
		"notify_interval", cfg.NotifyInterval,
	)

	reg := registry.New(registry.Options{
		MaxTasks:       cfg.MaxTasks,
		NotifyInterval: cfg.NotifyInterval,
		Strict:         cfg.IsDevelopment(),
		Logger:         logger,
	})

	transferService := svc.NewTransferService(reg, logger.With("component", "service"))

	transferWorker := worker.NewTransferWorker(
		storage.NewFileStorage(cfg.StorageDir),
		transferService,
		logger.With("component", "worker"),
		worker.Options{
			PoolSize:    cfg.WorkerPoolSize,
			Timeout:     cfg.DownloadTimeout,
			MaxFileSize: cfg.MaxFileSize,
			Retries:     cfg.TransferRetries,
		},
	)

	router := h.NewRouter(transferService, transferWorker, logger.With("component", "http"))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.HTTPTimeout,
		IdleTimeout:  cfg.HTTPTimeout,
	}

	// event streams never go idle on their own
	streamCtx, closeStreams := context.WithCancel(context.Background())
	server.BaseContext = func(net.Listener) context.Context { return streamCtx }
	server.RegisterOnShutdown(closeStreams)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := transferWorker.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown failed", "error", err)
	}

	if err := transferService.Shutdown(shutdownCtx); err != nil {
		logger.Error("service shutdown failed", "error", err)
	}
}
