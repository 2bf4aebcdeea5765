package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mediatranscoder/api"
	"mediatranscoder/cache"
	"mediatranscoder/config"
	"mediatranscoder/crypt"
	"mediatranscoder/ffmpeg"
	"mediatranscoder/gc"
	"mediatranscoder/logging"
	"mediatranscoder/source"
	"mediatranscoder/storage"
	"mediatranscoder/task"

	"github.com/gofrs/flock"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "transcoder:", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	// 2. Only one process may own the cache directories
	if err := os.MkdirAll(filepath.Dir(cfg.LockFile), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another transcoder instance holds %s", cfg.LockFile)
	}
	defer lock.Unlock()

	// 3. Initialize dependencies, leaves first
	guard := cache.NewGuard()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	acquirer := source.New(source.Config{
		SourceDir:        cfg.SourceDir,
		PortalURL:        cfg.PortalURL,
		PortalEncryptURL: cfg.PortalEncryptURL,
		IPFSGateway:      cfg.IPFSGateway,
	}, storage.NewHTTPFetcher(cfg.HTTPTimeout), crypt.XChaCha20{}, guard, logger)

	publisher := storage.NewPublisher(
		storage.NewS5Client(cfg.PortalURL, cfg.PortalAuthToken, httpClient, "", logger),
		storage.NewIPFSClient(cfg.IPFSAPIURL, httpClient),
	)
	ffmpegRunner, err := ffmpeg.NewRunner(cfg, publisher, guard, logger)
	if err != nil {
		return fmt.Errorf("initialize ffmpeg runner: %w", err)
	}

	taskManager := task.NewManager(cfg, acquirer, ffmpegRunner, logger)
	collector := newCollector(cfg, guard, logger)

	// 4. Set up router and server
	router := api.SetupRouter(taskManager, cfg, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. Start background services and HTTP server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskManager.Start(ctx)
	go collector.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 6. Wait for interrupt signal for graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exiting")
	return nil
}

func newCollector(cfg *config.Config, guard *cache.Guard, logger *slog.Logger) *gc.Collector {
	interval, ok := cfg.GCInterval()
	if !ok {
		logger.Warn("invalid GARBAGE_COLLECTOR_INTERVAL, using default", "value", cfg.GCIntervalRaw, "default", interval)
	}
	sourceBudget, ok := cfg.SourceBudget()
	if !ok {
		logger.Warn("invalid FILE_SIZE_THRESHOLD, using default", "value", cfg.SourceSizeThreshold, "default", sourceBudget)
	}
	transcodedBudget, ok := cfg.TranscodedBudget()
	if !ok {
		logger.Warn("invalid TRANSCODED_FILE_SIZE_THRESHOLD, using default", "value", cfg.TranscodedSizeThreshold, "default", transcodedBudget)
	}

	return gc.New([]gc.Dir{
		{Path: cfg.SourceDir, Budget: sourceBudget},
		{Path: cfg.TranscodedDir, Budget: transcodedBudget},
	}, interval, guard, logger)
}
