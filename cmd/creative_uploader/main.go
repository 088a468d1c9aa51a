package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/creative_uploader/internal/cleanup"
	"github.com/italolelis/creative_uploader/internal/config"
	"github.com/italolelis/creative_uploader/internal/http/rest"
	"github.com/italolelis/creative_uploader/internal/logctx"
	"github.com/italolelis/creative_uploader/internal/notifier"
	"github.com/italolelis/creative_uploader/internal/platform/graph"
	"github.com/italolelis/creative_uploader/internal/source/drive"
	"github.com/italolelis/creative_uploader/internal/storage/sqlite"
	"github.com/italolelis/creative_uploader/internal/telemetry"
	"github.com/italolelis/creative_uploader/internal/upload"
	"github.com/italolelis/creative_uploader/internal/uploader"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("creative uploader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedUploadRepository(database, tel)

	// =========================================================================
	// Start Upload Engine
	graphClient := graph.NewClient(cfg.AccessToken, graph.Config{
		BaseURL:        cfg.GraphBaseURL,
		Version:        cfg.GraphVersion,
		AccountID:      cfg.AccountID,
		ConnectTimeout: cfg.ConnectTimeout,
		MinThroughput:  cfg.MinThroughput.Int64(),
		MaxChunkTime:   cfg.MaxChunkTime,
	})

	coordinator := upload.NewCoordinator(
		upload.NewInstrumentedTransferClient(graphClient, tel, "graph"),
		upload.Config{
			ChunkSize:           cfg.ChunkSize.Int64(),
			MaxAttemptsPerChunk: cfg.MaxAttemptsPerChunk,
			InitialBackoff:      cfg.RetryInitialBackoff,
			MaxBackoff:          cfg.RetryMaxBackoff,
		},
	)

	// =========================================================================
	// Start Orchestrator
	orchestrator := uploader.NewOrchestrator(
		repo,
		drive.NewFetcher(cfg.ScratchDir),
		&instrumentedEngine{coordinator: coordinator, telemetry: tel},
		graphClient,
		uploader.Config{
			PollInterval:  cfg.PollInterval,
			MaxParallel:   cfg.MaxParallel,
			ReadyTimeout:  cfg.ReadyTimeout,
			ReadyInterval: cfg.ReadyInterval,
		},
	)

	// Close drains in-flight jobs, so the watchers must be stopped first.
	defer func() {
		cancel()
		orchestrator.Close()
	}()

	// =========================================================================
	// Start Notification
	setupNotificationForOrchestrator(ctx, orchestrator, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, repo, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for upload jobs...",
		"account_id", cfg.AccountID,
		"chunk_size", cfg.ChunkSize.Int64(),
		"poll_interval", cfg.PollInterval.String(),
		"max_parallel", cfg.MaxParallel,
	)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, cfg)

	// =========================================================================
	// Start Main Loop
	orchestrator.WatchJobs(ctx)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// instrumentedEngine wraps the upload coordinator with upload-level telemetry.
type instrumentedEngine struct {
	coordinator *upload.Coordinator
	telemetry   *telemetry.Telemetry
}

func (e *instrumentedEngine) UploadFile(ctx context.Context, path string) (string, error) {
	var assetID string

	var err error

	instrumentedErr := e.telemetry.InstrumentUpload(ctx, func(ctx context.Context) error {
		assetID, err = e.coordinator.UploadFile(ctx, path)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return assetID, nil
}

func setupNotificationForOrchestrator(ctx context.Context, orchestrator *uploader.Orchestrator, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.WebhookURL != "" {
		notif = &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}
	}

	go func() {
		for event := range orchestrator.OnUploadFailed {
			logger.Error("upload job failed", "job_id", event.JobID, "err", event.Error)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(
				"❌ Upload failed for job " + event.JobID + ": " + event.Error,
			); notifyErr != nil {
				logger.Error("failed to send notification", "job_id", event.JobID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range orchestrator.OnUploadFinished {
			logger.Info("upload job finished", "job_id", event.JobID, "asset_id", event.AssetID)

			if notif == nil {
				continue
			}

			if notifyErr := notif.Notify(
				"✅ Upload finished for job " + event.JobID + " (asset " + event.AssetID + ")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "job_id", event.JobID, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, repo uploader.Repository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	jobsHandler := rest.NewJobsHandler(repo, repo)
	telemetryMiddleware := telemetry.NewHTTPMiddleware(tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetryMiddleware.Middleware)
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", jobsHandler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := cleanup.DeleteExpiredScratch(ctx, cfg.ScratchDir, cfg.KeepScratchFor); err != nil {
					logger.Error("failed to delete expired scratch files", "err", err)
				}
			}
		}
	}()
}
