package uploader

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/italolelis/creative_uploader/internal/logctx"
	"github.com/italolelis/creative_uploader/internal/storage"
	"golang.org/x/sync/errgroup"
)

// SourceFetcher acquires a remote source into local seekable storage.
type SourceFetcher interface {
	Fetch(ctx context.Context, link string) (string, int64, error)
}

// Engine delivers a local file to the remote platform and returns the asset id.
type Engine interface {
	UploadFile(ctx context.Context, path string) (string, error)
}

// Readiness waits until the platform finishes processing a delivered asset.
type Readiness interface {
	WaitForReady(ctx context.Context, assetID string, timeout, interval time.Duration) error
}

// Repository combines read and write access to tracked jobs.
type Repository interface {
	storage.UploadReadRepository
	storage.UploadWriteRepository
}

// Config holds orchestrator tunables.
type Config struct {
	PollInterval  time.Duration
	MaxParallel   int
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

// Orchestrator claims pending jobs and runs them through fetch, upload and
// readiness. Parallelism is bounded and exists only across independent jobs;
// one job's chunk loop is strictly sequential inside the engine.
type Orchestrator struct {
	repo      Repository
	fetcher   SourceFetcher
	engine    Engine
	readiness Readiness
	cfg       Config
	watchers  sync.WaitGroup

	OnUploadFinished chan *storage.UploadRecord
	OnUploadFailed   chan *storage.UploadRecord
}

func NewOrchestrator(repo Repository, fetcher SourceFetcher, engine Engine, readiness Readiness, cfg Config) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}

	return &Orchestrator{
		repo:      repo,
		fetcher:   fetcher,
		engine:    engine,
		readiness: readiness,
		cfg:       cfg,

		OnUploadFinished: make(chan *storage.UploadRecord),
		OnUploadFailed:   make(chan *storage.UploadRecord),
	}
}

// Close waits for in-flight job processing to drain before closing the event
// channels, so a shutdown mid-batch cannot send on a closed channel. Callers
// must keep consuming events until Close returns.
func (o *Orchestrator) Close() {
	o.watchers.Wait()
	close(o.OnUploadFinished)
	close(o.OnUploadFailed)
}

// WatchJobs polls for pending jobs and processes them until the context is
// cancelled.
func (o *Orchestrator) WatchJobs(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("watching upload jobs", "poll_interval", o.cfg.PollInterval.String())

	o.watchers.Add(1)

	go func() {
		defer o.watchers.Done()

		defer func() {
			if r := recover(); r != nil {
				logger.Error("upload orchestrator panic",
					"panic", r,
					"stack", string(debug.Stack()))

				if ctx.Err() == nil {
					logger.Info("restarting upload orchestrator after panic")
					time.Sleep(time.Second)
					o.WatchJobs(ctx)
				}
			}
		}()

		ticker := time.NewTicker(o.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("upload orchestrator shutdown", "reason", "context_cancelled")

				return
			case <-ticker.C:
				if err := o.processPending(ctx); err != nil {
					logger.Error("failed to process pending jobs", "err", err)
				}
			}
		}
	}()
}

func (o *Orchestrator) processPending(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	pending, err := o.repo.GetPendingJobs(o.cfg.MaxParallel * 2)
	if err != nil {
		return fmt.Errorf("failed to get pending jobs: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	logger.Debug("pending jobs found", "job_count", len(pending))

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, o.cfg.MaxParallel)

	for i := range pending {
		job := pending[i]
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			jobLogger := logger.With("job_id", job.JobID)
			jobCtx := logctx.WithLogger(ctx, jobLogger)

			claimed, err := o.repo.ClaimJob(job.JobID)
			if err != nil {
				if err == storage.ErrUploaded {
					jobLogger.Debug("skipping job because it's already uploaded")

					return nil
				}

				return fmt.Errorf("failed to claim job: %w", err)
			}

			if !claimed {
				jobLogger.Debug("skipping job because it's already claimed")

				return nil
			}

			if err := o.processJob(jobCtx, &job); err != nil {
				jobLogger.Error("upload job failed", "err", err)

				if markErr := o.repo.MarkFailed(job.JobID, err.Error()); markErr != nil {
					jobLogger.Error("failed to record job failure", "err", markErr)
				}

				job.Status = storage.StatusFailed
				job.Error = err.Error()
				o.OnUploadFailed <- &job

				return nil
			}

			return nil
		})
	}

	return wg.Wait()
}

func (o *Orchestrator) processJob(ctx context.Context, job *storage.UploadRecord) error {
	logger := logctx.LoggerFromContext(ctx)

	path, size, err := o.fetcher.Fetch(ctx, job.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to fetch source: %w", err)
	}

	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove scratch file", "path", path, "err", err)
		}
	}()

	logger.Debug("source ready for upload", "path", path, "size_bytes", size)

	assetID, err := o.engine.UploadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to upload source: %w", err)
	}

	if o.readiness != nil {
		if err := o.readiness.WaitForReady(ctx, assetID, o.cfg.ReadyTimeout, o.cfg.ReadyInterval); err != nil {
			return fmt.Errorf("asset never became ready: %w", err)
		}
	}

	if err := o.repo.MarkUploaded(job.JobID, assetID); err != nil {
		return fmt.Errorf("failed to record uploaded asset: %w", err)
	}

	logger.Info("upload job finished", "asset_id", assetID)

	job.Status = storage.StatusUploaded
	job.AssetID = assetID
	o.OnUploadFinished <- job

	return nil
}
