package uploader_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/creative_uploader/internal/storage"
	"github.com/italolelis/creative_uploader/internal/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*storage.UploadRecord
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: map[string]*storage.UploadRecord{}}
}

func (r *memRepo) GetJobs() ([]storage.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []storage.UploadRecord
	for _, job := range r.jobs {
		records = append(records, *job)
	}

	return records, nil
}

func (r *memRepo) GetJob(jobID string) (*storage.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, nil
	}

	copied := *job

	return &copied, nil
}

func (r *memRepo) GetPendingJobs(limit int) ([]storage.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []storage.UploadRecord

	for _, job := range r.jobs {
		if len(pending) == limit {
			break
		}

		if job.Status == storage.StatusPending && job.LockedBy == "" {
			pending = append(pending, *job)
		}
	}

	return pending, nil
}

func (r *memRepo) CreateJob(jobID, sourceURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[jobID] = &storage.UploadRecord{JobID: jobID, SourceURL: sourceURL, Status: storage.StatusPending}

	return nil
}

func (r *memRepo) ClaimJob(jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return false, nil
	}

	if job.Status == storage.StatusUploaded {
		return false, storage.ErrUploaded
	}

	if job.LockedBy != "" {
		return false, nil
	}

	job.Status = storage.StatusUploading
	job.LockedBy = storage.GenerateInstanceID()

	return true, nil
}

func (r *memRepo) MarkUploaded(jobID, assetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[jobID].Status = storage.StatusUploaded
	r.jobs[jobID].AssetID = assetID
	r.jobs[jobID].LockedBy = ""

	return nil
}

func (r *memRepo) MarkFailed(jobID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[jobID].Status = storage.StatusFailed
	r.jobs[jobID].Error = reason
	r.jobs[jobID].LockedBy = ""

	return nil
}

type fakeFetcher struct {
	dir string
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, link string) (string, int64, error) {
	if f.err != nil {
		return "", 0, f.err
	}

	file, err := os.CreateTemp(f.dir, "scratch-*")
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	if _, err := file.WriteString(link); err != nil {
		return "", 0, err
	}

	return file.Name(), int64(len(link)), nil
}

type fakeEngine struct {
	mu      sync.Mutex
	assetID string
	err     error
	paths   []string
}

func (e *fakeEngine) UploadFile(_ context.Context, path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.paths = append(e.paths, path)

	if e.err != nil {
		return "", e.err
	}

	return e.assetID, nil
}

type fakeReadiness struct {
	mu     sync.Mutex
	assets []string
	err    error
}

func (r *fakeReadiness) WaitForReady(_ context.Context, assetID string, _, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assets = append(r.assets, assetID)

	return r.err
}

func watchConfig() uploader.Config {
	return uploader.Config{
		PollInterval:  10 * time.Millisecond,
		MaxParallel:   2,
		ReadyTimeout:  time.Second,
		ReadyInterval: 10 * time.Millisecond,
	}
}

func waitForEvent(t *testing.T, ch chan *storage.UploadRecord) *storage.UploadRecord {
	t.Helper()

	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for orchestrator event")

		return nil
	}
}

func TestWatchJobs_SuccessfulJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))

	fetcher := &fakeFetcher{dir: t.TempDir()}
	engine := &fakeEngine{assetID: "asset-1"}
	readiness := &fakeReadiness{}

	orch := uploader.NewOrchestrator(repo, fetcher, engine, readiness, watchConfig())
	t.Cleanup(orch.Close)

	orch.WatchJobs(ctx)

	event := waitForEvent(t, orch.OnUploadFinished)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "asset-1", event.AssetID)
	assert.Equal(t, storage.StatusUploaded, event.Status)

	job, err := repo.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusUploaded, job.Status)
	assert.Equal(t, "asset-1", job.AssetID)

	readiness.mu.Lock()
	defer readiness.mu.Unlock()
	assert.Equal(t, []string{"asset-1"}, readiness.assets)
}

func TestWatchJobs_FailedJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))

	fetcher := &fakeFetcher{dir: t.TempDir()}
	engine := &fakeEngine{err: errors.New("upload session expired")}

	orch := uploader.NewOrchestrator(repo, fetcher, engine, nil, watchConfig())
	t.Cleanup(orch.Close)

	orch.WatchJobs(ctx)

	event := waitForEvent(t, orch.OnUploadFailed)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, storage.StatusFailed, event.Status)
	assert.Contains(t, event.Error, "upload session expired")

	job, err := repo.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, job.Status)
}

func TestWatchJobs_FetchFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))

	fetcher := &fakeFetcher{err: errors.New("HTML page instead of file content")}
	engine := &fakeEngine{assetID: "asset-1"}

	orch := uploader.NewOrchestrator(repo, fetcher, engine, nil, watchConfig())
	t.Cleanup(orch.Close)

	orch.WatchJobs(ctx)

	event := waitForEvent(t, orch.OnUploadFailed)
	assert.Contains(t, event.Error, "HTML page")

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.paths, "a failed fetch must never reach the engine")
}

func TestWatchJobs_ScratchFileRemoved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scratchDir := t.TempDir()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))

	fetcher := &fakeFetcher{dir: scratchDir}
	engine := &fakeEngine{assetID: "asset-1"}

	orch := uploader.NewOrchestrator(repo, fetcher, engine, nil, watchConfig())
	t.Cleanup(orch.Close)

	orch.WatchJobs(ctx)
	waitForEvent(t, orch.OnUploadFinished)

	entries, err := os.ReadDir(scratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the scratch file must be deleted after the upload")
}

func TestWatchJobs_SkipsUploadedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))
	require.NoError(t, repo.MarkUploaded("job-1", "asset-1"))

	fetcher := &fakeFetcher{dir: t.TempDir()}
	engine := &fakeEngine{assetID: "asset-2"}

	orch := uploader.NewOrchestrator(repo, fetcher, engine, nil, watchConfig())
	t.Cleanup(orch.Close)

	orch.WatchJobs(ctx)

	// Give the watcher a few poll cycles.
	time.Sleep(100 * time.Millisecond)

	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.paths, "an uploaded job must never run again")
}

func TestWatchJobs_ProcessesMultipleJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))
	require.NoError(t, repo.CreateJob("job-2", "https://example.com/b.mp4"))
	require.NoError(t, repo.CreateJob("job-3", "https://example.com/c.mp4"))

	fetcher := &fakeFetcher{dir: t.TempDir()}
	engine := &fakeEngine{assetID: "asset-x"}

	orch := uploader.NewOrchestrator(repo, fetcher, engine, nil, watchConfig())
	t.Cleanup(orch.Close)

	orch.WatchJobs(ctx)

	seen := map[string]bool{}
	for range 3 {
		event := waitForEvent(t, orch.OnUploadFinished)
		seen[event.JobID] = true
	}

	assert.Len(t, seen, 3)
}

type blockingEngine struct {
	started chan struct{}
	release chan struct{}
}

func (e *blockingEngine) UploadFile(context.Context, string) (string, error) {
	close(e.started)
	<-e.release

	return "asset-1", nil
}

func TestClose_WaitsForInFlightJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))

	engine := &blockingEngine{started: make(chan struct{}), release: make(chan struct{})}

	orch := uploader.NewOrchestrator(repo, &fakeFetcher{dir: t.TempDir()}, engine, nil, watchConfig())

	events := make(chan *storage.UploadRecord, 1)

	go func() {
		for event := range orch.OnUploadFinished {
			events <- event
		}
	}()

	go func() {
		for range orch.OnUploadFailed {
		}
	}()

	orch.WatchJobs(ctx)

	// The job is mid-upload when shutdown starts. Close must not return (and
	// must not close the channels under the pending send) until the job
	// finishes and its event is delivered.
	<-engine.started
	cancel()

	var released atomic.Bool

	go func() {
		time.Sleep(50 * time.Millisecond)
		released.Store(true)
		close(engine.release)
	}()

	orch.Close()
	assert.True(t, released.Load(), "Close returned while the job was still uploading")

	event := waitForEvent(t, events)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "asset-1", event.AssetID)
}

func TestWatchJobs_ReadinessFailureFailsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := newMemRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))

	fetcher := &fakeFetcher{dir: t.TempDir()}
	engine := &fakeEngine{assetID: "asset-1"}
	readiness := &fakeReadiness{err: errors.New("platform failed to process video")}

	orch := uploader.NewOrchestrator(repo, fetcher, engine, readiness, watchConfig())
	t.Cleanup(orch.Close)

	orch.WatchJobs(ctx)

	event := waitForEvent(t, orch.OnUploadFailed)
	assert.Contains(t, event.Error, "never became ready")
}
