package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/creative_uploader/internal/logctx"
)

const (
	DefaultChunkSize           = 4 * 1024 * 1024
	DefaultMaxAttemptsPerChunk = 5
	DefaultInitialBackoff      = 500 * time.Millisecond
	DefaultMaxBackoff          = 8 * time.Second
)

// Config enumerates the externally supplied tunables of the upload engine.
// Chunk size is a safety parameter, not just a throughput knob: one chunk must
// finish transferring well under the network path's idle-connection ceiling.
type Config struct {
	ChunkSize           int64
	MaxAttemptsPerChunk int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}

	if c.MaxAttemptsPerChunk <= 0 {
		c.MaxAttemptsPerChunk = DefaultMaxAttemptsPerChunk
	}

	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}

	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}

	return c
}

// Coordinator is the public entry point of the resumable upload engine. It
// holds no cross-invocation state: every Upload call owns its session, offsets
// and retry bookkeeping, so calls for different files may run concurrently.
// The only shared resource is the transfer client's HTTP connection pool.
type Coordinator struct {
	client TransferClient
	cfg    Config
}

func NewCoordinator(client TransferClient, cfg Config) *Coordinator {
	return &Coordinator{
		client: client,
		cfg:    cfg.withDefaults(),
	}
}

// Upload delivers totalSize bytes from src to the remote platform and returns
// the remote asset identifier. On failure the returned error is an *Error
// carrying the failure kind, the last committed offset and the attempt count.
func (c *Coordinator) Upload(ctx context.Context, src io.ReaderAt, totalSize int64) (string, error) {
	if totalSize < 0 {
		return "", &Error{Kind: KindPermanent, Err: fmt.Errorf("invalid total size %d", totalSize)}
	}

	logger := logctx.LoggerFromContext(ctx).With("file_size", humanize.IBytes(uint64(totalSize)))
	ctx = logctx.WithLogger(ctx, logger)

	machine := &stateMachine{
		client: c.client,
		reader: NewChunkReader(src, totalSize),
		retry: RetryPolicy{
			MaxAttempts:    c.cfg.MaxAttemptsPerChunk,
			InitialBackoff: c.cfg.InitialBackoff,
			MaxBackoff:     c.cfg.MaxBackoff,
		},
		chunkSize: c.cfg.ChunkSize,
	}

	started := time.Now()

	assetID, err := machine.run(ctx)
	if err != nil {
		logger.Error("upload failed",
			"state", machine.state.String(),
			"committed_offset", machine.committed,
			"err", err)

		return "", err
	}

	logger.Info("upload completed",
		"asset_id", assetID,
		"duration", time.Since(started).String())

	return assetID, nil
}

// UploadFile is a convenience wrapper that uploads a local file by path.
func (c *Coordinator) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &Error{Kind: KindPermanent, Err: fmt.Errorf("failed to open source file: %w", err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &Error{Kind: KindPermanent, Err: fmt.Errorf("failed to stat source file: %w", err)}
	}

	return c.Upload(ctx, f, info.Size())
}
