package upload

import "context"

// StartResult is the remote endpoint's answer to registering a new session.
type StartResult struct {
	SessionID   string
	StartOffset int64 // first expected offset; 0 unless the remote overrides
}

// ChunkResult is the remote endpoint's answer to one chunk push: either the
// next expected offset (more data wanted) or the final asset id (complete).
type ChunkResult struct {
	NextOffset int64
	AssetID    string
}

// Complete reports whether the transfer finished as of this chunk.
func (r ChunkResult) Complete() bool {
	return r.AssetID != ""
}

// TransferClient performs the three wire phases of the resumable protocol
// against the remote platform. Implementations bind each operation to its own
// request timeout (short for Start/Finish, size-proportional for PushChunk),
// return errors already classified into the upload taxonomy, and must be safe
// for concurrent use by independent sessions.
type TransferClient interface {
	Start(ctx context.Context, totalSize int64) (StartResult, error)
	PushChunk(ctx context.Context, sessionID string, startOffset int64, data []byte) (ChunkResult, error)
	Finish(ctx context.Context, sessionID string) (string, error)
}
