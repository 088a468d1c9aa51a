package upload

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/creative_uploader/internal/logctx"
)

// SessionState is the lifecycle position of one resumable upload session.
type SessionState int

const (
	StateNotStarted SessionState = iota
	StateStarted
	StateTransferring
	StateFinishing
	StateCompleted
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarted:
		return "started"
	case StateTransferring:
		return "transferring"
	case StateFinishing:
		return "finishing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateMachine drives the three-phase protocol (start, transfer loop, finish)
// for exactly one session. It is owned by a single Upload invocation and never
// shared. The remote endpoint is the source of truth for the committed offset:
// whatever offset it returns is where the next chunk starts, even when that
// contradicts local bookkeeping.
type stateMachine struct {
	client    TransferClient
	reader    *ChunkReader
	retry     RetryPolicy
	chunkSize int64

	sessionID string
	committed int64
	state     SessionState
	createdAt time.Time
}

func (m *stateMachine) run(ctx context.Context) (string, error) {
	logger := logctx.LoggerFromContext(ctx)
	total := m.reader.Size()

	start, attempts, err := retryClassified(ctx, m.retry, logger, "start", func() (StartResult, error) {
		return m.client.Start(ctx, total)
	})
	if err != nil {
		return "", m.fail(ctx, attempts, err)
	}

	m.sessionID = start.SessionID
	m.committed = start.StartOffset
	m.state = StateStarted
	m.createdAt = time.Now()

	logger = logger.With("session_id", m.sessionID)
	logger.Debug("upload session started", "start_offset", m.committed, "total_size", total)

	// Consecutive pushes acknowledged at the same offset. A remote that keeps
	// answering with the offset it was just sent is making no progress, and
	// without a bound the transfer loop would spin forever.
	stalls := 0

	for m.committed < total {
		if ctx.Err() != nil {
			return "", m.fail(ctx, 0, ctx.Err())
		}

		end := m.committed + m.chunkSize
		if end > total {
			end = total
		}

		data, err := m.reader.ReadRange(m.committed, end)
		if err != nil {
			m.state = StateFailed

			return "", &Error{Kind: KindPermanent, CommittedOffset: m.committed, Err: err}
		}

		offset := m.committed

		result, attempts, err := retryClassified(ctx, m.retry, logger, "transfer", func() (ChunkResult, error) {
			return m.client.PushChunk(ctx, m.sessionID, offset, data)
		})
		if err != nil {
			return "", m.fail(ctx, attempts, err)
		}

		m.state = StateTransferring

		if result.Complete() {
			m.committed = total
			m.state = StateCompleted

			return result.AssetID, nil
		}

		if result.NextOffset != end {
			logger.Debug("remote adjusted next offset",
				"sent_range_end", end,
				"next_offset", result.NextOffset)
		}

		if result.NextOffset == offset {
			stalls++
			if stalls >= m.retry.MaxAttempts {
				m.state = StateFailed

				return "", &Error{
					Kind:            KindChunkExhausted,
					CommittedOffset: m.committed,
					Attempts:        stalls,
					Err:             errors.New("remote endpoint acknowledged no progress"),
				}
			}
		} else {
			stalls = 0
		}

		m.committed = result.NextOffset
	}

	m.state = StateFinishing
	logger.Debug("finishing upload session", "session_age", time.Since(m.createdAt).String())

	assetID, attempts, err := retryClassified(ctx, m.retry, logger, "finish", func() (string, error) {
		return m.client.Finish(ctx, m.sessionID)
	})
	if err != nil {
		return "", m.fail(ctx, attempts, err)
	}

	m.state = StateCompleted

	return assetID, nil
}

// fail moves the machine to its terminal Failed state and classifies the
// outcome. Failure is terminal: the machine never restarts a session, that
// decision belongs to the caller.
func (m *stateMachine) fail(ctx context.Context, attempts int, err error) *Error {
	m.state = StateFailed

	uploadErr := &Error{
		CommittedOffset: m.committed,
		Attempts:        attempts,
		Err:             err,
	}

	var sessionErr *SessionExpiredError

	var permErr *PermanentError

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		uploadErr.Kind = KindCancelled
	case errors.As(err, &sessionErr):
		uploadErr.Kind = KindSessionExpired
	case errors.As(err, &permErr):
		uploadErr.Kind = KindPermanent
	default:
		// Retry budget ran out on transient failures.
		uploadErr.Kind = KindChunkExhausted
		uploadErr.Err = &ChunkExhaustedError{
			StartOffset: m.committed,
			Attempts:    attempts,
			Err:         err,
		}
	}

	return uploadErr
}
