package upload

import "fmt"

// FailureKind classifies a terminal upload outcome for callers that need to
// decide whether restarting the whole upload makes sense.
type FailureKind string

const (
	KindTransient      FailureKind = "transient"
	KindSessionExpired FailureKind = "session_expired"
	KindPermanent      FailureKind = "permanent_rejection"
	KindChunkExhausted FailureKind = "chunk_exhausted"
	KindCancelled      FailureKind = "cancelled"
)

// TransientError represents failures that are retryable at the chunk level:
// reset connections, timeouts and 5xx responses from the remote endpoint.
type TransientError struct {
	Operation  string // The protocol phase that failed (e.g., "start", "transfer", "finish")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the API or network layer
	Err        error  // Underlying error, if any
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("transient error during %s: %s", e.Operation, e.APIMessage)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// SessionExpiredError means the remote endpoint no longer recognizes the
// upload session id. No chunk-level retry can repair a dead session; the whole
// upload fails and the caller may start a fresh session from offset 0.
type SessionExpiredError struct {
	SessionID string
	Err       error
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("upload session %s is no longer recognized by the remote endpoint", e.SessionID)
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Err
}

// PermanentError represents rejections that retrying cannot fix: malformed
// requests, authentication failures, size mismatches.
type PermanentError struct {
	Operation  string
	StatusCode int
	Reason     string
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent rejection during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("permanent rejection during %s: %s", e.Operation, e.Reason)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// ChunkExhaustedError means one chunk used up its whole retry budget on
// transient failures. It is terminal for the session.
type ChunkExhaustedError struct {
	StartOffset int64 // Offset of the chunk that gave up
	Attempts    int   // Number of attempts made
	Err         error // Last transient failure
}

func (e *ChunkExhaustedError) Error() string {
	return fmt.Sprintf("chunk at offset %d exhausted retry budget after %d attempts", e.StartOffset, e.Attempts)
}

func (e *ChunkExhaustedError) Unwrap() error {
	return e.Err
}

// Error is the terminal outcome surfaced by the coordinator. It preserves the
// diagnostic context the caller needs to decide on a whole-upload retry.
type Error struct {
	Kind            FailureKind
	CommittedOffset int64 // Last offset acknowledged by the remote endpoint
	Attempts        int   // Attempts made on the failing chunk, if any
	Err             error // Classified underlying failure
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload failed (%s) at committed offset %d: %v", e.Kind, e.CommittedOffset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
