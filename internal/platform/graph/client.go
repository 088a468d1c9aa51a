package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/italolelis/creative_uploader/internal/logctx"
	"github.com/italolelis/creative_uploader/internal/upload"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL        = "https://graph.facebook.com"
	defaultVersion        = "v18.0"
	defaultConnectTimeout = 10 * time.Second
	defaultMinThroughput  = 128 * 1024 // bytes per second
	defaultMaxChunkTime   = 45 * time.Second
)

// Config holds the wire adapter settings. MinThroughput sizes the per-chunk
// timeout (chunk bytes divided by an assumed throughput floor) and
// MaxChunkTime clamps it so a single request can never outlive the edge's
// idle-connection ceiling.
type Config struct {
	BaseURL        string
	Version        string
	AccountID      string
	ConnectTimeout time.Duration
	MinThroughput  int64
	MaxChunkTime   time.Duration
}

// Client implements the resumable upload wire protocol of the ads platform:
// three multipart POST phases (start, transfer, finish) against the account's
// advideos edge. It is safe for concurrent use by independent sessions.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ upload.TransferClient = (*Client)(nil)

func NewClient(token string, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	if cfg.MinThroughput <= 0 {
		cfg.MinThroughput = defaultMinThroughput
	}

	if cfg.MaxChunkTime <= 0 {
		cfg.MaxChunkTime = defaultMaxChunkTime
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})

	return &Client{
		cfg:        cfg,
		httpClient: oauth2.NewClient(context.Background(), tokenSource),
	}
}

// flexInt64 decodes offsets the platform returns either as JSON numbers or as
// quoted strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0

		return nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid offset value %s: %w", string(data), err)
	}

	*f = flexInt64(v)

	return nil
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode"`
}

type wireResponse struct {
	UploadSessionID string      `json:"upload_session_id"`
	StartOffset     flexInt64   `json:"start_offset"`
	VideoID         string      `json:"video_id"`
	Success         bool        `json:"success"`
	Error           *graphError `json:"error"`
}

// Start registers intent to upload totalSize bytes and returns the session id
// plus the first expected offset (0 unless the platform overrides it).
func (c *Client) Start(ctx context.Context, totalSize int64) (upload.StartResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	resp, err := c.post(ctx, "start", map[string]string{
		"upload_phase": "start",
		"file_size":    strconv.FormatInt(totalSize, 10),
	}, nil)
	if err != nil {
		return upload.StartResult{}, err
	}

	if resp.UploadSessionID == "" {
		return upload.StartResult{}, &upload.PermanentError{
			Operation: "start",
			Reason:    "remote endpoint did not return an upload session id",
		}
	}

	return upload.StartResult{
		SessionID:   resp.UploadSessionID,
		StartOffset: int64(resp.StartOffset),
	}, nil
}

// PushChunk transmits one byte range. The returned next offset is the remote
// endpoint's, not the locally computed one; a terminal response carries the
// asset id instead.
func (c *Client) PushChunk(ctx context.Context, sessionID string, startOffset int64, data []byte) (upload.ChunkResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chunkTimeout(len(data)))
	defer cancel()

	resp, err := c.post(ctx, "transfer", map[string]string{
		"upload_phase":      "transfer",
		"upload_session_id": sessionID,
		"start_offset":      strconv.FormatInt(startOffset, 10),
	}, data)
	if err != nil {
		return upload.ChunkResult{}, c.tagSession(err, sessionID)
	}

	if resp.VideoID != "" {
		return upload.ChunkResult{AssetID: resp.VideoID}, nil
	}

	return upload.ChunkResult{NextOffset: int64(resp.StartOffset)}, nil
}

// Finish finalizes the session. The platform answers a finish on an already
// finalized session with the same video id, so the call is idempotent.
func (c *Client) Finish(ctx context.Context, sessionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	resp, err := c.post(ctx, "finish", map[string]string{
		"upload_phase":      "finish",
		"upload_session_id": sessionID,
	}, nil)
	if err != nil {
		return "", c.tagSession(err, sessionID)
	}

	if resp.VideoID == "" {
		return "", &upload.PermanentError{
			Operation: "finish",
			Reason:    "remote endpoint did not return a video id",
		}
	}

	return resp.VideoID, nil
}

// chunkTimeout sizes the transfer timeout from the chunk's byte count and the
// assumed minimum throughput floor, clamped below the idle-timeout ceiling.
func (c *Client) chunkTimeout(chunkBytes int) time.Duration {
	transfer := time.Duration(float64(chunkBytes) / float64(c.cfg.MinThroughput) * float64(time.Second))

	timeout := c.cfg.ConnectTimeout + transfer
	if timeout > c.cfg.MaxChunkTime {
		timeout = c.cfg.MaxChunkTime
	}

	return timeout
}

func (c *Client) uploadURL() string {
	return fmt.Sprintf("%s/%s/%s/advideos", c.cfg.BaseURL, c.cfg.Version, c.cfg.AccountID)
}

func (c *Client) post(ctx context.Context, operation string, fields map[string]string, chunk []byte) (*wireResponse, error) {
	logger := logctx.LoggerFromContext(ctx)

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}

	if chunk != nil {
		part, err := writer.CreateFormFile("video_file_chunk", "chunk")
		if err != nil {
			return nil, fmt.Errorf("failed to create chunk form file: %w", err)
		}

		if _, err := part.Write(chunk); err != nil {
			return nil, fmt.Errorf("failed to write chunk body: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL(), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		return nil, &upload.TransientError{
			Operation:  operation,
			APIMessage: err.Error(),
			Err:        err,
		}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &upload.TransientError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: "failed to read response body",
			Err:        err,
		}
	}

	var decoded wireResponse
	if err := json.Unmarshal(payload, &decoded); err != nil && resp.StatusCode < http.StatusBadRequest {
		return nil, &upload.TransientError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: "malformed response body",
			Err:        err,
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Debug("upload phase rejected",
			"operation", operation,
			"status", resp.StatusCode)

		return nil, classifyStatus(operation, resp.StatusCode, decoded.Error)
	}

	return &decoded, nil
}

// classifyStatus maps an HTTP rejection into the upload error taxonomy.
func classifyStatus(operation string, statusCode int, gerr *graphError) error {
	message := ""
	if gerr != nil {
		message = gerr.Message
	}

	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= http.StatusInternalServerError:
		return &upload.TransientError{
			Operation:  operation,
			StatusCode: statusCode,
			APIMessage: message,
		}
	case sessionUnknown(gerr):
		// Tagged with the session id by the caller.
		return &upload.SessionExpiredError{}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &upload.PermanentError{
			Operation:  operation,
			StatusCode: statusCode,
			Reason:     "authentication rejected by the platform",
		}
	default:
		return &upload.PermanentError{
			Operation:  operation,
			StatusCode: statusCode,
			Reason:     message,
		}
	}
}

// subcodeSessionExpired is the Graph error subcode for a resumable upload
// session that has expired or was never registered.
const subcodeSessionExpired = 1363037

// sessionUnknown reports whether a Graph error means the upload session is no
// longer recognized (expired or never existed). The subcode is authoritative
// when present; the message match covers responses that omit it.
func sessionUnknown(gerr *graphError) bool {
	if gerr == nil {
		return false
	}

	if gerr.Subcode == subcodeSessionExpired {
		return true
	}

	message := strings.ToLower(gerr.Message)

	return strings.Contains(message, "upload session") &&
		(strings.Contains(message, "expired") || strings.Contains(message, "not") || strings.Contains(message, "invalid"))
}

// tagSession fills the session id into session-expiry errors, which the
// classifier cannot know.
func (c *Client) tagSession(err error, sessionID string) error {
	var sessionErr *upload.SessionExpiredError
	if errors.As(err, &sessionErr) {
		sessionErr.SessionID = sessionID
	}

	return err
}
