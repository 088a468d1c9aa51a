package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/creative_uploader/internal/logctx"
)

// videoStatus is the processing state the platform reports for an uploaded
// video.
type videoStatus struct {
	Status struct {
		VideoStatus string `json:"video_status"`
	} `json:"status"`
}

// WaitForReady polls the uploaded video until the platform finishes processing
// it. A committed upload is not usable in ads until its status is "ready".
func (c *Client) WaitForReady(ctx context.Context, videoID string, timeout, interval time.Duration) error {
	logger := logctx.LoggerFromContext(ctx).With("video_id", videoID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.fetchStatus(ctx, videoID)
		if err != nil {
			return err
		}

		switch status {
		case "ready":
			logger.Info("video processed and ready for use")

			return nil
		case "error":
			return fmt.Errorf("platform failed to process video %s", videoID)
		}

		logger.Debug("video still processing", "video_status", status)

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for video %s to become ready: %w", videoID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, videoID string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s?fields=status", c.cfg.BaseURL, c.cfg.Version, videoID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch video status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("video status request failed with HTTP %d", resp.StatusCode)
	}

	var decoded videoStatus
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode video status: %w", err)
	}

	return decoded.Status.VideoStatus, nil
}
