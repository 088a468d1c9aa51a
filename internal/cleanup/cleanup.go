package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/italolelis/creative_uploader/internal/logctx"
)

// DeleteExpiredScratch deletes scratch files older than keepDuration. Scratch
// files are normally removed right after their upload finishes; this sweep
// catches the ones a crashed or cancelled job left behind.
func DeleteExpiredScratch(ctx context.Context, dir string, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Error("failed to stat scratch file", "file", filePath, "err", err)

			continue
		}

		if now.Sub(info.ModTime()) > keepDuration {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired scratch file", "file", filePath, "err", err)

				return err
			}

			logger.Info("deleted expired scratch file", "file", filePath)
		}
	}

	return nil
}
