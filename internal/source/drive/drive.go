package drive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/creative_uploader/internal/logctx"
)

const (
	dirPerm          = 0755
	sniffLen         = 512
	progressInterval = 100 * 1024 * 1024 // 100MB
)

// Fetcher downloads source media from Drive-style share links into local
// scratch storage. The upload engine requires a seekable local file of known
// size, so no streaming directly from the share link.
type Fetcher struct {
	scratchDir string
	httpClient *http.Client
}

func NewFetcher(scratchDir string) *Fetcher {
	return &Fetcher{
		scratchDir: scratchDir,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// NormalizeShareLink converts Drive view/share links into direct-download
// form. Links from other hosts pass through untouched.
func NormalizeShareLink(link string) string {
	if !strings.Contains(link, "drive.google.com") {
		return link
	}

	var fileID string

	switch {
	case strings.Contains(link, "/file/d/"):
		rest := strings.SplitN(link, "/file/d/", 2)[1]
		fileID = strings.SplitN(rest, "/", 2)[0]
	case strings.Contains(link, "id="):
		parsed, err := url.Parse(link)
		if err != nil {
			return link
		}

		fileID = parsed.Query().Get("id")
	}

	if fileID == "" {
		return link
	}

	return "https://drive.google.com/uc?export=download&id=" + fileID
}

// Fetch downloads the given link into a scratch file and returns its path and
// byte size. Large Drive files answer the first request with a confirmation
// page; the download_warning cookie token is replayed to get the real bytes.
func (f *Fetcher) Fetch(ctx context.Context, link string) (string, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	target := NormalizeShareLink(link)

	resp, err := f.get(ctx, target, "")
	if err != nil {
		return "", 0, err
	}

	if token := warningToken(resp.Cookies()); token != "" {
		resp.Body.Close()

		logger.Debug("drive confirmation token detected, re-requesting download")

		resp, err = f.get(ctx, target, token)
		if err != nil {
			return "", 0, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("source fetch failed with HTTP %d", resp.StatusCode)
	}

	path, size, err := f.saveBody(ctx, resp.Body)
	if err != nil {
		return "", 0, err
	}

	logger.Info("source file downloaded", "path", path, "size", humanize.IBytes(uint64(size)))

	return path, size, nil
}

func (f *Fetcher) get(ctx context.Context, target, confirmToken string) (*http.Response, error) {
	if confirmToken != "" {
		separator := "&"
		if !strings.Contains(target, "?") {
			separator = "?"
		}

		target = target + separator + "confirm=" + url.QueryEscape(confirmToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}

	return resp, nil
}

func (f *Fetcher) saveBody(ctx context.Context, body io.Reader) (string, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(f.scratchDir, dirPerm); err != nil {
		return "", 0, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	out, err := os.CreateTemp(f.scratchDir, "source-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer out.Close()

	// Sniff the head of the body: a Drive confirmation page served instead of
	// the file bytes is HTML, not media.
	head := make([]byte, sniffLen)

	n, err := io.ReadFull(body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		os.Remove(out.Name())

		return "", 0, fmt.Errorf("failed to read source body: %w", err)
	}

	head = head[:n]
	if isHTML(head) {
		os.Remove(out.Name())

		return "", 0, fmt.Errorf("source returned an HTML page instead of file content")
	}

	progressCb := func(written, total int64) {
		logger.Debug("source download progress", "downloaded", humanize.IBytes(uint64(written)))
	}

	reader := newProgressReader(io.MultiReader(bytes.NewReader(head), body), 0, progressInterval, progressCb)

	size, err := io.Copy(out, reader)
	if err != nil {
		os.Remove(out.Name())

		return "", 0, fmt.Errorf("failed to save source file: %w", err)
	}

	return out.Name(), size, nil
}

func warningToken(cookies []*http.Cookie) string {
	for _, cookie := range cookies {
		if strings.HasPrefix(cookie.Name, "download_warning") {
			return cookie.Value
		}
	}

	return ""
}

func isHTML(head []byte) bool {
	trimmed := bytes.ToLower(bytes.TrimSpace(head))

	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html"))
}
