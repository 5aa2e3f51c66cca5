package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/clipsight/clipsight/internal/httpclient"
)

// Download failure modes callers branch on.
var (
	// ErrFileTooLarge means the source exceeded the configured size limit.
	ErrFileTooLarge = errors.New("media: file exceeds maximum size")
	// ErrUnsupportedContentType means the server's content type is not in
	// the allow-list.
	ErrUnsupportedContentType = errors.New("media: unsupported content type")
)

const maxRedirects = 10

// download fetches a direct URL into the job workspace. Retries up to the
// configured count with linearly growing delay, but only on network errors
// and HTTP 5xx; 4xx and content validation failures fail immediately.
func (t *Toolkit) download(ctx context.Context, jobID, url string, headers map[string]string) (string, error) {
	retries := t.cfg.DownloadRetries
	if retries <= 0 {
		retries = 3
	}
	retryDelay := t.cfg.DownloadRetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * retryDelay
			t.logger.Debug("retrying download",
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		localPath, err := t.downloadOnce(ctx, jobID, url, headers)
		if err == nil {
			return localPath, nil
		}
		if !retryableDownloadError(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("media: download failed after %d attempts: %w", retries, lastErr)
}

func (t *Toolkit) downloadOnce(ctx context.Context, jobID, url string, headers map[string]string) (string, error) {
	client := &http.Client{
		Transport: t.http.StandardClient().Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("media: building download request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", &transientDownloadError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", &transientDownloadError{fmt.Errorf("server returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media: download failed with status %d", resp.StatusCode)
	}
	if err := t.checkContentType(resp.Header.Get("Content-Type")); err != nil {
		return "", err
	}

	localPath, err := t.sandbox.InputPath(jobID, extensionFromURL(url))
	if err != nil {
		return "", err
	}
	out, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("media: creating download target: %w", err)
	}

	// Copy one byte past the limit so an oversize body is detected rather
	// than silently truncated.
	limit := int64(t.cfg.MaxVideoSize)
	var written int64
	if limit > 0 {
		written, err = io.Copy(out, io.LimitReader(resp.Body, limit+1))
	} else {
		written, err = io.Copy(out, resp.Body)
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(localPath)
		return "", &transientDownloadError{fmt.Errorf("streaming body: %w", err)}
	}
	if closeErr != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("media: closing download target: %w", closeErr)
	}
	if limit > 0 && written > limit {
		os.Remove(localPath)
		return "", fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, limit)
	}

	t.logger.Info("source downloaded",
		slog.String("job_id", jobID),
		slog.Int64("bytes", written),
	)
	return localPath, nil
}

// checkContentType enforces the allow-list. Empty content types are
// permitted since many storage servers omit the header.
func (t *Toolkit) checkContentType(header string) error {
	if header == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedContentType, header)
	}

	allowed := t.cfg.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = []string{"video/*"}
	}
	for _, pattern := range allowed {
		if pattern == mediaType {
			return nil
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok && strings.HasPrefix(mediaType, prefix+"/") {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
}

// extensionFromURL picks a file extension from the URL path, falling back
// to mp4.
func extensionFromURL(url string) string {
	if ext := strings.TrimPrefix(path.Ext(path.Base(strings.SplitN(url, "?", 2)[0])), "."); ext != "" && len(ext) <= 5 {
		return ext
	}
	return "mp4"
}

// transientDownloadError marks failures worth retrying.
type transientDownloadError struct{ err error }

func (e *transientDownloadError) Error() string { return "media: " + e.err.Error() }
func (e *transientDownloadError) Unwrap() error { return e.err }

func retryableDownloadError(err error) bool {
	var transient *transientDownloadError
	if errors.As(err, &transient) {
		return true
	}
	return httpclient.IsTransient(err)
}
