// Package media wraps the local media binaries (ffmpeg, ffprobe, yt-dlp)
// and source acquisition for the analysis pipeline. All operations honour
// the caller's context and confine file output to a per-job sandbox under
// the configured temp directory.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/clipsight/clipsight/internal/config"
	"github.com/clipsight/clipsight/internal/httpclient"
	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/observability"
)

// Source describes where a job's video comes from.
type Source struct {
	Kind     models.SourceKind
	URL      string
	Filename string
	// Buffer carries inline uploads.
	Buffer []byte
	// DriveToken authenticates cloud-drive downloads. Never logged.
	DriveToken string
}

// Toolkit invokes local media binaries and acquires source files.
type Toolkit struct {
	cfg         config.MediaConfig
	sandbox     *Sandbox
	http        *httpclient.Client
	ffmpegPath  string
	ffprobePath string
	ytdlpPath   string
	logger      *slog.Logger
}

// New builds a toolkit rooted at tempDir. Binary paths default to PATH
// lookups when unset in the configuration.
func New(cfg config.MediaConfig, tempDir string, log *slog.Logger) (*Toolkit, error) {
	if log == nil {
		log = slog.Default()
	}
	log = observability.WithComponent(log, "media")

	sandbox, err := NewSandbox(tempDir)
	if err != nil {
		return nil, err
	}

	hc := httpclient.DefaultConfig()
	hc.RetryAttempts = 0 // the downloader drives its own retry policy
	hc.CircuitThreshold = 0
	hc.Timeout = 0 // large downloads must not hit a per-request timeout
	hc.Logger = log

	return &Toolkit{
		cfg:         cfg,
		sandbox:     sandbox,
		http:        httpclient.New(hc),
		ffmpegPath:  binaryPath(cfg.FFmpegPath, "ffmpeg"),
		ffprobePath: binaryPath(cfg.FFprobePath, "ffprobe"),
		ytdlpPath:   binaryPath(cfg.YtDlpPath, "yt-dlp"),
		logger:      log,
	}, nil
}

// Sandbox exposes the file sandbox for cleanup helpers.
func (t *Toolkit) Sandbox() *Sandbox { return t.sandbox }

// Acquire fetches the job's source video into the job workspace and
// returns the local path.
func (t *Toolkit) Acquire(ctx context.Context, jobID string, src Source) (string, error) {
	if _, err := t.sandbox.JobDir(jobID); err != nil {
		return "", err
	}

	kind := src.Kind
	if kind == "" {
		kind = models.DetectSourceKind(src.URL)
	}

	switch kind {
	case models.SourceURL:
		return t.download(ctx, jobID, src.URL, nil)
	case models.SourceYouTube:
		return t.downloadYouTube(ctx, jobID, src.URL)
	case models.SourceBuffer:
		return t.writeBuffer(jobID, src)
	case models.SourceDrive:
		headers := map[string]string{"Authorization": "Bearer " + src.DriveToken}
		return t.download(ctx, jobID, src.URL, headers)
	default:
		return "", fmt.Errorf("media: unsupported source kind: %s", kind)
	}
}

// writeBuffer persists an inline upload into the job workspace.
func (t *Toolkit) writeBuffer(jobID string, src Source) (string, error) {
	if len(src.Buffer) == 0 {
		return "", fmt.Errorf("media: buffer source is empty")
	}
	if max := int64(t.cfg.MaxVideoSize); max > 0 && int64(len(src.Buffer)) > max {
		return "", fmt.Errorf("%w: buffer is %d bytes", ErrFileTooLarge, len(src.Buffer))
	}

	path, err := t.sandbox.InputPath(jobID, extensionOf(src.Filename))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, src.Buffer, 0o640); err != nil {
		return "", fmt.Errorf("media: writing buffer: %w", err)
	}
	return path, nil
}

// EncodeFileBase64 reads a file and returns its base64 payload for the
// model service.
func (t *Toolkit) EncodeFileBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("media: reading %s: %w", filepath.Base(path), err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// runFFmpeg executes ffmpeg with the given arguments, surfacing stderr in
// the error since ffmpeg reports diagnostics there.
func (t *Toolkit) runFFmpeg(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	cmd := exec.CommandContext(ctx, t.ffmpegPath, full...)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("media: ffmpeg failed: %s", msg)
	}
	return nil
}

// binaryPath prefers the configured path, falling back to a PATH lookup
// result or the bare name so exec reports a clear error later.
func binaryPath(configured, name string) string {
	if configured != "" {
		return configured
	}
	if found, err := exec.LookPath(name); err == nil {
		return found
	}
	return name
}

// extensionOf extracts a safe file extension from a submitted filename.
func extensionOf(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return "mp4"
	}
	return ext
}
