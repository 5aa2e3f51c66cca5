package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// downloadYouTube fetches a YouTube source with yt-dlp, honouring the
// configured proxy and cookies. The subprocess dies with the context.
func (t *Toolkit) downloadYouTube(ctx context.Context, jobID, url string) (string, error) {
	target, err := t.sandbox.InputPath(jobID, "mp4")
	if err != nil {
		return "", err
	}

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--format", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"--merge-output-format", "mp4",
		"--output", target,
	}
	if t.cfg.YtProxyURL != "" {
		args = append(args, "--proxy", t.cfg.YtProxyURL)
	}
	if t.cfg.YtCookiesPath != "" {
		args = append(args, "--cookies", t.cfg.YtCookiesPath)
	}
	if max := int64(t.cfg.MaxVideoSize); max > 0 {
		args = append(args, "--max-filesize", fmt.Sprintf("%d", max))
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, t.ytdlpPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	t.logger.Info("downloading via yt-dlp", slog.String("job_id", jobID))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("media: yt-dlp failed: %s", msg)
	}
	return target, nil
}
