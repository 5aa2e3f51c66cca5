package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/clipsight/clipsight/internal/models"
)

// ErrZeroDuration marks containers ffprobe accepts but reports no playable
// duration for. These cannot be analysed.
var ErrZeroDuration = errors.New("media: video has zero duration")

// probeResult is the subset of ffprobe JSON output the toolkit needs.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type probeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
}

// Probe extracts technical metadata from a local video file. The first
// video stream supplies resolution, codec, and frame rate; the first audio
// stream supplies the audio codec.
func (t *Toolkit) Probe(ctx context.Context, jobID, path string) (*models.VideoMetadata, error) {
	result, err := t.runProbe(ctx, path)
	if err != nil {
		return nil, err
	}

	meta := &models.VideoMetadata{JobID: jobID}

	if result.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			meta.Duration = dur
		}
	}
	if meta.Duration <= 0 {
		return nil, ErrZeroDuration
	}
	if result.Format.BitRate != "" {
		if br, err := strconv.ParseInt(result.Format.BitRate, 10, 64); err == nil {
			meta.Bitrate = br
		}
	}
	if result.Format.Size != "" {
		if size, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil {
			meta.Size = size
		}
	}
	if meta.Size == 0 {
		if info, err := os.Stat(path); err == nil {
			meta.Size = info.Size()
		}
	}

	firstVideo, firstAudio := true, true
	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if firstVideo {
				firstVideo = false
				meta.Width = stream.Width
				meta.Height = stream.Height
				meta.Codec = stream.CodecName
				meta.FrameRate = frameRate(stream)
			}
		case "audio":
			meta.AudioTrackCount++
			if firstAudio {
				firstAudio = false
				meta.AudioCodec = stream.CodecName
			}
		case "subtitle":
			meta.HasSubtitles = true
		}
	}

	meta.Quality = models.DeriveQuality(meta.Width, meta.Height)
	return meta, nil
}

// Validate reports whether ffprobe accepts the file at all.
func (t *Toolkit) Validate(ctx context.Context, path string) error {
	if _, err := t.runProbe(ctx, path); err != nil {
		return fmt.Errorf("media: file failed validation: %w", err)
	}
	return nil
}

func (t *Toolkit) runProbe(ctx context.Context, path string) (*probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("media: probe timed out")
		}
		return nil, fmt.Errorf("media: ffprobe failed: %w", err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("media: parsing ffprobe output: %w", err)
	}
	return &result, nil
}

// frameRate parses "30000/1001" style rational frame rates, preferring the
// average rate over the raw one.
func frameRate(stream probeStream) float64 {
	for _, fr := range []string{stream.AvgFrameRate, stream.RFrameRate} {
		if fr == "" || fr == "0/0" {
			continue
		}
		if rate := parseRational(fr); rate > 0 {
			return rate
		}
	}
	return 0
}

func parseRational(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
