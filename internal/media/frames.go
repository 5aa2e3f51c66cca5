package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/clipsight/clipsight/internal/models"
)

// ExtractedFrame is one sampled frame on disk.
type ExtractedFrame struct {
	Index     int
	Path      string
	Timestamp float64 // seconds into the video
}

// FrameParams select how frames are sampled.
type FrameParams struct {
	Mode      string  // keyframes, uniform, scene-based
	Rate      int     // uniform: frames per second ceiling
	MaxFrames int
	Interval  float64 // uniform: explicit seconds between frames, overrides Rate
	Duration  float64 // probed video duration, seconds
}

// ExtractFrames samples frames into the job's frames directory as JPEG
// (quality 2) and returns them in order.
func (t *Toolkit) ExtractFrames(ctx context.Context, jobID, path string, params FrameParams) ([]ExtractedFrame, error) {
	outDir, err := t.sandbox.FramesDir(jobID)
	if err != nil {
		return nil, err
	}
	if params.MaxFrames <= 0 {
		params.MaxFrames = models.DefaultMaxFrames
	}

	pattern := filepath.Join(outDir, "frame_%04d.jpg")
	var filter string
	var spacing float64

	switch params.Mode {
	case models.SamplingKeyframes:
		filter = `select=eq(pict_type\,I)`
	case models.SamplingSceneBased:
		filter = `select=gt(scene\,0.3)`
	case models.SamplingUniform, "":
		fps := uniformFPS(params)
		filter = fmt.Sprintf("fps=%g", fps)
		spacing = 1 / fps
	default:
		return nil, fmt.Errorf("media: unknown sampling mode: %s", params.Mode)
	}

	args := []string{
		"-i", path,
		"-vf", filter,
		"-vsync", "vfr",
		"-frames:v", fmt.Sprintf("%d", params.MaxFrames),
		"-q:v", "2",
		pattern,
	}
	if err := t.runFFmpeg(ctx, args...); err != nil {
		return nil, err
	}

	frames, err := collectFrames(outDir)
	if err != nil {
		return nil, err
	}
	assignTimestamps(frames, spacing, params.Duration)

	t.logger.Info("frames extracted",
		slog.String("job_id", jobID),
		slog.String("mode", params.Mode),
		slog.Int("count", len(frames)),
	)
	return frames, nil
}

// uniformFPS derives the sampling rate for uniform mode: the explicit
// interval wins, then the configured rate, capped so the whole video fits
// in MaxFrames.
func uniformFPS(params FrameParams) float64 {
	fps := float64(params.Rate)
	if params.Interval > 0 {
		fps = 1 / params.Interval
	}
	if fps <= 0 {
		fps = 1
	}
	if params.Duration > 0 {
		if cap := float64(params.MaxFrames) / params.Duration; cap < fps {
			fps = cap
		}
	}
	return fps
}

// assignTimestamps attributes a position to each frame. Uniform sampling
// centres each frame in its interval; selector modes spread evenly over
// the known duration since ffmpeg does not report per-frame times here.
func assignTimestamps(frames []ExtractedFrame, spacing, duration float64) {
	if len(frames) == 0 {
		return
	}
	if spacing <= 0 && duration > 0 {
		spacing = duration / float64(len(frames))
	}
	for i := range frames {
		frames[i].Timestamp = (float64(i) + 0.5) * spacing
		if duration > 0 && frames[i].Timestamp > duration {
			frames[i].Timestamp = duration
		}
	}
}

// collectFrames lists the extracted JPEGs in numeric order.
func collectFrames(outDir string) ([]ExtractedFrame, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("media: listing frames: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "frame_") && strings.HasSuffix(entry.Name(), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	frames := make([]ExtractedFrame, 0, len(names))
	for i, name := range names {
		frames = append(frames, ExtractedFrame{
			Index: i,
			Path:  filepath.Join(outDir, name),
		})
	}
	return frames, nil
}
