package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/clipsight/clipsight/pkg/bytesize"
)

// chunkOverlap is how much consecutive audio chunks share so that speech
// spanning a boundary appears whole in at least one chunk.
const chunkOverlap = 2.0 // seconds

// singleCallLimit is the largest audio file sent to transcription whole.
// Files above it are split into chunks of the configured chunk size.
const singleCallLimit = 10 * bytesize.MB

// AudioChunk is one slice of the extracted audio track.
type AudioChunk struct {
	Index    int
	Path     string
	Start    float64 // offset into the full track, seconds
	Duration float64 // seconds
}

// ExtractAudio writes the audio track as 16 kHz mono PCM WAV, the format
// transcription models expect, and returns the file path.
func (t *Toolkit) ExtractAudio(ctx context.Context, jobID, videoPath string) (string, error) {
	target, err := t.sandbox.AudioPath(jobID)
	if err != nil {
		return "", err
	}

	args := []string{
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		target,
	}
	if err := t.runFFmpeg(ctx, args...); err != nil {
		return "", err
	}

	t.logger.Info("audio extracted", slog.String("job_id", jobID))
	return target, nil
}

// ChunkAudio splits an audio file into overlapping chunks sized to the
// configured transcription payload limit. Short files come back as a
// single chunk referencing the original path.
func (t *Toolkit) ChunkAudio(ctx context.Context, jobID, audioPath string, duration float64) ([]AudioChunk, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("media: cannot chunk audio with duration %g", duration)
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("media: stat audio: %w", err)
	}

	chunkSize := int64(t.cfg.TranscribeChunkSize)
	if chunkSize <= 0 || info.Size() <= int64(singleCallLimit) || info.Size() <= chunkSize {
		return []AudioChunk{{Index: 0, Path: audioPath, Start: 0, Duration: duration}}, nil
	}

	// Estimate seconds per chunk from the file's effective byte rate.
	byteRate := float64(info.Size()) / duration
	chunkDuration := float64(chunkSize) / byteRate

	spans := chunkSpans(duration, chunkDuration, chunkOverlap)
	chunks := make([]AudioChunk, 0, len(spans))
	for i, span := range spans {
		target, err := t.sandbox.ChunkPath(jobID, i)
		if err != nil {
			return nil, err
		}
		args := []string{
			"-i", audioPath,
			"-ss", fmt.Sprintf("%.3f", span.start),
			"-t", fmt.Sprintf("%.3f", span.duration),
			"-c", "copy",
			target,
		}
		if err := t.runFFmpeg(ctx, args...); err != nil {
			return nil, err
		}
		chunks = append(chunks, AudioChunk{
			Index:    i,
			Path:     target,
			Start:    span.start,
			Duration: span.duration,
		})
	}

	t.logger.Info("audio chunked",
		slog.String("job_id", jobID),
		slog.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

type span struct {
	start    float64
	duration float64
}

// chunkSpans computes chunk boundaries: each chunk advances by
// chunkDuration minus the overlap and is clipped to the track length.
func chunkSpans(duration, chunkDuration, overlap float64) []span {
	if chunkDuration >= duration {
		return []span{{start: 0, duration: duration}}
	}
	step := chunkDuration - overlap
	if step <= 0 {
		step = chunkDuration
	}

	var spans []span
	for start := 0.0; start < duration; start += step {
		length := chunkDuration
		if start+length > duration {
			length = duration - start
		}
		spans = append(spans, span{start: start, duration: length})
		if start+chunkDuration >= duration {
			break
		}
	}
	return spans
}
