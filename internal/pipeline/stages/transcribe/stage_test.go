package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/media"
	"github.com/clipsight/clipsight/internal/modelservice"
)

func TestMergeTranscriptsOrderAndOffsets(t *testing.T) {
	// Two 30s chunks with 2s overlap: the second starts at 28s.
	chunks := []media.AudioChunk{
		{Index: 0, Start: 0, Duration: 30},
		{Index: 1, Start: 28, Duration: 30},
	}
	transcripts := []*modelservice.Transcription{
		{
			Transcription: "hello world",
			Language:      "en",
			Confidence:    0.9,
			Speakers: []modelservice.Speaker{
				{ID: "spk_0", Start: 1, End: 5, Text: "hello world"},
			},
		},
		{
			Transcription: "goodbye now",
			Language:      "de",
			Confidence:    0.7,
			Speakers: []modelservice.Speaker{
				{ID: "spk_1", Start: 2, End: 6, Text: "goodbye now"},
			},
		},
	}

	analysis := mergeTranscripts("job-1", "/tmp/audio.wav", "whisper-1", chunks, transcripts)

	assert.Equal(t, "hello world goodbye now", analysis.Transcription)
	assert.Equal(t, "en", analysis.Language, "language comes from the first chunk")
	assert.InDelta(t, 0.8, analysis.Confidence, 1e-9, "confidence is the mean over chunks")

	require.Len(t, analysis.Segments, 2)
	assert.InDelta(t, 1.0, analysis.Segments[0].Start, 1e-9)
	assert.InDelta(t, 30.0, analysis.Segments[1].Start, 1e-9, "second chunk segments shift by the chunk offset")
	assert.InDelta(t, 34.0, analysis.Segments[1].End, 1e-9)
	assert.Equal(t, "spk_1", analysis.Segments[1].SpeakerID)
}

func TestMergeTranscriptsSkipsNilChunks(t *testing.T) {
	chunks := []media.AudioChunk{
		{Index: 0, Start: 0},
		{Index: 1, Start: 28},
	}
	transcripts := []*modelservice.Transcription{
		nil,
		{Transcription: "only chunk", Language: "en", Confidence: 0.6},
	}

	analysis := mergeTranscripts("job-1", "a.wav", "m", chunks, transcripts)
	assert.Equal(t, "only chunk", analysis.Transcription)
	assert.Equal(t, "en", analysis.Language)
	assert.InDelta(t, 0.6, analysis.Confidence, 1e-9)
}

func TestMergeTranscriptsEmpty(t *testing.T) {
	analysis := mergeTranscripts("job-1", "a.wav", "m", nil, nil)
	assert.Empty(t, analysis.Transcription)
	assert.Zero(t, analysis.Confidence)
	assert.Empty(t, analysis.Segments)
}
