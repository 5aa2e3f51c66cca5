package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/database"
	"github.com/clipsight/clipsight/internal/media"
	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/modelservice"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/repository"
)

type fakeMedia struct {
	acquired  atomic.Int32
	probeErr  error
	numFrames int
	noAudio   bool
}

func (f *fakeMedia) Acquire(ctx context.Context, jobID string, src media.Source) (string, error) {
	f.acquired.Add(1)
	return "/tmp/" + jobID + "/input.mp4", nil
}

func (f *fakeMedia) Probe(ctx context.Context, jobID, path string) (*models.VideoMetadata, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	tracks := 1
	if f.noAudio {
		tracks = 0
	}
	return &models.VideoMetadata{
		JobID:           jobID,
		Duration:        10,
		Width:           1920,
		Height:          1080,
		Codec:           "h264",
		AudioTrackCount: tracks,
		Quality:         models.QualityHigh,
	}, nil
}

func (f *fakeMedia) ExtractFrames(ctx context.Context, jobID, path string, params media.FrameParams) ([]media.ExtractedFrame, error) {
	n := f.numFrames
	if n == 0 {
		n = 3
	}
	frames := make([]media.ExtractedFrame, n)
	for i := range frames {
		frames[i] = media.ExtractedFrame{
			Index:     i,
			Path:      fmt.Sprintf("/tmp/%s/frames/frame_%04d.jpg", jobID, i+1),
			Timestamp: float64(i) * 2,
		}
	}
	return frames, nil
}

func (f *fakeMedia) ExtractAudio(ctx context.Context, jobID, videoPath string) (string, error) {
	return "/tmp/" + jobID + "/audio.wav", nil
}

func (f *fakeMedia) ChunkAudio(ctx context.Context, jobID, audioPath string, duration float64) ([]media.AudioChunk, error) {
	return []media.AudioChunk{{Index: 0, Path: audioPath, Start: 0, Duration: duration}}, nil
}

func (f *fakeMedia) EncodeFileBase64(path string) (string, error) {
	return "ZmFrZQ==", nil
}

type fakeModels struct {
	analyzeCalls atomic.Int32
	memories     atomic.Int32
}

func (f *fakeModels) SelectModel(ctx context.Context, req modelservice.SelectionRequest) (*modelservice.ModelSelection, error) {
	return &modelservice.ModelSelection{ModelID: req.TaskType + "-model", Provider: "test", EstimatedCost: 0.01}, nil
}

func (f *fakeModels) AnalyzeFrame(ctx context.Context, req modelservice.FrameAnalysisRequest) (*modelservice.FrameAnalysis, error) {
	n := f.analyzeCalls.Add(1)
	return &modelservice.FrameAnalysis{
		Description: fmt.Sprintf("a person near a desk %d", n),
		Confidence:  0.9,
		Objects: []modelservice.DetectedItem{
			{Label: "person", Confidence: 0.95, X: 0.1, Y: 0.1, Width: 0.3, Height: 0.5},
		},
	}, nil
}

func (f *fakeModels) Transcribe(ctx context.Context, req modelservice.TranscribeRequest) (*modelservice.Transcription, error) {
	return &modelservice.Transcription{
		Transcription: "welcome to the demo",
		Language:      "en",
		Confidence:    0.85,
		Speakers: []modelservice.Speaker{
			{ID: "spk_0", Start: 0.5, End: 3.2, Text: "welcome to the demo"},
		},
	}, nil
}

func (f *fakeModels) Synthesize(ctx context.Context, sources []string, format, objective string) (string, error) {
	return "synthesised " + objective, nil
}

func (f *fakeModels) Classify(ctx context.Context, content string, categories []string) (*modelservice.ClassificationResult, error) {
	return &modelservice.ClassificationResult{
		PrimaryCategory: "education",
		Scores:          map[string]float64{"education": 0.8},
		Tags:            []string{"demo"},
		Rating:          "G",
		Confidence:      0.8,
	}, nil
}

func (f *fakeModels) ExtractTopics(ctx context.Context, text string) (*modelservice.Topics, error) {
	return &modelservice.Topics{Topics: []string{"demos"}, Keywords: []string{"welcome"}}, nil
}

func (f *fakeModels) Sentiment(ctx context.Context, text string) (*modelservice.SentimentResult, error) {
	return &modelservice.SentimentResult{Sentiment: "positive", Confidence: 0.7}, nil
}

func (f *fakeModels) GenerateEmbedding(ctx context.Context, content string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeModels) StoreMemory(ctx context.Context, jobID, content string, metadata map[string]any) {
	f.memories.Add(1)
}

func (f *fakeModels) TrackUsage(ctx context.Context, event modelservice.UsageEvent) {}

func newTestEngine(t *testing.T, fm *fakeMedia, fms *fakeModels) (*Engine, *repository.Store) {
	t.Helper()
	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repository.NewStore(db)
	engine := New(&core.Dependencies{
		Media:            fm,
		Models:           fms,
		Store:            store,
		FrameConcurrency: 2,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return engine, store
}

func fullOptions() models.Options {
	return models.Options{
		ExtractFrames:   true,
		ExtractAudio:    true,
		TranscribeAudio: true,
		DetectScenes:    true,
		DetectObjects:   true,
		ClassifyContent: true,
		GenerateSummary: true,
	}
}

func TestBuildStagesEnablement(t *testing.T) {
	deps := &core.Dependencies{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	ids := func(opts models.Options) []string {
		opts.ApplyDefaults()
		var out []string
		for _, stage := range BuildStages(deps, opts) {
			out = append(out, stage.ID())
		}
		return out
	}

	assert.Equal(t, []string{"metadata_extraction"}, ids(models.Options{}))

	assert.Equal(t,
		[]string{"metadata_extraction", "frame_extraction", "audio_extraction", "frame_analysis",
			"audio_transcription", "scene_detection", "content_classification", "summary_generation"},
		ids(fullOptions()))

	// Frames alone without any visual consumer skips frame analysis.
	assert.Equal(t, []string{"metadata_extraction", "frame_extraction"},
		ids(models.Options{ExtractFrames: true}))
}

func TestProcessEndToEnd(t *testing.T) {
	fm := &fakeMedia{numFrames: 4}
	fms := &fakeModels{}
	engine, store := newTestEngine(t, fm, fms)

	ctx := context.Background()
	job := models.JobData{JobID: "job-e2e", UserID: "user-1", Source: models.SourceURL,
		VideoURL: "https://example.com/v.mp4", Options: fullOptions()}

	result, err := engine.Process(ctx, job, 1, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 4, result.TotalFrames)
	assert.Equal(t, 1, result.TotalScenes, "identical embeddings collapse into one scene")
	assert.Equal(t, 4, result.TotalObjects)
	assert.True(t, result.HasMetadata)
	assert.True(t, result.HasTranscription)
	assert.True(t, result.HasClassification)
	assert.InDelta(t, 0.05, result.TotalCost, 1e-9, "4 vision calls + 1 transcription at 0.01 each")
	assert.Equal(t, "synthesised video summary", result.Summary)
	assert.Contains(t, result.PayloadJSON, `"primaryCategory":"education"`)

	// Persistence checks.
	row, err := store.Jobs.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, row.Status)

	frames, err := store.Frames.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	for i, frame := range frames {
		assert.Equal(t, i, frame.FrameNumber, "frames come back ordered by frame number")
		assert.Len(t, frame.Objects, 1)
	}

	audio, err := store.Audio.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "welcome to the demo", audio.Transcription)
	assert.Equal(t, "positive", audio.Sentiment)

	scenes, err := store.Scenes.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, 0, scenes[0].StartFrame)
	assert.Equal(t, 3, scenes[0].EndFrame)
	assert.Equal(t, "synthesised scene description", scenes[0].Description)

	classification, err := store.Classifications.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "education", classification.PrimaryCategory)

	assert.Equal(t, int32(1), fms.memories.Load(), "summary stored as memory")
}

func TestProcessDependencyUnmet(t *testing.T) {
	fm := &fakeMedia{}
	engine, store := newTestEngine(t, fm, &fakeModels{})

	ctx := context.Background()
	job := models.JobData{JobID: "job-dep", UserID: "u",
		Options: models.Options{TranscribeAudio: true}} // audio extraction not enabled

	_, err := engine.Process(ctx, job, 1, nil)
	require.ErrorIs(t, err, core.ErrDependencyUnmet)
	assert.Zero(t, fm.acquired.Load(), "no source fetch before validation passes")

	row, err := store.Jobs.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, row.Status)
	assert.Contains(t, row.Error, "dependency_unmet")
}

func TestProcessMetadataFailureFailsJob(t *testing.T) {
	fm := &fakeMedia{probeErr: fmt.Errorf("moov atom not found")}
	engine, store := newTestEngine(t, fm, &fakeModels{})

	ctx := context.Background()
	job := models.JobData{JobID: "job-meta", UserID: "u", Options: models.Options{ExtractFrames: true}}

	_, err := engine.Process(ctx, job, 1, nil)
	require.Error(t, err)

	var stageErr *core.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "metadata_extraction", stageErr.StageID)

	row, err := store.Jobs.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, row.Status)
}

func TestProcessCancellation(t *testing.T) {
	engine, store := newTestEngine(t, &fakeMedia{}, &fakeModels{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := models.JobData{JobID: "job-cancel", UserID: "u", Options: models.Options{ExtractFrames: true}}
	_, err := engine.Process(ctx, job, 1, nil)
	require.ErrorIs(t, err, ErrCancelled)

	row, getErr := store.Jobs.GetByJobID(context.Background(), job.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, models.JobStatusCancelled, row.Status)

	result, resErr := store.Results.GetByJobID(context.Background(), job.JobID)
	require.NoError(t, resErr)
	assert.Nil(t, result, "no processing result persisted for cancelled jobs")
}

func TestProcessToleratedFailureStillCompletes(t *testing.T) {
	// The container carries no audio track: audio extraction and
	// transcription fail tolerated, everything else still runs and the
	// job completes with the failures recorded.
	fm := &fakeMedia{numFrames: 2, noAudio: true}
	engine, store := newTestEngine(t, fm, &fakeModels{})

	ctx := context.Background()
	job := models.JobData{JobID: "job-partial", UserID: "u", Options: fullOptions()}

	result, err := engine.Process(ctx, job, 1, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.HasTranscription)
	assert.Equal(t, 2, result.TotalFrames)
	assert.Contains(t, result.PayloadJSON, "audio_extraction")
	assert.Contains(t, result.PayloadJSON, "audio_transcription")

	row, err := store.Jobs.GetByJobID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, row.Status)
}
