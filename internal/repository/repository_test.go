package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipsight/clipsight/internal/database"
	"github.com/clipsight/clipsight/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestJobUpsertConverges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &models.AnalysisJob{JobID: "job-1", UserID: "user-1", Status: models.JobStatusWaiting}
	require.NoError(t, store.Jobs.Upsert(ctx, job))

	job2 := &models.AnalysisJob{JobID: "job-1", UserID: "user-1"}
	job2.MarkStarted(2)
	require.NoError(t, store.Jobs.Upsert(ctx, job2))

	got, err := store.Jobs.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobStatusActive, got.Status)
	assert.Equal(t, 2, got.Attempt)

	var count int64
	require.NoError(t, store.Jobs.(*jobRepo).db.Model(&models.AnalysisJob{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestJobGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Jobs.GetByJobID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMetadataUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := &models.VideoMetadata{JobID: "job-1", Width: 1920, Height: 1080, Duration: 12.5}
	meta.Quality = models.DeriveQuality(meta.Width, meta.Height)
	require.NoError(t, store.Metadata.Upsert(ctx, meta))

	// Re-probe with corrected duration keeps a single row.
	again := &models.VideoMetadata{JobID: "job-1", Width: 1920, Height: 1080, Duration: 13.0, Quality: models.QualityHigh}
	require.NoError(t, store.Metadata.Upsert(ctx, again))

	got, err := store.Metadata.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 13.0, got.Duration)
	assert.Equal(t, models.QualityHigh, got.Quality)
}

func TestFrameUpsertReplacesDetections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frame := &models.Frame{
		JobID:       "job-1",
		FrameNumber: 0,
		Timestamp:   1.0,
		Description: "a dog in a park",
		Confidence:  0.9,
		Objects: []models.DetectedObject{
			{Label: "dog", Confidence: 0.95, BoxX: 0.1, BoxY: 0.1, BoxWidth: 0.3, BoxHeight: 0.3},
			{Label: "tree", Confidence: 0.7},
		},
		Texts: []models.TextRegion{
			{Text: "PARK", Confidence: 0.8},
		},
	}
	require.NoError(t, store.Frames.UpsertWithDetections(ctx, frame))

	// Re-analysis with fewer detections must not accumulate rows.
	redo := &models.Frame{
		JobID:       "job-1",
		FrameNumber: 0,
		Timestamp:   1.0,
		Description: "a dog",
		Confidence:  0.95,
		Objects: []models.DetectedObject{
			{Label: "dog", Confidence: 0.97},
		},
	}
	require.NoError(t, store.Frames.UpsertWithDetections(ctx, redo))

	frames, err := store.Frames.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "a dog", frames[0].Description)
	require.Len(t, frames[0].Objects, 1)
	assert.Equal(t, "dog", frames[0].Objects[0].Label)
	assert.Empty(t, frames[0].Texts)
}

func TestFrameOrderingAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, n := range []int{2, 0, 1} {
		require.NoError(t, store.Frames.UpsertWithDetections(ctx, &models.Frame{
			JobID:       "job-1",
			FrameNumber: n,
			Timestamp:   float64(n),
		}))
	}

	frames, err := store.Frames.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, i, f.FrameNumber)
	}

	count, err := store.Frames.CountByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestSceneReplaceForJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := []*models.Scene{
		{StartFrame: 0, EndFrame: 4, StartTime: 0, EndTime: 8},
		{StartFrame: 5, EndFrame: 9, StartTime: 10, EndTime: 18},
	}
	require.NoError(t, store.Scenes.ReplaceForJob(ctx, "job-1", first))

	second := []*models.Scene{
		{StartFrame: 0, EndFrame: 9, StartTime: 0, EndTime: 18, Description: "one long take"},
	}
	require.NoError(t, store.Scenes.ReplaceForJob(ctx, "job-1", second))

	scenes, err := store.Scenes.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "one long take", scenes[0].Description)
	assert.Equal(t, 10, scenes[0].FrameCount())
}

func TestAudioUpsertReplacesSegments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	analysis := &models.AudioAnalysis{
		JobID:         "job-1",
		Transcription: "hello world",
		Language:      "en",
		Confidence:    0.92,
		Segments: []models.SpeakerSegment{
			{Start: 0, End: 2.5, SpeakerID: "spk-0", Text: "hello"},
			{Start: 2.5, End: 5, SpeakerID: "spk-1", Text: "world"},
		},
	}
	require.NoError(t, store.Audio.Upsert(ctx, analysis))

	redo := &models.AudioAnalysis{
		JobID:         "job-1",
		Transcription: "hello world again",
		Language:      "en",
		Confidence:    0.95,
		Segments: []models.SpeakerSegment{
			{Start: 0, End: 5, SpeakerID: "spk-0", Text: "hello world again"},
		},
	}
	require.NoError(t, store.Audio.Upsert(ctx, redo))

	got, err := store.Audio.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello world again", got.Transcription)
	require.Len(t, got.Segments, 1)
}

func TestClassificationUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := &models.Classification{JobID: "job-1", PrimaryCategory: "sports", Confidence: 0.8}
	require.NoError(t, store.Classifications.Upsert(ctx, c))

	update := &models.Classification{JobID: "job-1", PrimaryCategory: "news", Confidence: 0.85, IsNSFW: false}
	require.NoError(t, store.Classifications.Upsert(ctx, update))

	got, err := store.Classifications.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "news", got.PrimaryCategory)
}

func TestUsageAppendAndSum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Usage.Append(ctx, &models.ModelUsageRecord{
		JobID: "job-1", TaskType: "frame_analysis", ModelID: "vision-1", Cost: 0.002, Success: true,
	}))
	require.NoError(t, store.Usage.Append(ctx, &models.ModelUsageRecord{
		JobID: "job-1", TaskType: "transcription", ModelID: "asr-1", Cost: 0.005, Success: true,
	}))
	require.NoError(t, store.Usage.Append(ctx, &models.ModelUsageRecord{
		JobID: "job-2", TaskType: "transcription", ModelID: "asr-1", Cost: 0.1, Success: true,
	}))

	total, err := store.Usage.SumCostByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.007, total, 1e-9)

	records, err := store.Usage.ListByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestUsageSumEmptyJobIsZero(t *testing.T) {
	store := newTestStore(t)

	total, err := store.Usage.SumCostByJobID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestResultUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	result := &models.ProcessingResult{
		JobID:       "job-1",
		Summary:     "a short clip",
		TotalFrames: 5,
		TotalCost:   0.007,
	}
	require.NoError(t, store.Results.Upsert(ctx, result))
	require.NoError(t, store.Results.Upsert(ctx, &models.ProcessingResult{
		JobID:       "job-1",
		Summary:     "a short clip of a dog",
		TotalFrames: 5,
		TotalScenes: 2,
		TotalCost:   0.009,
	}))

	got, err := store.Results.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a short clip of a dog", got.Summary)
	assert.Equal(t, 2, got.TotalScenes)
}

func TestJobDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Jobs.Upsert(ctx, &models.AnalysisJob{JobID: "job-1", UserID: "u"}))
	require.NoError(t, store.Metadata.Upsert(ctx, &models.VideoMetadata{JobID: "job-1"}))
	require.NoError(t, store.Frames.UpsertWithDetections(ctx, &models.Frame{
		JobID: "job-1", FrameNumber: 0,
		Objects: []models.DetectedObject{{Label: "cat"}},
	}))
	require.NoError(t, store.Scenes.ReplaceForJob(ctx, "job-1", []*models.Scene{{StartFrame: 0, EndFrame: 0}}))
	require.NoError(t, store.Audio.Upsert(ctx, &models.AudioAnalysis{
		JobID: "job-1", Segments: []models.SpeakerSegment{{Start: 0, End: 1}},
	}))
	require.NoError(t, store.Usage.Append(ctx, &models.ModelUsageRecord{JobID: "job-1", Cost: 0.1}))
	require.NoError(t, store.Results.Upsert(ctx, &models.ProcessingResult{JobID: "job-1"}))

	require.NoError(t, store.Jobs.Delete(ctx, "job-1"))

	job, err := store.Jobs.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, job)

	frames, err := store.Frames.GetByJobID(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, frames)

	db := store.Jobs.(*jobRepo).db
	for name, model := range map[string]any{
		"objects":  &models.DetectedObject{},
		"segments": &models.SpeakerSegment{},
		"scenes":   &models.Scene{},
		"usage":    &models.ModelUsageRecord{},
		"results":  &models.ProcessingResult{},
		"metadata": &models.VideoMetadata{},
	} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error, name)
		assert.Zero(t, count, name)
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, isTransient(nil))
	assert.False(t, isTransient(assert.AnError))
	assert.True(t, isTransient(errLocked{}))
}

type errLocked struct{}

func (errLocked) Error() string { return "database is locked (5) (SQLITE_BUSY)" }
