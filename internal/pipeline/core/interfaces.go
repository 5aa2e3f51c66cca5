// Package core provides the analysis pipeline framework: the stage
// contract, the shared per-job state, and the DAG executor.
package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/clipsight/clipsight/internal/media"
	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/modelservice"
	"github.com/clipsight/clipsight/internal/repository"
	"github.com/clipsight/clipsight/internal/vectorstore"
)

// Stage is one step in the per-job analysis DAG.
type Stage interface {
	// ID returns the stage identifier (e.g. "frame_analysis").
	ID() string

	// Name returns a human-readable name (e.g. "Frame Analysis").
	Name() string

	// Deps lists the stage IDs that must run before this stage.
	Deps() []string

	// Tolerant reports whether a failure of this stage lets the pipeline
	// continue. Intolerant stage failure aborts the job.
	Tolerant() bool

	// Execute performs the stage's work against the shared state.
	Execute(ctx context.Context, state *State) (*StageResult, error)
}

// ProgressReporter lets stages surface execution progress.
type ProgressReporter interface {
	// ReportProgress reports overall progress in [0.0, 1.0].
	ReportProgress(ctx context.Context, stageID string, progress float64, message string)

	// ReportItemProgress reports progress over individual fan-out items.
	ReportItemProgress(ctx context.Context, stageID string, current, total int, item string)
}

// MediaToolkit is the subset of the media toolkit the pipeline consumes.
type MediaToolkit interface {
	Acquire(ctx context.Context, jobID string, src media.Source) (string, error)
	Probe(ctx context.Context, jobID, path string) (*models.VideoMetadata, error)
	ExtractFrames(ctx context.Context, jobID, path string, params media.FrameParams) ([]media.ExtractedFrame, error)
	ExtractAudio(ctx context.Context, jobID, videoPath string) (string, error)
	ChunkAudio(ctx context.Context, jobID, audioPath string, duration float64) ([]media.AudioChunk, error)
	EncodeFileBase64(path string) (string, error)
}

// ModelService is the subset of the model service client stages consume.
type ModelService interface {
	SelectModel(ctx context.Context, req modelservice.SelectionRequest) (*modelservice.ModelSelection, error)
	AnalyzeFrame(ctx context.Context, req modelservice.FrameAnalysisRequest) (*modelservice.FrameAnalysis, error)
	Transcribe(ctx context.Context, req modelservice.TranscribeRequest) (*modelservice.Transcription, error)
	Synthesize(ctx context.Context, sources []string, format, objective string) (string, error)
	Classify(ctx context.Context, content string, categories []string) (*modelservice.ClassificationResult, error)
	ExtractTopics(ctx context.Context, text string) (*modelservice.Topics, error)
	Sentiment(ctx context.Context, text string) (*modelservice.SentimentResult, error)
	GenerateEmbedding(ctx context.Context, content string) ([]float32, error)
	StoreMemory(ctx context.Context, jobID, content string, metadata map[string]any)
	TrackUsage(ctx context.Context, event modelservice.UsageEvent)
}

// VectorIndex receives frame embeddings for similarity search.
type VectorIndex interface {
	UpsertFrameVectors(ctx context.Context, vectors []vectorstore.FrameVector) error
}

// Dependencies bundles everything stages need. A nil Vectors disables
// embedding indexing without disabling frame analysis.
type Dependencies struct {
	Media   MediaToolkit
	Models  ModelService
	Store   *repository.Store
	Vectors VectorIndex

	// FrameConcurrency bounds fan-out inside a job; frames and audio
	// chunks share the budget.
	FrameConcurrency int64

	Logger *slog.Logger
}

// State holds all data shared between stages of one job.
type State struct {
	// Job is the queue payload being processed.
	Job models.JobData

	// Attempt is the 1-based delivery attempt.
	Attempt int

	// VideoPath is the acquired source file inside the job workspace.
	VideoPath string

	// Metadata is the probed technical metadata.
	Metadata *models.VideoMetadata

	// Extracted holds the sampled frame files.
	Extracted []media.ExtractedFrame

	// AudioPath is the extracted WAV file, when audio extraction ran.
	AudioPath string

	// Frames holds analysed frames ordered by frame number.
	Frames []*models.Frame

	// Audio is the merged transcription, when transcription ran.
	Audio *models.AudioAnalysis

	// Scenes holds detected scenes ordered by start frame.
	Scenes []*models.Scene

	// Classification is the content classification, when it ran.
	Classification *models.Classification

	// Summary is the generated video summary, when it ran.
	Summary string

	// StageErrors records tolerated stage failures by stage ID.
	StageErrors map[string]error

	// Progress is optional; stages must tolerate nil.
	Progress ProgressReporter

	// StartTime records when pipeline execution began.
	StartTime time.Time
}

// NewState creates the state for one job execution.
func NewState(job models.JobData, attempt int) *State {
	return &State{
		Job:         job,
		Attempt:     attempt,
		StageErrors: make(map[string]error),
		StartTime:   time.Now(),
	}
}

// Duration returns the elapsed time since pipeline start.
func (s *State) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// TotalObjects counts detected objects across all frames.
func (s *State) TotalObjects() int {
	total := 0
	for _, frame := range s.Frames {
		total += len(frame.Objects)
	}
	return total
}

// FrameDescriptions returns the non-empty frame descriptions in order.
func (s *State) FrameDescriptions() []string {
	var out []string
	for _, frame := range s.Frames {
		if frame.Description != "" {
			out = append(out, frame.Description)
		}
	}
	return out
}

// StageResult contains the outcome of one stage execution.
type StageResult struct {
	// ItemsProcessed counts the units the stage handled (frames, chunks).
	ItemsProcessed int

	// Duration is the execution time, filled by the executor.
	Duration time.Duration

	// Message is an optional summary line.
	Message string
}

// Result represents the outcome of a full pipeline execution.
type Result struct {
	// Success is true when all intolerant stages succeeded.
	Success bool

	// StageResults maps stage ID to its result for stages that ran.
	StageResults map[string]*StageResult

	// StageErrors maps stage ID to its tolerated failure.
	StageErrors map[string]error

	// Duration is the total execution time.
	Duration time.Duration
}
