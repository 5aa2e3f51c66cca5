package models

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// SourceKind identifies how a job's video is acquired.
type SourceKind string

const (
	SourceURL     SourceKind = "url"
	SourceBuffer  SourceKind = "buffer"
	SourceYouTube SourceKind = "youtube"
	SourceDrive   SourceKind = "drive"
)

// JobStatus represents the queue-visible status of an analysis job.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Frame sampling modes.
const (
	SamplingKeyframes  = "keyframes"
	SamplingUniform    = "uniform"
	SamplingSceneBased = "scene-based"
)

// Quality preferences trade analysis cost against fidelity.
const (
	QualitySpeed    = "speed"
	QualityBalanced = "balanced"
	QualityAccuracy = "accuracy"
)

// Option defaults.
const (
	DefaultFrameSampleRate = 1
	DefaultMaxFrames       = 30
)

// Options selects which analyses run for a job. Zero values mean "off" for
// booleans; numeric and enum fields are filled by ApplyDefaults.
type Options struct {
	ExtractMetadata   bool     `json:"extractMetadata,omitempty"`
	ExtractFrames     bool     `json:"extractFrames,omitempty"`
	ExtractAudio      bool     `json:"extractAudio,omitempty"`
	TranscribeAudio   bool     `json:"transcribeAudio,omitempty"`
	DetectScenes      bool     `json:"detectScenes,omitempty"`
	DetectObjects     bool     `json:"detectObjects,omitempty"`
	ExtractText       bool     `json:"extractText,omitempty"`
	ClassifyContent   bool     `json:"classifyContent,omitempty"`
	GenerateSummary   bool     `json:"generateSummary,omitempty"`
	FrameSamplingMode string   `json:"frameSamplingMode,omitempty"`
	FrameSampleRate   int      `json:"frameSampleRate,omitempty"`
	MaxFrames         int      `json:"maxFrames,omitempty"`
	FrameInterval     float64  `json:"frameInterval,omitempty"`
	QualityPreference string   `json:"qualityPreference,omitempty"`
	TargetLanguages   []string `json:"targetLanguages,omitempty"`
	CustomAnalysis    string   `json:"customAnalysis,omitempty"`
	Timeout           int64    `json:"timeout,omitempty"` // milliseconds, 0 = worker default
}

// ApplyDefaults fills unset option fields with their documented defaults.
func (o *Options) ApplyDefaults() {
	if o.FrameSamplingMode == "" {
		o.FrameSamplingMode = SamplingUniform
	}
	if o.FrameSampleRate <= 0 {
		o.FrameSampleRate = DefaultFrameSampleRate
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = DefaultMaxFrames
	}
	if o.QualityPreference == "" {
		o.QualityPreference = QualityBalanced
	}
}

// Validate checks option values against the submitter contract.
func (o *Options) Validate() error {
	switch o.FrameSamplingMode {
	case "", SamplingKeyframes, SamplingUniform, SamplingSceneBased:
	default:
		return fmt.Errorf("frameSamplingMode must be one of: keyframes, uniform, scene-based")
	}
	switch o.QualityPreference {
	case "", QualitySpeed, QualityBalanced, QualityAccuracy:
	default:
		return fmt.Errorf("qualityPreference must be one of: speed, balanced, accuracy")
	}
	if o.FrameSampleRate < 0 {
		return fmt.Errorf("frameSampleRate must be positive")
	}
	if o.MaxFrames < 0 {
		return fmt.Errorf("maxFrames must be positive")
	}
	if o.FrameInterval < 0 {
		return fmt.Errorf("frameInterval must be positive")
	}
	for _, lang := range o.TargetLanguages {
		if _, err := language.ParseBase(lang); err != nil {
			return fmt.Errorf("targetLanguages: %q is not a valid ISO-639-1 code", lang)
		}
	}
	return nil
}

// WantsFrameAnalysis reports whether the frame analysis stage should run.
// Frame descriptions are only worth producing when at least one downstream
// consumer asked for visual signals.
func (o *Options) WantsFrameAnalysis() bool {
	return o.ExtractFrames && (o.DetectObjects || o.ExtractText || o.ClassifyContent || o.DetectScenes || o.GenerateSummary)
}

// JobData is the queue payload describing one submitted analysis job.
type JobData struct {
	JobID      string     `json:"jobId"`
	UserID     string     `json:"userId"`
	Source     SourceKind `json:"source"`
	VideoURL   string     `json:"videoUrl"`
	Filename   string     `json:"filename"`
	Options    Options    `json:"options"`
	EnqueuedAt time.Time  `json:"enqueuedAt"`
	// DriveToken authenticates cloud-drive downloads. Never logged.
	DriveToken string `json:"driveToken,omitempty"`
}

// DetectSourceKind infers the acquisition path from the video URL when the
// submitter did not set one explicitly.
func DetectSourceKind(videoURL string) SourceKind {
	lower := strings.ToLower(videoURL)
	if strings.Contains(lower, "youtube.com/") || strings.Contains(lower, "youtu.be/") {
		return SourceYouTube
	}
	return SourceURL
}

// AnalysisJob is the persisted job row owned by the relational store.
// The queue remains the source of truth for scheduling state; this row
// records the analysis outcome and owns all child entities.
type AnalysisJob struct {
	BaseModel

	// JobID is the submitter-assigned identifier, unique per job.
	JobID string `gorm:"not null;uniqueIndex;size:64" json:"job_id"`

	// UserID identifies the submitting user.
	UserID string `gorm:"not null;size:64;index" json:"user_id"`

	Source   SourceKind `gorm:"size:16" json:"source"`
	VideoURL string     `gorm:"size:2048" json:"video_url"`
	Filename string     `gorm:"size:255" json:"filename"`

	// OptionsJSON is the submitted options document, retained verbatim.
	OptionsJSON string `gorm:"size:4096" json:"options_json,omitempty"`

	Status JobStatus `gorm:"not null;default:'waiting';size:16;index" json:"status"`

	Attempt int `gorm:"default:1" json:"attempt"`

	EnqueuedAt  *time.Time `json:"enqueued_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the terminal failure message, if any.
	Error string `gorm:"size:4096" json:"error,omitempty"`
}

// TableName returns the table name for AnalysisJob.
func (AnalysisJob) TableName() string {
	return "analysis_jobs"
}

// MarkStarted records the processing start for this attempt.
func (j *AnalysisJob) MarkStarted(attempt int) {
	now := time.Now()
	j.Status = JobStatusActive
	j.StartedAt = &now
	j.Attempt = attempt
	j.Error = ""
}

// MarkCompleted records terminal success.
func (j *AnalysisJob) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
}

// MarkFailed records terminal failure.
func (j *AnalysisJob) MarkFailed(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

// MarkCancelled records cancellation before completion.
func (j *AnalysisJob) MarkCancelled() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.Error = "cancelled"
}

// ProcessingTime returns completedAt-startedAt, or zero when not finished.
func (j *AnalysisJob) ProcessingTime() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
