package models

import "time"

// ProcessingResult summarises a successfully completed job.
// Written exactly once when the job reaches terminal success.
type ProcessingResult struct {
	BaseModel

	JobID string `gorm:"not null;uniqueIndex;size:64" json:"job_id"`

	Summary string `gorm:"type:text" json:"summary,omitempty"`

	TotalFrames  int `json:"total_frames"`
	TotalScenes  int `json:"total_scenes"`
	TotalObjects int `json:"total_objects"`

	HasMetadata       bool `json:"has_metadata"`
	HasTranscription  bool `json:"has_transcription"`
	HasClassification bool `json:"has_classification"`

	// TotalCost is the sum of all model usage costs for the job.
	TotalCost float64 `json:"total_cost"`

	ProcessingTime time.Duration `json:"processing_time"`

	// PayloadJSON carries the assembled result document returned to the
	// status API.
	PayloadJSON string `gorm:"type:text" json:"payload_json,omitempty"`
}

// TableName returns the table name for ProcessingResult.
func (ProcessingResult) TableName() string {
	return "processing_results"
}
