package models

// Scene is a maximal run of adjacent frames judged visually continuous.
// Scenes partition [0, totalFrames) without overlap.
type Scene struct {
	BaseModel

	JobID string `gorm:"not null;uniqueIndex:idx_scenes_job_start,priority:1;size:64" json:"job_id"`

	// Frame span, inclusive on both ends. (job_id, start_frame) is the
	// natural key for idempotent re-processing.
	StartFrame int `gorm:"not null;uniqueIndex:idx_scenes_job_start,priority:2" json:"start_frame"`
	EndFrame   int `gorm:"not null" json:"end_frame"`

	// Time span in seconds.
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`

	// KeyframeID references the scene's first frame.
	KeyframeID ULID `gorm:"type:varchar(26)" json:"keyframe_id"`

	Description string  `gorm:"size:4096" json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// TableName returns the table name for Scene.
func (Scene) TableName() string {
	return "scenes"
}

// FrameCount returns the number of frames in the scene.
func (s *Scene) FrameCount() int {
	return s.EndFrame - s.StartFrame + 1
}
