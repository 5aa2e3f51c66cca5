package models

// AudioAnalysis holds the transcription and derived audio signals for a job.
// At most one row exists per job.
type AudioAnalysis struct {
	BaseModel

	JobID string `gorm:"not null;uniqueIndex;size:64" json:"job_id"`

	Transcription string  `gorm:"type:text" json:"transcription"`
	Language      string  `gorm:"size:8" json:"language,omitempty"`
	Confidence    float64 `json:"confidence"`

	Sentiment string `gorm:"size:16" json:"sentiment,omitempty"`

	// TopicsJSON and KeywordsJSON are JSON-encoded string arrays.
	TopicsJSON   string `gorm:"size:4096" json:"topics_json,omitempty"`
	KeywordsJSON string `gorm:"size:4096" json:"keywords_json,omitempty"`

	AudioPath string `gorm:"size:1024" json:"audio_path,omitempty"`
	ModelID   string `gorm:"size:128" json:"model_id,omitempty"`

	Segments []SpeakerSegment `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE" json:"segments,omitempty"`
}

// TableName returns the table name for AudioAnalysis.
func (AudioAnalysis) TableName() string {
	return "audio_analyses"
}

// SpeakerSegment is one diarized span of speech.
// Segments are ordered by Start within an analysis.
type SpeakerSegment struct {
	BaseModel

	AnalysisID ULID `gorm:"not null;index;type:varchar(26)" json:"analysis_id"`

	Start     float64 `json:"start"` // seconds
	End       float64 `json:"end"`   // seconds
	SpeakerID string  `gorm:"size:64" json:"speaker_id"`
	Text      string  `gorm:"size:8192" json:"text,omitempty"`
}

// TableName returns the table name for SpeakerSegment.
func (SpeakerSegment) TableName() string {
	return "speaker_segments"
}
