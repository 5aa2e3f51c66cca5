package models

// Classification holds the content classification result for a job.
type Classification struct {
	BaseModel

	JobID string `gorm:"not null;uniqueIndex;size:64" json:"job_id"`

	PrimaryCategory string `gorm:"size:64" json:"primary_category"`

	// ScoresJSON is a JSON object mapping category to score in [0,1].
	ScoresJSON string `gorm:"size:4096" json:"scores_json,omitempty"`

	// TagsJSON is a JSON-encoded string array.
	TagsJSON string `gorm:"size:4096" json:"tags_json,omitempty"`

	Rating     string  `gorm:"size:16" json:"rating,omitempty"`
	IsNSFW     bool    `json:"is_nsfw"`
	Confidence float64 `json:"confidence"`
	ModelID    string  `gorm:"size:128" json:"model_id,omitempty"`
}

// TableName returns the table name for Classification.
func (Classification) TableName() string {
	return "classifications"
}
