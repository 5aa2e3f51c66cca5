package models

import "time"

// ModelUsageRecord is an immutable log entry for one model service call.
type ModelUsageRecord struct {
	BaseModel

	JobID string `gorm:"not null;index;size:64" json:"job_id"`

	TaskType      string        `gorm:"size:32" json:"task_type"`
	ModelID       string        `gorm:"size:128" json:"model_id"`
	ModelProvider string        `gorm:"size:64" json:"model_provider,omitempty"`
	Complexity    float64       `json:"complexity"`
	Cost          float64       `json:"cost"`
	Duration      time.Duration `json:"duration"`
	Success       bool          `json:"success"`
}

// TableName returns the table name for ModelUsageRecord.
func (ModelUsageRecord) TableName() string {
	return "model_usage"
}
