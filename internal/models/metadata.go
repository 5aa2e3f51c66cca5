package models

// VideoQuality tags a video's resolution class.
type VideoQuality string

const (
	QualityLow    VideoQuality = "low"
	QualityMedium VideoQuality = "medium"
	QualityHigh   VideoQuality = "high"
	Quality4K     VideoQuality = "4k"
)

// Resolution class thresholds in pixels.
const (
	pixelsHD  = 1280 * 720
	pixelsFHD = 1920 * 1080
	pixels4K  = 3840 * 2160
)

// DeriveQuality classifies a resolution by pixel count.
func DeriveQuality(width, height int) VideoQuality {
	pixels := width * height
	switch {
	case pixels >= pixels4K:
		return Quality4K
	case pixels >= pixelsFHD:
		return QualityHigh
	case pixels >= pixelsHD:
		return QualityMedium
	default:
		return QualityLow
	}
}

// VideoMetadata holds the technical metadata probed from a video file.
// Produced once per job and immutable afterwards.
type VideoMetadata struct {
	BaseModel

	JobID string `gorm:"not null;uniqueIndex;size:64" json:"job_id"`

	Duration        float64      `json:"duration"` // seconds
	Width           int          `json:"width"`
	Height          int          `json:"height"`
	FrameRate       float64      `json:"frame_rate"`
	Codec           string       `gorm:"size:32" json:"codec"`
	AudioCodec      string       `gorm:"size:32" json:"audio_codec,omitempty"`
	AudioTrackCount int          `json:"audio_track_count"`
	HasSubtitles    bool         `json:"has_subtitles"`
	Bitrate         int64        `json:"bitrate,omitempty"` // bits/second
	Size            int64        `json:"size,omitempty"`    // bytes
	Quality         VideoQuality `gorm:"size:8" json:"quality"`
}

// TableName returns the table name for VideoMetadata.
func (VideoMetadata) TableName() string {
	return "video_metadata"
}

// HasAudio reports whether the container carries at least one audio track.
func (m *VideoMetadata) HasAudio() bool {
	return m.AudioTrackCount > 0
}
