package models

// Frame is one sampled video frame with its AI description.
// Frames are created during the frame analysis stage and never mutated;
// the embedding travels to the vector index rather than this table.
type Frame struct {
	BaseModel

	JobID string `gorm:"not null;uniqueIndex:idx_frames_job_number,priority:1;size:64" json:"job_id"`

	// FrameNumber is the 0-based position within the sampled set.
	// (job_id, frame_number) is the natural key for idempotent re-processing.
	FrameNumber int `gorm:"not null;uniqueIndex:idx_frames_job_number,priority:2" json:"frame_number"`

	// Timestamp is the frame's position in the video, seconds.
	Timestamp float64 `json:"timestamp"`

	// Path is the extracted JPEG location under the job temp directory.
	Path string `gorm:"size:1024" json:"path,omitempty"`

	Description string  `gorm:"size:8192" json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
	ModelID     string  `gorm:"size:128" json:"model_id,omitempty"`

	Objects []DetectedObject `gorm:"foreignKey:FrameID;constraint:OnDelete:CASCADE" json:"objects,omitempty"`
	Texts   []TextRegion     `gorm:"foreignKey:FrameID;constraint:OnDelete:CASCADE" json:"texts,omitempty"`

	// Embedding is carried in memory between stages; persisted to the
	// vector index, not the relational store.
	Embedding []float32 `gorm:"-" json:"-"`
}

// TableName returns the table name for Frame.
func (Frame) TableName() string {
	return "frames"
}

// BoundingBox is a rectangle in frame-relative coordinates, each in [0,1].
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether the box lies within the unit square.
func (b BoundingBox) Valid() bool {
	return b.X >= 0 && b.Y >= 0 && b.Width >= 0 && b.Height >= 0 &&
		b.X+b.Width <= 1 && b.Y+b.Height <= 1
}

// DetectedObject is an object found in a frame.
type DetectedObject struct {
	BaseModel

	FrameID ULID   `gorm:"not null;index;type:varchar(26)" json:"frame_id"`
	Label   string `gorm:"size:128" json:"label"`

	Confidence float64 `json:"confidence"`

	// Bounding box in relative coordinates.
	BoxX      float64 `json:"box_x"`
	BoxY      float64 `json:"box_y"`
	BoxWidth  float64 `json:"box_width"`
	BoxHeight float64 `json:"box_height"`
}

// TableName returns the table name for DetectedObject.
func (DetectedObject) TableName() string {
	return "frame_objects"
}

// Box returns the bounding box as a BoundingBox value.
func (o *DetectedObject) Box() BoundingBox {
	return BoundingBox{X: o.BoxX, Y: o.BoxY, Width: o.BoxWidth, Height: o.BoxHeight}
}

// TextRegion is text recognised in a frame.
type TextRegion struct {
	BaseModel

	FrameID ULID   `gorm:"not null;index;type:varchar(26)" json:"frame_id"`
	Text    string `gorm:"size:2048" json:"text"`

	Confidence float64 `json:"confidence"`

	BoxX      float64 `json:"box_x"`
	BoxY      float64 `json:"box_y"`
	BoxWidth  float64 `json:"box_width"`
	BoxHeight float64 `json:"box_height"`
}

// TableName returns the table name for TextRegion.
func (TextRegion) TableName() string {
	return "frame_texts"
}

// Box returns the bounding box as a BoundingBox value.
func (t *TextRegion) Box() BoundingBox {
	return BoundingBox{X: t.BoxX, Y: t.BoxY, Width: t.BoxWidth, Height: t.BoxHeight}
}
