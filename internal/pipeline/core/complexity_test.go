package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clipsight/clipsight/internal/models"
)

func TestVisionComplexity(t *testing.T) {
	tests := map[string]struct {
		opts    models.Options
		quality models.VideoQuality
		want    float64
	}{
		"base": {
			opts: models.Options{QualityPreference: models.QualityBalanced},
			want: 0.3,
		},
		"objects and text": {
			opts: models.Options{DetectObjects: true, ExtractText: true, QualityPreference: models.QualityBalanced},
			want: 0.65,
		},
		"everything accuracy 4k clamps to one": {
			opts: models.Options{
				DetectObjects: true, ExtractText: true, ClassifyContent: true,
				DetectScenes: true, QualityPreference: models.QualityAccuracy,
			},
			quality: models.Quality4K,
			want:    1.0,
		},
		"speed on low quality": {
			opts:    models.Options{QualityPreference: models.QualitySpeed},
			quality: models.QualityLow,
			want:    0.15,
		},
		"large frame budget discounts": {
			opts: models.Options{DetectObjects: true, MaxFrames: 60, QualityPreference: models.QualityBalanced},
			want: 0.4,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tt.want, VisionComplexity(tt.opts, tt.quality), 1e-9)
		})
	}
}

func TestTranscriptionComplexity(t *testing.T) {
	base := models.Options{QualityPreference: models.QualityBalanced}
	assert.InDelta(t, 0.4, TranscriptionComplexity(base, 60), 1e-9)
	assert.InDelta(t, 0.5, TranscriptionComplexity(base, 300), 1e-9)
	assert.InDelta(t, 0.6, TranscriptionComplexity(base, 1200), 1e-9)

	multi := models.Options{TargetLanguages: []string{"en", "de"}, QualityPreference: models.QualityAccuracy}
	assert.InDelta(t, 0.9, TranscriptionComplexity(multi, 1200), 1e-9)

	speed := models.Options{QualityPreference: models.QualitySpeed}
	assert.InDelta(t, 0.3, TranscriptionComplexity(speed, 10), 1e-9)
}
