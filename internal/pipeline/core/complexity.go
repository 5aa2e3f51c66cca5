package core

import "github.com/clipsight/clipsight/internal/models"

// VisionComplexity scores the difficulty of the frame analysis task in
// [0,1] from the job options and the probed video quality. The score
// drives model selection: richer analyses and higher fidelity push toward
// stronger models, large frame budgets push toward cheaper ones.
func VisionComplexity(opts models.Options, quality models.VideoQuality) float64 {
	c := 0.3
	if opts.DetectObjects {
		c += 0.2
	}
	if opts.ExtractText {
		c += 0.15
	}
	if opts.ClassifyContent {
		c += 0.1
	}
	if opts.DetectScenes {
		c += 0.15
	}
	switch opts.QualityPreference {
	case models.QualitySpeed:
		c -= 0.1
	case models.QualityAccuracy:
		c += 0.2
	}
	switch quality {
	case models.Quality4K:
		c += 0.1
	case models.QualityLow:
		c -= 0.05
	}
	if opts.MaxFrames > 50 {
		c -= 0.1
	}
	return clamp01(c)
}

// TranscriptionComplexity scores the transcription task in [0,1] from the
// job options and the audio duration in seconds.
func TranscriptionComplexity(opts models.Options, duration float64) float64 {
	c := 0.4
	switch {
	case duration > 600:
		c += 0.2
	case duration > 180:
		c += 0.1
	}
	if len(opts.TargetLanguages) > 1 {
		c += 0.1
	}
	switch opts.QualityPreference {
	case models.QualitySpeed:
		c -= 0.1
	case models.QualityAccuracy:
		c += 0.2
	}
	return clamp01(c)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
