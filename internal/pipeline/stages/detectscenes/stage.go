// Package detectscenes implements the scene detection stage. Scene
// boundaries come from embedding similarity between adjacent frames, with
// a detection-count heuristic when embeddings are missing.
package detectscenes

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/clipsight/clipsight/internal/models"
	"github.com/clipsight/clipsight/internal/pipeline/core"
	"github.com/clipsight/clipsight/internal/pipeline/shared"
	"github.com/clipsight/clipsight/internal/pipeline/stages/analyzeframes"
)

const (
	// StageID is the unique identifier for this stage.
	StageID = "scene_detection"
	// StageName is the human-readable name for this stage.
	StageName = "Scene Detection"
)

// Boundary thresholds.
const (
	// similarityThreshold is the cosine similarity below which adjacent
	// frames start a new scene.
	similarityThreshold = 0.85
	// objectDeltaThreshold is the fallback object-count jump that marks a
	// break when embeddings are missing.
	objectDeltaThreshold = 5
	// lowConfidenceThreshold marks a break on an unreliable frame in the
	// fallback heuristic.
	lowConfidenceThreshold = 0.5
)

// Stage segments the analysed frames into scenes.
type Stage struct {
	shared.BaseStage
	deps   *core.Dependencies
	logger *slog.Logger
}

// New creates the scene detection stage.
func New(deps *core.Dependencies) *Stage {
	return &Stage{
		BaseStage: shared.NewBaseStage(StageID, StageName, []string{analyzeframes.StageID}, true),
		deps:      deps,
		logger:    deps.Logger.With("stage", StageID),
	}
}

// Execute builds scenes greedily over the frame sequence and describes
// each through the model service. Description failures degrade to an
// empty description rather than failing the stage.
func (s *Stage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	result := shared.NewResult()
	if len(state.Frames) == 0 {
		return result, core.ErrNoFrames
	}

	spans := sceneSpans(state.Frames)
	scenes := make([]*models.Scene, 0, len(spans))
	for _, sp := range spans {
		members := state.Frames[sp.start : sp.end+1]
		scene := &models.Scene{
			JobID:      state.Job.JobID,
			StartFrame: members[0].FrameNumber,
			EndFrame:   members[len(members)-1].FrameNumber,
			StartTime:  members[0].Timestamp,
			EndTime:    members[len(members)-1].Timestamp,
			KeyframeID: members[0].ID,
		}

		descriptions := frameDescriptions(members)
		if len(descriptions) == 0 {
			scene.Confidence = 0
		} else {
			scene.Confidence = meanConfidence(members)
			description, err := s.deps.Models.Synthesize(ctx, descriptions, "summary", "scene description")
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				s.logger.WarnContext(ctx, "scene description failed",
					slog.String("job_id", state.Job.JobID),
					slog.Int("start_frame", scene.StartFrame),
					slog.String("error", err.Error()),
				)
			} else {
				scene.Description = description
			}
		}
		scenes = append(scenes, scene)
	}

	if err := s.deps.Store.Scenes.ReplaceForJob(ctx, state.Job.JobID, scenes); err != nil {
		return result, fmt.Errorf("persisting scenes: %w", err)
	}
	state.Scenes = scenes

	s.logger.InfoContext(ctx, "scenes detected",
		slog.String("job_id", state.Job.JobID),
		slog.Int("count", len(scenes)),
	)

	result.ItemsProcessed = len(scenes)
	result.Message = fmt.Sprintf("%d scenes over %d frames", len(scenes), len(state.Frames))
	return result, nil
}

type frameSpan struct {
	start, end int // indices into the frame slice, inclusive
}

// sceneSpans partitions the frames greedily: a new scene starts wherever
// adjacent frames diverge.
func sceneSpans(frames []*models.Frame) []frameSpan {
	var spans []frameSpan
	start := 0
	for i := 1; i < len(frames); i++ {
		if sceneBreak(frames[i-1], frames[i]) {
			spans = append(spans, frameSpan{start: start, end: i - 1})
			start = i
		}
	}
	spans = append(spans, frameSpan{start: start, end: len(frames) - 1})
	return spans
}

// sceneBreak decides whether curr starts a new scene relative to prev.
// Embedding similarity is authoritative when both frames carry one.
func sceneBreak(prev, curr *models.Frame) bool {
	if len(prev.Embedding) > 0 && len(curr.Embedding) > 0 {
		return cosineSimilarity(prev.Embedding, curr.Embedding) < similarityThreshold
	}
	delta := len(prev.Objects) - len(curr.Objects)
	if delta < 0 {
		delta = -delta
	}
	return delta > objectDeltaThreshold || curr.Confidence < lowConfidenceThreshold
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either is degenerate.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func frameDescriptions(frames []*models.Frame) []string {
	var out []string
	for _, frame := range frames {
		if frame.Description != "" {
			out = append(out, frame.Description)
		}
	}
	return out
}

func meanConfidence(frames []*models.Frame) float64 {
	if len(frames) == 0 {
		return 0
	}
	sum := 0.0
	for _, frame := range frames {
		sum += frame.Confidence
	}
	return sum / float64(len(frames))
}

var _ core.Stage = (*Stage)(nil)
